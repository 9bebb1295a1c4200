package probe

import "math/rand"

// HeaderProfile is a coherent set of HTTP headers for one browser identity.
// Mixing headers from different browsers is a common fingerprinting tell.
type HeaderProfile struct {
	UserAgent       string
	Accept          string
	AcceptLanguage  string
	AcceptEncoding  string
	SecFetchDest    string
	SecFetchMode    string
	SecFetchSite    string
	SecFetchUser    string
	SecChUa         string
	SecChUaMobile   string
	SecChUaPlatform string
}

// HeaderStrategy selects which identity family the probe presents.
type HeaderStrategy string

const (
	StrategyModernBrowser HeaderStrategy = "modern_browser"
	StrategyMobileDevice  HeaderStrategy = "mobile_device"
	StrategyBotFriendly   HeaderStrategy = "bot_friendly"
)

var modernBrowserProfiles = []HeaderProfile{
	{
		UserAgent:       "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		Accept:          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7",
		AcceptLanguage:  "en-US,en;q=0.9",
		AcceptEncoding:  "gzip, deflate, br, zstd",
		SecFetchDest:    "document",
		SecFetchMode:    "navigate",
		SecFetchSite:    "none",
		SecFetchUser:    "?1",
		SecChUa:         `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
		SecChUaMobile:   "?0",
		SecChUaPlatform: `"macOS"`,
	},
	{
		UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		Accept:          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7",
		AcceptLanguage:  "en-US,en;q=0.9",
		AcceptEncoding:  "gzip, deflate, br, zstd",
		SecFetchDest:    "document",
		SecFetchMode:    "navigate",
		SecFetchSite:    "none",
		SecFetchUser:    "?1",
		SecChUa:         `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
		SecChUaMobile:   "?0",
		SecChUaPlatform: `"Windows"`,
	},
	{
		UserAgent:       "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.2 Safari/605.1.15",
		Accept:          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		AcceptLanguage:  "en-US,en;q=0.9",
		AcceptEncoding:  "gzip, deflate, br",
		SecFetchDest:    "document",
		SecFetchMode:    "navigate",
		SecFetchSite:    "none",
	},
}

var mobileDeviceProfiles = []HeaderProfile{
	{
		UserAgent:       "Mozilla/5.0 (iPhone; CPU iPhone OS 18_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.2 Mobile/15E148 Safari/604.1",
		Accept:          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		AcceptLanguage:  "en-US,en;q=0.9",
		AcceptEncoding:  "gzip, deflate, br",
		SecFetchDest:    "document",
		SecFetchMode:    "navigate",
		SecFetchSite:    "none",
		SecChUaMobile:   "?1",
		SecChUaPlatform: `"iOS"`,
	},
	{
		UserAgent:       "Mozilla/5.0 (Linux; Android 14; Pixel 8 Pro) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Mobile Safari/537.36",
		Accept:          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7",
		AcceptLanguage:  "en-US,en;q=0.9",
		AcceptEncoding:  "gzip, deflate, br, zstd",
		SecFetchDest:    "document",
		SecFetchMode:    "navigate",
		SecFetchSite:    "none",
		SecFetchUser:    "?1",
		SecChUa:         `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
		SecChUaMobile:   "?1",
		SecChUaPlatform: `"Android"`,
	},
}

var botFriendlyProfiles = []HeaderProfile{
	{
		UserAgent:      "CodegenProbe/1.0 (analysis probe; respects robots.txt)",
		Accept:         "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		AcceptLanguage: "en-US,en;q=0.9",
		AcceptEncoding: "gzip, deflate, br",
	},
}

// GetHeaderProfile returns a random profile for the given strategy.
func GetHeaderProfile(strategy HeaderStrategy) HeaderProfile {
	switch strategy {
	case StrategyModernBrowser:
		return modernBrowserProfiles[rand.Intn(len(modernBrowserProfiles))]
	case StrategyMobileDevice:
		return mobileDeviceProfiles[rand.Intn(len(mobileDeviceProfiles))]
	case StrategyBotFriendly:
		return botFriendlyProfiles[rand.Intn(len(botFriendlyProfiles))]
	default:
		return modernBrowserProfiles[0]
	}
}

// GetAllStrategies lists strategies in order of preference.
func GetAllStrategies() []HeaderStrategy {
	return []HeaderStrategy{
		StrategyModernBrowser,
		StrategyMobileDevice,
		StrategyBotFriendly,
	}
}

// Headers builds the extra-header map a browser context should carry for
// this profile.
func (p HeaderProfile) Headers() map[string]string {
	headers := map[string]string{
		"Accept":                    p.Accept,
		"Accept-Language":           p.AcceptLanguage,
		"Accept-Encoding":           p.AcceptEncoding,
		"Upgrade-Insecure-Requests": "1",
	}
	if p.SecFetchDest != "" {
		headers["Sec-Fetch-Dest"] = p.SecFetchDest
		headers["Sec-Fetch-Mode"] = p.SecFetchMode
		headers["Sec-Fetch-Site"] = p.SecFetchSite
		if p.SecFetchUser != "" {
			headers["Sec-Fetch-User"] = p.SecFetchUser
		}
	}
	if p.SecChUa != "" {
		headers["Sec-Ch-Ua"] = p.SecChUa
		headers["Sec-Ch-Ua-Mobile"] = p.SecChUaMobile
		headers["Sec-Ch-Ua-Platform"] = p.SecChUaPlatform
	}
	return headers
}
