package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	AppEnv        string
	HTTPAddr      string
	RedisAddr     string
	RedisPassword string
	DataDir       string

	LLMProvider      string
	GeminiAPIKey     string
	DefaultLLMModel  string
	FallbackLLMModel string

	TaskMaxRetries int

	SandboxBackend   string // "subprocess" or "remote"
	SandboxRemoteURL string
	SandboxSecret    string
	NodeCommand      string

	Tunables Tunables
}

// Tunables are the empirically chosen heuristic constants. They ship with
// working defaults and can be overridden from a YAML file (TUNABLES_FILE)
// and, on top of that, individual env vars.
type Tunables struct {
	ProbeTimeoutMs      int     `yaml:"probe_timeout_ms"`
	SettleDelayMs       int     `yaml:"settle_delay_ms"`
	MinListingCount     int     `yaml:"min_listing_count"`
	MaxListingCount     int     `yaml:"max_listing_count"`
	ReadyConfidence     float64 `yaml:"ready_confidence"`
	NearCompleteRatio   float64 `yaml:"near_complete_ratio"`
	CanvasMaxIterations int     `yaml:"canvas_max_iterations"`
	SampleItemCap       int     `yaml:"sample_item_cap"`
	SampleTimeoutSec    int     `yaml:"sample_timeout_sec"`
	FullRunTimeoutSec   int     `yaml:"full_run_timeout_sec"`
	PartialEmitEvery    int     `yaml:"partial_emit_every"`
	MaxRetryRounds      int     `yaml:"max_retry_rounds"`
	SamplePageLimit     int     `yaml:"sample_page_limit"`
	ResponseBodyCap     int     `yaml:"response_body_cap"`
}

func DefaultTunables() Tunables {
	return Tunables{
		ProbeTimeoutMs:      30000,
		SettleDelayMs:       2000,
		MinListingCount:     3,
		MaxListingCount:     1000,
		ReadyConfidence:     0.7,
		NearCompleteRatio:   0.8,
		CanvasMaxIterations: 2,
		SampleItemCap:       5,
		SampleTimeoutSec:    60,
		FullRunTimeoutSec:   300,
		PartialEmitEvery:    15,
		MaxRetryRounds:      3,
		SamplePageLimit:     3,
		ResponseBodyCap:     4096,
	}
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// loadTunables layers file values over the defaults, then env over the file.
func loadTunables() Tunables {
	t := DefaultTunables()
	if path := os.Getenv("TUNABLES_FILE"); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			_ = yaml.Unmarshal(data, &t)
		}
	}
	t.ProbeTimeoutMs = getenvInt("PROBE_TIMEOUT_MS", t.ProbeTimeoutMs)
	t.SettleDelayMs = getenvInt("SETTLE_DELAY_MS", t.SettleDelayMs)
	t.MinListingCount = getenvInt("MIN_LISTING_COUNT", t.MinListingCount)
	t.MaxListingCount = getenvInt("MAX_LISTING_COUNT", t.MaxListingCount)
	t.ReadyConfidence = getenvFloat("READY_CONFIDENCE", t.ReadyConfidence)
	t.NearCompleteRatio = getenvFloat("NEAR_COMPLETE_RATIO", t.NearCompleteRatio)
	t.CanvasMaxIterations = getenvInt("CANVAS_MAX_ITERATIONS", t.CanvasMaxIterations)
	t.SampleItemCap = getenvInt("SAMPLE_ITEM_CAP", t.SampleItemCap)
	t.SampleTimeoutSec = getenvInt("SAMPLE_TIMEOUT_SEC", t.SampleTimeoutSec)
	t.FullRunTimeoutSec = getenvInt("FULL_RUN_TIMEOUT_SEC", t.FullRunTimeoutSec)
	t.PartialEmitEvery = getenvInt("PARTIAL_EMIT_EVERY", t.PartialEmitEvery)
	t.MaxRetryRounds = getenvInt("MAX_RETRY_ROUNDS", t.MaxRetryRounds)
	t.SamplePageLimit = getenvInt("SAMPLE_PAGE_LIMIT", t.SamplePageLimit)
	t.ResponseBodyCap = getenvInt("RESPONSE_BODY_CAP", t.ResponseBodyCap)
	if t.CanvasMaxIterations < 1 {
		t.CanvasMaxIterations = 1
	}
	if t.CanvasMaxIterations > 3 {
		t.CanvasMaxIterations = 3
	}
	return t
}

func Load() Config {
	cfg := Config{
		AppEnv:        getenv("APP_ENV", "development"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8081"),
		RedisAddr:     getenv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		DataDir:       getenv("DATA_DIR", "./data"),

		LLMProvider:      getenv("LLM_PROVIDER", "gemini"),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		DefaultLLMModel:  getenv("DEFAULT_LLM_MODEL", "gemini-1.5-flash"),
		FallbackLLMModel: getenv("FALLBACK_LLM_MODEL", "gemini-1.5-pro"),

		TaskMaxRetries: getenvInt("TASK_MAX_RETRIES", 3),

		SandboxBackend:   getenv("SANDBOX_BACKEND", "subprocess"),
		SandboxRemoteURL: os.Getenv("SANDBOX_REMOTE_URL"),
		SandboxSecret:    os.Getenv("SANDBOX_SIGNING_SECRET"),
		NodeCommand:      getenv("NODE_COMMAND", "npx"),

		Tunables: loadTunables(),
	}
	if cfg.RedisAddr == "" {
		panic(fmt.Errorf("REDIS_ADDR is required"))
	}
	return cfg
}
