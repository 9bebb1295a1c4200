package sandbox

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"codegen/internal/logger"
)

// RemoteBackend ships the script to an external sandbox service over HTTP.
// Requests are HMAC-signed so the service can authenticate the caller.
type RemoteBackend struct {
	baseURL string
	secret  string
	client  *http.Client
	log     *logger.Logger
}

var _ Backend = (*RemoteBackend)(nil)

func NewRemoteBackend(baseURL, secret string) *RemoteBackend {
	return &RemoteBackend{
		baseURL: baseURL,
		secret:  secret,
		client:  &http.Client{Timeout: 10 * time.Minute},
		log:     logger.New("RemoteSandbox"),
	}
}

func (b *RemoteBackend) Name() string { return "remote" }

// remoteResponse is the sandbox service's reply: either a resolved result or
// the raw captured stream for local resolution.
type remoteResponse struct {
	Result   *Result `json:"result,omitempty"`
	Output   string  `json:"output,omitempty"`
	TimedOut bool    `json:"timed_out,omitempty"`
	Error    string  `json:"error,omitempty"`
}

func (b *RemoteBackend) Execute(ctx context.Context, req Request) (*Result, error) {
	if err := ValidateEntryPoint(req.Code); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal sandbox request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/execute", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if b.secret != "" {
		timestamp := strconv.FormatInt(time.Now().Unix(), 10)
		httpReq.Header.Set("X-System-Timestamp", timestamp)
		httpReq.Header.Set("X-System-Signature", b.sign(timestamp, payload))
	} else {
		b.log.LogWarn("sandbox signing secret not configured, request may fail authentication")
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sandbox service request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read sandbox response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("sandbox service returned status %d: %s", resp.StatusCode, truncate(string(body), 300))
	}

	var rr remoteResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return nil, fmt.Errorf("decode sandbox response: %w", err)
	}
	if rr.Error != "" {
		return nil, fmt.Errorf("sandbox service error: %s", rr.Error)
	}
	if rr.Result != nil {
		rr.Result.ToolUsed = req.Tool
		return rr.Result, nil
	}

	// Service returned the raw stream; resolve it with the same policy as
	// the local backend.
	res := ParseStream(rr.Output, rr.TimedOut)
	res.ToolUsed = req.Tool
	return res, nil
}

func (b *RemoteBackend) sign(timestamp string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(b.secret))
	h.Write([]byte(timestamp + string(payload)))
	return hex.EncodeToString(h.Sum(nil))
}
