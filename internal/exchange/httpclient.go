package exchange

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
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/web3guy0/tradecore/internal/errs"
)

// TransportConfig tunes the retry/backoff/rate-limit envelope every
// exchange REST call goes through (§5).
type TransportConfig struct {
	RequestTimeout   time.Duration
	RetryBaseDelay   time.Duration
	RetryFactor      float64
	RetryMaxAttempts int
	RatePerSecond    float64
	RateBurst        int
}

// restTransport is the HMAC-signed, rate-limited, retrying HTTP client
// shared by both venue implementations. The signing scheme (HMAC-SHA256
// over a canonical message, hex-encoded) is the idiom venue REST APIs of
// this shape use for authenticating private endpoints.
type restTransport struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *retryablehttp.Client
	limiter    *rate.Limiter
}

func newRESTTransport(baseURL, apiKey, apiSecret string, cfg TransportConfig) *restTransport {
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryWaitMin = cfg.RetryBaseDelay
	client.RetryWaitMax = time.Duration(float64(cfg.RetryBaseDelay) * pow(cfg.RetryFactor, float64(cfg.RetryMaxAttempts)))
	// RetryMax counts retries after the first attempt.
	client.RetryMax = cfg.RetryMaxAttempts - 1
	if client.RetryMax < 0 {
		client.RetryMax = 0
	}
	client.HTTPClient.Timeout = cfg.RequestTimeout
	client.CheckRetry = retryablehttp.DefaultRetryPolicy

	limit := rate.Limit(cfg.RatePerSecond)
	if cfg.RatePerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	return &restTransport{
		baseURL:    baseURL,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		httpClient: client,
		limiter:    rate.NewLimiter(limit, burst),
	}
}

func pow(base, exp float64) float64 {
	result := 1.0
	for i := 0; i < int(exp); i++ {
		result *= base
	}
	return result
}

// sign returns the hex-encoded HMAC-SHA256 signature of message.
func (t *restTransport) sign(message string) string {
	h := hmac.New(sha256.New, []byte(t.apiSecret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// do issues a signed request and decodes the JSON body into out. The
// timestamp+method+path+body canonical message is the common shape used by
// both venues' private endpoints.
func (t *restTransport) do(ctx context.Context, method, path string, body any, signed bool, out any) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return errs.Wrap(errs.KindTimeout, "rate limiter wait cancelled", err)
	}

	var bodyBytes []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errs.Wrap(errs.KindValidation, "failed to marshal request body", err)
		}
		bodyBytes = b
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, t.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return errs.Wrap(errs.KindNetwork, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		ts := fmt.Sprintf("%d", time.Now().UnixMilli())
		message := ts + method + path + string(bodyBytes)
		req.Header.Set("API-Key", t.apiKey)
		req.Header.Set("API-Timestamp", ts)
		req.Header.Set("API-Signature", t.sign(message))
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Wrap(errs.KindNetwork, "failed to read response body", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return errs.New(errs.KindRateLimited, "exchange rate limit hit")
	}
	if resp.StatusCode >= 500 {
		return errs.New(errs.KindNetwork, fmt.Sprintf("exchange server error %d: %s", resp.StatusCode, string(respBody)))
	}
	if resp.StatusCode >= 400 {
		return errs.New(errs.KindExchangeRejected, fmt.Sprintf("exchange rejected request %d: %s", resp.StatusCode, string(respBody)))
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return errs.Wrap(errs.KindUnknown, "failed to decode exchange response", err)
	}
	return nil
}

func classifyTransportError(err error) error {
	log.Warn().Err(err).Msg("exchange transport error")
	return errs.Wrap(errs.KindNetwork, "exchange request failed", err)
}
