package possync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/loyalty_backend/config"
	"bitbucket.org/mmdatafocus/loyalty_backend/models"
	"github.com/sirupsen/logrus"
)

// ProtocolVersion is pinned; every request carries it so payload shapes stay
// stable across platform releases.
const ProtocolVersion = "2024-06-04"

// APIError is a non-2xx response from the platform, carrying the HTTP status
// and the endpoint that produced it.
type APIError struct {
	Status   int
	Endpoint string
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pos api error %d on %s: %s", e.Status, e.Endpoint, e.Body)
}

// IsNotFound reports whether err is an APIError with HTTP 404. Cleanup treats
// already-deleted platform objects as the desired end state.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Client is the single chokepoint for all calls to the external platform.
// It rate-limits, retries 429/5xx a bounded number of times, and logs every
// call with endpoint, status and duration.
type Client struct {
	baseURL    string
	http       *http.Client
	limiter    <-chan time.Time
	maxRetries int
	logger     *logrus.Logger
}

// NewClient builds a gateway from env:
//   - POS_API_BASE_URL (default https://connect.posplatform.com)
//   - POS_RATE_LIMIT_PER_MIN (default 60)
//   - POS_MAX_RETRIES (default 3)
func NewClient(logger *logrus.Logger) *Client {
	baseURL := strings.TrimSpace(os.Getenv("POS_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://connect.posplatform.com"
	}
	ratePerMin := config.IntFromEnv("POS_RATE_LIMIT_PER_MIN", 60)
	if ratePerMin <= 0 {
		ratePerMin = 60
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: 30 * time.Second},
		limiter:    time.Tick(time.Minute / time.Duration(ratePerMin)),
		maxRetries: config.IntFromEnv("POS_MAX_RETRIES", 3),
		logger:     logger,
	}
}

func (c *Client) do(ctx context.Context, merchant *models.Merchant, method string, path string, params url.Values, body any, dest any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		<-c.limiter

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+merchant.AccessToken)
		req.Header.Set("X-Protocol-Version", ProtocolVersion)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		start := time.Now()
		resp, err := c.http.Do(req)
		duration := time.Since(start)

		if err != nil {
			lastErr = err
			c.logCall(merchant.MerchantId, method, path, 0, duration, false)
			if sleepErr := sleepCtx(ctx, backoffFor(attempt)); sleepErr != nil {
				return sleepErr
			}
			continue
		}

		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		c.logCall(merchant.MerchantId, method, path, resp.StatusCode, duration, resp.StatusCode < 300)

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if dest != nil && len(respBody) > 0 {
				return json.Unmarshal(respBody, dest)
			}
			return nil
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = &APIError{Status: resp.StatusCode, Endpoint: path, Body: strings.TrimSpace(string(respBody))}
			if sleepErr := sleepCtx(ctx, retryAfter(resp, attempt)); sleepErr != nil {
				return sleepErr
			}
			continue
		case resp.StatusCode >= 500:
			lastErr = &APIError{Status: resp.StatusCode, Endpoint: path, Body: strings.TrimSpace(string(respBody))}
			if sleepErr := sleepCtx(ctx, backoffFor(attempt)); sleepErr != nil {
				return sleepErr
			}
			continue
		default:
			return &APIError{Status: resp.StatusCode, Endpoint: path, Body: strings.TrimSpace(string(respBody))}
		}
	}
	return lastErr
}

func (c *Client) logCall(merchantId string, method string, path string, status int, duration time.Duration, success bool) {
	if c.logger == nil {
		return
	}
	c.logger.WithFields(logrus.Fields{
		"module":      "possync",
		"merchant_id": merchantId,
		"endpoint":    method + " " + path,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
		"success":     success,
	}).Debug("pos api call")
}

// retryAfter honors the server-supplied hint, falling back to exponential
// backoff when the header is missing or malformed.
func retryAfter(resp *http.Response, attempt int) time.Duration {
	if v := strings.TrimSpace(resp.Header.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return backoffFor(attempt)
}

func backoffFor(attempt int) time.Duration {
	d := time.Second * time.Duration(1<<uint(attempt))
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
