package native

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wippyai/wasm-wallet/errors"
)

// Host bridge imported by the wallet module for daemon RPC. The guest passes
// url, body and content type as C strings and receives a malloc'd C string
// holding the response body, or "ERROR:" followed by a description.
const (
	BridgeModule    = "env"
	ImportFetchHTTP = "_fetch_http"
	fetchErrPrefix  = "ERROR:"
)

const maxFetchResponse = 64 << 20

// Fetcher performs the daemon HTTP exchanges the wallet module asks for.
type Fetcher interface {
	Post(ctx context.Context, url, contentType string, body []byte) ([]byte, error)
}

// HTTPConfig configures an HTTPFetcher.
type HTTPConfig struct {
	Timeout time.Duration
	// RequestsPerSecond limits daemon requests; 0 means unlimited.
	RequestsPerSecond float64
	Burst             int
}

// HTTPFetcher posts to the daemon with net/http.
type HTTPFetcher struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPFetcher returns a fetcher with the given limits. A zero timeout
// means 30s.
func NewHTTPFetcher(cfg HTTPConfig) *HTTPFetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &HTTPFetcher{
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

// StatusError is a daemon reply with a non-2xx status.
type StatusError struct {
	Status string
	Body   string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s\n%s", e.Code, e.Status, e.Body)
}

func (f *HTTPFetcher) Post(ctx context.Context, url, contentType string, body []byte) ([]byte, error) {
	if url == "" {
		return nil, errors.InvalidInput(errors.PhaseNative, "URL cannot be empty")
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchResponse))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Status: http.StatusText(resp.StatusCode), Body: string(data)}
	}
	return data, nil
}

// fetchMessage renders a failed exchange the way the guest expects it.
func fetchMessage(err error) string {
	if se, ok := err.(*StatusError); ok {
		return fetchErrPrefix + se.Error()
	}
	return fetchErrPrefix + "Fetch failed: " + err.Error()
}

// fetchHost implements the _fetch_http import against f.
func fetchHost(f Fetcher) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		mem := mod.Memory()
		url, err1 := readCString(mem, api.DecodeU32(stack[0]))
		body, err2 := readCString(mem, api.DecodeU32(stack[1]))
		contentType, err3 := readCString(mem, api.DecodeU32(stack[2]))

		var reply string
		if err := multierr.Combine(err1, err2, err3); err != nil {
			reply = fetchMessage(err)
		} else {
			start := time.Now()
			data, err := f.Post(ctx, url, contentType, []byte(body))
			if err != nil {
				Logger().Warn("daemon fetch failed", zap.String("url", url), zap.Error(err))
				reply = fetchMessage(err)
			} else {
				Logger().Debug("daemon fetch",
					zap.String("url", url),
					zap.Int("bytes", len(data)),
					zap.Duration("elapsed", time.Since(start)))
				reply = string(data)
			}
		}

		ptr, err := guestString(ctx, mod, reply)
		if err != nil {
			Logger().Warn("fetch reply allocation failed", zap.Error(err))
		}
		stack[0] = api.EncodeU32(ptr)
	}
}
