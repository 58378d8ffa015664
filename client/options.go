package client

import (
	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithClock sets the clock used by WaitForJob.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithRegisterer registers the client metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Client) {
		c.metrics = NewMetrics(reg)
	}
}

// WithWasmURL sets the module location sent with load_module. Empty leaves
// the choice to the host.
func WithWasmURL(url string) Option {
	return func(c *Client) {
		c.wasmURL = url
	}
}

// WithRejectPendingOnHostFailure makes a host failure fail every request
// still waiting for a response. By default they are left unresolved and
// only the error event reports the failure.
func WithRejectPendingOnHostFailure(reject bool) Option {
	return func(c *Client) {
		c.rejectOnHostFailure = reject
	}
}
