package client

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-wallet/errors"
	"github.com/wippyai/wasm-wallet/protocol"
)

// Defaults for WaitForJob.
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultJobTimeout   = 60 * time.Second
)

// WaitForJob polls try_pull_result every pollInterval until the job
// completes, fails, or timeout has elapsed since the first poll. A zero
// timeout waits until ctx is done. A timeout only stops the wait; the job
// keeps running in the module.
func (c *Client) WaitForJob(ctx context.Context, jobID uint64, pollInterval, timeout time.Duration) (json.RawMessage, error) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	start := c.clock.Now()
	log := c.log.With(zap.Uint64("job", jobID))

	for polls := 1; ; polls++ {
		res, err := c.PullResult(ctx, jobID)
		if err != nil {
			return nil, err
		}
		c.metrics.jobPolls.Inc()

		switch res.State() {
		case protocol.JobCompleted:
			log.Debug("job completed", zap.Int("polls", polls))
			return res.Result, nil
		case protocol.JobFailed:
			log.Debug("job failed", zap.Int("polls", polls), zap.String("error", res.Error))
			return nil, &errors.JobFailedError{Handle: jobID, Message: res.Error}
		}

		if timeout > 0 && c.clock.Since(start) >= timeout {
			log.Warn("job wait timed out", zap.Int("polls", polls), zap.Duration("budget", timeout))
			return nil, &errors.JobTimeoutError{Handle: jobID, Budget: timeout}
		}

		timer := c.clock.Timer(pollInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}
