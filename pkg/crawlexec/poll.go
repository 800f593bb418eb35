package crawlexec

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultPollInitial = 2 * time.Second
	defaultPollCap     = 15 * time.Second
	defaultPollTimeout = 30 * time.Minute
)

// PollOption configures polling behavior.
type PollOption func(*pollConfig)

type pollConfig struct {
	initial time.Duration
	cap     time.Duration
	timeout time.Duration
	cursor  int
}

// WithPollInterval overrides the initial poll interval.
func WithPollInterval(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.initial = d
	}
}

// WithPollCap overrides the maximum poll interval.
func WithPollCap(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.cap = d
	}
}

// WithPollTimeout overrides the default timeout, applied only when the
// parent context has no deadline.
func WithPollTimeout(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.timeout = d
	}
}

// WithPollCursor sets the row cursor of the first status request, so rows
// already ingested are not delivered again.
func WithPollCursor(cursor int) PollOption {
	return func(c *pollConfig) {
		c.cursor = cursor
	}
}

// PollJob polls GetStatus until the job reaches a terminal executor status
// or the context expires, using exponential backoff on the poll interval.
// Each page of rows observed along the way is handed to onRows (which may
// be nil). Intended for foreground "--wait" flows; the job monitor does its
// own fixed-interval sweeps.
func PollJob(ctx context.Context, client Client, handle string, onRows func(rows []LeadRow), opts ...PollOption) (*StatusResponse, error) {
	cfg := pollConfig{initial: defaultPollInitial, cap: defaultPollCap, timeout: defaultPollTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	interval := cfg.initial
	cursor := cfg.cursor
	for {
		status, err := client.GetStatus(ctx, handle, cursor)
		if err != nil {
			return nil, eris.Wrap(err, fmt.Sprintf("crawlexec: poll job %s", handle))
		}
		if len(status.Rows) > 0 && onRows != nil {
			onRows(status.Rows)
		}
		cursor = status.NextCursor

		switch status.Status {
		case StatusCompleted, StatusFailed, StatusCancelled:
			return status, nil
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, eris.Wrap(ctx.Err(), fmt.Sprintf("crawlexec: poll job %s", handle))
		case <-timer.C:
		}

		interval *= 2
		if interval > cfg.cap {
			interval = cfg.cap
		}
	}
}
