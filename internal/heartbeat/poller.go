package heartbeat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"troops/internal/domain"
	"troops/internal/loop"
)

var (
	// ErrNotModified is returned by a Fetch when the validator still matches.
	ErrNotModified = errors.New("not modified")
	// ErrEvicted is returned by a Fetch when the superior no longer knows us.
	ErrEvicted = errors.New("evicted by superior")
)

// FetchFunc retrieves this node's record from its superior. etag is the
// validator of the previous modified response, empty on the first poll.
type FetchFunc func(ctx context.Context, etag string) (info domain.SubordinateInfo, newETag string, err error)

// Poller pulls assignment changes from the superior at a fixed interval.
// The poll itself doubles as the heartbeat.
type Poller struct {
	Fetch  FetchFunc
	Apply  func(ctx context.Context, assignments []domain.Assignment)
	Rejoin func(ctx context.Context) error

	Interval time.Duration
	Timeout  time.Duration
	// MaxFailures stops polling after that many consecutive unreachable
	// polls. Zero keeps retrying.
	MaxFailures int
	Logger      *slog.Logger

	etag     string
	failures int
}

// Poll performs one round trip and reports whether polling should continue.
func (p *Poller) Poll(ctx context.Context) bool {
	log := p.logger()
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	info, etag, err := p.Fetch(ctx, p.etag)
	switch {
	case err == nil:
		p.failures = 0
		p.etag = etag
		if p.Apply != nil {
			p.Apply(ctx, info.Assignments)
		}
	case errors.Is(err, ErrNotModified):
		p.failures = 0
	case errors.Is(err, ErrEvicted):
		p.failures = 0
		p.etag = ""
		log.Warn("superior no longer knows this node, rejoining")
		if p.Rejoin != nil {
			if err := p.Rejoin(ctx); err != nil {
				log.Error("rejoin failed", "err", err)
			}
		}
	default:
		p.failures++
		log.Warn("superior unreachable", "err", err, "failures", p.failures)
		if p.MaxFailures > 0 && p.failures >= p.MaxFailures {
			log.Error("giving up on superior", "failures", p.failures)
			return false
		}
	}
	return true
}

// ETag returns the validator the next poll will send.
func (p *Poller) ETag() string { return p.etag }

// Start runs Poll every Interval until the returned task is stopped or the
// failure policy gives up.
func (p *Poller) Start(ctx context.Context) *loop.Task {
	interval := p.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return loop.Every("poller", interval, func() bool {
		if ctx.Err() != nil {
			return false
		}
		return p.Poll(ctx)
	})
}

func (p *Poller) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}
