// Package app wires the engines to the network: it builds the HTTP adapters
// the engines push and forward through, and runs the awake sequence that
// attaches an actor to its superior.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"troops/internal/config"
	"troops/internal/domain"
	"troops/internal/engine"
	"troops/internal/heartbeat"
	"troops/internal/metrics"
	troopssdk "troops/sdk/go"
)

const maxBackoff = 5 * time.Minute

// Options carries what every actor bootstrap needs.
type Options struct {
	ID   string
	Name string
	// Endpoint is the public base URL of this actor including its role
	// prefix, for example http://10.0.0.5:5000/leader.
	Endpoint  string
	Recruiter *troopssdk.Client
	Timing    config.Timing
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	// HTTPClient is shared by every outbound call; nil uses a client with
	// Timing.RequestTimeout. It must not change once the adapters are in use.
	HTTPClient *http.Client

	clientOnce sync.Once
}

func (o *Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func (o *Options) client(baseURL string) *troopssdk.Client {
	o.clientOnce.Do(func() {
		if o.HTTPClient == nil {
			o.HTTPClient = &http.Client{Timeout: o.Timing.RequestTimeout}
		}
	})
	return &troopssdk.Client{BaseURL: baseURL, HTTPClient: o.HTTPClient, Timeout: o.Timing.RequestTimeout}
}

// permanent errors are not worth retrying: the recruiter does not know the
// id, or the request itself is wrong.
func permanent(err error) bool {
	return troopssdk.IsStatus(err, http.StatusNotFound) || troopssdk.IsStatus(err, http.StatusBadRequest)
}

// Retry runs fn up to t.AwakeRetries times, doubling the wait after every
// failure starting at t.AwakeInterval.
func Retry(ctx context.Context, t config.Timing, log *slog.Logger, what string, fn func(context.Context) error) error {
	if log == nil {
		log = slog.Default()
	}
	wait := t.AwakeInterval
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if permanent(err) || attempt >= t.AwakeRetries {
			return fmt.Errorf("%s: %w", what, err)
		}
		log.Warn(what+" failed, retrying", "attempt", attempt, "wait", wait, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if wait < maxBackoff {
			wait = min(wait*2, maxBackoff)
		}
	}
}

// Superior holds the client of the current superior. It changes when a
// leader or soldier re-resolves after losing its superior.
type Superior struct {
	p atomic.Pointer[troopssdk.Client]
}

func (s *Superior) Set(c *troopssdk.Client) { s.p.Store(c) }

// Client returns the current superior, or nil before the first resolve.
func (s *Superior) Client() *troopssdk.Client { return s.p.Load() }

var errNoSuperior = errors.New("superior not resolved yet")

// MissionPusher delivers derived missions to leaders at their endpoint.
func MissionPusher(o *Options) engine.Pusher {
	return engine.PusherFunc(func(ctx context.Context, sub domain.SubordinateInfo, a domain.Assignment) error {
		_, err := o.client(sub.Endpoint).PostMission(ctx, a)
		return err
	})
}

// OrderPusher delivers derived orders to soldiers that expose an endpoint.
func OrderPusher(o *Options) engine.Pusher {
	return engine.PusherFunc(func(ctx context.Context, sub domain.SubordinateInfo, a domain.Assignment) error {
		_, err := o.client(sub.Endpoint).PostOrder(ctx, a)
		return err
	})
}

// ReportForwarder posts a leader's bundled reports to its commander.
func ReportForwarder(sup *Superior, leaderID string) engine.Forwarder {
	return engine.ForwarderFunc(func(ctx context.Context, _ domain.Assignment, r domain.Report) error {
		c := sup.Client()
		if c == nil {
			return errNoSuperior
		}
		return c.Report(ctx, leaderID, r)
	})
}

// WorkSender posts a soldier's readings to its leader.
func WorkSender(sup *Superior, soldierID string) engine.Sender {
	return engine.SenderFunc(func(ctx context.Context, w domain.Work) error {
		c := sup.Client()
		if c == nil {
			return errNoSuperior
		}
		return c.Work(ctx, soldierID, w)
	})
}

// Reannouncer returns a hook that pushes a leader's refreshed info to its
// commander, so the commander re-derives missions for the new weapon set.
func Reannouncer(o *Options, sup *Superior, info func() domain.SubordinateInfo) func() {
	return func() {
		c := sup.Client()
		if c == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), o.Timing.RequestTimeout)
		defer cancel()
		if _, err := c.Reannounce(ctx, info()); err != nil {
			o.logger().Warn("re-announce to superior failed", "err", err)
		}
	}
}

// Fetch polls this actor's own record at its superior. The request doubles
// as the heartbeat.
func Fetch(o *Options, sup *Superior) heartbeat.FetchFunc {
	return func(ctx context.Context, etag string) (domain.SubordinateInfo, string, error) {
		c := sup.Client()
		if c == nil {
			return domain.SubordinateInfo{}, etag, errNoSuperior
		}
		info, next, err := c.GetSubordinate(ctx, o.ID, etag, true)
		switch {
		case err == nil:
			o.Metrics.Poll("modified")
			return info, next, nil
		case errors.Is(err, troopssdk.ErrNotModified):
			o.Metrics.Poll("not_modified")
			return info, etag, heartbeat.ErrNotModified
		case troopssdk.IsStatus(err, http.StatusNotFound):
			o.Metrics.Poll("evicted")
			return info, "", heartbeat.ErrEvicted
		default:
			o.Metrics.Poll("error")
			return info, etag, err
		}
	}
}

// RegisterCommander publishes the commander's endpoint. The returned record
// carries the place configured in the membership.
func RegisterCommander(ctx context.Context, o *Options) (domain.Member, error) {
	var m domain.Member
	err := Retry(ctx, o.Timing, o.logger(), "register commander", func(ctx context.Context) error {
		var err error
		m, err = o.Recruiter.RegisterCommander(ctx, domain.Member{ID: o.ID, Name: o.Name, Endpoint: o.Endpoint})
		return err
	})
	return m, err
}
