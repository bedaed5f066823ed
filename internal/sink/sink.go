// Package sink stores the reports a commander collects. The destination of
// a campaign picks the sink: a log line, a SQLite table or a Kafka topic.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"troops/internal/domain"
)

var ErrUnsupportedDestination = errors.New("unsupported destination")

// Sink persists or publishes reports.
type Sink interface {
	Write(ctx context.Context, campaign domain.Campaign, r domain.Report) error
	Close() error
}

// Open builds the sink for a destination URI:
//
//	"" or "log:"                     structured log lines
//	"sqlite:///var/lib/troops.db"    SQLite database file
//	"kafka://host:9092,host2/topic"  Kafka topic
func Open(ctx context.Context, destination string, logger *slog.Logger) (Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	scheme, rest, _ := strings.Cut(destination, ":")
	switch scheme {
	case "", "log":
		return &LogSink{Logger: logger}, nil
	case "sqlite":
		return OpenSQLite(ctx, strings.TrimPrefix(rest, "//"))
	case "kafka":
		brokers, topic, err := parseKafka(strings.TrimPrefix(rest, "//"))
		if err != nil {
			return nil, err
		}
		return NewKafka(brokers, topic), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDestination, destination)
	}
}

// Validate checks that a destination URI names a known sink without opening it.
func Validate(destination string) error {
	scheme, rest, _ := strings.Cut(destination, ":")
	switch scheme {
	case "", "log":
		return nil
	case "sqlite":
		if strings.TrimPrefix(rest, "//") == "" {
			return fmt.Errorf("%w: sqlite destination needs a path", ErrUnsupportedDestination)
		}
		return nil
	case "kafka":
		_, _, err := parseKafka(strings.TrimPrefix(rest, "//"))
		return err
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedDestination, destination)
	}
}

func parseKafka(spec string) ([]string, string, error) {
	hosts, topic, ok := strings.Cut(spec, "/")
	if !ok || hosts == "" || topic == "" || strings.Contains(topic, "/") {
		return nil, "", fmt.Errorf("%w: kafka destination must be kafka://broker[,broker]/topic", ErrUnsupportedDestination)
	}
	var brokers []string
	for _, h := range strings.Split(hosts, ",") {
		if h = strings.TrimSpace(h); h != "" {
			brokers = append(brokers, h)
		}
	}
	if len(brokers) == 0 {
		return nil, "", fmt.Errorf("%w: kafka destination has no brokers", ErrUnsupportedDestination)
	}
	return brokers, topic, nil
}

// Router opens one sink per destination on first use and forwards each
// campaign's reports to it.
type Router struct {
	Logger *slog.Logger

	mu    sync.Mutex
	sinks map[string]Sink
}

func NewRouter(logger *slog.Logger) *Router {
	return &Router{Logger: logger, sinks: make(map[string]Sink)}
}

func (r *Router) sink(ctx context.Context, destination string) (Sink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sinks[destination]; ok {
		return s, nil
	}
	s, err := Open(ctx, destination, r.Logger)
	if err != nil {
		return nil, err
	}
	if r.sinks == nil {
		r.sinks = make(map[string]Sink)
	}
	r.sinks[destination] = s
	return s, nil
}

// Forward writes r to the sink of the campaign's destination.
func (r *Router) Forward(ctx context.Context, campaign domain.Campaign, rep domain.Report) error {
	s, err := r.sink(ctx, campaign.Destination)
	if err != nil {
		return err
	}
	return s.Write(ctx, campaign, rep)
}

// Close closes every opened sink.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for dest, s := range r.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", dest, err))
		}
	}
	r.sinks = make(map[string]Sink)
	return errors.Join(errs...)
}

// LogSink writes one structured log line per report.
type LogSink struct {
	Logger *slog.Logger
}

func (l *LogSink) Write(ctx context.Context, campaign domain.Campaign, r domain.Report) error {
	attrs := []any{"campaign", campaign.ID(), "purpose", r.Purpose, "place", r.Place, "time", r.Time, "count", len(r.Values)}
	for i, v := range r.Values {
		attrs = append(attrs, slog.Group(fmt.Sprintf("v%d", i), "type", v.Type, "value", v.Value, "unit", v.Unit, "author", v.Author))
	}
	l.Logger.InfoContext(ctx, "report", attrs...)
	return nil
}

func (l *LogSink) Close() error { return nil }
