package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"troops/internal/domain"
)

var testReport = domain.Report{
	Time:    "2024-01-01T00:00:00Z",
	Place:   "S101",
	Purpose: "campaign-x",
	Values: []domain.Value{
		{Type: "zero", Value: 0, Unit: "-", Author: "s1", Time: "2024-01-01T00:00:00Z"},
		{Type: "random", Value: 0.5, Unit: "-", Author: "s2"},
	},
}

func TestOpenRejectsUnknownDestination(t *testing.T) {
	for _, dest := range []string{"mongodb://localhost/troops", "kafka://", "kafka://broker", "kafka:///topic"} {
		if _, err := Open(context.Background(), dest, nil); !errors.Is(err, ErrUnsupportedDestination) {
			t.Fatalf("%s: expected ErrUnsupportedDestination, got %v", dest, err)
		}
		if err := Validate(dest); err == nil {
			t.Fatalf("%s: validate should fail", dest)
		}
	}
}

func TestParseKafka(t *testing.T) {
	brokers, topic, err := parseKafka("b1:9092, b2:9092/reports")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(brokers) != 2 || brokers[1] != "b2:9092" || topic != "reports" {
		t.Fatalf("brokers=%v topic=%s", brokers, topic)
	}
}

func TestKafkaMessagesOnePerValue(t *testing.T) {
	campaign := domain.Campaign{Purpose: "survey", Place: domain.PlaceAll}
	msgs, err := Messages(campaign, testReport)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 2 || string(msgs[0].Key) != "campaign-x" {
		t.Fatalf("msgs = %+v", msgs)
	}
	var m Message
	if err := json.Unmarshal(msgs[1].Value, &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Campaign != campaign.ID() || m.Value.Type != "random" || m.Value.Author != "s2" {
		t.Fatalf("message = %+v", m)
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	r := NewRouter(slog.New(slog.NewTextHandler(&buf, nil)))
	defer r.Close()
	if err := r.Forward(context.Background(), domain.Campaign{Purpose: "survey", Place: domain.PlaceAll}, testReport); err != nil {
		t.Fatalf("forward: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "msg=report") || !strings.Contains(out, "purpose=campaign-x") || !strings.Contains(out, "v1.type=random") {
		t.Fatalf("log line = %s", out)
	}
}

func TestSQLiteSinkStoresValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "reports.db")
	r := NewRouter(nil)
	campaign := domain.Campaign{Purpose: "survey", Place: domain.PlaceAll, Destination: "sqlite://" + path}
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := r.Forward(ctx, campaign, testReport); err != nil {
			t.Fatalf("forward %d: %v", i, err)
		}
	}
	s, err := r.sink(ctx, campaign.Destination)
	if err != nil {
		t.Fatalf("sink: %v", err)
	}
	sq := s.(*SQLite)
	var reports, values int
	if err := sq.DB.QueryRowContext(ctx, `SELECT count(*) FROM reports WHERE campaign = ?`, campaign.ID()).Scan(&reports); err != nil {
		t.Fatalf("count reports: %v", err)
	}
	if err := sq.DB.QueryRowContext(ctx, `SELECT count(*) FROM report_values`).Scan(&values); err != nil {
		t.Fatalf("count values: %v", err)
	}
	if reports != 2 || values != 4 {
		t.Fatalf("reports=%d values=%d", reports, values)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
