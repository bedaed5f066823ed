package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"troops/internal/domain"
)

// Message is the payload of one Kafka record: a single value with the
// report it arrived in.
type Message struct {
	Campaign string       `json:"campaign"`
	Purpose  string       `json:"purpose"`
	Place    string       `json:"place,omitempty"`
	Time     string       `json:"time"`
	Value    domain.Value `json:"value"`
}

// Kafka publishes one record per value, keyed by report purpose so a
// campaign's values stay ordered within a partition.
type Kafka struct {
	Writer *kafka.Writer
}

func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{Writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}}
}

// Messages renders a report into Kafka records.
func Messages(campaign domain.Campaign, r domain.Report) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(r.Values))
	ts, err := time.Parse(time.RFC3339, r.Time)
	if err != nil {
		ts = time.Now()
	}
	for _, v := range r.Values {
		body, err := json.Marshal(Message{Campaign: campaign.ID(), Purpose: r.Purpose, Place: r.Place, Time: r.Time, Value: v})
		if err != nil {
			return nil, fmt.Errorf("marshal kafka message: %w", err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(r.Purpose), Value: body, Time: ts})
	}
	return msgs, nil
}

func (k *Kafka) Write(ctx context.Context, campaign domain.Campaign, r domain.Report) error {
	msgs, err := Messages(campaign, r)
	if err != nil || len(msgs) == 0 {
		return err
	}
	if err := k.Writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write %s: %w", k.Writer.Topic, err)
	}
	return nil
}

func (k *Kafka) Close() error { return k.Writer.Close() }
