package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"champs/internal/game"
	"champs/internal/metrics"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type RosterEvent struct {
	ID             string            `json:"id"`
	Type           game.RosterChange `json:"type"`
	ChampionshipID string            `json:"championship_id"`
	UserID         string            `json:"user_id"`
	At             time.Time         `json:"at"`
}

func Encode(e RosterEvent) (kafka.Message, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(e.ChampionshipID),
		Value: raw,
		Time:  e.At,
	}, nil
}

func Decode(m kafka.Message) (RosterEvent, error) {
	var e RosterEvent
	if err := json.Unmarshal(m.Value, &e); err != nil {
		return e, fmt.Errorf("decode roster event: %w", err)
	}
	if strings.TrimSpace(e.ChampionshipID) == "" {
		return e, errors.New("roster event without championship id")
	}
	if e.Type != game.RosterEnrolled && e.Type != game.RosterLeft {
		return e, fmt.Errorf("unknown roster event type %q", e.Type)
	}
	return e, nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaPublisher emits roster changes keyed by championship so events for one
// championship stay ordered on a partition.
type KafkaPublisher struct {
	w       messageWriter
	metrics *metrics.Registry
	now     func() time.Time
}

func NewKafkaPublisher(brokers []string, topic string, m *metrics.Registry) *KafkaPublisher {
	return &KafkaPublisher{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
		metrics: m,
		now:     time.Now,
	}
}

func (p *KafkaPublisher) PublishRosterChange(ctx context.Context, championshipID, userID string, change game.RosterChange) error {
	msg, err := Encode(RosterEvent{
		ID:             uuid.NewString(),
		Type:           change,
		ChampionshipID: championshipID,
		UserID:         userID,
		At:             p.now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish roster event: %w", err)
	}
	p.metrics.RosterEvent(string(change), "published")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

type Noop struct{}

func (Noop) PublishRosterChange(context.Context, string, string, game.RosterChange) error {
	return nil
}

type Handler func(ctx context.Context, e RosterEvent) error

type Consumer struct {
	r       messageReader
	handle  Handler
	log     *slog.Logger
	metrics *metrics.Registry

	// backoff after a failed read; doubles up to maxBackoff and resets on success.
	backoff    time.Duration
	maxBackoff time.Duration
}

func NewConsumer(brokers []string, topic, groupID string, handle Handler, logger *slog.Logger, m *metrics.Registry) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 1e6,
			MaxWait:  500 * time.Millisecond,
		}),
		handle:     handle,
		log:        logger,
		metrics:    m,
		backoff:    500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
}

// Run consumes until ctx is cancelled. Malformed messages and handler
// failures are logged and skipped; read failures are retried with backoff.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.r.Close()
	delay := c.backoff
	for {
		m, err := c.r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("read roster event failed", "retry_in", delay.String(), "err", err)
			if !sleepContext(ctx, delay) {
				return nil
			}
			delay = min(delay*2, c.maxBackoff)
			continue
		}
		delay = c.backoff
		e, err := Decode(m)
		if err != nil {
			c.log.Warn("bad roster event", "offset", m.Offset, "err", err)
			continue
		}
		c.metrics.RosterEvent(string(e.Type), "consumed")
		if err := c.handle(ctx, e); err != nil {
			c.log.Error("roster event handler failed", "championship_id", e.ChampionshipID, "type", e.Type, "err", err)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
