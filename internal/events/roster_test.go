package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"champs/internal/game"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	errs   []error
	msgs   []kafka.Message
	reads  int
	closed bool
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	r.reads++
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return kafka.Message{}, err
	}
	if len(r.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func TestPublisherKeysByChampionship(t *testing.T) {
	w := &fakeWriter{}
	at := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	p := &KafkaPublisher{w: w, now: func() time.Time { return at }}

	require.NoError(t, p.PublishRosterChange(context.Background(), "champ-9", "user-1", game.RosterEnrolled))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "champ-9", string(w.msgs[0].Key))

	e, err := Decode(w.msgs[0])
	require.NoError(t, err)
	assert.Equal(t, game.RosterEnrolled, e.Type)
	assert.Equal(t, "user-1", e.UserID)
	assert.True(t, e.At.Equal(at))
	assert.NotEmpty(t, e.ID)
}

func TestPublisherWrapsWriteError(t *testing.T) {
	w := &fakeWriter{err: io.ErrClosedPipe}
	p := &KafkaPublisher{w: w, now: time.Now}
	err := p.PublishRosterChange(context.Background(), "c", "u", game.RosterLeft)
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.ErrClosedPipe))
}

func TestDecodeRejectsBadEvents(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"not json", `{`},
		{"no championship", `{"type":"enrolled"}`},
		{"unknown type", `{"type":"banned","championship_id":"c"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(kafka.Message{Value: []byte(tc.value)})
			assert.Error(t, err)
		})
	}
}

func TestConsumerDispatchesAndSkipsBadMessages(t *testing.T) {
	good, err := Encode(RosterEvent{ID: "1", Type: game.RosterLeft, ChampionshipID: "c1", UserID: "u1"})
	require.NoError(t, err)
	r := &fakeReader{msgs: []kafka.Message{{Value: []byte("garbage")}, good}}

	ctx, cancel := context.WithCancel(context.Background())
	var seen []RosterEvent
	c := &Consumer{
		r:   r,
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
		handle: func(_ context.Context, e RosterEvent) error {
			seen = append(seen, e)
			cancel()
			return nil
		},
	}

	require.NoError(t, c.Run(ctx))
	require.Len(t, seen, 1)
	assert.Equal(t, "c1", seen[0].ChampionshipID)
	assert.True(t, r.closed)
}

func TestConsumerRetriesReadErrors(t *testing.T) {
	good, err := Encode(RosterEvent{ID: "1", Type: game.RosterEnrolled, ChampionshipID: "c2", UserID: "u2"})
	require.NoError(t, err)
	r := &fakeReader{
		errs: []error{errors.New("broker unavailable"), io.ErrUnexpectedEOF},
		msgs: []kafka.Message{good},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var seen []RosterEvent
	c := &Consumer{
		r:          r,
		log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		backoff:    time.Millisecond,
		maxBackoff: 2 * time.Millisecond,
		handle: func(_ context.Context, e RosterEvent) error {
			seen = append(seen, e)
			cancel()
			return nil
		},
	}

	require.NoError(t, c.Run(ctx))
	require.Len(t, seen, 1)
	assert.Equal(t, "c2", seen[0].ChampionshipID)
	assert.Equal(t, 4, r.reads) // two failures, the event, then the read ended by cancel
}
