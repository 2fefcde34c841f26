package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradevenue/internal/domain"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaProducer_KeysByResource(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaProducer{writer: w}
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	evt := domain.NewEvent(domain.EventPurchaseCompleted, "0xc0/1", at, map[string]string{"fee": "3"})

	require.NoError(t, p.Publish(context.Background(), evt))
	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "0xc0/1", string(msg.Key))
	assert.Equal(t, at, msg.Time)
	assert.Equal(t, "purchase_completed", string(msg.Headers[0].Value))

	var got domain.Event
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, evt.ID, got.ID)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaProducer_WriteError(t *testing.T) {
	p := &KafkaProducer{writer: &fakeWriter{err: errors.New("no brokers")}}
	err := p.Publish(context.Background(), domain.NewEvent(domain.EventSwapExecuted, "pool", time.Now(), nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no brokers")
}

func TestNewKafkaProducer_Config(t *testing.T) {
	p := NewKafkaProducer(KafkaConfig{
		Brokers:      []string{"k1:9092"},
		Topic:        "venue.events",
		BatchSize:    10,
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: -1,
	})
	w, ok := p.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "venue.events", w.Topic)
	assert.Equal(t, 10, w.BatchSize)
	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
}
