package messaging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := NewLogPublisher(zap.New(core))

	ev := NewEvent(DatasetUploaded, "ds-1", map[string]interface{}{"rows": 10})
	require.NoError(t, p.Publish(context.Background(), ev))
	require.NoError(t, p.Close())

	entries := logs.FilterMessage("event").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "dataset.uploaded", fields["type"])
	assert.Equal(t, "ds-1", fields["subject"])
}

func TestNewEvent(t *testing.T) {
	a := NewEvent(ModelTrained, "m", nil)
	b := NewEvent(ModelTrained, "m", nil)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.OccurredAt.IsZero())
}

func TestNewKafkaPublisher_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{Topic: "t"}, zap.NewNop())
	assert.Error(t, err)

	p, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "t", p.writer.Topic)
	require.NoError(t, p.Close())
}
