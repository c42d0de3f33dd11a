package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBusDeliversToExactSubject(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	var got []*Event
	_, err := bus.Subscribe("session.exited", func(ctx context.Context, e *Event) error {
		got = append(got, e)
		return nil
	})
	require.NoError(t, err)

	event := NewEvent("session.exited", "manager", map[string]interface{}{"id": "s1"})
	require.NoError(t, bus.Publish(context.Background(), "session.exited", event))
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].Data["id"])
	assert.NotEmpty(t, got[0].ID)
}

func TestMemoryBusWildcardSuffix(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	var subjects []string
	_, err := bus.Subscribe("compaction.>", func(ctx context.Context, e *Event) error {
		subjects = append(subjects, e.Type)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), "compaction.pass", NewEvent("compaction.pass", "engine", nil)))
	require.NoError(t, bus.Publish(context.Background(), "session.exited", NewEvent("session.exited", "manager", nil)))
	assert.Equal(t, []string{"compaction.pass"}, subjects)
}

func TestMemoryBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	count := 0
	sub, err := bus.Subscribe("x", func(ctx context.Context, e *Event) error {
		count++
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), "x", NewEvent("x", "t", nil)))
	sub.Unsubscribe()
	require.NoError(t, bus.Publish(context.Background(), "x", NewEvent("x", "t", nil)))
	assert.Equal(t, 1, count)
}

func TestMemoryBusClosedRejectsPublish(t *testing.T) {
	bus := NewMemoryBus(nil)
	bus.Close()
	assert.False(t, bus.IsConnected())
	err := bus.Publish(context.Background(), "x", NewEvent("x", "t", nil))
	require.Error(t, err)
}
