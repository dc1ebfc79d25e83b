package eventbus

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *RedisBus {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bus := NewRedisBus(client)
	t.Cleanup(func() { bus.Close() })
	return bus
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	bus := newTestBus(t)

	sub, err := bus.Subscribe(TopicJobLifecycle)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, bus.Publish(TopicJobLifecycle, Message{
		JobID: "job-1",
		Type:  EventDispatched,
		Phase: "asr",
	}))

	select {
	case m := <-sub.C():
		require.Equal(t, "job-1", m.JobID)
		require.Equal(t, EventDispatched, m.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestSubscriberBufferOverflowDrops(t *testing.T) {
	bus := newTestBus(t)

	sub, err := bus.Subscribe(TopicJobProgress)
	require.NoError(t, err)
	defer sub.Close()

	for i := 0; i < subscriberBufferSize+10; i++ {
		require.NoError(t, bus.Publish(TopicJobProgress, Message{JobID: "job-1", Type: EventPhaseChanged}))
	}

	// Give the pump goroutine a moment to process the backlog and drop
	// what doesn't fit in the bounded buffer.
	time.Sleep(200 * time.Millisecond)
	require.Greater(t, bus.DroppedCount(TopicJobProgress), int64(0))
}
