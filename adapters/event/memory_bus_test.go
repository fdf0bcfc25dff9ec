package event

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainevent "github.com/khoahotran/chatmedia/internal/domain/event"
	"github.com/khoahotran/chatmedia/pkg/logger"
)

type readyPayload struct {
	URL string `json:"url"`
}

func receive(t *testing.T, ch <-chan domainevent.Envelope) domainevent.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return domainevent.Envelope{}
}

func TestMemoryBus_DeliversToEverySubscriberOfName(t *testing.T) {
	bus := NewMemoryBus(logger.NewNop(), 8)
	defer bus.Close()

	a := make(chan domainevent.Envelope, 1)
	b := make(chan domainevent.Envelope, 1)
	other := make(chan domainevent.Envelope, 1)
	_, err := bus.Subscribe(domainevent.MultimediaReady, func(ctx context.Context, env domainevent.Envelope) { a <- env })
	require.NoError(t, err)
	_, err = bus.Subscribe(domainevent.MultimediaReady, func(ctx context.Context, env domainevent.Envelope) { b <- env })
	require.NoError(t, err)
	_, err = bus.Subscribe(domainevent.MultimediaFailed, func(ctx context.Context, env domainevent.Envelope) { other <- env })
	require.NoError(t, err)

	bus.Publish(context.Background(), domainevent.MultimediaReady, readyPayload{URL: "/u/1.jpg"})

	for _, ch := range []chan domainevent.Envelope{a, b} {
		env := receive(t, ch)
		assert.Equal(t, domainevent.MultimediaReady, env.Name)
		var p readyPayload
		require.NoError(t, env.Decode(&p))
		assert.Equal(t, "/u/1.jpg", p.URL)
	}
	select {
	case <-other:
		t.Fatal("failed subscriber got a ready event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBus_PanickingHandlerKeepsRunning(t *testing.T) {
	bus := NewMemoryBus(logger.NewNop(), 8)
	defer bus.Close()

	got := make(chan domainevent.Envelope, 2)
	calls := 0
	_, err := bus.Subscribe("x", func(ctx context.Context, env domainevent.Envelope) {
		calls++
		if calls == 1 {
			panic("boom")
		}
		got <- env
	})
	require.NoError(t, err)

	bus.Publish(context.Background(), "x", 1)
	bus.Publish(context.Background(), "x", 2)
	env := receive(t, got)
	assert.JSONEq(t, "2", string(env.Payload))
}

func TestMemoryBus_CancelStopsDelivery(t *testing.T) {
	bus := NewMemoryBus(logger.NewNop(), 8)
	defer bus.Close()

	got := make(chan domainevent.Envelope, 1)
	cancel, err := bus.Subscribe("x", func(ctx context.Context, env domainevent.Envelope) { got <- env })
	require.NoError(t, err)
	cancel()
	cancel()

	bus.Publish(context.Background(), "x", 1)
	select {
	case <-got:
		t.Fatal("cancelled subscriber got an event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBus_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewMemoryBus(logger.NewNop(), 1)
	release := make(chan struct{})
	_, err := bus.Subscribe("x", func(ctx context.Context, env domainevent.Envelope) { <-release })
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(context.Background(), "x", i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	close(release)
	require.NoError(t, bus.Close())
}

func TestMemoryBus_SubscribeAfterClose(t *testing.T) {
	bus := NewMemoryBus(logger.NewNop(), 1)
	require.NoError(t, bus.Close())
	_, err := bus.Subscribe("x", func(ctx context.Context, env domainevent.Envelope) {})
	assert.Error(t, err)
}
