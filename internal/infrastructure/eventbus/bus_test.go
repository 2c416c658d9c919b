package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/domain/event"
)

type testEvent struct{ name string }

func (e testEvent) EventName() string { return e.name }

func TestPublishReachesSubscribers(t *testing.T) {
	bus := New(nil)
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	got := make(chan event.Event, 1)
	bus.Subscribe("order.created", func(_ context.Context, e event.Event) error {
		got <- e
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), testEvent{name: "order.created"}))

	select {
	case e := <-got:
		assert.Equal(t, "order.created", e.EventName())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestUnmatchedEventIsDropped(t *testing.T) {
	bus := New(nil)
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	got := make(chan event.Event, 1)
	bus.Subscribe("order.created", func(_ context.Context, e event.Event) error {
		got <- e
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), testEvent{name: "order.cancelled"}))

	select {
	case <-got:
		t.Fatal("handler should not receive a different event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPanickingHandlerDoesNotStopDispatch(t *testing.T) {
	bus := New(nil)
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	got := make(chan struct{}, 2)
	bus.Subscribe("order.confirmed", func(context.Context, event.Event) error {
		panic("boom")
	})
	bus.Subscribe("order.confirmed", func(context.Context, event.Event) error {
		got <- struct{}{}
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), testEvent{name: "order.confirmed"}))
	require.NoError(t, bus.Publish(context.Background(), testEvent{name: "order.confirmed"}))

	for i := 0; i < 2; i++ {
		select {
		case <-got:
		case <-time.After(time.Second):
			t.Fatalf("delivery %d lost after panic", i)
		}
	}
}

func TestPublishNilEventIsNoop(t *testing.T) {
	bus := New(nil)
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	assert.NoError(t, bus.Publish(context.Background(), nil))
}
