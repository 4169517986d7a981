package eventbus

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"xyz-agents/internal/domain"
)

func newTestBus() *Bus {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPublishSubscribe(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventAgentCreated, func(_ context.Context, e domain.Event) {
		if e.Type == domain.EventAgentCreated && e.AgentID == "a1" {
			got.Add(1)
		}
	})
	bus.Subscribe(domain.EventAgentDestroyed, func(_ context.Context, _ domain.Event) {
		t.Error("destroyed handler should not receive created events")
	})

	bus.Publish(context.Background(), domain.NewEvent(domain.EventAgentCreated, "a1", nil))
	bus.Close()
	assert.Equal(t, int32(1), got.Load())
	assert.Equal(t, uint64(1), bus.Published())
}

func TestSubscribeAll(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.SubscribeAll(func(_ context.Context, _ domain.Event) { got.Add(1) })

	bus.Publish(context.Background(), domain.NewEvent(domain.EventAgentCreated, "a1", nil))
	bus.Publish(context.Background(), domain.NewEvent(domain.EventTaskFailed, "a1", nil))
	bus.Close()
	assert.Equal(t, int32(2), got.Load())
}

func TestUnsubscribe(t *testing.T) {
	bus := newTestBus()

	var typed, all atomic.Int32
	unsubTyped := bus.Subscribe(domain.EventAgentStateChanged, func(_ context.Context, _ domain.Event) { typed.Add(1) })
	unsubAll := bus.SubscribeAll(func(_ context.Context, _ domain.Event) { all.Add(1) })
	unsubTyped()
	unsubTyped() // second call is a no-op
	unsubAll()

	bus.Publish(context.Background(), domain.NewEvent(domain.EventAgentStateChanged, "a1", nil))
	bus.Close()
	assert.Zero(t, typed.Load())
	assert.Zero(t, all.Load())
}

func TestConcurrentPublish(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventTaskFailed, func(_ context.Context, _ domain.Event) { got.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(context.Background(), domain.NewEvent(domain.EventTaskFailed, "a1", nil))
		}()
	}
	wg.Wait()
	bus.Close()
	assert.Equal(t, int32(100), got.Load())
}

func TestPanicRecovery(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventAgentCreated, func(_ context.Context, _ domain.Event) { panic("handler bug") })
	bus.Subscribe(domain.EventAgentCreated, func(_ context.Context, _ domain.Event) { got.Add(1) })

	bus.Publish(context.Background(), domain.NewEvent(domain.EventAgentCreated, "a1", nil))
	bus.Close()
	assert.Equal(t, int32(1), got.Load())
}

func TestCloseDrainsAndRejectsNew(t *testing.T) {
	bus := newTestBus()

	release := make(chan struct{})
	var done atomic.Bool
	bus.Subscribe(domain.EventDispatcherStopped, func(_ context.Context, _ domain.Event) {
		<-release
		done.Store(true)
	})
	bus.Publish(context.Background(), domain.NewEvent(domain.EventDispatcherStopped, "", nil))

	closed := make(chan struct{})
	go func() {
		bus.Close()
		close(closed)
	}()
	close(release)
	<-closed
	assert.True(t, done.Load(), "Close must wait for in-flight handlers")

	var after atomic.Int32
	bus.SubscribeAll(func(_ context.Context, _ domain.Event) { after.Add(1) })
	bus.Publish(context.Background(), domain.NewEvent(domain.EventAgentCreated, "a1", nil))
	bus.Close()
	assert.Zero(t, after.Load())
	assert.Equal(t, uint64(1), bus.Published())
}
