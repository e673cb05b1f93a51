package collect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitterDeliversToSubscribers(t *testing.T) {
	emitter := NewEmitter()
	ch := emitter.Subscribe()
	defer emitter.Unsubscribe(ch)

	emitter.Publish(CollectionStarted{SourceType: SourceIoT})

	select {
	case ev := <-ch:
		started, ok := ev.(CollectionStarted)
		require.True(t, ok)
		assert.Equal(t, SourceIoT, started.SourceType)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestEmitterFanOut(t *testing.T) {
	emitter := NewEmitter()
	a := emitter.Subscribe()
	b := emitter.Subscribe()
	defer emitter.Unsubscribe(a)
	defer emitter.Unsubscribe(b)

	emitter.Publish(CollectorRegistered{SourceType: SourceIoT, Enabled: true})

	assert.Len(t, a, 1)
	assert.Len(t, b, 1)
}

func TestEmitterPublishNeverBlocks(t *testing.T) {
	emitter := NewEmitter()
	ch := emitter.Subscribe() // never drained
	defer emitter.Unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Overflow the subscriber buffer; excess events are dropped.
		for i := 0; i < 500; i++ {
			emitter.Publish(CollectionStarted{SourceType: SourceIoT})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestEmitterUnsubscribeStopsDelivery(t *testing.T) {
	emitter := NewEmitter()
	ch := emitter.Subscribe()
	emitter.Unsubscribe(ch)

	emitter.Publish(CollectionStarted{SourceType: SourceIoT})

	assert.Empty(t, ch)
}
