package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishInSubscriptionOrder(t *testing.T) {
	b := NewBroker()
	var got []int

	for i := 1; i <= 3; i++ {
		i := i
		b.Subscribe(EventNotification, func(event *Event) {
			got = append(got, i)
		})
	}
	b.Subscribe(EventStateChanged, func(event *Event) {
		got = append(got, 99)
	})

	event := &Event{Type: EventNotification, Payload: "hello"}
	b.Publish(event)

	assert.Equal(t, []int{1, 2, 3}, got)
	assert.False(t, event.Timestamp.IsZero())
}

func TestUnsubscribeRemovesOnlyThatHandle(t *testing.T) {
	b := NewBroker()
	calls := 0
	handler := func(event *Event) { calls++ }

	first := b.Subscribe(EventNotification, handler)
	b.Subscribe(EventNotification, handler)
	require.Equal(t, 2, b.SubscriberCount(EventNotification))

	assert.True(t, b.Unsubscribe(first))
	assert.False(t, b.Unsubscribe(first))
	assert.Equal(t, 1, b.SubscriberCount(EventNotification))

	b.Publish(&Event{Type: EventNotification})
	assert.Equal(t, 1, calls)
}

func TestUnsubscribeWrongType(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe(EventNotification, func(event *Event) {})

	other := sub
	other.Type = EventStateChanged
	assert.False(t, b.Unsubscribe(other))
	assert.Equal(t, 1, b.SubscriberCount(EventNotification))
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	b := NewBroker()
	var got []string

	b.Subscribe(EventNotification, func(event *Event) { got = append(got, "before") })
	b.Subscribe(EventNotification, func(event *Event) { panic("boom") })
	b.Subscribe(EventNotification, func(event *Event) { got = append(got, "after") })

	assert.NotPanics(t, func() {
		b.Publish(&Event{Type: EventNotification})
	})
	assert.Equal(t, []string{"before", "after"}, got)
}

func TestHandlerCanUnsubscribeDuringDispatch(t *testing.T) {
	b := NewBroker()
	calls := 0

	var sub Subscription
	sub = b.Subscribe(EventNotification, func(event *Event) {
		calls++
		b.Unsubscribe(sub)
	})

	b.Publish(&Event{Type: EventNotification})
	b.Publish(&Event{Type: EventNotification})
	assert.Equal(t, 1, calls)
}

func TestClear(t *testing.T) {
	b := NewBroker()
	called := false
	b.Subscribe(EventNotification, func(event *Event) { called = true })

	b.Clear()
	b.Publish(&Event{Type: EventNotification})

	assert.False(t, called)
	assert.Equal(t, 0, b.SubscriberCount(EventNotification))
}

func TestConcurrentSubscribePublish(t *testing.T) {
	b := NewBroker()
	var mu sync.Mutex
	count := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub := b.Subscribe(EventNotification, func(event *Event) {
				mu.Lock()
				count++
				mu.Unlock()
			})
			b.Unsubscribe(sub)
		}()
		go func() {
			defer wg.Done()
			b.Publish(&Event{Type: EventNotification})
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, b.SubscriberCount(EventNotification))
}
