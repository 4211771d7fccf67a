package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesTopicAndAllSubscribers(t *testing.T) {
	b := NewBus()
	halted, unsubHalted := b.Subscribe(EventRiskHalted, 1)
	defer unsubHalted()
	all, unsubAll := b.SubscribeAll(4)
	defer unsubAll()

	b.Publish(EventRiskHalted, "drawdown")
	b.Publish(EventTick, 1)

	require.Len(t, halted, 1)
	assert.Equal(t, "drawdown", <-halted)

	require.Len(t, all, 2)
	first := <-all
	assert.Equal(t, EventRiskHalted, first.Event)
	assert.Equal(t, EventTick, (<-all).Event)
}

func TestPublishDropsWhenSubscriberIsFull(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(EventSignal, 1)
	defer unsub()

	b.Publish(EventSignal, 1)
	b.Publish(EventSignal, 2)
	assert.Equal(t, int64(1), b.Dropped())
	assert.Equal(t, 1, <-ch)
}

func TestUnsubscribeClosesChannelOnce(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(EventTick, 1)
	unsub()
	unsub()
	_, open := <-ch
	assert.False(t, open)

	b.Publish(EventTick, 1)
	assert.Zero(t, b.Dropped())
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var b *Bus
	assert.NotPanics(t, func() { b.Publish(EventTick, nil) })
	assert.Zero(t, b.Dropped())
}
