package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeBeforePublishReceivesFutureEvents(t *testing.T) {
	b := New(0)
	sub := b.Subscribe("s1")
	defer b.Unsubscribe(sub)

	b.Publish("s1", Event{Type: EventStageUpdate, SessionID: "s1", StageID: "search", Status: "processing"})

	select {
	case ev := <-sub.C():
		assert.Equal(t, "search", ev.StageID)
	case <-time.After(time.Second):
		t.Fatal("expected event, got none")
	}
}

func TestSubscribeToNonexistentSessionIsValid(t *testing.T) {
	b := New(0)
	sub := b.Subscribe("nonexistent")
	defer b.Unsubscribe(sub)

	b.Publish("nonexistent", Event{Type: EventStageUpdate, StageID: "a"})
	select {
	case ev := <-sub.C():
		assert.Equal(t, "a", ev.StageID)
	case <-time.After(time.Second):
		t.Fatal("late-created session should still deliver to an existing subscriber")
	}
}

func TestPublishOrderIsPreservedPerSubscriber(t *testing.T) {
	b := New(0)
	sub := b.Subscribe("s1")
	defer b.Unsubscribe(sub)

	for i := 0; i < 10; i++ {
		b.Publish("s1", Event{Type: EventStageUpdate, StageID: stageName(i)})
	}
	for i := 0; i < 10; i++ {
		ev := <-sub.C()
		assert.Equal(t, stageName(i), ev.StageID)
	}
}

func TestSlowSubscriberDropsOldestOnOverflowAndMarksDropped(t *testing.T) {
	b := New(2)
	sub := b.Subscribe("s1")
	defer b.Unsubscribe(sub)

	b.Publish("s1", Event{StageID: "a"})
	b.Publish("s1", Event{StageID: "b"})
	b.Publish("s1", Event{StageID: "c"}) // buffer full (2): drops "a", enqueues "c"

	first := <-sub.C()
	assert.Equal(t, "b", first.StageID, "oldest queued event was dropped to make room")

	second := <-sub.C()
	assert.Equal(t, "c", second.StageID)

	// The next publish is preceded by a dropped=1 marker for the event
	// discarded above.
	b.Publish("s1", Event{StageID: "d"})
	marker := <-sub.C()
	assert.Equal(t, 1, marker.Dropped)

	fourth := <-sub.C()
	assert.Equal(t, "d", fourth.StageID)
}

func TestPublishNeverBlocksOnAFullSubscriberBuffer(t *testing.T) {
	b := New(1)
	sub := b.Subscribe("s1")
	defer b.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish("s1", Event{StageID: stageName(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on an undrained subscriber buffer")
	}
}

func TestUnsubscribeStopsFurtherDelivery(t *testing.T) {
	b := New(0)
	sub := b.Subscribe("s1")
	b.Unsubscribe(sub)

	b.Publish("s1", Event{StageID: "a"})
	_, ok := <-sub.C()
	assert.False(t, ok, "channel closes on unsubscribe and receives no further events")
}

func TestMultipleSubscribersEachReceiveEveryEvent(t *testing.T) {
	b := New(0)
	s1 := b.Subscribe("s1")
	s2 := b.Subscribe("s1")
	defer b.Unsubscribe(s1)
	defer b.Unsubscribe(s2)

	b.Publish("s1", Event{StageID: "a"})

	for _, sub := range []*Subscription{s1, s2} {
		select {
		case ev := <-sub.C():
			require.Equal(t, "a", ev.StageID)
		case <-time.After(time.Second):
			t.Fatal("subscriber missed the broadcast event")
		}
	}
}

func stageName(i int) string {
	return string(rune('a' + i%26))
}
