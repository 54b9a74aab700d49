package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concierge/internal/eventbus"
)

func TestOTPHubChannelRequestPublishesOTPRequiredEvent(t *testing.T) {
	bus := eventbus.New(0)
	sub := bus.Subscribe("s1")
	defer bus.Unsubscribe(sub)

	h := NewOTPHub()
	ch := h.Channel(bus, "s1", "run-1")

	replyCh := ch.Request(context.Background(), "tok-abc")
	require.NotNil(t, replyCh)

	select {
	case ev := <-sub.C():
		assert.Equal(t, "purchase", ev.StageID)
		assert.Equal(t, "otp_required", ev.Status)
		assert.Equal(t, "tok-abc", ev.Message)
		assert.Equal(t, "run-1", ev.RunID)
	case <-time.After(time.Second):
		t.Fatal("expected an otp_required event, got none")
	}
}

func TestOTPHubDeliverWakesRequest(t *testing.T) {
	h := NewOTPHub()
	ch := h.Channel(nil, "s1", "run-2")

	replyCh := ch.Request(context.Background(), "tok-1")

	require.Eventually(t, func() bool {
		return h.Deliver("run-2", "123456")
	}, time.Second, 5*time.Millisecond)

	select {
	case code := <-replyCh:
		assert.Equal(t, "123456", code)
	case <-time.After(time.Second):
		t.Fatal("request channel never received the delivered code")
	}
}

func TestOTPHubDeliverWithoutPendingRequestReturnsFalse(t *testing.T) {
	h := NewOTPHub()
	assert.False(t, h.Deliver("nobody-waiting", "000000"))
}

func TestOTPHubCloseDiscardsPendingRequest(t *testing.T) {
	h := NewOTPHub()
	ch := h.Channel(nil, "s1", "run-3")
	_ = ch.Request(context.Background(), "tok-1")

	closer, ok := ch.(interface{ Close() })
	require.True(t, ok)
	closer.Close()

	assert.False(t, h.Deliver("run-3", "999999"), "Close must discard the pending rendezvous")
}
