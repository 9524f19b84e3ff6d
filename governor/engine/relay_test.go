package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookRelay(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var got RelayWebhookBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal("application/json", r.Header.Get("Content-Type"))
		assert.NoError(json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	relay := NewWebhookRelay(srv.URL, nil)
	res := &ProcessedMessageResult{
		Valid:     true,
		SenderID:  "p1",
		ChannelID: "trade",
		Group:     "vip",
		Text:      "WTS sword <price>$50</price>",
		Trade: &TradeData{
			Prices: []DetectedPrice{{Raw: "$50", Value: 50, Start: 15, End: 18}},
			PostID: "post-1",
		},
	}
	require.NoError(relay.Relay(context.Background(), res))
	assert.Equal("p1", got.Sender)
	assert.Equal("trade", got.Channel)
	assert.Equal([]float64{50}, got.Prices)
	assert.Equal("post-1", got.PostID)
	assert.Nil(got.Help)
}

func TestWebhookRelayErrorStatus(t *testing.T) {
	assert := assert.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	relay := NewWebhookRelay(srv.URL, nil)
	relay.Client.RetryMax = 0
	err := relay.Relay(context.Background(), &ProcessedMessageResult{SenderID: "p1"})
	assert.Error(err)
	assert.Contains(err.Error(), "400")
}

// blocks every delivery until release is closed
type stalledRelay struct {
	started chan struct{}
	release chan struct{}
	inner   MockRelay
}

func (r *stalledRelay) Relay(ctx context.Context, res *ProcessedMessageResult) error {
	r.started <- struct{}{}
	select {
	case <-r.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return r.inner.Relay(ctx, res)
}

func TestQueuedRelayDoesNotBlockMessages(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stalled := &stalledRelay{started: make(chan struct{}, 8), release: make(chan struct{})}
	queued := NewQueuedRelay(stalled, nil, 1)
	p, _, _ := pipelineFixture()
	p.Relay = queued

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	sender := Sender{ID: "p1", Name: "Alice"}
	start := time.Now()
	assert.True(p.ProcessMessage(ctx, sender, "global", "one").Valid)
	// wait until the first result is stuck in the inner relay
	select {
	case <-stalled.started:
	case <-time.After(5 * time.Second):
		t.Fatal("relay never started")
	}
	assert.True(p.ProcessMessage(ctx, sender, "global", "two").Valid)
	// queue holds one result; this one is dropped, the message is still accepted
	assert.True(p.ProcessMessage(ctx, sender, "global", "three").Valid)
	assert.Less(time.Since(start), time.Second)
	assert.Equal(1, queued.Pending())
	assert.ErrorIs(queued.Relay(ctx, &ProcessedMessageResult{}), ErrRelayQueueFull)

	close(stalled.release)
	require.Eventually(func() bool {
		stalled.inner.mu.Lock()
		defer stalled.inner.mu.Unlock()
		return len(stalled.inner.Relayed) == 2
	}, 5*time.Second, 10*time.Millisecond)
	stalled.inner.mu.Lock()
	assert.Equal("one", stalled.inner.Relayed[0].Text)
	assert.Equal("two", stalled.inner.Relayed[1].Text)
	stalled.inner.mu.Unlock()

	cancel()
	assert.NoError(<-done)
}
