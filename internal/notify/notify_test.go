package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"printflow/internal/config"
	"printflow/internal/domain"
)

type recorder struct {
	mu  sync.Mutex
	got []Notification
}

func (r *recorder) Emit(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
}

func TestMultiFansOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Multi{a, nil, b, Nop{}}.Emit(context.Background(), Notification{Event: "task.assigned", OrderID: 3})
	assert.Len(t, a.got, 1)
	assert.Len(t, b.got, 1)
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	LogSink{Log: zap.New(core)}.Emit(context.Background(), Notification{Event: "task.validated", OrderID: 9, NewStatus: domain.StatusPrintValidated})
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, int64(9), fields["order_id"])
	assert.Equal(t, "PRINT_VALIDATED", fields["status"])
}

func TestWebhookSinkDeliversFilteredEvents(t *testing.T) {
	var mu sync.Mutex
	var received []Notification
	var signatures, want []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		var n Notification
		assert.NoError(t, json.Unmarshal(body, &n))
		mu.Lock()
		received = append(received, n)
		signatures = append(signatures, r.Header.Get("X-Printflow-Signature"))
		want = append(want, Sign("s3cret", body))
		assert.Empty(t, r.Header.Get("X-Printflow-Secret"))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	off := false
	sink := NewWebhookSink([]config.WebhookConfig{
		{URL: srv.URL, Secret: "s3cret", Events: []string{"task.validated"}},
		{URL: srv.URL, Enabled: &off},
	}, 8, zap.NewNop())
	sink.Emit(context.Background(), Notification{Event: "task.assigned", OrderID: 1})
	sink.Emit(context.Background(), Notification{Event: "task.validated", OrderID: 1, NewStatus: domain.StatusPrintValidated})
	sink.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "task.validated", received[0].Event)
	assert.Equal(t, want, signatures)
	assert.Contains(t, signatures[0], "sha256=")
}

func fastRetries(t *testing.T) {
	old := retryBackoff
	retryBackoff = time.Millisecond
	t.Cleanup(func() { retryBackoff = old })
}

func TestWebhookSinkRetriesServerErrors(t *testing.T) {
	fastRetries(t)
	var hits atomic.Int32
	var deliveryIDs sync.Map
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deliveryIDs.Store(r.Header.Get("X-Printflow-Delivery"), true)
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	core, logs := observer.New(zap.WarnLevel)
	sink := NewWebhookSink([]config.WebhookConfig{{URL: srv.URL}}, 1, zap.New(core))
	sink.Emit(context.Background(), Notification{Event: "task.completed"})
	sink.Close()

	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, 0, logs.Len())
	ids := 0
	deliveryIDs.Range(func(_, _ any) bool { ids++; return true })
	assert.Equal(t, 1, ids)
}

func TestWebhookSinkDoesNotRetryClientErrors(t *testing.T) {
	fastRetries(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer srv.Close()
	core, logs := observer.New(zap.WarnLevel)
	sink := NewWebhookSink([]config.WebhookConfig{{URL: srv.URL, MaxAttempts: 5}}, 1, zap.New(core))
	sink.Emit(context.Background(), Notification{Event: "task.completed"})
	sink.Close()

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, 1, logs.FilterMessage("webhook delivery failed").Len())
}

func TestWebhookSinkFailureIsLoggedNotReturned(t *testing.T) {
	fastRetries(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()
	core, logs := observer.New(zap.WarnLevel)
	sink := NewWebhookSink([]config.WebhookConfig{{URL: srv.URL}}, 1, zap.New(core))
	sink.Emit(context.Background(), Notification{Event: "task.rejected"})
	sink.Close()
	require.Equal(t, 1, logs.FilterMessage("webhook delivery failed").Len())
	assert.Equal(t, int32(3), hits.Load())
}
