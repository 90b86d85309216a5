package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yourorg/config-generator/pkg/batch"
)

type fakeQuickwit struct {
	mu      sync.Mutex
	events  []Event
	fail    bool
	created []string
}

func (f *fakeQuickwit) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/audit/ingest", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.fail {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "application/x-ndjson", r.Header.Get("Content-Type"))
		scanner := bufio.NewScanner(r.Body)
		for scanner.Scan() {
			var e Event
			require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
			f.events = append(f.events, e)
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/audit/search", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, `event_type:(template) AND resource_id:"7"`, req["query"])
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"num_hits": 1,
			"hits":     []Event{{ID: "e1", EventType: EventTypeTemplate, Action: ActionCreate}},
		})
	})
	mux.HandleFunc("/api/v1/indexes/audit", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/api/v1/indexes", func(w http.ResponseWriter, r *http.Request) {
		var cfg IndexConfig
		require.NoError(t, json.NewDecoder(r.Body).Decode(&cfg))
		f.mu.Lock()
		f.created = append(f.created, cfg.IndexID)
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (f *fakeQuickwit) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func newTestLogger(t *testing.T, batchSize int) (*Logger, *fakeQuickwit, *observer.ObservedLogs) {
	t.Helper()
	fake := &fakeQuickwit{}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	core, logs := observer.New(zapcore.DebugLevel)
	cfg := QuickwitConfig{BaseURL: srv.URL + "/", IndexID: "audit", Timeout: time.Second, BatchSize: batchSize}
	l := NewLogger(NewQuickwitClient(cfg, zap.NewNop()), cfg, zap.New(core))
	return l, fake, logs
}

func TestLogger_BatchesUntilSize(t *testing.T) {
	l, fake, logs := newTestLogger(t, 3)
	ctx := WithRequestID(context.Background(), "req-1")

	for i := 0; i < 2; i++ {
		require.NoError(t, l.NewEventBuilder(EventTypeTemplate, ActionCreate).WithResource("template", "7").Log(ctx))
	}
	assert.Equal(t, 0, fake.count())
	assert.Equal(t, 2, l.Pending())

	require.NoError(t, l.NewEventBuilder(EventTypeCatalog, ActionDelete).Log(ctx))
	assert.Equal(t, 3, fake.count())
	assert.Equal(t, 0, l.Pending())

	fake.mu.Lock()
	first := fake.events[0]
	fake.mu.Unlock()
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "req-1", first.RequestID)
	assert.Equal(t, OutcomeSuccess, first.Outcome)
	assert.False(t, first.Timestamp.IsZero())

	// every event also reaches the application log
	assert.Equal(t, 3, logs.FilterMessage("audit event").Len())
}

func TestLogger_FailureKeepsEvents(t *testing.T) {
	l, fake, logs := newTestLogger(t, 1)
	ctx := context.Background()

	fake.fail = true
	err := l.NewEventBuilder(EventTypeRender, ActionRender).
		WithError("syntax_error", errors.New("unexpected end")).
		Log(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, l.Pending())

	warn := logs.FilterMessage("audit event").All()
	require.Len(t, warn, 1)
	assert.Equal(t, zapcore.WarnLevel, warn[0].Level)

	fake.mu.Lock()
	fake.fail = false
	fake.mu.Unlock()
	require.NoError(t, l.Close(ctx))
	assert.Equal(t, 1, fake.count())
	assert.Equal(t, OutcomeFailure, fake.events[0].Outcome)
	assert.Equal(t, "syntax_error", fake.events[0].ErrorCode)
}

func TestLogger_DropsOldestBeyondLimit(t *testing.T) {
	l, fake, _ := newTestLogger(t, 1)
	fake.fail = true

	for i := 0; i < maxPending+5; i++ {
		_ = l.Log(context.Background(), &Event{EventType: EventTypeSystem, Action: ActionStart})
	}
	assert.Equal(t, maxPending, l.Pending())
}

func TestLogger_ZapOnly(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := NewLogger(nil, QuickwitConfig{}, zap.New(core))

	require.NoError(t, l.LogSystemEvent(context.Background(), ActionStart, "server started", nil))
	assert.Equal(t, 1, logs.Len())
	assert.Equal(t, 0, l.Pending())
	assert.NoError(t, l.Close(context.Background()))

	_, err := l.Search(context.Background(), &SearchQuery{})
	assert.ErrorIs(t, err, ErrSearchUnavailable)
}

func TestLogger_Nil(t *testing.T) {
	var l *Logger
	assert.NoError(t, l.NewEventBuilder(EventTypeTemplate, ActionCreate).Log(context.Background()))
	assert.NoError(t, l.Close(context.Background()))
	l.BatchFinished(context.Background(), batch.BatchInfo{}, nil)
}

func TestLogger_Search(t *testing.T) {
	l, _, _ := newTestLogger(t, 10)

	result, err := l.Search(context.Background(), &SearchQuery{
		EventTypes: []EventType{EventTypeTemplate},
		ResourceID: "7",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.NumHits)
	require.Len(t, result.Hits, 1)
	assert.Equal(t, "e1", result.Hits[0].ID)
}

func TestLogger_EnsureIndex(t *testing.T) {
	l, fake, _ := newTestLogger(t, 10)
	require.NoError(t, l.EnsureIndex(context.Background()))
	assert.Equal(t, []string{"audit"}, fake.created)
}

func TestLogger_BatchObserver(t *testing.T) {
	l, fake, _ := newTestLogger(t, 100)
	ctx := context.Background()
	info := batch.BatchInfo{ID: "b1", Rows: 3}

	l.BatchStarted(ctx, info)
	l.RowSkipped(ctx, info, 2, "missing switch_name")
	l.GroupFinished(ctx, info, batch.GroupInfo{TemplateName: "Leaf", TemplateID: 4, Version: 2, Rows: 2})
	l.GroupFinished(ctx, info, batch.GroupInfo{TemplateName: "Spine", Rows: 1, Error: "Template 'Spine' not found", ErrorKind: "not_found"})
	l.BatchFinished(ctx, info, &batch.Result{SuccessCount: 1, FailedCount: 1})
	require.NoError(t, l.Flush(ctx))

	require.Equal(t, 4, fake.count())
	events := fake.events
	assert.Equal(t, ActionStart, events[0].Action)
	assert.Equal(t, "Leaf", events[1].ResourceID)
	assert.Equal(t, OutcomeSuccess, events[1].Outcome)
	assert.Equal(t, "4", events[1].Metadata["template_id"])
	assert.Equal(t, OutcomeFailure, events[2].Outcome)
	assert.Equal(t, "not_found", events[2].ErrorCode)
	assert.Equal(t, ActionGenerate, events[3].Action)
	assert.Equal(t, "b1", events[3].ResourceID)
	assert.Equal(t, OutcomeSuccess, events[3].Outcome)
}
