package audit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourorg/config-generator/pkg/batch"
)

// maxPending bounds the events kept for retry while Quickwit is down,
// as a multiple of the batch size.
const maxPending = 10

type requestIDKey struct{}

// WithRequestID stores the request ID stamped on events logged with ctx
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request ID stored by WithRequestID
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Logger records audit events. Events always go to the zap logger; when a
// Quickwit client is set they are also batched into its index. A nil
// *Logger discards everything.
type Logger struct {
	client *QuickwitClient
	logger *zap.Logger
	config QuickwitConfig

	// Batching
	mu          sync.Mutex
	batch       []Event
	flushTicker *time.Ticker
	stopChan    chan struct{}
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

// NewLogger creates an audit logger. client may be nil.
func NewLogger(client *QuickwitClient, config QuickwitConfig, logger *zap.Logger) *Logger {
	if config.BatchSize <= 0 {
		config.BatchSize = 1
	}
	l := &Logger{
		client:   client,
		logger:   logger.Named("audit"),
		config:   config,
		batch:    make([]Event, 0, config.BatchSize),
		stopChan: make(chan struct{}),
	}

	if client != nil && config.FlushInterval > 0 {
		l.startBatchProcessor()
	}
	return l
}

func (l *Logger) startBatchProcessor() {
	l.flushTicker = time.NewTicker(l.config.FlushInterval)
	l.wg.Add(1)

	go func() {
		defer l.wg.Done()
		for {
			select {
			case <-l.flushTicker.C:
				if err := l.Flush(context.Background()); err != nil {
					l.logger.Error("failed to flush audit events", zap.Error(err))
				}
			case <-l.stopChan:
				return
			}
		}
	}()
}

// Close stops the flush loop and flushes the remaining events
func (l *Logger) Close(ctx context.Context) error {
	if l == nil {
		return nil
	}
	l.closeOnce.Do(func() {
		if l.flushTicker != nil {
			l.flushTicker.Stop()
		}
		close(l.stopChan)
	})
	l.wg.Wait()
	return l.Flush(ctx)
}

// Log records an event, filling in ID, timestamp, outcome and request ID
// when they are unset.
func (l *Logger) Log(ctx context.Context, event *Event) error {
	if l == nil {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Outcome == "" {
		event.Outcome = OutcomeSuccess
	}
	if event.RequestID == "" {
		event.RequestID = RequestIDFromContext(ctx)
	}

	l.write(event)

	if l.client == nil {
		return nil
	}
	return l.addToBatch(ctx, event)
}

func (l *Logger) write(event *Event) {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.EventType)),
		zap.String("action", string(event.Action)),
		zap.String("outcome", string(event.Outcome)),
	}
	if event.ResourceID != "" {
		fields = append(fields, zap.String("resource_type", event.ResourceType), zap.String("resource_id", event.ResourceID))
	}
	if event.Description != "" {
		fields = append(fields, zap.String("description", event.Description))
	}
	if event.RequestID != "" {
		fields = append(fields, zap.String("request_id", event.RequestID))
	}
	if event.Duration > 0 {
		fields = append(fields, zap.Int64("duration_ms", event.Duration))
	}
	if len(event.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", event.Metadata))
	}

	if event.Outcome == OutcomeFailure {
		fields = append(fields, zap.String("error_code", event.ErrorCode), zap.String("error", event.ErrorMsg))
		l.logger.Warn("audit event", fields...)
		return
	}
	l.logger.Info("audit event", fields...)
}

func (l *Logger) addToBatch(ctx context.Context, event *Event) error {
	l.mu.Lock()
	l.batch = append(l.batch, *event)
	shouldFlush := len(l.batch) >= l.config.BatchSize
	l.mu.Unlock()

	if shouldFlush {
		return l.Flush(ctx)
	}
	return nil
}

// Flush sends the pending events. On failure they are kept for the next
// flush, dropping the oldest beyond the retry limit.
func (l *Logger) Flush(ctx context.Context) error {
	if l == nil || l.client == nil {
		return nil
	}

	l.mu.Lock()
	if len(l.batch) == 0 {
		l.mu.Unlock()
		return nil
	}
	pending := l.batch
	l.batch = make([]Event, 0, l.config.BatchSize)
	l.mu.Unlock()

	if err := l.client.Ingest(ctx, pending); err != nil {
		l.mu.Lock()
		l.batch = append(pending, l.batch...)
		if limit := maxPending * l.config.BatchSize; len(l.batch) > limit {
			dropped := len(l.batch) - limit
			l.batch = append([]Event(nil), l.batch[dropped:]...)
			l.logger.Warn("dropped audit events", zap.Int("count", dropped))
		}
		l.mu.Unlock()
		return err
	}

	l.logger.Debug("flushed audit events", zap.Int("count", len(pending)))
	return nil
}

// Pending returns the number of events waiting for the next flush
func (l *Logger) Pending() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.batch)
}

// Search queries the audit index
func (l *Logger) Search(ctx context.Context, query *SearchQuery) (*SearchResult, error) {
	if l == nil || l.client == nil {
		return nil, ErrSearchUnavailable
	}
	return l.client.Search(ctx, query)
}

// EnsureIndex creates the audit index when it does not exist yet
func (l *Logger) EnsureIndex(ctx context.Context) error {
	if l == nil || l.client == nil {
		return nil
	}
	exists, err := l.client.IndexExists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check index existence: %w", err)
	}
	if exists {
		return nil
	}
	if err := l.client.CreateIndex(ctx, DefaultIndexConfig(l.client.IndexID())); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// LogSystemEvent records a process lifecycle event
func (l *Logger) LogSystemEvent(ctx context.Context, action EventAction, description string, metadata map[string]interface{}) error {
	return l.Log(ctx, &Event{
		EventType:   EventTypeSystem,
		Action:      action,
		Description: description,
		Metadata:    metadata,
	})
}

// BatchStarted implements batch.Observer
func (l *Logger) BatchStarted(ctx context.Context, info batch.BatchInfo) {
	l.observe(ctx, l.NewEventBuilder(EventTypeBatch, ActionStart).
		WithResource("batch", info.ID).
		WithMetadata("rows", info.Rows))
}

// RowSkipped implements batch.Observer. Skips are summarized by
// BatchFinished and not recorded one by one.
func (l *Logger) RowSkipped(context.Context, batch.BatchInfo, int, string) {}

// GroupFinished implements batch.Observer
func (l *Logger) GroupFinished(ctx context.Context, info batch.BatchInfo, group batch.GroupInfo) {
	b := l.NewEventBuilder(EventTypeBatch, ActionRender).
		WithResource("template", group.TemplateName).
		WithDescription(fmt.Sprintf("rendered %d rows with %q", group.Rows, group.TemplateName)).
		WithMetadata("batch_id", info.ID).
		WithMetadata("rows", group.Rows).
		WithDuration(group.Duration)
	if group.TemplateID != 0 {
		b.WithMetadata("template_id", strconv.FormatUint(uint64(group.TemplateID), 10)).
			WithMetadata("version", group.Version)
	}
	if group.Error != "" {
		b.WithFailure(group.ErrorKind, group.Error)
	}
	l.observe(ctx, b)
}

// BatchFinished implements batch.Observer
func (l *Logger) BatchFinished(ctx context.Context, info batch.BatchInfo, result *batch.Result) {
	b := l.NewEventBuilder(EventTypeBatch, ActionGenerate).
		WithResource("batch", info.ID).
		WithMetadata("rows", info.Rows).
		WithDuration(info.Duration)
	if result != nil {
		b.WithMetadata("success_count", result.SuccessCount).
			WithMetadata("failed_count", result.FailedCount).
			WithMetadata("skipped_count", result.SkippedCount)
		if result.SuccessCount == 0 && result.FailedCount > 0 {
			b.WithFailure("batch_failed", "no group rendered successfully")
		}
	}
	l.observe(ctx, b)
}

func (l *Logger) observe(ctx context.Context, b *EventBuilder) {
	if err := b.Log(ctx); err != nil {
		l.logger.Warn("failed to record audit event", zap.Error(err))
	}
}

var _ batch.Observer = (*Logger)(nil)

// NewEventBuilder starts a fluent event
func (l *Logger) NewEventBuilder(eventType EventType, action EventAction) *EventBuilder {
	return &EventBuilder{
		logger: l,
		event:  &Event{EventType: eventType, Action: action},
	}
}

// EventBuilder provides a fluent API for building audit events
type EventBuilder struct {
	logger *Logger
	event  *Event
}

// WithResource sets the affected resource
func (b *EventBuilder) WithResource(resourceType, resourceID string) *EventBuilder {
	b.event.ResourceType = resourceType
	b.event.ResourceID = resourceID
	return b
}

// WithDescription sets the description
func (b *EventBuilder) WithDescription(description string) *EventBuilder {
	b.event.Description = description
	return b
}

// WithMetadata adds one metadata entry
func (b *EventBuilder) WithMetadata(key string, value interface{}) *EventBuilder {
	if b.event.Metadata == nil {
		b.event.Metadata = make(map[string]interface{})
	}
	b.event.Metadata[key] = value
	return b
}

// WithDuration sets the duration
func (b *EventBuilder) WithDuration(d time.Duration) *EventBuilder {
	b.event.Duration = d.Milliseconds()
	return b
}

// WithFailure marks the event failed
func (b *EventBuilder) WithFailure(code, message string) *EventBuilder {
	b.event.ErrorCode = code
	b.event.ErrorMsg = message
	b.event.Outcome = OutcomeFailure
	return b
}

// WithError marks the event failed when err is not nil
func (b *EventBuilder) WithError(code string, err error) *EventBuilder {
	if err != nil {
		b.WithFailure(code, err.Error())
	}
	return b
}

// Event returns the event built so far
func (b *EventBuilder) Event() *Event {
	return b.event
}

// Log records the event
func (b *EventBuilder) Log(ctx context.Context) error {
	return b.logger.Log(ctx, b.event)
}
