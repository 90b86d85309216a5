package batch

import (
	"context"
	"time"
)

// BatchInfo identifies a running batch
type BatchInfo struct {
	ID       string
	Rows     int
	Duration time.Duration // set when the batch finishes
}

// GroupInfo describes the outcome of one group. Error is empty on success.
type GroupInfo struct {
	TemplateName string
	TemplateID   uint
	Version      int
	Rows         int
	Error        string
	ErrorKind    string
	Duration     time.Duration
}

// Observer receives batch lifecycle events. Implementations must not block.
type Observer interface {
	BatchStarted(ctx context.Context, batch BatchInfo)
	RowSkipped(ctx context.Context, batch BatchInfo, rowIndex int, reason string)
	GroupFinished(ctx context.Context, batch BatchInfo, group GroupInfo)
	BatchFinished(ctx context.Context, batch BatchInfo, result *Result)
}

// NopObserver discards all events
type NopObserver struct{}

func (NopObserver) BatchStarted(context.Context, BatchInfo) {}
func (NopObserver) RowSkipped(context.Context, BatchInfo, int, string) {}
func (NopObserver) GroupFinished(context.Context, BatchInfo, GroupInfo) {}
func (NopObserver) BatchFinished(context.Context, BatchInfo, *Result) {}

// Observers fans events out to several observers in order
type Observers []Observer

func (o Observers) BatchStarted(ctx context.Context, batch BatchInfo) {
	for _, obs := range o {
		obs.BatchStarted(ctx, batch)
	}
}

func (o Observers) RowSkipped(ctx context.Context, batch BatchInfo, rowIndex int, reason string) {
	for _, obs := range o {
		obs.RowSkipped(ctx, batch, rowIndex, reason)
	}
}

func (o Observers) GroupFinished(ctx context.Context, batch BatchInfo, group GroupInfo) {
	for _, obs := range o {
		obs.GroupFinished(ctx, batch, group)
	}
}

func (o Observers) BatchFinished(ctx context.Context, batch BatchInfo, result *Result) {
	for _, obs := range o {
		obs.BatchFinished(ctx, batch, result)
	}
}
