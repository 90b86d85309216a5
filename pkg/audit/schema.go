// Package audit records who changed or generated what. Every event is
// written to the application log; a Quickwit index can be added as a
// searchable sink.
package audit

import (
	"time"
)

// EventType is the subject area of an audit event
type EventType string

const (
	EventTypeTemplate EventType = "template"
	EventTypeVersion  EventType = "version"
	EventTypeField    EventType = "field"
	EventTypeCatalog  EventType = "catalog"
	EventTypeRender   EventType = "render"
	EventTypeBatch    EventType = "batch"
	EventTypeBackup   EventType = "backup"
	EventTypeSystem   EventType = "system"
)

// EventAction is what happened
type EventAction string

const (
	ActionCreate   EventAction = "create"
	ActionUpdate   EventAction = "update"
	ActionDelete   EventAction = "delete"
	ActionActivate EventAction = "activate"
	ActionRender   EventAction = "render"
	ActionGenerate EventAction = "generate"
	ActionExport   EventAction = "export"
	ActionImport   EventAction = "import"
	ActionStart    EventAction = "start"
	ActionStop     EventAction = "stop"
)

// EventOutcome is the result of the action
type EventOutcome string

const (
	OutcomeSuccess EventOutcome = "success"
	OutcomeFailure EventOutcome = "failure"
)

// Event is one audit record
type Event struct {
	ID           string                 `json:"id"`
	Timestamp    time.Time              `json:"timestamp"`
	EventType    EventType              `json:"event_type"`
	Action       EventAction            `json:"action"`
	Outcome      EventOutcome           `json:"outcome"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	ResourceType string                 `json:"resource_type,omitempty"`
	Description  string                 `json:"description,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	RequestID    string                 `json:"request_id,omitempty"`
	Duration     int64                  `json:"duration_ms,omitempty"`
	ErrorCode    string                 `json:"error_code,omitempty"`
	ErrorMsg     string                 `json:"error_message,omitempty"`
}

// IndexConfig is the Quickwit index definition for audit events
type IndexConfig struct {
	Version          string           `json:"version"`
	IndexID          string           `json:"index_id"`
	DocMapping       DocMapping       `json:"doc_mapping"`
	SearchSettings   SearchSettings   `json:"search_settings"`
	IndexingSettings IndexingSettings `json:"indexing_settings"`
	RetentionPolicy  *RetentionPolicy `json:"retention_policy,omitempty"`
}

// DocMapping describes the indexed document
type DocMapping struct {
	Mode           string         `json:"mode"`
	FieldMappings  []FieldMapping `json:"field_mappings"`
	TimestampField string         `json:"timestamp_field"`
	TagFields      []string       `json:"tag_fields"`
}

// FieldMapping maps one document field
type FieldMapping struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Indexed   bool   `json:"indexed,omitempty"`
	Stored    bool   `json:"stored,omitempty"`
	Fast      bool   `json:"fast,omitempty"`
	Tokenizer string `json:"tokenizer,omitempty"`
}

// SearchSettings lists the fields searched by free text queries
type SearchSettings struct {
	DefaultSearchFields []string `json:"default_search_fields"`
}

// IndexingSettings controls commit frequency
type IndexingSettings struct {
	CommitTimeoutSecs int `json:"commit_timeout_secs"`
}

// RetentionPolicy drops old splits
type RetentionPolicy struct {
	Period   string `json:"period"`
	Schedule string `json:"schedule"`
}

// DefaultIndexConfig returns the index definition used by EnsureIndex
func DefaultIndexConfig(indexID string) *IndexConfig {
	return &IndexConfig{
		Version: "0.7",
		IndexID: indexID,
		DocMapping: DocMapping{
			Mode:           "dynamic",
			TimestampField: "timestamp",
			TagFields:      []string{"event_type", "action", "outcome", "resource_type"},
			FieldMappings: []FieldMapping{
				{Name: "id", Type: "text", Indexed: true, Stored: true},
				{Name: "timestamp", Type: "datetime", Indexed: true, Stored: true, Fast: true},
				{Name: "event_type", Type: "text", Indexed: true, Stored: true, Fast: true},
				{Name: "action", Type: "text", Indexed: true, Stored: true, Fast: true},
				{Name: "outcome", Type: "text", Indexed: true, Stored: true, Fast: true},
				{Name: "resource_id", Type: "text", Indexed: true, Stored: true},
				{Name: "resource_type", Type: "text", Indexed: true, Stored: true, Fast: true},
				{Name: "description", Type: "text", Indexed: true, Stored: true, Tokenizer: "default"},
				{Name: "request_id", Type: "text", Indexed: true, Stored: true},
				{Name: "duration_ms", Type: "i64", Indexed: true, Stored: true, Fast: true},
				{Name: "error_code", Type: "text", Indexed: true, Stored: true},
				{Name: "error_message", Type: "text", Indexed: true, Stored: true},
			},
		},
		SearchSettings: SearchSettings{
			DefaultSearchFields: []string{"description", "resource_id"},
		},
		IndexingSettings: IndexingSettings{
			CommitTimeoutSecs: 30,
		},
		RetentionPolicy: &RetentionPolicy{
			Period:   "90 days",
			Schedule: "daily",
		},
	}
}

// SearchQuery filters audit events
type SearchQuery struct {
	Query        string
	EventTypes   []EventType
	Outcome      EventOutcome
	ResourceType string
	ResourceID   string
	StartTime    *time.Time
	EndTime      *time.Time
	MaxHits      int
	StartOffset  int
}

// SearchResult is one page of matching events, newest first
type SearchResult struct {
	Hits        []Event `json:"hits"`
	NumHits     int64   `json:"num_hits"`
	ElapsedSecs float64 `json:"elapsed_secs"`
}
