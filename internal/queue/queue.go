package queue

import "context"

// SourceKind tags where a queue entry was materialized from.
type SourceKind string

const (
	SourceRemotePlatform SourceKind = "remote-platform"
	SourceDirectURL      SourceKind = "direct-url"
	SourceAttachment     SourceKind = "attachment"
	SourceUnknown        SourceKind = "unknown"
)

// Entry is one playable unit. The JSON shape is the persistence wire format
// and must stay stable across restarts.
type Entry struct {
	AssetPath       string     `json:"asset_path"`
	Title           string     `json:"title"`
	DurationSeconds int        `json:"duration_seconds"`
	IsVideo         bool       `json:"is_video"`
	SourceKind      SourceKind `json:"source_kind"`
	AddedBy         int64      `json:"added_by"`
	AddedAt         int64      `json:"added_at"`
}

// Record is the whole persisted state of one destination's queue.
type Record struct {
	Items   []Entry `json:"items"`
	Current int     `json:"current"`
	Repeat  bool    `json:"repeat"`
}

// Repository persists per-destination queue records, keyed by the destination
// identifier rendered as a string. Empty queues are deleted, never saved.
type Repository interface {
	SaveQueue(ctx context.Context, destination string, record Record) error
	DeleteQueue(ctx context.Context, destination string) error
	LoadQueues(ctx context.Context) (map[string]Record, error)
}
