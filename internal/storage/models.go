package storage

import "time"

// PluginLoad is one audit row for a plugin load attempt.
type PluginLoad struct {
	ID         string    `json:"id" db:"id"`
	Hash       string    `json:"hash" db:"hash"`
	Version    int32     `json:"version" db:"version"`
	SizeBytes  int       `json:"size_bytes" db:"size_bytes"`
	Status     string    `json:"status" db:"status"` // loaded, rejected, failed
	Detections int       `json:"detections" db:"detections"`
	Detail     string    `json:"detail,omitempty" db:"detail"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// SecurityEvent is one audit row for a sandbox violation during
// dispatch or a finding from module inspection at load time.
type SecurityEvent struct {
	ID        string    `json:"id" db:"id"`
	PluginID  string    `json:"plugin_id" db:"plugin_id"`
	Type      string    `json:"type" db:"type"` // timeout, quota, trap, wasi_imports, ...
	Severity  string    `json:"severity" db:"severity"`
	Detail    string    `json:"detail" db:"detail"`
	SourceID  int64     `json:"source_id" db:"source_id"`
	SeqNo     int64     `json:"seq_no" db:"seq_no"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// LoadFilter provides criteria for querying plugin load rows.
type LoadFilter struct {
	Status string
	Limit  int
	Offset int
}
