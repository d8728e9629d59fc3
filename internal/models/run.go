package models

import (
	"encoding/json"
	"time"
)

// ShardFailure records a shard that was skipped during a run.
type ShardFailure struct {
	Shard    int    `json:"shard"`
	Category string `json:"category"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message"`
}

// RunRecord is the archived outcome of one ingestion run.
type RunRecord struct {
	ID             string          `json:"id"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
	ShardsTotal    int             `json:"shards_total"`
	ShardsOK       int             `json:"shards_ok"`
	ShardsEmpty    int             `json:"shards_empty"`
	InvalidRecords int             `json:"invalid_records"`
	Events         int             `json:"events"`
	Sessions       int             `json:"sessions"`
	Partial        bool            `json:"partial"`
	Digest         string          `json:"report_digest"`
	Report         json.RawMessage `json:"report,omitempty"`
	Failures       []ShardFailure  `json:"failures,omitempty"`
}
