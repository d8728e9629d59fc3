package models

// Event is one raw browsing event as read from a shard.
type Event struct {
	UserID        string `json:"anonymous_id"`
	TimestampMS   int64  `json:"device_sent_timestamp"` // epoch milliseconds
	BrowserFamily string `json:"browser_family"`
	OSFamily      string `json:"os_family"`
	DeviceFamily  string `json:"device_family"`
}

// Session is a run of one user's events with no gap above the inactivity threshold.
type Session struct {
	ID              int64   `json:"session_id"`
	UserID          string  `json:"-"`
	BrowserFamily   string  `json:"browser_family"`
	OSFamily        string  `json:"os_family"`
	DeviceFamily    string  `json:"device_family"`
	StartTS         int64   `json:"start_ts"`
	EndTS           int64   `json:"end_ts"`
	DurationSeconds float64 `json:"duration_seconds"`
	Events          int     `json:"events"`
}

// Batch is the decoded content of one shard.
type Batch struct {
	Shard    int           `json:"shard"`
	Location string        `json:"location"`
	Events   []Event       `json:"events"`
	Invalid  []RecordIssue `json:"invalid,omitempty"`
	Bytes    int64         `json:"bytes"` // compressed payload size
}

// RecordIssue describes a payload line that could not become an Event.
type RecordIssue struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}
