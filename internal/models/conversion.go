// Package models defines the data structures for conversion events.
package models

// Event types.
const (
	EventConversionCompleted = "notation.conversion.completed"
	EventConversionFailed    = "notation.conversion.failed"
)

// ConversionCompleted is emitted when a job produced its notation artifacts.
type ConversionCompleted struct {
	EventType     string   `json:"eventType"`
	JobID         string   `json:"jobId"`
	Timestamp     int64    `json:"timestamp"`
	Filename      string   `json:"filename"`
	Source        string   `json:"source"` // http, grpc, inbox, cli
	Transposition string   `json:"transposition"`
	Simplified    bool     `json:"simplified"`
	NoteCount     int      `json:"noteCount"`
	DurationSecs  float64  `json:"durationSeconds"`
	TempoBPM      int      `json:"tempoBpm"`
	Warnings      []string `json:"warnings"`
	Rendered      bool     `json:"rendered"`
	ElapsedMs     int64    `json:"elapsedMs"`
}

// ConversionFailed is emitted when a request ends with a classified error.
type ConversionFailed struct {
	EventType string `json:"eventType"`
	JobID     string `json:"jobId,omitempty"` // empty when validation failed before a job existed
	Timestamp int64  `json:"timestamp"`
	Filename  string `json:"filename"`
	Source    string `json:"source"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	ElapsedMs int64  `json:"elapsedMs"`
}
