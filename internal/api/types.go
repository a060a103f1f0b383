package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// UploadResponse acknowledges a stored upload set.
type UploadResponse struct {
	Success   bool     `json:"success"`
	SessionID string   `json:"session_id"`
	FileCount int      `json:"file_count"`
	Skipped   []string `json:"skipped,omitempty"`
}

// ConvertRequest is the body of POST /api/convert.
type ConvertRequest struct {
	SessionID string `json:"session_id"`
	Format    string `json:"format"`
	Bitrate   int    `json:"bitrate"`
}

// ConvertResponse acknowledges a started or queued conversion.
type ConvertResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	Status        string `json:"status"`
	QueuePosition int    `json:"queue_position,omitempty"`
	Format        string `json:"format"`
	Bitrate       int    `json:"bitrate"`
}

// StatusResponse reports the state of one session.
type StatusResponse struct {
	Status        string  `json:"status"`
	Progress      int     `json:"progress"`
	Error         *string `json:"error"`
	QueuePosition int     `json:"queue_position,omitempty"`
	FileSize      int64   `json:"file_size,omitempty"`
}

// QueueItem describes a queue entry in a transport-friendly format.
type QueueItem struct {
	ID         int64  `json:"id"`
	SessionID  string `json:"session_id"`
	Status     string `json:"status"`
	Priority   int    `json:"priority"`
	Error      string `json:"error,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
	StartedAt  string `json:"started_at,omitempty"`
	FinishedAt string `json:"finished_at,omitempty"`
}

// QueueListResponse wraps a collection of queue items for API responses.
type QueueListResponse struct {
	Items []QueueItem `json:"items"`
}

// QueueStatsResponse provides a normalized queue stats payload.
type QueueStatsResponse struct {
	Counts map[string]int `json:"counts"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Path        string `json:"path,omitempty"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// QueueHealth summarizes the queue database.
type QueueHealth struct {
	Path          string         `json:"path"`
	Readable      bool           `json:"readable"`
	SchemaVersion int            `json:"schema_version"`
	Integrity     bool           `json:"integrity"`
	Counts        map[string]int `json:"counts,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status       string             `json:"status"`
	Mode         string             `json:"mode"`
	Running      int                `json:"running_conversions"`
	Queue        *QueueHealth       `json:"queue,omitempty"`
	Dependencies []DependencyStatus `json:"dependencies"`
}
