package assetserver

import "time"

// RequestLogEntry describes one served HTTP request
type RequestLogEntry struct {
	Timestamp  string `json:"@timestamp"`
	Host       string `json:"host"`
	RemoteAddr string `json:"remote-addr"`
	Method     string `json:"method"`
	Path       string `json:"path"`
	Range      string `json:"range,omitempty"`
	Status     int    `json:"status"`
	Bytes      int64  `json:"bytes"`
	DurationMS int64  `json:"duration-ms"`
	UserAgent  string `json:"user-agent,omitempty"`
	Referer    string `json:"referer,omitempty"`
}

// SetTimestamp sets timestamp for Elastic default sorting
func (e *RequestLogEntry) SetTimestamp(ts time.Time) {
	e.Timestamp = ts.UTC().Format("2006-01-02T15:04:05.999Z")
}

// GetType returns the index type entries are stored under
func (e *RequestLogEntry) GetType() string {
	return "asset-request"
}

// RequestLogStorage is a way to store served requests
type RequestLogStorage interface {
	AddEntry(*RequestLogEntry)
}
