// Package requestlog records every request served by the application port.
package requestlog

import (
	"net/http"
	"time"

	"github.com/skbkontur/assetserver"
)

// Handler wraps next and sends a RequestLogEntry to storage once each request is done
func Handler(storage assetserver.RequestLogStorage, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w}

		// deferred so that aborted responses are logged too
		defer func() {
			entry := &assetserver.RequestLogEntry{
				Host:       r.Host,
				RemoteAddr: r.RemoteAddr,
				Method:     r.Method,
				Path:       r.URL.Path,
				Range:      r.Header.Get("Range"),
				Status:     rw.status(),
				Bytes:      rw.written,
				DurationMS: time.Since(start).Milliseconds(),
				UserAgent:  r.UserAgent(),
				Referer:    r.Referer(),
			}
			entry.SetTimestamp(start)
			storage.AddEntry(entry)
		}()

		next.ServeHTTP(rw, r)
	})
}

// LogStorage writes request log entries as log lines
type LogStorage struct {
	Logger assetserver.Logger
}

// AddEntry logs a single entry
func (s *LogStorage) AddEntry(e *assetserver.RequestLogEntry) {
	s.Logger.Log(
		"msg", "request",
		"remote_addr", e.RemoteAddr,
		"method", e.Method,
		"path", e.Path,
		"range", e.Range,
		"status", e.Status,
		"bytes", e.Bytes,
		"duration_ms", e.DurationMS,
		"user_agent", e.UserAgent,
		"referer", e.Referer)
}

// Fanout sends every entry to each of its storages in order
type Fanout []assetserver.RequestLogStorage

// AddEntry implements assetserver.RequestLogStorage
func (f Fanout) AddEntry(e *assetserver.RequestLogEntry) {
	for _, storage := range f {
		storage.AddEntry(e)
	}
}
