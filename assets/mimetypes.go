package assets

import (
	"mime"
	"path"
	"strings"
	"sync"
)

var defaultMimeTypes = map[string]string{
	"avif":  "image/avif",
	"bmp":   "image/bmp",
	"css":   "text/css",
	"csv":   "text/csv",
	"eot":   "application/vnd.ms-fontobject",
	"gif":   "image/gif",
	"gz":    "application/gzip",
	"htm":   "text/html",
	"html":  "text/html",
	"ico":   "image/x-icon",
	"jpeg":  "image/jpeg",
	"jpg":   "image/jpeg",
	"js":    "application/javascript",
	"json":  "application/json",
	"m4a":   "audio/mp4",
	"map":   "application/json",
	"md":    "text/markdown",
	"mjs":   "application/javascript",
	"mov":   "video/quicktime",
	"mp3":   "audio/mpeg",
	"mp4":   "video/mp4",
	"oga":   "audio/ogg",
	"ogg":   "audio/ogg",
	"ogv":   "video/ogg",
	"otf":   "font/otf",
	"pdf":   "application/pdf",
	"png":   "image/png",
	"svg":   "image/svg+xml",
	"tar":   "application/x-tar",
	"ttf":   "font/ttf",
	"txt":   "text/plain",
	"wasm":  "application/wasm",
	"wav":   "audio/x-wav",
	"webm":  "video/webm",
	"webp":  "image/webp",
	"woff":  "font/woff",
	"woff2": "font/woff2",
	"xml":   "application/xml",
	"zip":   "application/zip",
}

// MimeTypes maps file extensions to media types
type MimeTypes struct {
	mu    sync.RWMutex
	types map[string]string
}

// NewMimeTypes returns a table preloaded with common web types
func NewMimeTypes() *MimeTypes {
	types := make(map[string]string, len(defaultMimeTypes))
	for ext, mediaType := range defaultMimeTypes {
		types[ext] = mediaType
	}
	return &MimeTypes{types: types}
}

// AddMimeMapping registers mediaType for ext, with or without the leading dot
func (m *MimeTypes) AddMimeMapping(ext, mediaType string) {
	m.mu.Lock()
	m.types[normalizeExtension(ext)] = mediaType
	m.mu.Unlock()
}

// MimeByExtension returns the media type for the extension of name, or "" if unknown
func (m *MimeTypes) MimeByExtension(name string) string {
	ext := normalizeExtension(path.Ext(name))
	if ext == "" {
		return ""
	}

	m.mu.RLock()
	mediaType, ok := m.types[ext]
	m.mu.RUnlock()
	if ok {
		return mediaType
	}
	return mime.TypeByExtension("." + ext)
}

func normalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
