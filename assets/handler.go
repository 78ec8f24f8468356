package assets

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/patrickmn/go-cache"

	"github.com/skbkontur/assetserver"
)

const defaultMediaType = "text/html; charset=utf-8"

// ErrOutsideURIPath is returned for request paths not rooted at the handler's URI path
var ErrOutsideURIPath = errors.New("request path outside of URI path")

// Config holds the settings of an asset Handler
type Config struct {
	// Name labels the handler's metrics; defaults to "assets"
	Name string
	// FS is the root all resource paths are resolved against
	FS fs.FS
	// ResourcePath is the location of the assets inside FS
	ResourcePath string
	// URIPath is the URI prefix the assets are served under
	URIPath string
	// IndexFile is served for directory requests; empty means directories are not found
	IndexFile string
	// DefaultCharset is added to text/* content types when set
	DefaultCharset string
	// MimeTypes resolves content types; defaults to NewMimeTypes()
	MimeTypes *MimeTypes
	// CacheTTL enables an in-memory cache of loaded assets when positive
	CacheTTL      time.Duration
	Logger        assetserver.Logger
	MetricStorage assetserver.MetricStorage
}

// Handler serves static assets rooted at a URI path with support for
// conditional requests and byte ranges.
//
// Given a ResourcePath of "/static" and a URIPath of "/js", a request for
// /js/example.js is answered with the contents of static/example.js. When a
// directory is requested, IndexFile inside it is served, or 404 if IndexFile
// is empty. Any failure to resolve or read a resource is reported as 404.
type Handler struct {
	name           string
	fsys           fs.FS
	resourcePath   string
	uriPath        string
	indexFile      string
	defaultCharset string
	mimeTypes      *MimeTypes
	cache          *cache.Cache
	logger         assetserver.Logger
	now            func() time.Time
	metrics        struct {
		requests      assetserver.MetricCounter
		notFound      assetserver.MetricCounter
		notModified   assetserver.MetricCounter
		partial       assetserver.MetricCounter
		unsatisfiable assetserver.MetricCounter
		writeErrors   assetserver.MetricCounter
		bytesServed   assetserver.MetricHistogram
	}
}

// NewHandler creates an asset Handler
func NewHandler(config Config) (*Handler, error) {
	if config.FS == nil {
		return nil, errors.New("asset handler requires a resource file system")
	}

	h := &Handler{
		name:           config.Name,
		fsys:           config.FS,
		indexFile:      config.IndexFile,
		defaultCharset: config.DefaultCharset,
		mimeTypes:      config.MimeTypes,
		logger:         config.Logger,
		now:            time.Now,
	}
	if h.name == "" {
		h.name = "assets"
	}
	if h.mimeTypes == nil {
		h.mimeTypes = NewMimeTypes()
	}
	if h.logger == nil {
		h.logger = log.NewNopLogger()
	}

	if trimmed := strings.Trim(config.ResourcePath, "/"); trimmed != "" {
		h.resourcePath = trimmed + "/"
	}
	h.uriPath = strings.TrimRight(config.URIPath, "/")
	if h.uriPath == "" {
		h.uriPath = "/"
	}

	if config.CacheTTL > 0 {
		h.cache = cache.New(config.CacheTTL, 2*config.CacheTTL)
	}

	ms := config.MetricStorage
	if ms == nil {
		ms = discardMetrics{}
	}
	prefix := "assets." + h.name
	h.metrics.requests = ms.RegisterCounter(prefix + ".requests")
	h.metrics.notFound = ms.RegisterCounter(prefix + ".not_found")
	h.metrics.notModified = ms.RegisterCounter(prefix + ".not_modified")
	h.metrics.partial = ms.RegisterCounter(prefix + ".partial")
	h.metrics.unsatisfiable = ms.RegisterCounter(prefix + ".unsatisfiable")
	h.metrics.writeErrors = ms.RegisterCounter(prefix + ".write_errors")
	h.metrics.bytesServed = ms.RegisterHistogram(prefix + ".bytes_served")

	return h, nil
}

// Name returns the handler's metrics label
func (h *Handler) Name() string {
	return h.name
}

// URIPath returns the normalized URI path
func (h *Handler) URIPath() string {
	return h.uriPath
}

// IndexFile returns the index file name, or "" if directories are not served
func (h *Handler) IndexFile() string {
	return h.indexFile
}

// FlushCache drops every cached asset. It does nothing when caching is disabled.
func (h *Handler) FlushCache() int {
	if h.cache == nil {
		return 0
	}
	n := h.cache.ItemCount()
	h.cache.Flush()
	return n
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	h.metrics.requests.Inc(1)

	asset, err := h.asset(r.URL.Path)
	if err != nil {
		level.Debug(h.logger).Log("msg", "cannot serve asset", "path", r.URL.Path, "error", err)
		h.metrics.notFound.Inc(1)
		http.NotFound(w, r)
		return
	}

	header := w.Header()
	header.Set("Last-Modified", asset.lastModified.UTC().Format(http.TimeFormat))
	header.Set("ETag", asset.eTag)

	if isCachedClientSide(r, asset) {
		h.metrics.notModified.Inc(1)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	length := asset.length()
	var ranges []ByteRange
	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		// a stale If-Range means the client holds another representation: serve it whole
		if ifRange := r.Header.Get("If-Range"); ifRange == "" || ifRange == asset.eTag {
			ranges, err = parseRangeHeader(rangeHeader, length)
			if err == nil && len(ranges) == 0 {
				err = fmt.Errorf("%w: no ranges in %q", ErrUnsatisfiableRange, rangeHeader)
			}
			if err != nil {
				level.Debug(h.logger).Log("msg", "cannot satisfy range", "path", r.URL.Path, "range", rangeHeader, "error", err)
				h.metrics.unsatisfiable.Inc(1)
				header.Set("Content-Range", fmt.Sprintf("bytes */%d", length))
				http.Error(w, http.StatusText(http.StatusRequestedRangeNotSatisfiable), http.StatusRequestedRangeNotSatisfiable)
				return
			}
		}
	}

	mediaType := h.mediaType(r.URL.Path)
	header.Set("Content-Type", mediaType)
	if len(ranges) > 0 || isStreamable(mediaType) {
		header.Set("Accept-Ranges", "bytes")
	}

	status, size := http.StatusOK, length
	if len(ranges) > 0 {
		status, size = http.StatusPartialContent, 0
		for _, br := range ranges {
			size += br.Len()
		}
		header.Set("Content-Range", contentRange(ranges, length))
		h.metrics.partial.Inc(1)
	}
	header.Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		return
	}
	if err := writeBody(w, asset, ranges); err != nil {
		level.Error(h.logger).Log("msg", "failed to write asset", "path", r.URL.Path, "error", err)
		h.metrics.writeErrors.Inc(1)
		panic(http.ErrAbortHandler)
	}
	h.metrics.bytesServed.Update(size)
}

func (h *Handler) asset(key string) (*cachedAsset, error) {
	if h.cache != nil {
		if cached, found := h.cache.Get(key); found {
			return cached.(*cachedAsset), nil
		}
	}

	asset, err := h.loadAsset(key)
	if err != nil {
		return nil, err
	}
	if h.cache != nil {
		h.cache.SetDefault(key, asset)
	}
	return asset, nil
}

func (h *Handler) loadAsset(key string) (*cachedAsset, error) {
	if !strings.HasPrefix(key, h.uriPath) {
		return nil, fmt.Errorf("%w: %s", ErrOutsideURIPath, key)
	}
	requested := strings.Trim(key[len(h.uriPath):], "/")
	name := resourceName(h.resourcePath + requested)

	dir, err := isDirectory(h.fsys, name)
	if err != nil {
		return nil, err
	}
	if dir {
		if h.indexFile == "" {
			return nil, fmt.Errorf("%w: %s", ErrDirectoryWithoutIndex, name)
		}
		name = path.Join(name, h.indexFile)
	}

	modified := lastModified(h.fsys, name)
	if modified.UnixMilli() < 1 {
		modified = h.now()
	}
	// If-Modified-Since carries whole seconds only
	modified = modified.Truncate(time.Second)

	resource, err := readResource(h.fsys, name)
	if err != nil {
		return nil, err
	}
	return newCachedAsset(resource, modified), nil
}

func (h *Handler) mediaType(requestPath string) string {
	mimeType := h.mimeTypes.MimeByExtension(requestPath)
	if mimeType == "" {
		return defaultMediaType
	}

	mediaType, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return defaultMediaType
	}
	if h.defaultCharset != "" && strings.HasPrefix(mediaType, "text/") {
		params["charset"] = h.defaultCharset
	}
	if formatted := mime.FormatMediaType(mediaType, params); formatted != "" {
		return formatted
	}
	return defaultMediaType
}

func isCachedClientSide(r *http.Request, asset *cachedAsset) bool {
	if r.Header.Get("If-None-Match") == asset.eTag {
		return true
	}
	if ifModifiedSince := r.Header.Get("If-Modified-Since"); ifModifiedSince != "" {
		since, err := http.ParseTime(ifModifiedSince)
		if err == nil && !since.Before(asset.lastModified) {
			return true
		}
	}
	return false
}

func isStreamable(mediaType string) bool {
	return strings.HasPrefix(mediaType, "video/") || strings.HasPrefix(mediaType, "audio/")
}

// writeBody writes the ranges in the order they were requested, or the whole
// resource when there are none. Multiple ranges are concatenated.
func writeBody(w io.Writer, asset *cachedAsset, ranges []ByteRange) error {
	if len(ranges) == 0 {
		_, err := w.Write(asset.resource)
		return err
	}
	for _, br := range ranges {
		if _, err := w.Write(asset.resource[br.Start : br.End+1]); err != nil {
			return err
		}
	}
	return nil
}

type discardMetrics struct{}

func (discardMetrics) RegisterHistogram(string) assetserver.MetricHistogram { return discardMetric{} }
func (discardMetrics) RegisterCounter(string) assetserver.MetricCounter     { return discardMetric{} }

type discardMetric struct{}

func (discardMetric) Update(int64) {}
func (discardMetric) Inc(int64)    {}
