package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"
	"time"

	"github.com/go-kit/kit/log"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/skbkontur/assetserver"
	"github.com/skbkontur/assetserver/assets"
	"github.com/skbkontur/assetserver/hercules"
	"github.com/skbkontur/assetserver/metrics"
	"github.com/skbkontur/assetserver/tasks"
)

type collector struct {
	entries []*assetserver.RequestLogEntry
}

func (c *collector) AddEntry(e *assetserver.RequestLogEntry) {
	c.entries = append(c.entries, e)
}

func newTestHandler() (*Handler, *collector) {
	modTime := time.Date(2024, time.March, 1, 12, 30, 15, 0, time.UTC)
	fsys := fstest.MapFS{
		"assets/example.txt":    {Data: []byte("HELLO THERE"), ModTime: modTime},
		"assets/index.htm":      {Data: []byte("<html></html>"), ModTime: modTime},
		"docs/guide/readme.txt": {Data: []byte("FOO BAR"), ModTime: modTime},
	}

	ms := &metrics.MetricStorage{Logger: log.NewNopLogger()}

	docs, err := assets.NewBundle("/docs/guide", "/guide", "", "docs")
	So(err, ShouldBeNil)

	var handlers []*assets.Handler
	for _, b := range []*assets.Bundle{assets.DefaultBundle(), docs} {
		a, err := b.NewHandler(fsys, assets.Config{Logger: log.NewNopLogger(), MetricStorage: ms})
		So(err, ShouldBeNil)
		handlers = append(handlers, a)
	}

	c := &collector{}
	return &Handler{
		Port:              "0",
		AdminPort:         "0",
		Assets:            handlers,
		Tasks:             tasks.NewHandler("/tasks", log.NewNopLogger(), ms, tasks.GCTask{}, &assets.FlushTask{Handlers: handlers}),
		RequestLogStorage: c,
		Logger:            log.NewNopLogger(),
		MetricStorage:     ms,
	}, c
}

func TestAppHandler(t *testing.T) {
	Convey("Given an application handler with two bundles", t, func() {
		h, c := newTestHandler()
		app := h.AppHandler()

		get := func(target string, header http.Header) *httptest.ResponseRecorder {
			req := httptest.NewRequest(http.MethodGet, target, nil)
			for k, v := range header {
				req.Header[k] = v
			}
			rec := httptest.NewRecorder()
			app.ServeHTTP(rec, req)
			return rec
		}

		Convey("Each bundle serves its own resources", func() {
			rec := get("/assets/example.txt", nil)
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldEqual, "HELLO THERE")

			rec = get("/guide/readme.txt", nil)
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldEqual, "FOO BAR")
		})

		Convey("Paths outside every bundle are not found", func() {
			So(get("/other/example.txt", nil).Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Requests are logged with their range", func() {
			rec := get("/assets/example.txt", http.Header{"Range": {"bytes=0-4"}})
			So(rec.Code, ShouldEqual, http.StatusPartialContent)
			So(rec.Body.String(), ShouldEqual, "HELLO")

			So(c.entries, ShouldHaveLength, 1)
			So(c.entries[0].Status, ShouldEqual, http.StatusPartialContent)
			So(c.entries[0].Range, ShouldEqual, "bytes=0-4")
			So(c.entries[0].Bytes, ShouldEqual, int64(5))
		})

		Convey("Cross-origin requests get CORS headers", func() {
			rec := get("/assets/example.txt", http.Header{"Origin": {"https://example.com"}})
			So(rec.Header().Get("Access-Control-Allow-Origin"), ShouldEqual, "https://example.com")
			So(rec.Header().Get("Access-Control-Expose-Headers"), ShouldContainSubstring, "Content-Range")
		})

		Convey("Origins outside the whitelist get no CORS headers", func() {
			h.DomainWhitelist = map[string]bool{"https://allowed.com": true}
			rec := get("/assets/example.txt", http.Header{"Origin": {"https://example.com"}})
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Header().Get("Access-Control-Allow-Origin"), ShouldEqual, "")
		})

		options := func(header http.Header) *httptest.ResponseRecorder {
			req := httptest.NewRequest(http.MethodOptions, "/assets/example.txt", nil)
			for k, v := range header {
				req.Header[k] = v
			}
			rec := httptest.NewRecorder()
			app.ServeHTTP(rec, req)
			return rec
		}

		Convey("Preflight requests are answered with 204", func() {
			rec := options(http.Header{"Origin": {"https://example.com"}, "Access-Control-Request-Method": {"GET"}})
			So(rec.Code, ShouldEqual, http.StatusNoContent)
			So(rec.Header().Get("Access-Control-Allow-Headers"), ShouldContainSubstring, "Range")
		})

		Convey("Other OPTIONS requests reach the asset handler", func() {
			for _, header := range []http.Header{
				nil,
				{"Origin": {"https://example.com"}},
				{"Access-Control-Request-Method": {"GET"}},
			} {
				rec := options(header)
				So(rec.Code, ShouldEqual, http.StatusMethodNotAllowed)
				So(rec.Header().Get("Allow"), ShouldEqual, "GET, HEAD")
			}
		})

		Convey("Preflights from origins outside the whitelist are not answered", func() {
			h.DomainWhitelist = map[string]bool{"https://allowed.com": true}
			rec := options(http.Header{"Origin": {"https://example.com"}, "Access-Control-Request-Method": {"GET"}})
			So(rec.Code, ShouldEqual, http.StatusMethodNotAllowed)
			So(rec.Header().Get("Access-Control-Allow-Origin"), ShouldEqual, "")
		})
	})
}

func TestAppHandlerWithSlowRequestLog(t *testing.T) {
	Convey("Given request logs shipped to a stalled Hercules endpoint", t, func() {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))

		h, _ := newTestHandler()
		storage := &hercules.RequestLogStorage{
			Logger:           log.NewNopLogger(),
			MetricStorage:    h.MetricStorage,
			HerculesEndpoint: server.URL,
		}
		So(storage.Start(), ShouldBeNil)
		Reset(func() {
			close(release)
			storage.Stop()
			server.Close()
		})
		h.RequestLogStorage = storage

		Convey("Assets are served without waiting for it", func() {
			rec := httptest.NewRecorder()
			start := time.Now()
			h.AppHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assets/example.txt", nil))

			So(time.Since(start), ShouldBeLessThan, 500*time.Millisecond)
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldEqual, "HELLO THERE")
		})
	})
}

func TestAdminHandler(t *testing.T) {
	Convey("Given an admin handler", t, func() {
		h, _ := newTestHandler()
		admin := h.AdminHandler()

		serve := func(method, target string) *httptest.ResponseRecorder {
			rec := httptest.NewRecorder()
			admin.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
			return rec
		}

		Convey("Ping answers pong", func() {
			rec := serve(http.MethodGet, "/ping")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldEqual, "pong\n")
		})

		Convey("Metrics are dumped as JSON", func() {
			h.AppHandler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/assets/example.txt", nil))

			rec := serve(http.MethodGet, "/metrics")
			So(rec.Code, ShouldEqual, http.StatusOK)

			var snapshot map[string]interface{}
			So(json.Unmarshal(rec.Body.Bytes(), &snapshot), ShouldBeNil)
			So(snapshot, ShouldContainKey, "assets.assets.requests")
			So(snapshot, ShouldContainKey, "assets.docs.requests")
		})

		Convey("Tasks are listed and run", func() {
			rec := serve(http.MethodGet, "/tasks/")
			So(rec.Body.String(), ShouldEqual, "flush-assets\ngc\n")

			rec = serve(http.MethodPost, "/tasks/flush-assets?name=docs")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldEqual, "docs: flushed 0 assets\n")
		})
	})
}

func TestStartStop(t *testing.T) {
	Convey("Given a started handler", t, func() {
		h, _ := newTestHandler()
		So(h.Start(), ShouldBeNil)
		Reset(func() { h.Stop() })

		local := func(addr net.Addr) string {
			return fmt.Sprintf("http://127.0.0.1:%d", addr.(*net.TCPAddr).Port)
		}

		Convey("Both ports answer", func() {
			resp, err := http.Get(local(h.AppAddr()) + "/assets/example.txt")
			So(err, ShouldBeNil)
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			So(string(body), ShouldEqual, "HELLO THERE")

			resp, err = http.Get(local(h.AdminAddr()) + "/ping")
			So(err, ShouldBeNil)
			body, _ = io.ReadAll(resp.Body)
			resp.Body.Close()
			So(string(body), ShouldEqual, "pong\n")
		})
	})
}
