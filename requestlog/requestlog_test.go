package requestlog

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-kit/kit/log"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/skbkontur/assetserver"
)

type collector struct {
	entries []*assetserver.RequestLogEntry
}

func (c *collector) AddEntry(e *assetserver.RequestLogEntry) {
	c.entries = append(c.entries, e)
}

func TestHandler(t *testing.T) {
	Convey("Given a logged handler", t, func() {
		c := &collector{}
		h := Handler(c, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/partial":
				w.WriteHeader(http.StatusPartialContent)
				w.Write([]byte("HE"))
			case "/abort":
				w.WriteHeader(http.StatusOK)
				panic(http.ErrAbortHandler)
			default:
				w.Write([]byte("HELLO THERE"))
			}
		}))

		Convey("Status and size are recorded", func() {
			req := httptest.NewRequest(http.MethodGet, "/partial", nil)
			req.Header.Set("Range", "bytes=0-1")
			req.Header.Set("User-Agent", "curl/8.0")
			h.ServeHTTP(httptest.NewRecorder(), req)

			So(c.entries, ShouldHaveLength, 1)
			e := c.entries[0]
			So(e.Method, ShouldEqual, http.MethodGet)
			So(e.Path, ShouldEqual, "/partial")
			So(e.Range, ShouldEqual, "bytes=0-1")
			So(e.Status, ShouldEqual, http.StatusPartialContent)
			So(e.Bytes, ShouldEqual, int64(2))
			So(e.UserAgent, ShouldEqual, "curl/8.0")
			So(e.Timestamp, ShouldNotBeEmpty)
		})

		Convey("An implicit status is a 200", func() {
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
			So(c.entries[0].Status, ShouldEqual, http.StatusOK)
			So(c.entries[0].Bytes, ShouldEqual, int64(11))
		})

		Convey("Aborted requests are still logged", func() {
			So(func() {
				h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/abort", nil))
			}, ShouldPanicWith, http.ErrAbortHandler)
			So(c.entries, ShouldHaveLength, 1)
		})
	})
}

func TestStorages(t *testing.T) {
	Convey("The log storage writes logfmt lines", t, func() {
		var buf bytes.Buffer
		s := &LogStorage{Logger: log.NewLogfmtLogger(&buf)}
		s.AddEntry(&assetserver.RequestLogEntry{Method: "GET", Path: "/assets/example.txt", Status: 200, Bytes: 11})

		So(buf.String(), ShouldContainSubstring, "msg=request")
		So(buf.String(), ShouldContainSubstring, "path=/assets/example.txt")
		So(buf.String(), ShouldContainSubstring, "status=200")
		So(buf.String(), ShouldContainSubstring, "bytes=11")
	})

	Convey("Fanout reaches every storage", t, func() {
		a, b := &collector{}, &collector{}
		Fanout{a, b}.AddEntry(&assetserver.RequestLogEntry{Path: "/"})
		So(a.entries, ShouldHaveLength, 1)
		So(b.entries, ShouldHaveLength, 1)
	})
}
