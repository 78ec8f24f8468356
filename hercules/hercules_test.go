package hercules

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/skbkontur/assetserver"
	"github.com/skbkontur/assetserver/metrics"
)

type received struct {
	path string
	auth string
	body []byte
}

func snapshotContains(ms *metrics.MetricStorage, substr string) func() bool {
	return func() bool {
		var snapshot bytes.Buffer
		ms.WriteJSON(&snapshot)
		return strings.Contains(snapshot.String(), substr)
	}
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func TestRequestLogStorage(t *testing.T) {
	Convey("Given a Hercules endpoint", t, func() {
		requests := make(chan received, 10)
		release := make(chan struct{})
		var status atomic.Int64
		var slow atomic.Bool
		status.Store(http.StatusOK)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			requests <- received{path: r.URL.Path, auth: r.Header.Get("Authorization"), body: body}
			if slow.Load() {
				select {
				case <-release:
				case <-r.Context().Done():
				}
			}
			w.WriteHeader(int(status.Load()))
		}))

		var logs bytes.Buffer
		ms := &metrics.MetricStorage{Logger: log.NewNopLogger()}
		rs := &RequestLogStorage{
			Logger:           log.NewLogfmtLogger(log.NewSyncWriter(&logs)),
			MetricStorage:    ms,
			HerculesEndpoint: server.URL,
			HerculesAPIKey:   "secret",
			QueueCapacity:    1,
		}
		So(rs.Start(), ShouldBeNil)
		Reset(func() {
			close(release)
			rs.Stop()
			server.Close()
		})

		entry := &assetserver.RequestLogEntry{Method: "GET", Path: "/assets/example.txt", Status: 200, Bytes: 11}

		Convey("Entries are posted to the daily log index", func() {
			rs.AddEntry(entry)

			var got received
			select {
			case got = <-requests:
			case <-time.After(5 * time.Second):
			}
			So(strings.HasPrefix(got.path, "/logs/asset-request-"), ShouldBeTrue)
			So(got.auth, ShouldEqual, "ELK secret")

			var doc map[string]interface{}
			So(json.Unmarshal(got.body, &doc), ShouldBeNil)
			So(doc["path"], ShouldEqual, "/assets/example.txt")
		})

		Convey("Non-200 answers are logged and counted", func() {
			status.Store(http.StatusServiceUnavailable)
			rs.AddEntry(entry)

			So(eventually(snapshotContains(ms, `"hercules.adapter_request.errors":{"count":1}`)), ShouldBeTrue)
			So(logs.String(), ShouldContainSubstring, "non-200 response code from Hercules API")
		})

		Convey("A slow endpoint does not hold up callers", func() {
			slow.Store(true)

			start := time.Now()
			rs.AddEntry(entry)
			So(time.Since(start), ShouldBeLessThan, 100*time.Millisecond)

			select {
			case <-requests:
			case <-time.After(5 * time.Second):
			}

			Convey("and entries beyond the queue are dropped", func() {
				rs.AddEntry(entry)
				rs.AddEntry(entry)
				So(eventually(snapshotContains(ms, `"hercules.entries.dropped":{"count":1}`)), ShouldBeTrue)
			})
		})

		Convey("Stop cancels a request in flight", func() {
			slow.Store(true)
			rs.AddEntry(entry)
			<-requests

			done := make(chan error, 1)
			go func() { done <- rs.Stop() }()

			var err error
			select {
			case err = <-done:
			case <-time.After(5 * time.Second):
				err = io.ErrNoProgress
			}
			So(err, ShouldBeNil)
		})
	})
}
