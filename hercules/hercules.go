package hercules

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"gopkg.in/tomb.v2"

	"github.com/skbkontur/assetserver"
)

const defaultQueueCapacity = 1000

// RequestLogStorage is a Hercules implementation of assetserver.RequestLogStorage interface.
// Entries are queued and sent one by one from a background worker; when the
// queue is full new entries are dropped.
type RequestLogStorage struct {
	Logger           assetserver.Logger
	MetricStorage    assetserver.MetricStorage
	HerculesEndpoint string
	HerculesAPIKey   string
	QueueCapacity    uint
	Client           *http.Client
	queue            chan *assetserver.RequestLogEntry
	tomb             tomb.Tomb
	metrics          struct {
		entryEncodingErrors  assetserver.MetricCounter
		entriesDropped       assetserver.MetricCounter
		adapterRequestTotal  assetserver.MetricCounter
		adapterRequestErrors assetserver.MetricCounter
	}
}

// Start initializes metrics and the sending worker
func (rs *RequestLogStorage) Start() error {
	rs.metrics.entryEncodingErrors = rs.MetricStorage.RegisterCounter("hercules.entry_encoding.errors")
	rs.metrics.entriesDropped = rs.MetricStorage.RegisterCounter("hercules.entries.dropped")
	rs.metrics.adapterRequestTotal = rs.MetricStorage.RegisterCounter("hercules.adapter_request.total")
	rs.metrics.adapterRequestErrors = rs.MetricStorage.RegisterCounter("hercules.adapter_request.errors")

	if rs.Client == nil {
		rs.Client = &http.Client{Timeout: 10 * time.Second}
	}
	capacity := rs.QueueCapacity
	if capacity == 0 {
		capacity = defaultQueueCapacity
	}
	rs.queue = make(chan *assetserver.RequestLogEntry, capacity)

	ctx := rs.tomb.Context(nil)
	rs.tomb.Go(func() error {
		for {
			select {
			case <-rs.tomb.Dying():
				return nil
			case entry := <-rs.queue:
				rs.send(ctx, entry)
			}
		}
	})
	return nil
}

// Stop cancels the request in flight and drops entries still queued
func (rs *RequestLogStorage) Stop() error {
	rs.tomb.Kill(nil)
	return rs.tomb.Wait()
}

// AddEntry queues an entry for sending without waiting for Hercules
func (rs *RequestLogStorage) AddEntry(entry *assetserver.RequestLogEntry) {
	select {
	case rs.queue <- entry:
	default:
		rs.metrics.entriesDropped.Inc(1)
	}
}

func (rs *RequestLogStorage) send(ctx context.Context, entry *assetserver.RequestLogEntry) {
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		rs.Logger.Log("msg", "failed to encode", "path", entry.Path, "error", err)
		rs.metrics.entryEncodingErrors.Inc(1)
		return
	}

	indexName := fmt.Sprintf("%s-%s", entry.GetType(), time.Now().UTC().Format("2006.01.02"))

	rs.metrics.adapterRequestTotal.Inc(1)

	request, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		fmt.Sprintf("%s/logs/%s", rs.HerculesEndpoint, indexName),
		bytes.NewReader(entryJSON))
	if err != nil {
		rs.Logger.Log(
			"msg", "failed to initialize request to Hercules API",
			"path", entry.Path,
			"error", err)
		rs.metrics.adapterRequestErrors.Inc(1)
		return
	}

	request.Header.Add("Content-Type", "application/json")
	request.Header.Add("Authorization", "ELK "+rs.HerculesAPIKey)

	response, err := rs.Client.Do(request)
	if err != nil {
		rs.Logger.Log(
			"msg", "failed to send request to Hercules API",
			"path", entry.Path,
			"error", err)
		rs.metrics.adapterRequestErrors.Inc(1)
		return
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		rs.Logger.Log(
			"msg", "non-200 response code from Hercules API",
			"path", entry.Path,
			"response_code", response.StatusCode)
		rs.metrics.adapterRequestErrors.Inc(1)
	}
}
