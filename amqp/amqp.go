package amqp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/assembla/cony"
	"github.com/facebookgo/muster"
	"github.com/streadway/amqp"
	"gopkg.in/tomb.v2"

	"github.com/skbkontur/assetserver"
)

// RequestLogStorage is an AMQP implementation of assetserver.RequestLogStorage interface.
// Entries are batched into Elasticsearch bulk requests.
type RequestLogStorage struct {
	MaxBatchSize         uint
	MaxConcurrentBatches uint
	BatchTimeout         time.Duration
	PendingWorkCapacity  uint
	ExchangeName         string
	RoutingKey           string
	AMQPConnectionString string
	// PublishTimeout bounds how long Stop waits for batches in flight; defaults to 10s
	PublishTimeout time.Duration
	Logger         assetserver.Logger
	MetricStorage  assetserver.MetricStorage
	publisher      publisher
	muster         muster.Client
	tomb           tomb.Tomb
	metrics        struct {
		batchSizeBytes      assetserver.MetricHistogram
		batchFireErrors     assetserver.MetricCounter
		entryEncodingErrors assetserver.MetricCounter
	}
}

// publisher is the part of *cony.Publisher batches are fired through
type publisher interface {
	Publish(amqp.Publishing) error
	Cancel()
}

// Start initializes AMQP connections and muster batching
func (rs *RequestLogStorage) Start() error {
	client := cony.NewClient(
		cony.URL(rs.AMQPConnectionString),
		cony.Backoff(cony.DefaultBackoff),
	)

	exchange := cony.Exchange{
		Name:    rs.ExchangeName,
		Kind:    "direct",
		Durable: true,
	}
	client.Declare([]cony.Declaration{
		cony.DeclareExchange(exchange),
	})

	p := cony.NewPublisher(rs.ExchangeName, rs.RoutingKey)
	client.Publish(p)

	rs.tomb.Go(func() error {
		for client.Loop() {
			select {
			case <-rs.tomb.Dying():
				client.Close()
			case err := <-client.Errors():
				rs.Logger.Log("msg", "error communicating with remote server", "error", err)
			}
		}
		return nil
	})

	return rs.startBatching(p)
}

func (rs *RequestLogStorage) startBatching(p publisher) error {
	rs.metrics.batchSizeBytes = rs.MetricStorage.RegisterHistogram("amqp.batch_size_bytes")
	rs.metrics.batchFireErrors = rs.MetricStorage.RegisterCounter("amqp.batch_fire.errors")
	rs.metrics.entryEncodingErrors = rs.MetricStorage.RegisterCounter("amqp.entry_encoding.errors")

	rs.publisher = p
	rs.muster.MaxBatchSize = rs.MaxBatchSize
	rs.muster.MaxConcurrentBatches = rs.MaxConcurrentBatches
	rs.muster.BatchTimeout = rs.BatchTimeout
	rs.muster.PendingWorkCapacity = rs.PendingWorkCapacity
	rs.muster.BatchMaker = func() muster.Batch { return &batch{RequestLogStorage: rs} }

	return rs.muster.Start()
}

// Stop flushes and stops muster batching
func (rs *RequestLogStorage) Stop() error {
	timeout := rs.PublishTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rs.tomb.Go(func() error {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-rs.tomb.Dying():
			return nil
		case <-timer.C:
			rs.publisher.Cancel()
			return errors.New("at least one publishing timed out, had to cancel")
		}
	})

	errMuster := rs.muster.Stop()

	rs.tomb.Kill(nil)
	errTomb := rs.tomb.Wait()

	if errMuster != nil {
		return errMuster
	}
	return errTomb
}

// AddEntry adds a request log entry to next batch
func (rs *RequestLogStorage) AddEntry(entry *assetserver.RequestLogEntry) {
	item, err := encodeEntry(entry, time.Now())
	if err != nil {
		rs.Logger.Log("msg", "failed to encode", "path", entry.Path, "error", err)
		rs.metrics.entryEncodingErrors.Inc(1)
		return
	}
	rs.muster.Work <- item
}

// encodeEntry renders entry as an action line plus a document line of a bulk request
func encodeEntry(entry *assetserver.RequestLogEntry, now time.Time) ([]byte, error) {
	buf := bytes.NewBufferString(
		fmt.Sprintf("{\"index\": {\"_index\": \"%s-%s\", \"_type\": \"%s\"}}\n",
			entry.GetType(),
			now.UTC().Format("2006.01.02"),
			entry.GetType()))
	if err := json.NewEncoder(buf).Encode(entry); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type batch struct {
	RequestLogStorage *RequestLogStorage
	Items             bytes.Buffer
}

func (b *batch) Add(item interface{}) {
	b.Items.Write(item.([]byte))
}

func (b *batch) Fire(notifier muster.Notifier) {
	defer notifier.Done()
	err := b.RequestLogStorage.publisher.Publish(
		amqp.Publishing{
			DeliveryMode: amqp.Transient,
			Timestamp:    time.Now(),
			ContentType:  "application/x-ndjson",
			Body:         b.Items.Bytes(),
		})
	if err != nil {
		b.RequestLogStorage.Logger.Log("msg", "failed to fire batch", "size", b.Items.Len(), "error", err)
		b.RequestLogStorage.metrics.batchFireErrors.Inc(1)
	}
	b.RequestLogStorage.metrics.batchSizeBytes.Update(int64(b.Items.Len()))
}
