package metrics

import (
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/cyberdelia/go-metrics-graphite"
	"github.com/rcrowley/go-metrics"

	"github.com/skbkontur/assetserver"
)

// MetricStorage is a Graphite implementation of assetserver.MetricStorage interface
type MetricStorage struct {
	GraphiteConnectionString string
	GraphitePrefix           string
	FlushInterval            time.Duration
	Logger                   assetserver.Logger
	registry                 metrics.Registry
}

// Start initializes Graphite reporter
func (ms *MetricStorage) Start() error {
	ms.ensureRegistry()

	if ms.GraphiteConnectionString != "" {
		addr, err := net.ResolveTCPAddr("tcp", ms.GraphiteConnectionString)
		if err != nil {
			ms.Logger.Log("msg", "error resolving Graphite connection string", "error", err)
		} else {
			prefix := ms.GraphitePrefix
			hostname, err := os.Hostname()
			if err == nil {
				prefix = fmt.Sprintf("%s.%s", prefix, hostname)
			}
			interval := ms.FlushInterval
			if interval <= 0 {
				interval = time.Minute
			}
			go graphite.Graphite(ms.registry, interval, prefix, addr)
		}
	}

	return nil
}

// Stop does nothing - there is no way to gracefully flush Graphite reporter
func (ms *MetricStorage) Stop() error {
	return nil
}

// RegisterHistogram creates a uniform-sampled histogram of integers
func (ms *MetricStorage) RegisterHistogram(name string) assetserver.MetricHistogram {
	ms.ensureRegistry()
	return metrics.GetOrRegisterHistogram(name, ms.registry, metrics.NewUniformSample(1000))
}

// RegisterCounter creates a counter
func (ms *MetricStorage) RegisterCounter(name string) assetserver.MetricCounter {
	ms.ensureRegistry()
	return metrics.GetOrRegisterCounter(name, ms.registry)
}

// WriteJSON dumps a snapshot of every registered metric
func (ms *MetricStorage) WriteJSON(w io.Writer) {
	ms.ensureRegistry()
	metrics.WriteJSONOnce(ms.registry, w)
}

// services may register metrics before Start is called
func (ms *MetricStorage) ensureRegistry() {
	if ms.registry == nil {
		ms.registry = metrics.NewRegistry()
	}
}
