package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/jessevdk/go-flags"

	"github.com/skbkontur/assetserver"
	"github.com/skbkontur/assetserver/amqp"
	"github.com/skbkontur/assetserver/assets"
	"github.com/skbkontur/assetserver/hercules"
	"github.com/skbkontur/assetserver/http"
	"github.com/skbkontur/assetserver/metrics"
	"github.com/skbkontur/assetserver/requestlog"
	"github.com/skbkontur/assetserver/tasks"
)

var logger log.Logger
var version = "undefined"

// closers are closed, last opened first, before the program exits
var closers []io.Closer

type options struct {
	Port               string        `short:"p" long:"port" default:"8080" description:"port to serve assets on" env:"ASSETSERVER_PORT"`
	AdminPort          string        `long:"admin-port" default:"8081" description:"port to serve ping, metrics and tasks on" env:"ASSETSERVER_ADMIN_PORT"`
	Assets             string        `short:"a" long:"assets" default:"." description:"directory or zip/jar archive holding the resources" env:"ASSETSERVER_ASSETS"`
	Bundles            string        `short:"b" long:"bundles" description:"YAML file listing asset bundles (serves /assets from assets/ if not specified)" env:"ASSETSERVER_BUNDLES"`
	CacheTTL           time.Duration `long:"cache-ttl" description:"keep loaded assets in memory for this long (disabled if not specified)" env:"ASSETSERVER_CACHE_TTL"`
	DomainWhitelist    string        `short:"d" long:"domain-whitelist" description:"allow CORS requests only from this comma-separated list of domains (allows all if not specified)" env:"ASSETSERVER_DOMAIN_WHITELIST"`
	Logfile            string        `short:"l" long:"logfile" description:"log file name (writes to stdout if not specified)" env:"ASSETSERVER_LOGFILE"`
	LogLevel           string        `long:"log-level" default:"info" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"minimal level of log lines" env:"ASSETSERVER_LOG_LEVEL"`
	GraphiteConnection string        `short:"g" long:"graphite" description:"Graphite connection string for internal metrics" env:"ASSETSERVER_GRAPHITE"`
	GraphitePrefix     string        `short:"r" long:"graphite-prefix" description:"prefix for Graphite metrics" env:"ASSETSERVER_GRAPHITE_PREFIX"`
	AMQPConnection     string        `long:"amqp" description:"AMQP connection string for request logs (disabled if not specified)" env:"ASSETSERVER_AMQP"`
	HerculesEndpoint   string        `long:"hercules-endpoint" description:"Hercules endpoint for request logs (disabled if not specified)" env:"ASSETSERVER_HERCULES_ENDPOINT"`
	HerculesAPIKey     string        `long:"hercules-apikey" description:"Hercules API key" env:"ASSETSERVER_HERCULES_APIKEY"`
	Version            bool          `short:"v" long:"version" description:"print version and exit"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(0)
	}

	if opts.Version {
		fmt.Println("version:", version)
		os.Exit(0)
	}

	if opts.Logfile == "" {
		logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stdout))
	} else {
		logfile, err := os.OpenFile(opts.Logfile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open logfile %s: %s", opts.Logfile, err)
			os.Exit(1)
		}
		closers = append(closers, logfile)
		logger = log.NewLogfmtLogger(log.NewSyncWriter(logfile))
	}
	logger = level.NewFilter(logger, levelOption(opts.LogLevel))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)

	logger.Log("msg", "starting program", "pid", os.Getpid())

	metricStorage := &metrics.MetricStorage{
		GraphiteConnectionString: opts.GraphiteConnection,
		GraphitePrefix:           opts.GraphitePrefix,
		Logger:                   log.With(logger, "component", "metrics"),
	}

	fsys, closer, err := assets.OpenResources(opts.Assets)
	if err != nil {
		level.Error(logger).Log("msg", "cannot open resources", "location", opts.Assets, "error", err)
		exit(1)
	}
	closers = append(closers, closer)

	bundles := []*assets.Bundle{assets.DefaultBundle()}
	if opts.Bundles != "" {
		if bundles, err = assets.LoadBundles(opts.Bundles); err != nil {
			level.Error(logger).Log("msg", "cannot load bundles", "path", opts.Bundles, "error", err)
			exit(1)
		}
	}

	assetHandlers := make([]*assets.Handler, 0, len(bundles))
	for _, bundle := range bundles {
		h, err := bundle.NewHandler(fsys, assets.Config{
			CacheTTL:      opts.CacheTTL,
			Logger:        log.With(logger, "component", "assets", "bundle", bundle.Name),
			MetricStorage: metricStorage,
		})
		if err != nil {
			level.Error(logger).Log("msg", "cannot create asset handler", "bundle", bundle.Name, "error", err)
			exit(1)
		}
		assetHandlers = append(assetHandlers, h)
	}

	requestLogs := requestlog.Fanout{
		&requestlog.LogStorage{Logger: log.With(logger, "component", "requestlog")},
	}
	var services []assetserver.Service

	if opts.AMQPConnection != "" {
		storage := &amqp.RequestLogStorage{
			MaxBatchSize:         100,
			MaxConcurrentBatches: 10,
			BatchTimeout:         time.Second,
			PendingWorkCapacity:  1000,
			ExchangeName:         "asset-requests",
			RoutingKey:           "asset-requests",
			AMQPConnectionString: opts.AMQPConnection,
			Logger:               log.With(logger, "component", "amqp"),
			MetricStorage:        metricStorage,
		}
		requestLogs = append(requestLogs, storage)
		services = append(services, storage)
	}

	if opts.HerculesEndpoint != "" {
		storage := &hercules.RequestLogStorage{
			HerculesEndpoint: strings.TrimRight(opts.HerculesEndpoint, "/"),
			HerculesAPIKey:   opts.HerculesAPIKey,
			Logger:           log.With(logger, "component", "hercules"),
			MetricStorage:    metricStorage,
		}
		requestLogs = append(requestLogs, storage)
		services = append(services, storage)
	}

	handler := &http.Handler{
		Port:              opts.Port,
		AdminPort:         opts.AdminPort,
		Assets:            assetHandlers,
		RequestLogStorage: requestLogs,
		Logger:            log.With(logger, "component", "http"),
		MetricStorage:     metricStorage,
	}
	handler.Tasks = tasks.NewHandler(
		"/tasks",
		log.With(logger, "component", "tasks"),
		metricStorage,
		tasks.GCTask{},
		&assets.FlushTask{Handlers: assetHandlers},
	)
	if opts.DomainWhitelist != "" {
		domainWhitelist := strings.Split(opts.DomainWhitelist, ",")
		handler.DomainWhitelist = make(map[string]bool, len(domainWhitelist))
		for _, domain := range domainWhitelist {
			handler.DomainWhitelist[strings.TrimSpace(domain)] = true
		}
	}

	mustStart(metricStorage)
	for _, service := range services {
		mustStart(service)
	}
	mustStart(handler)

	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM)
	logger.Log("msg", "received signal", "signal", <-signalChannel)

	mustStop(handler)
	for i := len(services) - 1; i >= 0; i-- {
		mustStop(services[i])
	}
	mustStop(metricStorage)
	closeAll()
}

func exit(code int) {
	closeAll()
	os.Exit(code)
}

func closeAll() {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			logger.Log("msg", "error closing resource", "error", err)
		}
	}
	closers = nil
}

func levelOption(name string) level.Option {
	switch name {
	case "debug":
		return level.AllowDebug()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}

func mustStart(service assetserver.Service) {
	name := reflect.TypeOf(service)

	logger.Log("msg", "starting service", "name", name)
	if err := service.Start(); err != nil {
		logger.Log("msg", "error starting service", "name", name, "error", err)
		exit(1)
	}
	logger.Log("msg", "started service", "name", name)
}

func mustStop(service assetserver.Service) {
	name := reflect.TypeOf(service)

	logger.Log("msg", "stopping service", "name", name)
	if err := service.Stop(); err != nil {
		logger.Log("msg", "error stopping service", "name", name, "error", err)
		exit(1)
	}
	logger.Log("msg", "stopped service", "name", name)
}
