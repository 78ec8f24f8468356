package http

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/tylerb/graceful"
	"gopkg.in/tomb.v2"

	"github.com/skbkontur/assetserver"
	"github.com/skbkontur/assetserver/assets"
	"github.com/skbkontur/assetserver/requestlog"
)

// MetricWriter is a MetricStorage that can dump its metrics as JSON
type MetricWriter interface {
	assetserver.MetricStorage
	WriteJSON(w io.Writer)
}

// Handler serves asset bundles on the application port and operational
// endpoints on the admin port
type Handler struct {
	Port              string
	AdminPort         string
	Assets            []*assets.Handler
	Tasks             http.Handler
	DomainWhitelist   map[string]bool
	RequestLogStorage assetserver.RequestLogStorage
	Logger            assetserver.Logger
	MetricStorage     MetricWriter
	tomb              tomb.Tomb
	appAddr           net.Addr
	adminAddr         net.Addr
}

// Start initializes HTTP request handling on both ports
func (h *Handler) Start() error {
	appListener, err := h.serve(h.Port, h.AppHandler())
	if err != nil {
		return err
	}
	h.appAddr = appListener.Addr()

	adminListener, err := h.serve(h.AdminPort, h.AdminHandler())
	if err != nil {
		h.tomb.Kill(nil)
		h.tomb.Wait()
		return err
	}
	h.adminAddr = adminListener.Addr()

	return nil
}

// Stop finishes listening to HTTP
func (h *Handler) Stop() error {
	h.tomb.Kill(nil)
	return h.tomb.Wait()
}

// AppAddr returns the address the application port listens on
func (h *Handler) AppAddr() net.Addr {
	return h.appAddr
}

// AdminAddr returns the address the admin port listens on
func (h *Handler) AdminAddr() net.Addr {
	return h.adminAddr
}

// AppHandler mounts every asset handler at its URI path
func (h *Handler) AppHandler() http.Handler {
	mux := http.NewServeMux()
	for _, a := range h.Assets {
		pattern := mountPattern(a.URIPath())
		mux.Handle(pattern, h.withCORS(a))
		h.Logger.Log("msg", "mounted assets", "name", a.Name(), "pattern", pattern)
	}

	var handler http.Handler = mux
	if h.RequestLogStorage != nil {
		handler = requestlog.Handler(h.RequestLogStorage, handler)
	}
	return handler
}

// AdminHandler serves /ping, /metrics and /tasks/
func (h *Handler) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", h.handlePing)
	mux.HandleFunc("/metrics", h.handleMetrics)
	if h.Tasks != nil {
		mux.Handle("/tasks/", h.Tasks)
	}
	return mux
}

func (h *Handler) serve(port string, handler http.Handler) (net.Listener, error) {
	server := &graceful.Server{
		Timeout:          10 * time.Second,
		NoSignalHandling: true,
		Server: &http.Server{
			Addr:    fmt.Sprintf(":%s", port),
			Handler: handler,
		},
	}

	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return nil, err
	}

	h.tomb.Go(func() error {
		err := server.Serve(listener)
		select {
		case <-h.tomb.Dying():
			return nil
		default:
			return err
		}
	})

	h.tomb.Go(func() error {
		<-h.tomb.Dying()
		return listener.Close()
	})

	return listener, nil
}

func (h *Handler) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "must-revalidate,no-cache,no-store")
	io.WriteString(w, "pong\n")
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.MetricStorage == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "must-revalidate,no-cache,no-store")
	h.MetricStorage.WriteJSON(w)
}

func mountPattern(uriPath string) string {
	if uriPath == "/" {
		return uriPath
	}
	return uriPath + "/"
}
