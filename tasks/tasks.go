// Package tasks exposes administrative tasks over HTTP.
package tasks

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/skbkontur/assetserver"
)

// Handler runs registered tasks on POST /tasks/{name} and lists them on GET /tasks/
type Handler struct {
	Prefix        string
	Logger        assetserver.Logger
	MetricStorage assetserver.MetricStorage
	tasks         map[string]*registeredTask
}

type registeredTask struct {
	task    assetserver.Task
	total   assetserver.MetricCounter
	errors  assetserver.MetricCounter
	latency assetserver.MetricHistogram
}

// NewHandler registers tasks under the given URI prefix
func NewHandler(prefix string, logger assetserver.Logger, ms assetserver.MetricStorage, tasks ...assetserver.Task) *Handler {
	h := &Handler{
		Prefix:        strings.TrimRight(prefix, "/") + "/",
		Logger:        logger,
		MetricStorage: ms,
		tasks:         make(map[string]*registeredTask, len(tasks)),
	}
	for _, task := range tasks {
		h.Add(task)
	}
	return h
}

// Add registers a task, replacing any task with the same name
func (h *Handler) Add(task assetserver.Task) {
	name := task.Name()
	h.tasks[name] = &registeredTask{
		task:    task,
		total:   h.MetricStorage.RegisterCounter(fmt.Sprintf("tasks.%s.total", name)),
		errors:  h.MetricStorage.RegisterCounter(fmt.Sprintf("tasks.%s.errors", name)),
		latency: h.MetricStorage.RegisterHistogram(fmt.Sprintf("tasks.%s.duration_ms", name)),
	}
}

// Names returns the sorted names of registered tasks
func (h *Handler) Names() []string {
	names := make([]string, 0, len(h.tasks))
	for name := range h.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.Trim(strings.TrimPrefix(r.URL.Path, h.Prefix), "/")

	if name == "" {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		for _, name := range h.Names() {
			io.WriteString(w, name+"\n")
		}
		return
	}

	rt, ok := h.tasks[name]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.Logger.Log("msg", "cannot read task body", "task", name, "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	rt.total.Inc(1)
	start := time.Now()
	var out strings.Builder
	err = rt.task.Execute(r.URL.Query(), string(body), &out)
	rt.latency.Update(time.Since(start).Milliseconds())
	if err != nil {
		h.Logger.Log("msg", "task failed", "task", name, "error", err)
		rt.errors.Inc(1)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, out.String())
}
