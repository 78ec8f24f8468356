package tasks

import (
	"io"
	"net/url"
	"runtime"
	"runtime/debug"
)

// GCTask forces a garbage collection and returns freed memory to the OS
type GCTask struct{}

// Name returns "gc"
func (GCTask) Name() string {
	return "gc"
}

// Execute runs the collection
func (GCTask) Execute(_ url.Values, _ string, w io.Writer) error {
	runtime.GC()
	debug.FreeOSMemory()
	_, err := io.WriteString(w, "Running GC...\nDone!\n")
	return err
}
