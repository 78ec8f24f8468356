package assets

import (
	"fmt"
	"io"
	"net/url"
)

// FlushTask empties the asset cache of every handler it holds
type FlushTask struct {
	Handlers []*Handler
}

// Name implements assetserver.Task
func (t *FlushTask) Name() string {
	return "flush-assets"
}

// Execute flushes the handlers named by the "name" parameters, or all of them
func (t *FlushTask) Execute(params url.Values, _ string, w io.Writer) error {
	names := make(map[string]bool)
	for _, name := range params["name"] {
		names[name] = true
	}

	for _, h := range t.Handlers {
		if len(names) > 0 && !names[h.Name()] {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s: flushed %d assets\n", h.Name(), h.FlushCache()); err != nil {
			return err
		}
	}
	return nil
}
