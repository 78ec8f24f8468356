package assetserver

import (
	"io"
	"net/url"
)

// Service is started and stopped in main function, which assembles services into a working application
type Service interface {
	Start() error
	Stop() error
}

// Task is an administrative action exposed on the admin port.
// Tasks run on POST only, since most of them are not side-effect free.
type Task interface {
	Name() string
	Execute(params url.Values, body string, w io.Writer) error
}
