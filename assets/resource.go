package assets

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"
)

var (
	// ErrAssetNotFound is returned when no resource exists for a request
	ErrAssetNotFound = errors.New("asset not found")
	// ErrDirectoryWithoutIndex is returned when a directory is requested and no index file is configured
	ErrDirectoryWithoutIndex = errors.New("directory requested but no index file defined")
	// ErrUnsupportedResource is returned for resource roots that are neither directories nor archives
	ErrUnsupportedResource = errors.New("unsupported resource location")
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenResources opens location as a root of servable resources. Directories are
// served through os.DirFS, .zip and .jar archives through archive/zip. The
// returned closer must be closed once the resources are no longer served.
func OpenResources(location string) (fs.FS, io.Closer, error) {
	info, err := os.Stat(location)
	if err != nil {
		return nil, nil, fmt.Errorf("stat resource location: %w", err)
	}
	if info.IsDir() {
		return os.DirFS(location), nopCloser{}, nil
	}

	switch strings.ToLower(path.Ext(location)) {
	case ".zip", ".jar":
		archive, err := zip.OpenReader(location)
		if err != nil {
			return nil, nil, fmt.Errorf("open archive %s: %w", location, err)
		}
		return archive, archive, nil
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedResource, location)
	}
}

// resourceName turns a slash-separated lookup string into an fs.FS name
func resourceName(lookup string) string {
	name := strings.Trim(lookup, "/")
	if name == "" {
		return "."
	}
	return name
}

func isDirectory(fsys fs.FS, name string) (bool, error) {
	if !fs.ValidPath(name) {
		return false, fmt.Errorf("%w: invalid path %q", ErrAssetNotFound, name)
	}
	info, err := fs.Stat(fsys, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Errorf("%w: %s", ErrAssetNotFound, name)
		}
		return false, err
	}
	return info.IsDir(), nil
}

// lastModified returns the modification time of name, or the zero time if it is unknown
func lastModified(fsys fs.FS, name string) time.Time {
	info, err := fs.Stat(fsys, name)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func readResource(fsys fs.FS, name string) ([]byte, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, name)
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}
