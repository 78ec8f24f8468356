package assets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAssetsName = "assets"
	DefaultIndexFile  = "index.htm"
	DefaultPath       = "/assets"
	DefaultCharset    = "utf-8"
)

var (
	// ErrRelativeResourcePath is returned for bundle resource paths not starting with "/"
	ErrRelativeResourcePath = errors.New("resource path is not an absolute path")
	// ErrRootResourcePath is returned for a bundle rooted at the resource root
	ErrRootResourcePath = errors.New("resource path is the resource root")
)

// Bundle mounts the assets found under ResourcePath at URIPath. For example,
// a ResourcePath of "/assets" and a URIPath of "/js" serves assets/example.js
// as /js/example.js.
type Bundle struct {
	Name           string `yaml:"name"`
	ResourcePath   string `yaml:"resourcePath"`
	URIPath        string `yaml:"uriPath"`
	IndexFile      string `yaml:"indexFile"`
	DefaultCharset string `yaml:"defaultCharset"`
}

// DefaultBundle serves /assets/* from assets/ with index.htm as index file
func DefaultBundle() *Bundle {
	b, _ := NewBundle(DefaultPath, DefaultPath, DefaultIndexFile, DefaultAssetsName)
	return b
}

// NewBundle validates and normalizes a bundle definition
func NewBundle(resourcePath, uriPath, indexFile, name string) (*Bundle, error) {
	b := &Bundle{
		Name:         name,
		ResourcePath: resourcePath,
		URIPath:      uriPath,
		IndexFile:    indexFile,
	}
	if err := b.normalize(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bundle) normalize() error {
	if !strings.HasPrefix(b.ResourcePath, "/") {
		return fmt.Errorf("%w: %q", ErrRelativeResourcePath, b.ResourcePath)
	}
	if b.ResourcePath == "/" {
		return fmt.Errorf("%w: %q", ErrRootResourcePath, b.ResourcePath)
	}
	if !strings.HasSuffix(b.ResourcePath, "/") {
		b.ResourcePath += "/"
	}

	if b.URIPath == "" {
		b.URIPath = b.ResourcePath
	}
	if !strings.HasSuffix(b.URIPath, "/") {
		b.URIPath += "/"
	}

	if b.Name == "" {
		b.Name = DefaultAssetsName
	}
	if b.DefaultCharset == "" {
		b.DefaultCharset = DefaultCharset
	}
	return nil
}

// Pattern returns the http.ServeMux pattern the bundle is mounted at
func (b *Bundle) Pattern() string {
	return b.URIPath
}

// NewHandler builds the asset handler for the bundle. Config fields describing
// the bundle itself are overwritten.
func (b *Bundle) NewHandler(fsys fs.FS, config Config) (*Handler, error) {
	config.Name = b.Name
	config.FS = fsys
	config.ResourcePath = b.ResourcePath
	config.URIPath = b.URIPath
	config.IndexFile = b.IndexFile
	config.DefaultCharset = b.DefaultCharset
	return NewHandler(config)
}

// LoadBundles reads a YAML list of bundles from path
func LoadBundles(path string) ([]*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundles file: %w", err)
	}
	return ParseBundles(data)
}

// ParseBundles decodes and validates a YAML list of bundles
func ParseBundles(data []byte) ([]*Bundle, error) {
	var bundles []*Bundle
	if err := yaml.Unmarshal(data, &bundles); err != nil {
		return nil, fmt.Errorf("decode bundles: %w", err)
	}

	seen := make(map[string]bool, len(bundles))
	for i, b := range bundles {
		if b == nil {
			return nil, fmt.Errorf("bundle %d is empty", i)
		}
		if err := b.normalize(); err != nil {
			return nil, fmt.Errorf("bundle %d: %w", i, err)
		}
		if seen[b.Name] {
			return nil, fmt.Errorf("bundle %d: duplicate name %q", i, b.Name)
		}
		seen[b.Name] = true
	}
	return bundles, nil
}
