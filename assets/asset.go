package assets

import (
	"fmt"
	"hash/crc32"
	"time"
)

type cachedAsset struct {
	resource     []byte
	eTag         string
	lastModified time.Time
}

func newCachedAsset(resource []byte, lastModified time.Time) *cachedAsset {
	return &cachedAsset{
		resource:     resource,
		eTag:         fmt.Sprintf(`"%x"`, crc32.ChecksumIEEE(resource)),
		lastModified: lastModified,
	}
}

func (a *cachedAsset) length() int64 {
	return int64(len(a.resource))
}
