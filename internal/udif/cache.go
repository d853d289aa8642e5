// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package udif

import (
	"strconv"
	"sync"

	"github.com/dgryski/go-tinylfu"
)

// blockCache memoizes decompressed block-run bytes keyed by (partition id,
// run index) so that decompressing the same partition again, through
// DecompressPartition or DecompressPartitionTo, does not re-inflate the same
// zlib/bzip2/LZFSE blocks.
type blockCache struct {
	mu sync.Mutex
	c  *tinylfu.T
}

func newBlockCache(capacity int) *blockCache {
	return &blockCache{c: tinylfu.New(capacity, capacity*10)}
}

func blockCacheKey(partition, run int) string {
	return strconv.Itoa(partition) + ":" + strconv.Itoa(run)
}

func (c *blockCache) get(partition, run int) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.c.Get(blockCacheKey(partition, run))
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

func (c *blockCache) put(partition, run int, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.c.Add(blockCacheKey(partition, run), data)
}
