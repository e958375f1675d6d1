package driveops

import (
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// DefaultBlockSize is the read block size when none is configured.
const DefaultBlockSize = 4 << 20

// BlockCache holds recently read content blocks, keyed by item ID, eTag and
// block index so that a changed file never serves old bytes. Cost is
// measured in bytes.
type BlockCache struct {
	cache     *ristretto.Cache
	blockSize int64
}

// NewBlockCache creates a cache of at most maxBytes holding blocks of
// blockSize bytes.
func NewBlockCache(maxBytes, blockSize int64) (*BlockCache, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}

	if maxBytes < blockSize {
		return nil, fmt.Errorf("driveops: block cache size %d smaller than block size %d", maxBytes, blockSize)
	}

	const countersPerBlock = 10

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        max(maxBytes/blockSize*countersPerBlock, 1000), //nolint:mnd // ristretto minimum useful sketch
		MaxCost:            maxBytes,
		BufferItems:        64, //nolint:mnd // value recommended by ristretto
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("driveops: creating block cache: %w", err)
	}

	return &BlockCache{cache: c, blockSize: blockSize}, nil
}

// BlockSize returns the size of each cached block.
func (b *BlockCache) BlockSize() int64 {
	return b.blockSize
}

func blockKey(itemID, eTag string, index int64) string {
	return fmt.Sprintf("%s:%s:%d", itemID, eTag, index)
}

func (b *BlockCache) get(key string) ([]byte, bool) {
	v, ok := b.cache.Get(key)
	if !ok {
		return nil, false
	}

	data, ok := v.([]byte)

	return data, ok
}

// put stores a block and waits for it to become visible to get.
func (b *BlockCache) put(key string, data []byte) {
	if b.cache.Set(key, data, int64(len(data))) {
		b.cache.Wait()
	}
}

// Close releases the cache's background goroutines.
func (b *BlockCache) Close() {
	b.cache.Close()
}
