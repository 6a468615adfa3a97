package chain

import (
	"container/list"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// BlockCache is a bounded hash -> decoded block mapping, safe for concurrent
// Get/Insert. Eviction is least-recently-used.
type BlockCache struct {
	mu       sync.Mutex
	capacity int
	blocks   map[common.Hash]*types.Block
	lru      *list.List
	index    map[common.Hash]*list.Element
}

func NewBlockCache(capacity int) *BlockCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &BlockCache{
		capacity: capacity,
		blocks:   make(map[common.Hash]*types.Block, capacity),
		lru:      list.New(),
		index:    make(map[common.Hash]*list.Element, capacity),
	}
}

func (c *BlockCache) Get(hash common.Hash) (*types.Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	block, ok := c.blocks[hash]
	if !ok {
		return nil, false
	}
	c.touch(hash)
	return block, true
}

func (c *BlockCache) Insert(hash common.Hash, block *types.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.blocks[hash] = block
	c.touch(hash)
	c.evictIfNeeded()
}

func (c *BlockCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.blocks)
}

func (c *BlockCache) touch(hash common.Hash) {
	if el, ok := c.index[hash]; ok && el != nil {
		c.lru.MoveToFront(el)
		return
	}
	c.index[hash] = c.lru.PushFront(hash)
}

func (c *BlockCache) evictIfNeeded() {
	for len(c.blocks) > c.capacity {
		back := c.lru.Back()
		if back == nil {
			break
		}
		hash, _ := back.Value.(common.Hash)
		c.lru.Remove(back)
		delete(c.index, hash)
		delete(c.blocks, hash)
	}
}
