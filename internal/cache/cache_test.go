// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package cache

import (
	"container/list"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCacheBasic(t *testing.T) {
	c := New(1 << 20)

	require.Nil(t, c.Get(1, 0))

	c.Set(1, 0, []byte("hello"))
	require.Equal(t, []byte("hello"), c.Get(1, 0))
	require.Nil(t, c.Get(1, 1))
	require.Nil(t, c.Get(2, 0))

	// Overwriting an existing entry replaces its value and adjusts the size
	// accounting.
	c.Set(1, 0, []byte("world!"))
	require.Equal(t, []byte("world!"), c.Get(1, 0))
	require.Equal(t, int64(6), c.Size())
}

func TestCacheEvict(t *testing.T) {
	// A single shard keeps the eviction order deterministic.
	c := &Cache{shards: make([]shard, 1)}
	newShardForTest(&c.shards[0], 100)

	for i := uint64(0); i < 10; i++ {
		c.Set(0, i, make([]byte, 10))
	}
	require.Equal(t, int64(100), c.Size())

	// Touch the oldest entry, then insert. The second oldest is the one that
	// gets evicted.
	require.NotNil(t, c.Get(0, 0))
	c.Set(0, 10, make([]byte, 10))
	require.NotNil(t, c.Get(0, 0))
	require.Nil(t, c.Get(0, 1))
	require.Equal(t, int64(100), c.Size())
}

func TestCacheOversizedValue(t *testing.T) {
	c := &Cache{shards: make([]shard, 1)}
	newShardForTest(&c.shards[0], 100)

	// A value larger than the shard capacity is still retained. The shard
	// never evicts down to empty.
	c.Set(0, 0, make([]byte, 200))
	require.NotNil(t, c.Get(0, 0))

	// Inserting another entry evicts the oversized one.
	c.Set(0, 1, make([]byte, 10))
	require.Nil(t, c.Get(0, 0))
	require.NotNil(t, c.Get(0, 1))
}

func TestCacheEvictFile(t *testing.T) {
	c := New(1 << 20)

	for i := uint64(0); i < 10; i++ {
		c.Set(1, i*4096, []byte("a"))
		c.Set(2, i*4096, []byte("b"))
	}

	c.EvictFile(1)
	for i := uint64(0); i < 10; i++ {
		require.Nil(t, c.Get(1, i*4096))
		require.Equal(t, []byte("b"), c.Get(2, i*4096))
	}
	require.Equal(t, int64(10), c.Size())
}

func TestNilCache(t *testing.T) {
	var c *Cache
	require.Nil(t, c.Get(1, 0))
	c.Set(1, 0, []byte("hello"))
	c.EvictFile(1)
	require.Equal(t, int64(0), c.Size())
}

func TestCacheConcurrent(t *testing.T) {
	const n = 1000
	c := New(1 << 20)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := uint64(0); i < n; i++ {
				c.Set(uint64(g), i, []byte(fmt.Sprintf("%d/%d", g, i)))
				if v := c.Get(uint64(g), i); v != nil {
					require.Equal(t, fmt.Sprintf("%d/%d", g, i), string(v))
				}
			}
		}(g)
	}
	wg.Wait()
}

func newShardForTest(s *shard, maxSize int64) {
	s.maxSize = maxSize
	s.blocks = map[key]*list.Element{}
	s.lru = list.New()
}
