// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package cache implements the block cache: a sharded LRU map from
// (fileNum, offset) to decoded block bytes, bounded by a byte capacity.
package cache

import (
	"container/list"
	"encoding/binary"
	"runtime"
	"sync"

	"github.com/cespare/xxhash/v2"
)

type key struct {
	fileNum uint64
	offset  uint64
}

type entry struct {
	key   key
	value []byte
}

// shard is a single LRU cache protected by a mutex.
type shard struct {
	mu       sync.Mutex
	maxSize  int64
	size     int64
	blocks   map[key]*list.Element
	lru      *list.List // of *entry, most recently used at the front
}

func (s *shard) get(k key) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.blocks[k]
	if !ok {
		return nil
	}
	s.lru.MoveToFront(e)
	return e.Value.(*entry).value
}

func (s *shard) set(k key, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.blocks[k]; ok {
		ent := e.Value.(*entry)
		s.size += int64(len(value)) - int64(len(ent.value))
		ent.value = value
		s.lru.MoveToFront(e)
	} else {
		s.blocks[k] = s.lru.PushFront(&entry{key: k, value: value})
		s.size += int64(len(value))
	}
	for s.size > s.maxSize && s.lru.Len() > 1 {
		e := s.lru.Back()
		ent := e.Value.(*entry)
		s.lru.Remove(e)
		delete(s.blocks, ent.key)
		s.size -= int64(len(ent.value))
	}
}

func (s *shard) evictFile(fileNum uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for e := s.lru.Front(); e != nil; {
		next := e.Next()
		ent := e.Value.(*entry)
		if ent.key.fileNum == fileNum {
			s.lru.Remove(e)
			delete(s.blocks, ent.key)
			s.size -= int64(len(ent.value))
		}
		e = next
	}
}

// Cache is a sharded LRU block cache. It is safe for concurrent use by
// multiple goroutines.
type Cache struct {
	shards []shard
}

// New returns a new Cache holding at most size bytes across all shards.
func New(size int64) *Cache {
	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		n = 1
	}
	c := &Cache{
		shards: make([]shard, n),
	}
	for i := range c.shards {
		c.shards[i] = shard{
			maxSize: size / int64(n),
			blocks:  map[key]*list.Element{},
			lru:     list.New(),
		}
		if c.shards[i].maxSize < 1 {
			c.shards[i].maxSize = 1
		}
	}
	return c
}

func (c *Cache) shard(k key) *shard {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], k.fileNum)
	binary.LittleEndian.PutUint64(buf[8:], k.offset)
	return &c.shards[xxhash.Sum64(buf[:])%uint64(len(c.shards))]
}

// Get retrieves the cache value for the specified file and offset, returning
// nil if no value is present.
func (c *Cache) Get(fileNum, offset uint64) []byte {
	if c == nil {
		return nil
	}
	k := key{fileNum: fileNum, offset: offset}
	return c.shard(k).get(k)
}

// Set sets the cache value for the specified file and offset, overwriting an
// existing value if present.
func (c *Cache) Set(fileNum, offset uint64, value []byte) {
	if c == nil {
		return
	}
	k := key{fileNum: fileNum, offset: offset}
	c.shard(k).set(k, value)
}

// EvictFile evicts all cache values for the specified file.
func (c *Cache) EvictFile(fileNum uint64) {
	if c == nil {
		return
	}
	for i := range c.shards {
		c.shards[i].evictFile(fileNum)
	}
}

// Size returns the sum of the byte sizes of the cached blocks.
func (c *Cache) Size() int64 {
	if c == nil {
		return 0
	}
	var size int64
	for i := range c.shards {
		c.shards[i].mu.Lock()
		size += c.shards[i].size
		c.shards[i].mu.Unlock()
	}
	return size
}
