// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package talus

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/talusdb/talus/db"
	"github.com/talusdb/talus/sstable"
	"github.com/talusdb/talus/vfs"
)

type tableCache struct {
	dirname string
	fs      vfs.FS
	opts    *db.Options
	size    int

	mu    sync.Mutex
	nodes map[uint64]*tableCacheNode
	dummy tableCacheNode
}

func (c *tableCache) init(dirname string, fs vfs.FS, opts *db.Options, size int) {
	c.dirname = dirname
	c.fs = fs
	c.opts = opts
	c.size = size
	c.nodes = make(map[uint64]*tableCacheNode)
	c.dummy.next = &c.dummy
	c.dummy.prev = &c.dummy
}

// newIter returns an iterator over the table with the given file number. The
// iterator holds a reference on the cached table, released when the iterator
// is closed.
func (c *tableCache) newIter(fileNum uint64, ro *db.ReadOptions) (db.InternalIterator, error) {
	n := c.findNode(fileNum)
	x := <-n.result
	if x.err != nil {
		c.mu.Lock()
		n.refCount--
		if n.refCount == 0 {
			go n.release()
		}
		c.mu.Unlock()

		// Try loading the table again; the error may be transient.
		go n.load(c)
		return nil, x.err
	}
	n.result <- x
	return &tableCacheIter{
		InternalIterator: x.reader.NewIter(ro),
		cache:            c,
		node:             n,
	}, nil
}

// approximateOffset returns the approximate file offset of key within the
// table with the given file number.
func (c *tableCache) approximateOffset(fileNum uint64, key db.InternalKey) (uint64, error) {
	n := c.findNode(fileNum)
	x := <-n.result
	if x.err != nil {
		c.mu.Lock()
		n.refCount--
		if n.refCount == 0 {
			go n.release()
		}
		c.mu.Unlock()
		go n.load(c)
		return 0, x.err
	}
	n.result <- x
	off, err := x.reader.ApproximateOffset(key)

	c.mu.Lock()
	n.refCount--
	if n.refCount == 0 {
		go n.release()
	}
	c.mu.Unlock()
	return off, err
}

// releaseNode releases a node from the tableCache.
//
// c.mu must be held when calling this.
func (c *tableCache) releaseNode(n *tableCacheNode) {
	delete(c.nodes, n.fileNum)
	n.next.prev = n.prev
	n.prev.next = n.next
	n.refCount--
	if n.refCount == 0 {
		go n.release()
	}
}

// findNode returns the node for the table with the given file number,
// creating that node if it didn't already exist. The caller is responsible
// for decrementing the returned node's refCount.
func (c *tableCache) findNode(fileNum uint64) *tableCacheNode {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.nodes[fileNum]
	if n == nil {
		n = &tableCacheNode{
			fileNum:  fileNum,
			refCount: 1,
			result:   make(chan tableReaderOrError, 1),
		}
		c.nodes[fileNum] = n
		if len(c.nodes) > c.size {
			// Release the tail node.
			c.releaseNode(c.dummy.prev)
		}
		go n.load(c)
	} else {
		// Remove n from the doubly-linked list.
		n.next.prev = n.prev
		n.prev.next = n.next
	}
	// Insert n at the front of the doubly-linked list.
	n.next = c.dummy.next
	n.prev = &c.dummy
	n.next.prev = n
	n.prev.next = n
	// The caller is responsible for decrementing the refCount.
	n.refCount++
	return n
}

// evict removes any cached entry for the given table and purges its blocks
// from the block cache. Called when the table is deleted from the LSM.
func (c *tableCache) evict(fileNum uint64) {
	c.mu.Lock()
	if n := c.nodes[fileNum]; n != nil {
		c.releaseNode(n)
	}
	c.mu.Unlock()

	c.opts.Cache.EvictFile(fileNum)
}

func (c *tableCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.nodes == nil {
		return errors.New("talus: table cache already closed")
	}
	for n := c.dummy.next; n != &c.dummy; n = n.next {
		n.refCount--
		if n.refCount == 0 {
			go n.release()
		}
	}
	c.nodes = nil
	c.dummy.next = nil
	c.dummy.prev = nil
	return nil
}

type tableReaderOrError struct {
	reader *sstable.Reader
	err    error
}

type tableCacheNode struct {
	fileNum uint64
	result  chan tableReaderOrError

	// The remaining fields are protected by the tableCache mutex.

	next, prev *tableCacheNode
	refCount   int
}

func (n *tableCacheNode) load(c *tableCache) {
	f, err := c.fs.Open(dbFilename(c.dirname, fileTypeTable, n.fileNum))
	if err != nil {
		n.result <- tableReaderOrError{err: errors.Wrapf(err, "talus: could not open table %06d", n.fileNum)}
		return
	}
	n.result <- tableReaderOrError{reader: sstable.NewReader(f, n.fileNum, c.opts)}
}

func (n *tableCacheNode) release() {
	x := <-n.result
	if x.err != nil {
		return
	}
	x.reader.Close()
}

type tableCacheIter struct {
	db.InternalIterator
	cache    *tableCache
	node     *tableCacheNode
	closeErr error
	closed   bool
}

func (i *tableCacheIter) Close() error {
	if i.closed {
		return i.closeErr
	}
	i.closed = true

	i.cache.mu.Lock()
	i.node.refCount--
	if i.node.refCount == 0 {
		go i.node.release()
	}
	i.cache.mu.Unlock()

	i.closeErr = i.InternalIterator.Close()
	return i.closeErr
}
