// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package talus

import (
	"sync/atomic"

	"github.com/talusdb/talus/db"
	"github.com/talusdb/talus/internal/arenaskl"
)

func memTableEntrySize(keyBytes, valueBytes int) uint32 {
	return arenaskl.MaxNodeSize(uint32(keyBytes)+8, uint32(valueBytes))
}

// A memTable implements an in-memory layer of the LSM. A memTable is
// mutable, but append-only. Records are added, but never removed. Deletion
// is supported via tombstones, but it is up to higher level code (see
// dbIter) to support processing those tombstones.
//
// A memTable is implemented on top of a lock-free arena-backed skiplist. An
// arena is a fixed size contiguous chunk of memory (see
// db.Options.MemTableSize). A memTable's memory consumption is thus fixed at
// the time of creation.
//
// A batch is "applied" to a memTable in a two step process:
// prepare(batch) -> apply(batch). memTable.prepare() is not thread-safe and
// must be called with external synchronization. Preparation reserves space
// in the memTable for the batch. Note that we pessimistically compute how
// much space a batch will consume in the memTable (see memTableEntrySize
// and Batch.memTableSize). Preparation is an O(1) operation. Applying a
// batch to the memTable can be performed concurrently with other apply
// operations. Applying a batch is an O(n logm) operation where N is the
// number of records in the batch and M is the number of records in the
// memtable. The commitPipeline serializes batch preparation, and allows
// batch application to proceed concurrently.
//
// It is safe to call get, apply and newIter concurrently.
type memTable struct {
	cmp       db.Compare
	equal     db.Equal
	skl       arenaskl.Skiplist
	emptySize uint32
	reserved  uint32
	refs      int32
	flushedCh chan struct{}
}

// newMemTable returns a new MemTable.
func newMemTable(o *db.Options) *memTable {
	o = o.EnsureDefaults()
	m := &memTable{
		cmp:       o.Comparer.Compare,
		equal:     o.Comparer.Equal,
		refs:      1,
		flushedCh: make(chan struct{}),
	}
	arena := arenaskl.NewArena(uint32(o.MemTableSize))
	m.skl.Reset(arena, m.cmp)
	m.emptySize = arena.Size()
	return m
}

func (m *memTable) ref() {
	atomic.AddInt32(&m.refs, 1)
}

func (m *memTable) unref() bool {
	switch v := atomic.AddInt32(&m.refs, -1); {
	case v < 0:
		panic("talus: inconsistent reference count")
	case v == 0:
		return true
	default:
		return false
	}
}

func (m *memTable) flushed() chan struct{} {
	return m.flushedCh
}

func (m *memTable) readyForFlush() bool {
	return atomic.LoadInt32(&m.refs) == 0
}

// get gets the value for the given key, as visible at the given sequence
// number. It returns ErrNotFound if the memtable does not contain the key,
// and (nil, ErrNotFound) if the newest visible entry is a tombstone.
func (m *memTable) get(key []byte, seqNum uint64) (value []byte, conclusive bool, err error) {
	it := m.skl.NewIter()
	it.SeekGE(db.MakeInternalKey(key, seqNum, db.InternalKeyKindMax))
	if !it.Valid() {
		return nil, false, db.ErrNotFound
	}
	ikey := it.Key()
	if !m.equal(key, ikey.UserKey) {
		return nil, false, db.ErrNotFound
	}
	if ikey.Kind() == db.InternalKeyKindDelete {
		return nil, true, db.ErrNotFound
	}
	return it.Value(), true, nil
}

// prepare reserves space for the batch in the memtable and references the
// memtable preventing it from being flushed until the batch is applied. Note
// that prepare is not thread-safe, while apply is. The caller must call
// unref() after the batch has been applied.
func (m *memTable) prepare(batch *Batch) error {
	a := m.skl.Arena()
	if atomic.LoadInt32(&m.refs) == 1 {
		// If there are no other concurrent apply operations, we can update
		// the reserved bytes setting to accurately reflect how many bytes
		// have been allocated vs the over-estimation present in
		// memTableEntrySize.
		m.reserved = a.Size()
	}

	avail := a.Capacity() - m.reserved
	if batch.memTableSize > avail {
		return arenaskl.ErrArenaFull
	}
	m.reserved += batch.memTableSize

	m.ref()
	return nil
}

func (m *memTable) apply(batch *Batch, seqNum uint64) error {
	var ins arenaskl.Inserter
	startSeqNum := seqNum
	for iter := batch.iter(); ; seqNum++ {
		kind, ukey, value, ok := iter.next()
		if !ok {
			break
		}
		ikey := db.MakeInternalKey(ukey, seqNum, kind)
		if err := ins.Add(&m.skl, ikey, value); err != nil {
			return err
		}
	}
	if seqNum != startSeqNum+uint64(batch.count()) {
		panic("talus: inconsistent batch count")
	}
	return nil
}

// newIter returns an iterator that is unpositioned (Iterator.Valid() will
// return false). The iterator can be positioned via a call to SeekGE,
// SeekLT, First or Last.
func (m *memTable) newIter(*db.ReadOptions) db.InternalIterator {
	it := m.skl.NewIter()
	return &it
}

// newFlushIter returns a forward-only iterator used to write the memtable
// contents to a table.
func (m *memTable) newFlushIter() db.InternalIterator {
	return m.skl.NewFlushIter()
}

func (m *memTable) close() error {
	return nil
}

// empty returns whether the MemTable has no key/value pairs.
func (m *memTable) empty() bool {
	return m.skl.Size() == m.emptySize
}

// approximateMemoryUsage returns the number of arena bytes in use.
func (m *memTable) approximateMemoryUsage() uint64 {
	return uint64(m.skl.Size())
}
