// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package talus

import (
	"sync/atomic"

	"github.com/talusdb/talus/db"
)

// Snapshot provides a read-only point-in-time view of the DB state.
//
// A snapshot pins the sequence number current at its creation. Reads through
// the snapshot observe exactly the writes committed before that point, no
// matter how the DB is mutated afterwards. An open snapshot also prevents
// compactions from dropping the entry versions it can observe.
type Snapshot struct {
	db     *DB
	seqNum uint64

	prev, next *Snapshot
}

var _ db.Reader = (*Snapshot)(nil)

// NewSnapshot returns a point-in-time view of the current DB state. Callers
// must call Close on the snapshot when done.
func (d *DB) NewSnapshot() *Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mu.closed {
		panic(db.ErrClosed)
	}
	s := &Snapshot{
		db:     d,
		seqNum: atomic.LoadUint64(&d.mu.versions.lastSequence),
	}
	d.mu.snapshots.pushBack(s)
	return s
}

// Get gets the value for the given key at the snapshot's sequence number. It
// returns ErrNotFound if the snapshot does not contain the key.
//
// The caller should not modify the contents of the returned slice, but it is
// safe to modify the contents of the argument after Get returns.
func (s *Snapshot) Get(key []byte, ro *db.ReadOptions) ([]byte, error) {
	d := s.db
	d.mu.Lock()
	if d.mu.closed {
		d.mu.Unlock()
		return nil, db.ErrClosed
	}
	if s.prev == nil {
		d.mu.Unlock()
		return nil, db.ErrClosed
	}
	current := d.mu.versions.currentVersion()
	current.ref()
	memtables := [2]*memTable{d.mu.mem, d.mu.imm}
	d.mu.Unlock()
	defer current.unref(&d.mu)

	ikey := db.MakeInternalKey(key, s.seqNum, db.InternalKeyKindMax)
	return d.getInternal(ikey, current, memtables, ro)
}

// NewIter returns an iterator over the snapshot's view of the DB. The
// iterator is unpositioned and can be positioned via a call to SeekGE,
// SeekLT, First or Last.
func (s *Snapshot) NewIter(ro *db.ReadOptions) db.Iterator {
	if s.prev == nil {
		return &dbIter{err: db.ErrClosed}
	}
	return s.db.newIterInternal(ro, s.seqNum)
}

// Close releases the snapshot, allowing compactions to drop the entry
// versions only it could observe. It is an error to use the snapshot after
// closing it.
func (s *Snapshot) Close() error {
	d := s.db
	d.mu.Lock()
	defer d.mu.Unlock()
	if s.prev == nil {
		return db.ErrClosed
	}
	wasEarliest := d.mu.snapshots.earliest() == s.seqNum
	d.mu.snapshots.remove(s)
	if wasEarliest {
		// Entries shadowed only for this snapshot's benefit can now be
		// dropped.
		d.maybeScheduleCompaction()
	}
	return nil
}

// snapshotList is a doubly-linked list of the open snapshots, in ascending
// sequence number order.
type snapshotList struct {
	root Snapshot
}

func (l *snapshotList) init() {
	l.root.next = &l.root
	l.root.prev = &l.root
}

func (l *snapshotList) empty() bool {
	return l.root.next == &l.root
}

// earliest returns the sequence number of the oldest open snapshot. The list
// must be non-empty.
func (l *snapshotList) earliest() uint64 {
	return l.root.next.seqNum
}

func (l *snapshotList) pushBack(s *Snapshot) {
	if s.next != nil || s.prev != nil {
		panic("talus: snapshot list is inconsistent")
	}
	s.prev = l.root.prev
	s.prev.next = s
	s.next = &l.root
	s.next.prev = s
}

func (l *snapshotList) remove(s *Snapshot) {
	if s == &l.root {
		panic("talus: cannot remove snapshot list root node")
	}
	s.prev.next = s.next
	s.next.prev = s.prev
	s.prev = nil
	s.next = nil
}
