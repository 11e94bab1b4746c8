// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package talus

import (
	"github.com/talusdb/talus/db"
)

// mergingIter provides a merged view of multiple iterators from different
// levels of the LSM tree.
//
// Forward iteration tracks the child iterator with the smallest current key,
// reverse iteration the one with the largest. The child iterators are found
// by linear scan, which is fine for the handful of levels in a DB.
//
// Changing direction re-seeks every child iterator around the current key,
// as the children not at the current key are parked one entry past it in the
// old direction.
type mergingIter struct {
	cmp   db.Compare
	iters []db.InternalIterator
	// index is the child iterator holding the current entry, or -1 when the
	// merged view is exhausted.
	index  int
	dir    int
	err    error
	keyBuf []byte
}

// newMergingIter merges the given child iterators. The child iterators are
// owned by the merging iterator and closed with it.
func newMergingIter(cmp db.Compare, iters ...db.InternalIterator) *mergingIter {
	return &mergingIter{
		cmp:   cmp,
		iters: iters,
		index: -1,
	}
}

var _ db.InternalIterator = (*mergingIter)(nil)

func (m *mergingIter) findSmallest() {
	m.index = -1
	for i, iter := range m.iters {
		if !iter.Valid() {
			continue
		}
		if m.index < 0 || db.InternalCompare(m.cmp, iter.Key(), m.iters[m.index].Key()) < 0 {
			m.index = i
		}
	}
}

func (m *mergingIter) findLargest() {
	m.index = -1
	for i, iter := range m.iters {
		if !iter.Valid() {
			continue
		}
		if m.index < 0 || db.InternalCompare(m.cmp, iter.Key(), m.iters[m.index].Key()) > 0 {
			m.index = i
		}
	}
}

func (m *mergingIter) SeekGE(key db.InternalKey) {
	if m.err != nil {
		return
	}
	for _, iter := range m.iters {
		iter.SeekGE(key)
	}
	m.dir = 1
	m.findSmallest()
}

func (m *mergingIter) SeekLT(key db.InternalKey) {
	if m.err != nil {
		return
	}
	for _, iter := range m.iters {
		iter.SeekLT(key)
	}
	m.dir = -1
	m.findLargest()
}

func (m *mergingIter) First() {
	if m.err != nil {
		return
	}
	for _, iter := range m.iters {
		iter.First()
	}
	m.dir = 1
	m.findSmallest()
}

func (m *mergingIter) Last() {
	if m.err != nil {
		return
	}
	for _, iter := range m.iters {
		iter.Last()
	}
	m.dir = -1
	m.findLargest()
}

// saveKey copies the current key, which must remain stable while the child
// iterators move during a direction change.
func (m *mergingIter) saveKey() db.InternalKey {
	k := m.iters[m.index].Key()
	m.keyBuf = append(m.keyBuf[:0], k.UserKey...)
	return db.InternalKey{UserKey: m.keyBuf, Trailer: k.Trailer}
}

func (m *mergingIter) Next() bool {
	if m.err != nil {
		return false
	}
	if m.dir != 1 {
		if m.index < 0 {
			// Reverse iteration was exhausted; restart at the front.
			m.First()
			return m.Valid()
		}
		// Park every other child just past the current key.
		key := m.saveKey()
		for i, iter := range m.iters {
			if i == m.index {
				continue
			}
			iter.SeekGE(key)
			if iter.Valid() && db.InternalCompare(m.cmp, iter.Key(), key) == 0 {
				iter.Next()
			}
		}
		m.dir = 1
	}
	if m.index < 0 {
		return false
	}
	m.iters[m.index].Next()
	m.findSmallest()
	return m.Valid()
}

func (m *mergingIter) Prev() bool {
	if m.err != nil {
		return false
	}
	if m.dir != -1 {
		if m.index < 0 {
			// Forward iteration was exhausted; restart at the back.
			m.Last()
			return m.Valid()
		}
		// Park every other child just before the current key.
		key := m.saveKey()
		for i, iter := range m.iters {
			if i == m.index {
				continue
			}
			iter.SeekLT(key)
		}
		m.dir = -1
	}
	if m.index < 0 {
		return false
	}
	m.iters[m.index].Prev()
	m.findLargest()
	return m.Valid()
}

func (m *mergingIter) Key() db.InternalKey {
	if m.index < 0 {
		return db.InternalKey{}
	}
	return m.iters[m.index].Key()
}

func (m *mergingIter) Value() []byte {
	if m.index < 0 {
		return nil
	}
	return m.iters[m.index].Value()
}

func (m *mergingIter) Valid() bool {
	return m.index >= 0 && m.err == nil
}

func (m *mergingIter) Error() error {
	if m.err != nil {
		return m.err
	}
	for _, iter := range m.iters {
		if err := iter.Error(); err != nil {
			return err
		}
	}
	return nil
}

func (m *mergingIter) Close() error {
	err := m.Error()
	for _, iter := range m.iters {
		if cerr := iter.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	m.iters = nil
	m.index = -1
	if m.err == nil {
		m.err = err
	}
	return err
}
