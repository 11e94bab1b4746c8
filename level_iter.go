// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package talus

import (
	"sort"

	"github.com/talusdb/talus/db"
)

// levelIter iterates over the tables of a single non-0 level. The tables are
// sorted by key range and do not overlap, so the iterator concatenates their
// contents, opening one table at a time through the table cache.
type levelIter struct {
	cmp   db.Compare
	tc    tableNewIter
	ro    *db.ReadOptions
	files []*fileMetadata
	// index is the position in files of the open table, len(files) when
	// exhausted forward and -1 when exhausted backward.
	index int
	iter  db.InternalIterator
	err   error
}

func newLevelIter(
	cmp db.Compare, tc tableNewIter, ro *db.ReadOptions, files []*fileMetadata,
) *levelIter {
	return &levelIter{
		cmp:   cmp,
		tc:    tc,
		ro:    ro,
		files: files,
		index: -1,
	}
}

var _ db.InternalIterator = (*levelIter)(nil)

// loadFile opens the table at the given index, closing any previously open
// table.
func (l *levelIter) loadFile(index int) bool {
	if l.iter != nil {
		if err := l.iter.Close(); err != nil && l.err == nil {
			l.err = err
		}
		l.iter = nil
	}
	l.index = index
	if l.err != nil || index < 0 || index >= len(l.files) {
		return false
	}
	iter, err := l.tc.newIter(l.files[index].fileNum, l.ro)
	if err != nil {
		l.err = err
		return false
	}
	l.iter = iter
	return true
}

func (l *levelIter) SeekGE(key db.InternalKey) {
	if l.err != nil {
		return
	}
	// Find the first table whose largest key is at or after the sought key.
	index := sort.Search(len(l.files), func(i int) bool {
		return db.InternalCompare(l.cmp, l.files[i].largest, key) >= 0
	})
	if !l.loadFile(index) {
		return
	}
	l.iter.SeekGE(key)
	l.skipEmptyForward()
}

func (l *levelIter) SeekLT(key db.InternalKey) {
	if l.err != nil {
		return
	}
	// Find the last table whose smallest key is before the sought key.
	index := sort.Search(len(l.files), func(i int) bool {
		return db.InternalCompare(l.cmp, l.files[i].smallest, key) >= 0
	})
	if !l.loadFile(index - 1) {
		return
	}
	l.iter.SeekLT(key)
	l.skipEmptyBackward()
}

func (l *levelIter) First() {
	if l.err != nil {
		return
	}
	if !l.loadFile(0) {
		return
	}
	l.iter.First()
	l.skipEmptyForward()
}

func (l *levelIter) Last() {
	if l.err != nil {
		return
	}
	if !l.loadFile(len(l.files) - 1) {
		return
	}
	l.iter.Last()
	l.skipEmptyBackward()
}

func (l *levelIter) Next() bool {
	if l.err != nil {
		return false
	}
	if l.iter == nil {
		if l.index < 0 {
			// Backward iteration was exhausted; restart at the front.
			l.First()
			return l.Valid()
		}
		return false
	}
	l.iter.Next()
	l.skipEmptyForward()
	return l.Valid()
}

func (l *levelIter) Prev() bool {
	if l.err != nil {
		return false
	}
	if l.iter == nil {
		if l.index >= len(l.files) {
			// Forward iteration was exhausted; restart at the back.
			l.Last()
			return l.Valid()
		}
		return false
	}
	l.iter.Prev()
	l.skipEmptyBackward()
	return l.Valid()
}

// skipEmptyForward advances to the front of the next table whenever the
// current table is exhausted.
func (l *levelIter) skipEmptyForward() {
	for l.iter != nil && !l.iter.Valid() {
		if err := l.iter.Error(); err != nil {
			l.err = err
			return
		}
		if !l.loadFile(l.index + 1) {
			return
		}
		l.iter.First()
	}
}

// skipEmptyBackward steps to the back of the previous table whenever the
// current table is exhausted.
func (l *levelIter) skipEmptyBackward() {
	for l.iter != nil && !l.iter.Valid() {
		if err := l.iter.Error(); err != nil {
			l.err = err
			return
		}
		if !l.loadFile(l.index - 1) {
			return
		}
		l.iter.Last()
	}
}

func (l *levelIter) Key() db.InternalKey {
	if l.iter == nil {
		return db.InternalKey{}
	}
	return l.iter.Key()
}

func (l *levelIter) Value() []byte {
	if l.iter == nil {
		return nil
	}
	return l.iter.Value()
}

func (l *levelIter) Valid() bool {
	return l.err == nil && l.iter != nil && l.iter.Valid()
}

func (l *levelIter) Error() error {
	if l.err != nil {
		return l.err
	}
	if l.iter != nil {
		return l.iter.Error()
	}
	return nil
}

func (l *levelIter) Close() error {
	if l.iter != nil {
		if err := l.iter.Close(); err != nil && l.err == nil {
			l.err = err
		}
		l.iter = nil
	}
	return l.err
}
