// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"encoding/binary"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/talusdb/talus/db"
)

// blockWriter builds a single key/value block: prefix compressed entries
// followed by a restart point table. Keys must be added in ascending order.
type blockWriter struct {
	restartInterval int
	nEntries        int
	buf             []byte
	restarts        []uint32
	curKey          []byte
	prevKey         []byte
	tmp             [3 * binary.MaxVarintLen64]byte
}

func (w *blockWriter) store(keySize int, value []byte) {
	shared := 0
	if w.nEntries%w.restartInterval == 0 {
		w.restarts = append(w.restarts, uint32(len(w.buf)))
	} else {
		shared = db.SharedPrefixLen(w.curKey, w.prevKey)
	}

	n := binary.PutUvarint(w.tmp[0:], uint64(shared))
	n += binary.PutUvarint(w.tmp[n:], uint64(keySize-shared))
	n += binary.PutUvarint(w.tmp[n:], uint64(len(value)))
	w.buf = append(w.buf, w.tmp[:n]...)
	w.buf = append(w.buf, w.curKey[shared:]...)
	w.buf = append(w.buf, value...)

	w.nEntries++
}

func (w *blockWriter) add(key db.InternalKey, value []byte) {
	w.curKey, w.prevKey = w.prevKey, w.curKey

	size := key.Size()
	if cap(w.curKey) < size {
		w.curKey = make([]byte, 0, size*2)
	}
	w.curKey = w.curKey[:size]
	key.Encode(w.curKey)

	w.store(size, value)
}

func (w *blockWriter) finish() []byte {
	// Write the restart points to the buffer.
	if w.nEntries == 0 {
		// Every block must have at least one restart point.
		if cap(w.restarts) > 0 {
			w.restarts = w.restarts[:1]
			w.restarts[0] = 0
		} else {
			w.restarts = append(w.restarts, 0)
		}
	}
	tmp4 := w.tmp[:4]
	for _, x := range w.restarts {
		binary.LittleEndian.PutUint32(tmp4, x)
		w.buf = append(w.buf, tmp4...)
	}
	binary.LittleEndian.PutUint32(tmp4, uint32(len(w.restarts)))
	w.buf = append(w.buf, tmp4...)
	return w.buf
}

func (w *blockWriter) reset() {
	w.nEntries = 0
	w.buf = w.buf[:0]
	w.restarts = w.restarts[:0]
}

// estimatedSize returns the estimated size of the block in bytes once
// finished.
func (w *blockWriter) estimatedSize() int {
	return len(w.buf) + 4*(len(w.restarts)+1)
}

// rawBlockWriter is a blockWriter that writes keys without the internal key
// trailer. It is used for the metaindex block, whose keys are meta block
// names rather than internal keys.
type rawBlockWriter struct {
	blockWriter
}

func (w *rawBlockWriter) add(key db.InternalKey, value []byte) {
	w.curKey, w.prevKey = w.prevKey, w.curKey

	size := len(key.UserKey)
	if cap(w.curKey) < size {
		w.curKey = make([]byte, 0, size*2)
	}
	w.curKey = w.curKey[:size]
	copy(w.curKey, key.UserKey)

	w.store(size, value)
}

// blockIter iterates over the entries of a single block. It implements the
// db.InternalIterator interface.
type blockIter struct {
	cmp         db.Compare
	data        []byte
	restarts    int // offset in data of the restart point table
	numRestarts int
	// offset is the byte offset in data of the current entry, or restarts if
	// the iterator has been exhausted in the forward direction, or -1 if
	// exhausted in the reverse direction.
	offset     int
	nextOffset int
	key        []byte
	val        []byte
	ikey       db.InternalKey
	err        error
}

var _ db.InternalIterator = (*blockIter)(nil)

func newBlockIter(cmp db.Compare, block block) (*blockIter, error) {
	i := &blockIter{}
	return i, i.init(cmp, block)
}

func (i *blockIter) init(cmp db.Compare, block block) error {
	if len(block) < 4 {
		return errors.Wrap(db.ErrCorruption, "talus/sstable: invalid block (too short)")
	}
	numRestarts := int(binary.LittleEndian.Uint32(block[len(block)-4:]))
	restarts := len(block) - 4*(1+numRestarts)
	if numRestarts == 0 || restarts < 0 {
		return errors.Wrap(db.ErrCorruption, "talus/sstable: invalid block (bad restart points)")
	}
	i.cmp = cmp
	i.data = block
	i.restarts = restarts
	i.numRestarts = numRestarts
	i.offset = -1
	i.nextOffset = 0
	i.key = i.key[:0]
	i.val = nil
	i.err = nil
	return nil
}

func (i *blockIter) restartOffset(index int) int {
	return int(binary.LittleEndian.Uint32(i.data[i.restarts+4*index:]))
}

// readEntry decodes the entry at i.offset, extending i.key with the entry's
// unshared suffix. The caller is responsible for ensuring that i.key holds
// the previous entry's key, or that the entry is a restart point.
func (i *blockIter) readEntry() bool {
	if i.offset < 0 || i.offset >= i.restarts {
		return false
	}
	ptr := i.offset
	shared, n := binary.Uvarint(i.data[ptr:i.restarts])
	ptr += n
	unshared, n := binary.Uvarint(i.data[ptr:i.restarts])
	ptr += n
	valueLen, n := binary.Uvarint(i.data[ptr:i.restarts])
	ptr += n
	if n <= 0 || int(shared) > len(i.key) ||
		ptr+int(unshared)+int(valueLen) > i.restarts {
		i.err = errors.Wrap(db.ErrCorruption, "talus/sstable: invalid block (corrupt entry)")
		i.offset = i.restarts
		return false
	}
	i.key = append(i.key[:shared], i.data[ptr:ptr+int(unshared)]...)
	ptr += int(unshared)
	i.val = i.data[ptr : ptr+int(valueLen) : ptr+int(valueLen)]
	i.nextOffset = ptr + int(valueLen)
	i.ikey = db.DecodeInternalKey(i.key)
	return true
}

// seekRestart positions the iterator at the given restart point and decodes
// the entry there.
func (i *blockIter) seekRestart(index int) bool {
	i.key = i.key[:0]
	i.offset = i.restartOffset(index)
	return i.readEntry()
}

// SeekGE moves the iterator to the first entry whose key is greater than or
// equal to the given key.
func (i *blockIter) SeekGE(key db.InternalKey) {
	if i.err != nil {
		return
	}
	// Find the last restart point whose key is less than the target, then
	// scan forward from there.
	index := sort.Search(i.numRestarts, func(j int) bool {
		o := i.restartOffset(j)
		// Restart points store the whole key, so the shared length is zero
		// and the key follows the three varints.
		ptr := o
		_, n := binary.Uvarint(i.data[ptr:i.restarts])
		ptr += n
		unshared, n := binary.Uvarint(i.data[ptr:i.restarts])
		ptr += n
		_, n = binary.Uvarint(i.data[ptr:i.restarts])
		ptr += n
		if ptr+int(unshared) > i.restarts {
			return false
		}
		rkey := db.DecodeInternalKey(i.data[ptr : ptr+int(unshared)])
		return db.InternalCompare(i.cmp, rkey, key) >= 0
	})
	if index > 0 {
		index--
	}
	if !i.seekRestart(index) {
		i.offset = i.restarts
		return
	}
	for db.InternalCompare(i.cmp, i.ikey, key) < 0 {
		i.offset = i.nextOffset
		if !i.readEntry() {
			i.offset = i.restarts
			return
		}
	}
}

// SeekLT moves the iterator to the last entry whose key is less than the
// given key.
func (i *blockIter) SeekLT(key db.InternalKey) {
	if i.err != nil {
		return
	}
	i.SeekGE(key)
	i.Prev()
}

// First moves the iterator to the first entry.
func (i *blockIter) First() {
	if i.err != nil {
		return
	}
	if !i.seekRestart(0) {
		i.offset = i.restarts
	}
}

// Last moves the iterator to the last entry.
func (i *blockIter) Last() {
	if i.err != nil {
		return
	}
	if !i.seekRestart(i.numRestarts - 1) {
		i.offset = i.restarts
		return
	}
	for i.nextOffset < i.restarts {
		i.offset = i.nextOffset
		if !i.readEntry() {
			i.offset = i.restarts
			return
		}
	}
}

// Next moves the iterator to the next entry, returning whether the iterator
// remains valid.
func (i *blockIter) Next() bool {
	if i.err != nil {
		return false
	}
	if i.offset < 0 {
		i.First()
		return i.Valid()
	}
	i.offset = i.nextOffset
	if !i.readEntry() {
		i.offset = i.restarts
		return false
	}
	return true
}

// Prev moves the iterator to the previous entry, returning whether the
// iterator remains valid. Backward steps reposition at the enclosing restart
// point and replay forward, since entries are prefix compressed.
func (i *blockIter) Prev() bool {
	if i.err != nil {
		return false
	}
	target := i.offset
	if target < 0 {
		return false
	}
	if target == 0 {
		i.offset = -1
		i.key = i.key[:0]
		i.val = nil
		return false
	}
	index := sort.Search(i.numRestarts, func(j int) bool {
		return i.restartOffset(j) >= target
	})
	if index > 0 {
		index--
	}
	if !i.seekRestart(index) {
		i.offset = i.restarts
		return false
	}
	for i.nextOffset < target {
		i.offset = i.nextOffset
		if !i.readEntry() {
			i.offset = i.restarts
			return false
		}
	}
	return true
}

// Key returns the internal key at the current position.
func (i *blockIter) Key() db.InternalKey {
	return i.ikey
}

// Value returns the value at the current position.
func (i *blockIter) Value() []byte {
	return i.val
}

// Valid returns whether the iterator is positioned at an entry.
func (i *blockIter) Valid() bool {
	return i.offset >= 0 && i.offset < i.restarts && i.err == nil
}

// Error returns any accumulated error.
func (i *blockIter) Error() error {
	return i.err
}

// Close implements db.InternalIterator.
func (i *blockIter) Close() error {
	i.data = nil
	i.val = nil
	return i.err
}

// rawBlockIter iterates over a block whose keys are raw byte strings rather
// than internal keys, such as the metaindex block. It only supports forward
// iteration.
type rawBlockIter struct {
	blockIter
}

func (i *rawBlockIter) readEntry() bool {
	if !i.blockIter.readEntry() {
		return false
	}
	i.ikey = db.InternalKey{UserKey: i.key}
	return true
}

func (i *rawBlockIter) First() {
	if i.err != nil {
		return
	}
	i.key = i.key[:0]
	i.offset = i.restartOffset(0)
	if !i.readEntry() {
		i.offset = i.restarts
	}
}

func (i *rawBlockIter) Next() bool {
	if i.err != nil {
		return false
	}
	i.offset = i.nextOffset
	if !i.readEntry() {
		i.offset = i.restarts
		return false
	}
	return true
}
