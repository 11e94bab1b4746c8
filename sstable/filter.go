// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"encoding/binary"

	"github.com/talusdb/talus/db"
)

// filterBaseLog is the log2 of the data block offset window covered by a
// single filter. One filter is generated per 2 KiB of data block offset
// space, regardless of block boundaries.
const filterBaseLog = 11

// filterWriter accumulates the user keys of a table and builds the filter
// block. A filter covers the keys of every data block whose offset falls in
// the filter's window.
type filterWriter struct {
	policy db.FilterPolicy
	// block filter data, one encoded filter after another.
	data []byte
	// start offset in data of each emitted filter.
	offsets []uint32
	// user keys pending for the next filter, flattened into keyBuf with
	// entry boundaries in keyOffsets.
	keyBuf     []byte
	keyOffsets []int
	keyScratch [][]byte
}

func (f *filterWriter) appendKey(key []byte) {
	f.keyBuf = append(f.keyBuf, key...)
	f.keyOffsets = append(f.keyOffsets, len(f.keyBuf))
}

// finishBlock notes that a data block has been finished and the next one
// begins at blockOffset, emitting filters for any windows that ended.
func (f *filterWriter) finishBlock(blockOffset uint64) {
	for i := blockOffset >> filterBaseLog; i > uint64(len(f.offsets)); {
		f.emit()
	}
}

// emit generates a filter from the pending keys and appends it to the filter
// block data. Emitting with no pending keys records an empty filter, which
// matches no key.
func (f *filterWriter) emit() {
	f.offsets = append(f.offsets, uint32(len(f.data)))
	if len(f.keyOffsets) == 0 {
		return
	}
	f.keyScratch = f.keyScratch[:0]
	prev := 0
	for _, end := range f.keyOffsets {
		f.keyScratch = append(f.keyScratch, f.keyBuf[prev:end:end])
		prev = end
	}
	f.data = f.policy.AppendFilter(f.data, f.keyScratch)
	f.keyBuf = f.keyBuf[:0]
	f.keyOffsets = f.keyOffsets[:0]
}

// finish emits any pending filter and appends the offset table, returning
// the completed filter block.
func (f *filterWriter) finish() []byte {
	if len(f.keyOffsets) > 0 {
		f.emit()
	}
	arrayOffset := uint32(len(f.data))
	var tmp [4]byte
	for _, x := range f.offsets {
		binary.LittleEndian.PutUint32(tmp[:], x)
		f.data = append(f.data, tmp[:]...)
	}
	binary.LittleEndian.PutUint32(tmp[:], arrayOffset)
	f.data = append(f.data, tmp[:]...)
	f.data = append(f.data, filterBaseLog)
	return f.data
}

// filterReader answers may-contain queries against a table's filter block.
type filterReader struct {
	policy db.FilterPolicy
	// data holds the encoded filters, offsets the offset table including the
	// trailing array offset.
	data    []byte
	offsets []byte
	num     int
	baseLog uint
}

// init parses the filter block, reporting whether it is usable.
func (f *filterReader) init(data []byte, policy db.FilterPolicy) bool {
	if len(data) < 5 {
		return false
	}
	f.baseLog = uint(data[len(data)-1])
	arrayOffset := binary.LittleEndian.Uint32(data[len(data)-5:])
	if arrayOffset > uint32(len(data)-5) {
		return false
	}
	f.policy = policy
	f.data = data[:arrayOffset]
	f.offsets = data[arrayOffset : len(data)-1]
	f.num = len(f.offsets)/4 - 1
	return f.num >= 0
}

func (f *filterReader) valid() bool {
	return f.policy != nil
}

// mayContain returns whether the filter covering the data block starting at
// blockOffset may contain the given user key. Structural problems in the
// filter block degrade to "may contain" so a damaged filter never hides a
// key.
func (f *filterReader) mayContain(blockOffset uint64, key []byte) bool {
	index := int(blockOffset >> f.baseLog)
	if index >= f.num {
		return true
	}
	start := binary.LittleEndian.Uint32(f.offsets[4*index:])
	end := binary.LittleEndian.Uint32(f.offsets[4*index+4:])
	if start > end || end > uint32(len(f.data)) {
		return true
	}
	if start == end {
		// An empty filter covers no keys.
		return false
	}
	return f.policy.MayContain(f.data[start:end], key)
}
