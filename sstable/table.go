// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package sstable implements readers and writers of talus tables.
//
// Tables are either opened for reading or created for writing but not both.
//
// A reader can create any number of iterators, which yield key/value pairs in
// ascending internal key order. A table consists of a sequence of data
// blocks, an optional filter block, a metaindex block, an index block and a
// fixed size footer:
//
//	<start_of_file>
//	[data block 0]
//	[data block 1]
//	...
//	[data block N-1]
//	[filter block]    (optional)
//	[metaindex block]
//	[index block]
//	[footer]
//	<end_of_file>
//
// Each block consists of some data and a 5 byte trailer: a 1 byte block type
// and a 4 byte checksum of the (possibly compressed) data plus the type
// byte. The block type gives the per-block compression used; each block is
// compressed independently. The checksum is a CRC-32 Castagnoli with the
// storage mask applied (see internal/crc).
//
// The decompressed block data consists of a sequence of key/value entries
// followed by a restart point table. Each key is stored as the difference
// from the preceding key in the block, except at restart points where the
// whole key is stored verbatim:
//
//	shared key length   varint
//	unshared key length varint
//	value length        varint
//	unshared key        bytes
//	value               bytes
//
// The restart point table is a sequence of absolute entry offsets (uint32)
// followed by the number of restart points (uint32). Every restart interval
// entries, the shared key length is zero and the entry's offset is recorded
// in the table, so that a seek can binary search the restarts and then scan
// linearly within a restart window.
//
// The index block's entries map separator keys to the block handles of the
// data blocks; each separator is greater than or equal to the largest key of
// the block it points at and less than the first key of the next block. The
// index block uses a restart interval of 1 so that every entry is a restart
// point.
//
// The metaindex block maps meta block names to block handles. Its keys are
// raw byte strings, not internal keys. Currently the only meta block is the
// filter block, named "filter." followed by the filter policy's name.
//
// The filter block holds one filter for every 2 KiB window of data block
// offsets, so that a point lookup can rule out a data block without reading
// it. The filter block is not formatted as a key/value block.
//
// The footer is 48 bytes: the block handles of the metaindex and index
// blocks (varint encoded, zero padded), then an 8 byte magic string.
package sstable

import (
	"encoding/binary"
)

const (
	blockTrailerLen   = 5
	blockHandleMaxLen = 10 + 10
	footerLen         = 2*blockHandleMaxLen + 8

	magic = "\x57\xfb\x80\x8b\x24\x75\x47\xdb"

	// The block type gives the per-block compression format. These constants
	// are part of the file format and should not be changed.
	noCompressionBlockType      = 0
	snappyCompressionBlockType  = 1
	zlibRawCompressionBlockType = 2
	zstdCompressionBlockType    = 3
)

// blockHandle is the file offset and length of a block.
type blockHandle struct {
	offset, length uint64
}

// decodeBlockHandle returns the block handle encoded at the start of src, as
// well as the number of bytes it occupies. It returns zero if given invalid
// input.
func decodeBlockHandle(src []byte) (blockHandle, int) {
	offset, n := binary.Uvarint(src)
	length, m := binary.Uvarint(src[n:])
	if n == 0 || m == 0 {
		return blockHandle{}, 0
	}
	return blockHandle{offset, length}, n + m
}

func encodeBlockHandle(dst []byte, b blockHandle) int {
	n := binary.PutUvarint(dst, b.offset)
	m := binary.PutUvarint(dst[n:], b.length)
	return n + m
}

// block is the decompressed data of a single block.
type block []byte
