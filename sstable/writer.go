// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"bufio"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/talusdb/talus/db"
	"github.com/talusdb/talus/internal/crc"
	"github.com/talusdb/talus/vfs"
)

// Writer writes a table file. Keys must be added in strictly increasing
// internal key order. Call Close to finish writing the table and to release
// the underlying file.
type Writer struct {
	writer    io.Writer
	bufWriter *bufio.Writer
	closer    io.Closer
	err       error

	cmp         db.Compare
	separator   db.Separator
	successor   db.Successor
	compression db.Compression

	blockSize          int
	blockSizeThreshold int

	// The data block currently being built and the index block, which is
	// built as data blocks are finished.
	block      blockWriter
	indexBlock blockWriter
	filter     filterWriter

	// offset is the file offset that the next block will be written at.
	offset uint64
	// prevKey is the last key added, used for order enforcement and for
	// computing index separators.
	prevKey db.InternalKey
	// pendingBH is the handle of the last finished data block. Its index
	// entry is deferred until the first key of the next block is known, so
	// that a shortened separator can be used.
	pendingBH blockHandle

	compressedBuf []byte
	tmp           [footerLen]byte
}

// NewWriter returns a new table writer for the file. Closing the writer
// closes the file.
func NewWriter(f vfs.File, o *db.Options, lo db.LevelOptions) *Writer {
	o = o.EnsureDefaults()
	lo = *lo.EnsureDefaults()
	w := &Writer{
		closer:             f,
		cmp:                o.Comparer.Compare,
		separator:          o.Comparer.Separator,
		successor:          o.Comparer.Successor,
		compression:        lo.Compression,
		blockSize:          lo.BlockSize,
		blockSizeThreshold: lo.BlockSizeThreshold,
		block: blockWriter{
			restartInterval: lo.BlockRestartInterval,
		},
		indexBlock: blockWriter{
			restartInterval: 1,
		},
		filter: filterWriter{
			policy: lo.FilterPolicy,
		},
	}
	if f == nil {
		w.err = errors.New("talus/sstable: nil file")
		return w
	}
	w.bufWriter = bufio.NewWriter(f)
	w.writer = w.bufWriter
	return w
}

// Add adds a key/value pair to the table being written.
func (w *Writer) Add(key db.InternalKey, value []byte) error {
	if w.err != nil {
		return w.err
	}
	if w.prevKey.UserKey != nil && db.InternalCompare(w.cmp, w.prevKey, key) >= 0 {
		w.err = errors.Newf("talus/sstable: Add called in non-increasing key order: %s, %s",
			w.prevKey, key)
		return w.err
	}
	w.flushPendingBH(key)
	if w.filter.policy != nil {
		w.filter.appendKey(key.UserKey)
	}
	w.block.add(key, value)
	w.prevKey.UserKey = append(w.prevKey.UserKey[:0], key.UserKey...)
	w.prevKey.Trailer = key.Trailer
	if w.block.estimatedSize() >= w.blockSize {
		bh, err := w.finishBlock(&w.block)
		if err != nil {
			w.err = err
			return w.err
		}
		w.pendingBH = bh
	}
	return nil
}

// flushPendingBH adds any pending index entry, using a separator between the
// previous block's last key and the given key. A zero key indicates that
// there is no next block, in which case the successor of the previous key is
// used.
func (w *Writer) flushPendingBH(key db.InternalKey) {
	if w.pendingBH.length == 0 {
		return
	}
	var sep db.InternalKey
	if key.UserKey == nil {
		sep = w.prevKey.Successor(w.cmp, w.successor, nil)
	} else {
		sep = w.prevKey.Separator(w.cmp, w.separator, nil, key)
	}
	n := encodeBlockHandle(w.tmp[:], w.pendingBH)
	w.indexBlock.add(sep, w.tmp[:n])
	w.pendingBH = blockHandle{}
}

// finishBlock finishes the pending block, compressing it if worthwhile, and
// writes it to the file, returning its handle.
func (w *Writer) finishBlock(block *blockWriter) (blockHandle, error) {
	b := block.finish()
	blockType, compressed := compressBlock(w.compression, b, w.compressedBuf)
	if blockType != noCompressionBlockType {
		w.compressedBuf = compressed[:cap(compressed)]
		// Keep the compressed form only if it saves enough. A block that
		// barely shrinks is stored uncompressed to spare the read path.
		if len(compressed) >= len(b)-len(b)/8 {
			blockType, compressed = noCompressionBlockType, b
		}
	} else {
		compressed = b
	}
	bh, err := w.writeRawBlock(compressed, blockType)

	block.reset()
	if block == &w.block && w.filter.policy != nil {
		w.filter.finishBlock(w.offset)
	}
	return bh, err
}

// writeRawBlock writes b to the file followed by the block trailer,
// returning the block's handle.
func (w *Writer) writeRawBlock(b []byte, blockType byte) (blockHandle, error) {
	w.tmp[0] = blockType
	checksum := crc.New(b).Update(w.tmp[:1]).Value()
	w.tmp[1] = byte(checksum)
	w.tmp[2] = byte(checksum >> 8)
	w.tmp[3] = byte(checksum >> 16)
	w.tmp[4] = byte(checksum >> 24)

	if _, err := w.writer.Write(b); err != nil {
		return blockHandle{}, err
	}
	if _, err := w.writer.Write(w.tmp[:blockTrailerLen]); err != nil {
		return blockHandle{}, err
	}
	bh := blockHandle{w.offset, uint64(len(b))}
	w.offset += uint64(len(b)) + blockTrailerLen
	return bh, nil
}

// EstimatedSize returns the approximate size of the table were it closed
// now, including the data written so far and the blocks being built. The
// data block being built is counted at its uncompressed size, so the
// estimate can drop when that block is compressed and written.
func (w *Writer) EstimatedSize() uint64 {
	return w.offset + uint64(w.block.estimatedSize()+w.indexBlock.estimatedSize()) + footerLen
}

// Close finishes writing the table: the last data block, the filter block,
// the metaindex block, the index block and the footer. It then flushes and
// closes the underlying file.
func (w *Writer) Close() (err error) {
	defer func() {
		if w.closer == nil {
			return
		}
		err1 := w.closer.Close()
		if err == nil {
			err = err1
		}
		w.closer = nil
	}()
	if w.err != nil {
		return w.err
	}

	// Finish the last data block, or force an empty data block if there were
	// no data blocks at all.
	w.flushPendingBH(db.InternalKey{})
	if w.block.nEntries > 0 || w.indexBlock.nEntries == 0 {
		bh, err := w.finishBlock(&w.block)
		if err != nil {
			w.err = err
			return w.err
		}
		w.pendingBH = bh
		w.flushPendingBH(db.InternalKey{})
	}

	// Write the filter block and the metaindex block.
	var metaindex rawBlockWriter
	metaindex.restartInterval = 1
	if w.filter.policy != nil {
		b := w.filter.finish()
		bh, err := w.writeRawBlock(b, noCompressionBlockType)
		if err != nil {
			w.err = err
			return w.err
		}
		n := encodeBlockHandle(w.tmp[:], bh)
		metaindex.add(db.InternalKey{UserKey: []byte("filter." + w.filter.policy.Name())}, w.tmp[:n])
	}
	metaindexBH, err := w.finishBlock(&metaindex.blockWriter)
	if err != nil {
		w.err = err
		return w.err
	}

	// Write the index block.
	indexBH, err := w.finishBlock(&w.indexBlock)
	if err != nil {
		w.err = err
		return w.err
	}

	// Write the table footer.
	footer := w.tmp[:footerLen]
	for i := range footer {
		footer[i] = 0
	}
	n := encodeBlockHandle(footer, metaindexBH)
	encodeBlockHandle(footer[n:], indexBH)
	copy(footer[footerLen-len(magic):], magic)
	if _, err := w.writer.Write(footer); err != nil {
		w.err = err
		return w.err
	}
	w.offset += footerLen

	if err := w.bufWriter.Flush(); err != nil {
		w.err = err
		return err
	}

	// Make any future calls to Add or Close return an error.
	w.err = errors.New("talus/sstable: writer is closed")
	return nil
}
