// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/talusdb/talus/db"
	"github.com/talusdb/talus/internal/cache"
	"github.com/talusdb/talus/internal/crc"
	"github.com/talusdb/talus/vfs"
)

// Reader reads a table file. A Reader is safe for concurrent use by
// multiple goroutines.
type Reader struct {
	file    vfs.File
	fileNum uint64
	err     error

	cmp    db.Comparer
	cache  *cache.Cache
	index  block
	filter filterReader
	size   int64

	// verifyChecksums is the table-wide default. Individual reads can also
	// ask for verification via db.ReadOptions; a read verifies if either
	// asks for it.
	verifyChecksums bool
}

// NewReader returns a new table reader for the file. Closing the reader
// closes the file.
func NewReader(f vfs.File, fileNum uint64, o *db.Options) *Reader {
	o = o.EnsureDefaults()
	r := &Reader{
		file:            f,
		fileNum:         fileNum,
		cache:           o.Cache,
		cmp:             *o.Comparer,
		verifyChecksums: o.ParanoidChecks,
	}
	if f == nil {
		r.err = errors.New("talus/sstable: nil file")
		return r
	}
	stat, err := f.Stat()
	if err != nil {
		r.err = errors.Wrap(err, "talus/sstable: invalid table")
		return r
	}
	r.size = stat.Size()
	if err := r.readFooter(r.size, o.Level(0).FilterPolicy); err != nil {
		r.err = err
	}
	return r
}

// ApproximateOffset returns the approximate file offset at which the data
// for key begins. Keys before every table entry report offset zero, keys
// after every entry report the table size.
func (r *Reader) ApproximateOffset(key db.InternalKey) (uint64, error) {
	if r.err != nil {
		return 0, r.err
	}
	var index blockIter
	if err := index.init(r.cmp.Compare, r.index); err != nil {
		return 0, err
	}
	// The index maps block separators to block handles. The block holding
	// key, if any, is the first one whose separator is at or after key.
	index.SeekGE(key)
	if !index.Valid() {
		if err := index.Error(); err != nil {
			return 0, err
		}
		return uint64(r.size), nil
	}
	bh, n := decodeBlockHandle(index.Value())
	if n == 0 || n != len(index.Value()) {
		return 0, db.CorruptionErrorf("talus/sstable: invalid table (bad index entry)")
	}
	return bh.offset, nil
}

// Close releases the reader's resources and closes the underlying file. It
// is not safe to use the reader or any iterators after calling Close.
func (r *Reader) Close() error {
	if r.err != nil {
		if r.file != nil {
			r.file.Close()
			r.file = nil
		}
		return r.err
	}
	if r.file != nil {
		r.err = r.file.Close()
		r.file = nil
		if r.err != nil {
			return r.err
		}
	}
	// Make any future calls to Get, NewIter, and Close return an error.
	r.err = errors.New("talus/sstable: reader is closed")
	return nil
}

// readFooter parses the table footer, loads the metaindex and index blocks
// and initializes the filter.
func (r *Reader) readFooter(size int64, policy db.FilterPolicy) error {
	if size < footerLen {
		return db.CorruptionErrorf("talus/sstable: invalid table (file size is too small)")
	}
	var footer [footerLen]byte
	if _, err := r.file.ReadAt(footer[:], size-footerLen); err != nil {
		return errors.Wrap(err, "talus/sstable: invalid table")
	}
	if string(footer[footerLen-len(magic):]) != magic {
		return db.CorruptionErrorf("talus/sstable: invalid table (bad magic number)")
	}

	metaindexBH, n := decodeBlockHandle(footer[:])
	if n == 0 {
		return db.CorruptionErrorf("talus/sstable: invalid table (bad metaindex block handle)")
	}
	indexBH, m := decodeBlockHandle(footer[n:])
	if m == 0 {
		return db.CorruptionErrorf("talus/sstable: invalid table (bad index block handle)")
	}

	index, err := r.readBlock(indexBH, true, false)
	if err != nil {
		return err
	}
	r.index = index

	metaindex, err := r.readBlock(metaindexBH, true, false)
	if err != nil {
		return err
	}
	meta := map[string]blockHandle{}
	var i rawBlockIter
	if err := i.init(nil, metaindex); err != nil {
		return err
	}
	for i.First(); i.Valid(); i.Next() {
		bh, n := decodeBlockHandle(i.Value())
		if n == 0 {
			return db.CorruptionErrorf("talus/sstable: invalid table (bad metaindex entry)")
		}
		meta[string(i.Key().UserKey)] = bh
	}
	if err := i.Close(); err != nil {
		return err
	}

	if policy != nil {
		if bh, ok := meta["filter."+policy.Name()]; ok {
			b, err := r.readBlock(bh, true, false)
			if err != nil {
				return err
			}
			if !r.filter.init(b, policy) {
				return db.CorruptionErrorf("talus/sstable: invalid table (bad filter block)")
			}
		}
	}
	return nil
}

// readBlock reads and decompresses a block from disk into memory,
// consulting and populating the block cache.
func (r *Reader) readBlock(bh blockHandle, verify, fillCache bool) (block, error) {
	if r.cache != nil {
		if b := r.cache.Get(r.fileNum, bh.offset); b != nil {
			return b, nil
		}
	}
	b := make([]byte, bh.length+blockTrailerLen)
	if _, err := r.file.ReadAt(b, int64(bh.offset)); err != nil {
		return nil, err
	}
	if verify {
		checksum0 := binary.LittleEndian.Uint32(b[bh.length+1:])
		checksum1 := crc.New(b[:bh.length+1]).Value()
		if checksum0 != checksum1 {
			return nil, db.CorruptionErrorf("talus/sstable: invalid table (checksum mismatch)")
		}
	}
	blockType := b[bh.length]
	b, err := decompressBlock(blockType, b[:bh.length:bh.length])
	if err != nil {
		return nil, err
	}
	if r.cache != nil && fillCache {
		r.cache.Set(r.fileNum, bh.offset, b)
	}
	return b, nil
}

// NewIter returns an iterator for the table's key/value pairs. The iterator
// is unpositioned; position it with a call to SeekGE, SeekLT, First or
// Last.
func (r *Reader) NewIter(o *db.ReadOptions) db.InternalIterator {
	if r.err != nil {
		return &errorIter{err: r.err}
	}
	i := &tableIter{
		reader:    r,
		verify:    r.verifyChecksums || o.GetVerifyChecksums(),
		fillCache: o.GetFillCache(),
	}
	if err := i.index.init(r.cmp.Compare, r.index); err != nil {
		return &errorIter{err: err}
	}
	return i
}

// get returns the first entry at or after key within the data block that the
// index selects for key, consulting the filter block first so that most
// lookups for absent keys never read a data block. It returns ErrNotFound
// when the filter rules the key out or that block holds no entry at or after
// key; later blocks are not searched.
func (r *Reader) get(key db.InternalKey, o *db.ReadOptions) (ikey db.InternalKey, value []byte, err error) {
	if r.err != nil {
		return db.InternalKey{}, nil, r.err
	}
	var index blockIter
	if err := index.init(r.cmp.Compare, r.index); err != nil {
		return db.InternalKey{}, nil, err
	}
	index.SeekGE(key)
	if !index.Valid() {
		return db.InternalKey{}, nil, firstError(index.Error(), db.ErrNotFound)
	}
	bh, n := decodeBlockHandle(index.Value())
	if n == 0 {
		return db.InternalKey{}, nil, db.CorruptionErrorf("talus/sstable: invalid table (bad index entry)")
	}
	if r.filter.valid() && !r.filter.mayContain(bh.offset, key.UserKey) {
		return db.InternalKey{}, nil, db.ErrNotFound
	}

	b, err := r.readBlock(bh, r.verifyChecksums || o.GetVerifyChecksums(), o.GetFillCache())
	if err != nil {
		return db.InternalKey{}, nil, err
	}
	var data blockIter
	if err := data.init(r.cmp.Compare, b); err != nil {
		return db.InternalKey{}, nil, err
	}
	data.SeekGE(key)
	if !data.Valid() {
		return db.InternalKey{}, nil, firstError(data.Error(), db.ErrNotFound)
	}
	return data.Key(), data.Value(), nil
}

func firstError(err0, err1 error) error {
	if err0 != nil {
		return err0
	}
	return err1
}

// tableIter is an iterator over an entire table of data. It is a two-level
// iterator: to seek for a given key, it first looks in the index for the
// block that contains that key, and then looks inside that block.
type tableIter struct {
	reader    *Reader
	index     blockIter
	data      blockIter
	dataValid bool
	verify    bool
	fillCache bool
	err       error
}

var _ db.InternalIterator = (*tableIter)(nil)

// loadBlock loads the data block that the index iterator is positioned at.
func (i *tableIter) loadBlock() bool {
	if !i.index.Valid() {
		i.dataValid = false
		return false
	}
	bh, n := decodeBlockHandle(i.index.Value())
	if n == 0 {
		i.err = db.CorruptionErrorf("talus/sstable: invalid table (bad index entry)")
		i.dataValid = false
		return false
	}
	b, err := i.reader.readBlock(bh, i.verify, i.fillCache)
	if err != nil {
		i.err = err
		i.dataValid = false
		return false
	}
	if err := i.data.init(i.index.cmp, b); err != nil {
		i.err = err
		i.dataValid = false
		return false
	}
	i.dataValid = true
	return true
}

// SeekGE moves the iterator to the first entry whose key is greater than or
// equal to the given key.
func (i *tableIter) SeekGE(key db.InternalKey) {
	if i.err != nil {
		return
	}
	// The index keys are separators that are greater than or equal to the
	// largest key in the block they point at, so the candidate block is the
	// first one whose separator is at or after the sought key.
	i.index.SeekGE(key)
	if !i.loadBlock() {
		return
	}
	i.data.SeekGE(key)
	for !i.data.Valid() {
		// The candidate block may be exhausted if the sought key falls in
		// the gap before the next block's first key.
		if !i.index.Next() || !i.loadBlock() {
			return
		}
		i.data.First()
	}
}

// SeekLT moves the iterator to the last entry whose key is less than the
// given key.
func (i *tableIter) SeekLT(key db.InternalKey) {
	if i.err != nil {
		return
	}
	i.index.SeekGE(key)
	if !i.index.Valid() {
		i.index.Last()
	}
	if !i.loadBlock() {
		return
	}
	i.data.SeekLT(key)
	for !i.data.Valid() {
		if !i.index.Prev() || !i.loadBlock() {
			return
		}
		i.data.Last()
	}
}

// First moves the iterator to the first entry.
func (i *tableIter) First() {
	if i.err != nil {
		return
	}
	i.index.First()
	if !i.loadBlock() {
		return
	}
	i.data.First()
	for !i.data.Valid() {
		if !i.index.Next() || !i.loadBlock() {
			return
		}
		i.data.First()
	}
}

// Last moves the iterator to the last entry.
func (i *tableIter) Last() {
	if i.err != nil {
		return
	}
	i.index.Last()
	if !i.loadBlock() {
		return
	}
	i.data.Last()
	for !i.data.Valid() {
		if !i.index.Prev() || !i.loadBlock() {
			return
		}
		i.data.Last()
	}
}

// Next moves the iterator to the next entry, returning whether the iterator
// remains valid.
func (i *tableIter) Next() bool {
	if i.err != nil || !i.dataValid {
		return false
	}
	if i.data.Next() {
		return true
	}
	for {
		if !i.index.Next() || !i.loadBlock() {
			return false
		}
		if i.data.First(); i.data.Valid() {
			return true
		}
	}
}

// Prev moves the iterator to the previous entry, returning whether the
// iterator remains valid.
func (i *tableIter) Prev() bool {
	if i.err != nil || !i.dataValid {
		return false
	}
	if i.data.Prev() {
		return true
	}
	for {
		if !i.index.Prev() || !i.loadBlock() {
			return false
		}
		if i.data.Last(); i.data.Valid() {
			return true
		}
	}
}

// Key returns the internal key at the current position.
func (i *tableIter) Key() db.InternalKey {
	return i.data.Key()
}

// Value returns the value at the current position.
func (i *tableIter) Value() []byte {
	return i.data.Value()
}

// Valid returns whether the iterator is positioned at an entry.
func (i *tableIter) Valid() bool {
	return i.dataValid && i.data.Valid()
}

// Error returns any accumulated error.
func (i *tableIter) Error() error {
	if i.err != nil {
		return i.err
	}
	if err := i.index.Error(); err != nil {
		return err
	}
	return i.data.Error()
}

// Close implements db.InternalIterator.
func (i *tableIter) Close() error {
	err := i.Error()
	i.dataValid = false
	return err
}

// errorIter is an iterator that is always in an error state. It is returned
// when an iterator cannot be constructed.
type errorIter struct {
	err error
}

var _ db.InternalIterator = (*errorIter)(nil)

func (i *errorIter) SeekGE(key db.InternalKey) {}
func (i *errorIter) SeekLT(key db.InternalKey) {}
func (i *errorIter) First()                    {}
func (i *errorIter) Last()                     {}
func (i *errorIter) Next() bool                { return false }
func (i *errorIter) Prev() bool                { return false }
func (i *errorIter) Key() db.InternalKey       { return db.InternalKey{} }
func (i *errorIter) Value() []byte             { return nil }
func (i *errorIter) Valid() bool               { return false }
func (i *errorIter) Error() error              { return i.err }
func (i *errorIter) Close() error              { return i.err }
