// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package talus

import (
	"encoding/binary"

	"github.com/talusdb/talus/db"
)

const (
	batchHeaderLen    = 12
	invalidBatchCount = 1<<32 - 1
)

// Batch is a sequence of Sets and Deletes that are applied atomically.
type Batch struct {
	// data is the wire format of a batch's log entry:
	//   - 8 bytes for a sequence number of the first batch element,
	//     or zeroes if the batch has not yet been applied,
	//   - 4 bytes for the count: the number of elements in the batch,
	//     or "\xff\xff\xff\xff" if the batch is invalid,
	//   - count elements, being:
	//     - one byte for the kind: delete (0) or set (1),
	//     - the varint-string user key,
	//     - the varint-string value (if kind == set).
	// The sequence number and count are stored in little-endian order.
	data []byte

	// memTableSize is the pessimistic number of arena bytes the batch will
	// consume when applied to a memtable.
	memTableSize uint32

	// applied and published are used by the commit pipeline to publish
	// batches in commit order.
	applied   bool
	published bool
}

func (b *Batch) init(cap int) {
	n := 256
	for n < cap {
		n *= 2
	}
	b.data = make([]byte, batchHeaderLen, n)
}

// Reset clears the underlying byte slice for reuse.
func (b *Batch) Reset() {
	if b.data != nil {
		b.data = b.data[:batchHeaderLen]
		for i := range b.data {
			b.data[i] = 0
		}
	}
	b.memTableSize = 0
	b.applied = false
	b.published = false
}

// Set adds an action to the batch that sets the key to map to the value.
func (b *Batch) Set(key, value []byte) {
	if len(b.data) == 0 {
		b.init(len(key) + len(value) + binary.MaxVarintLen64*2 + batchHeaderLen + 1)
	}
	if b.increment() {
		b.data = append(b.data, byte(db.InternalKeyKindSet))
		b.appendStr(key)
		b.appendStr(value)
		b.memTableSize += memTableEntrySize(len(key), len(value))
	}
}

// Delete adds an action to the batch that deletes the entry for key.
func (b *Batch) Delete(key []byte) {
	if len(b.data) == 0 {
		b.init(len(key) + binary.MaxVarintLen64 + batchHeaderLen + 1)
	}
	if b.increment() {
		b.data = append(b.data, byte(db.InternalKeyKindDelete))
		b.appendStr(key)
		b.memTableSize += memTableEntrySize(len(key), 0)
	}
}

// Empty returns true if the batch contains no operations.
func (b *Batch) Empty() bool {
	return len(b.data) <= batchHeaderLen
}

// Repr returns the underlying batch representation. It is not a copy and
// must not be modified. It is only valid until the next batch operation.
func (b *Batch) Repr() []byte {
	return b.data
}

// append adds the other batch's operations to the receiver, for group
// commit. The other batch is unmodified.
func (b *Batch) append(other *Batch) {
	if len(b.data) == 0 {
		b.init(len(other.data))
	}
	if other.Empty() {
		return
	}
	b.data = append(b.data, other.data[batchHeaderLen:]...)
	b.memTableSize += other.memTableSize
	count := uint64(b.count()) + uint64(other.count())
	if count > invalidBatchCount {
		count = invalidBatchCount
	}
	b.setCount(uint32(count))
}

func (b *Batch) appendStr(s []byte) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], uint64(len(s)))
	b.data = append(b.data, buf[:n]...)
	b.data = append(b.data, s...)
}

func (b *Batch) seqNum() uint64 {
	return binary.LittleEndian.Uint64(b.data[:8])
}

func (b *Batch) setSeqNum(seqNum uint64) {
	binary.LittleEndian.PutUint64(b.data[:8], seqNum)
}

func (b *Batch) count() uint32 {
	return binary.LittleEndian.Uint32(b.data[8:12])
}

func (b *Batch) setCount(v uint32) {
	binary.LittleEndian.PutUint32(b.data[8:12], v)
}

// increment adds one to the batch count, saturating at invalidBatchCount.
// It reports whether the batch is still valid.
func (b *Batch) increment() bool {
	count := b.count()
	if count == invalidBatchCount {
		return false
	}
	b.setCount(count + 1)
	return true
}

// refreshMemTableSize recomputes the arena bytes the batch needs. Batches
// decoded from a log record carry no size.
func (b *Batch) refreshMemTableSize() {
	b.memTableSize = 0
	for iter := b.iter(); ; {
		_, ukey, value, ok := iter.next()
		if !ok {
			break
		}
		b.memTableSize += memTableEntrySize(len(ukey), len(value))
	}
}

func (b *Batch) iter() batchIter {
	return b.data[batchHeaderLen:]
}

type batchIter []byte

// next returns the next operation in this batch.
// The final return value is false if the batch is corrupt.
func (t *batchIter) next() (kind db.InternalKeyKind, ukey []byte, value []byte, ok bool) {
	p := *t
	if len(p) == 0 {
		return 0, nil, nil, false
	}
	kind, *t = db.InternalKeyKind(p[0]), p[1:]
	if kind > db.InternalKeyKindMax {
		return 0, nil, nil, false
	}
	ukey, ok = t.nextStr()
	if !ok {
		return 0, nil, nil, false
	}
	if kind != db.InternalKeyKindDelete {
		value, ok = t.nextStr()
		if !ok {
			return 0, nil, nil, false
		}
	}
	return kind, ukey, value, true
}

func (t *batchIter) nextStr() (s []byte, ok bool) {
	p := *t
	u, numBytes := binary.Uvarint(p)
	if numBytes <= 0 {
		return nil, false
	}
	p = p[numBytes:]
	if u > uint64(len(p)) {
		return nil, false
	}
	s, *t = p[:u], p[u:]
	return s, true
}
