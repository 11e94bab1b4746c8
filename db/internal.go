// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package db

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// InternalKeyKind enumerates the kind of key: a deletion tombstone or a set
// value.
type InternalKeyKind uint8

// These constants are part of the file format, and should not be changed.
const (
	InternalKeyKindDelete InternalKeyKind = 0
	InternalKeyKindSet    InternalKeyKind = 1

	// This maximum value isn't part of the file format. It's unlikely, but
	// future extensions may increase this value.
	//
	// When constructing an internal key to pass to DB.Get, internalKeyComparer
	// sorts decreasing by kind (after sorting increasing by user key and
	// decreasing by sequence number). Thus, use InternalKeyKindMax, which
	// sorts 'less than or equal to' any other valid internalKeyKind, when
	// searching for any kind of internal key formed by a certain user key and
	// seqNum.
	InternalKeyKindMax InternalKeyKind = 23

	// A marker for an invalid key.
	InternalKeyKindInvalid InternalKeyKind = 255

	// InternalKeySeqNumMax is the largest valid sequence number.
	InternalKeySeqNumMax = uint64(1<<56 - 1)
)

func (k InternalKeyKind) String() string {
	switch k {
	case InternalKeyKindDelete:
		return "DEL"
	case InternalKeyKindSet:
		return "SET"
	default:
		return fmt.Sprintf("UNKNOWN:%d", uint8(k))
	}
}

// InternalKey is a key used for the in-memory and on-disk partial DBs that
// make up a talus DB.
//
// It consists of the user key (as given by the code that uses package talus)
// followed by 8-bytes of metadata:
//   - 1 byte for the type of internal key: delete or set,
//   - 7 bytes for a uint56 sequence number, in little-endian format.
type InternalKey struct {
	UserKey []byte
	Trailer uint64
}

// InternalKeyTrailer packs a sequence number and kind into the 8-byte
// trailer encoding.
func InternalKeyTrailer(seqNum uint64, kind InternalKeyKind) uint64 {
	return (seqNum << 8) | uint64(kind)
}

// MakeInternalKey constructs an internal key from a specified user key,
// sequence number and kind.
func MakeInternalKey(userKey []byte, seqNum uint64, kind InternalKeyKind) InternalKey {
	return InternalKey{
		UserKey: userKey,
		Trailer: InternalKeyTrailer(seqNum, kind),
	}
}

// MakeSearchKey constructs an internal key that is appropriate for searching
// for a the specified user key. The search key sorts before any other
// internal key with the same user key.
func MakeSearchKey(userKey []byte) InternalKey {
	return MakeInternalKey(userKey, InternalKeySeqNumMax, InternalKeyKindMax)
}

// DecodeInternalKey decodes an encoded internal key. Keys shorter than the
// 8-byte trailer decode as invalid.
func DecodeInternalKey(encodedKey []byte) InternalKey {
	n := len(encodedKey) - 8
	if n < 0 {
		return MakeInternalKey(encodedKey, 0, InternalKeyKindInvalid)
	}
	return InternalKey{
		UserKey: encodedKey[:n:n],
		Trailer: binary.LittleEndian.Uint64(encodedKey[n:]),
	}
}

// InternalCompare compares two internal keys using the specified comparison
// function. For equal user keys, internal keys compare in descending
// sequence number order. For equal user keys and sequence numbers, internal
// keys compare in descending kind order. Invalid internal keys sort before
// all valid keys.
func InternalCompare(userCmp Compare, a, b InternalKey) int {
	if !a.Valid() {
		if b.Valid() {
			return -1
		}
		return bytes.Compare(a.UserKey, b.UserKey)
	}
	if !b.Valid() {
		return 1
	}
	if x := userCmp(a.UserKey, b.UserKey); x != 0 {
		return x
	}
	if a.Trailer < b.Trailer {
		return 1
	}
	if a.Trailer > b.Trailer {
		return -1
	}
	return 0
}

// Encode encodes the receiver into the buffer. The buffer must be large
// enough to hold the encoded data. See InternalKey.Size().
func (k InternalKey) Encode(buf []byte) {
	i := copy(buf, k.UserKey)
	binary.LittleEndian.PutUint64(buf[i:], k.Trailer)
}

// EncodeTrailer returns the trailer encoded to an 8-byte array.
func (k InternalKey) EncodeTrailer() [8]byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], k.Trailer)
	return buf
}

// Size returns the encoded size of the key.
func (k InternalKey) Size() int {
	return len(k.UserKey) + 8
}

// SeqNum returns the sequence number component of the key.
func (k InternalKey) SeqNum() uint64 {
	return k.Trailer >> 8
}

// Kind returns the kind component of the key.
func (k InternalKey) Kind() InternalKeyKind {
	return InternalKeyKind(k.Trailer & 0xff)
}

// Valid returns true if the key has a valid kind.
func (k InternalKey) Valid() bool {
	return k.Kind() <= InternalKeyKindMax
}

// Separator returns a separator key k such that the receiver <= k < other,
// with a preference for the shortest such key. The buf parameter may be used
// as storage for the returned key's user key.
func (k InternalKey) Separator(cmp Compare, sep Separator, buf []byte, other InternalKey) InternalKey {
	buf = sep(buf, k.UserKey, other.UserKey)
	if len(buf) <= len(k.UserKey) && cmp(k.UserKey, buf) < 0 {
		// The separator user key is physically shorter than the receiver's,
		// but logically after it. Tack on the max sequence number so that the
		// separator sorts before any key with the same user key.
		return MakeInternalKey(buf, InternalKeySeqNumMax, InternalKeyKindMax)
	}
	return k
}

// Successor returns a key k such that the receiver <= k, with a preference
// for the shortest such key.
func (k InternalKey) Successor(cmp Compare, succ Successor, buf []byte) InternalKey {
	buf = succ(buf, k.UserKey)
	if len(buf) <= len(k.UserKey) && cmp(k.UserKey, buf) < 0 {
		return MakeInternalKey(buf, InternalKeySeqNumMax, InternalKeyKindMax)
	}
	return k
}

// Clone clones the storage for the UserKey component of the key.
func (k InternalKey) Clone() InternalKey {
	return InternalKey{
		UserKey: append([]byte(nil), k.UserKey...),
		Trailer: k.Trailer,
	}
}

// String returns a string representation of the key.
func (k InternalKey) String() string {
	return fmt.Sprintf("%s#%d,%s", k.UserKey, k.SeqNum(), k.Kind())
}

// InternalIterator iterates over a DB's key/value pairs in internal key
// order, exposing both the user key and the trailer to the caller. The
// deletion tombstones and multiple versions of a user key that an Iterator
// hides are all visible through an InternalIterator.
//
// An InternalIterator is positioned by SeekGE, SeekLT, First or Last, after
// which Valid reports whether the iterator is at an entry. Callers must
// Close an iterator when done, but it is not necessary to read an iterator
// until exhaustion.
type InternalIterator interface {
	// SeekGE moves the iterator to the first key/value pair whose key is
	// greater than or equal to the given key.
	SeekGE(key InternalKey)

	// SeekLT moves the iterator to the last key/value pair whose key is less
	// than the given key.
	SeekLT(key InternalKey)

	// First moves the iterator to the first key/value pair.
	First()

	// Last moves the iterator to the last key/value pair.
	Last()

	// Next moves the iterator to the next key/value pair.
	// It returns whether the iterator is pointing at a valid entry.
	Next() bool

	// Prev moves the iterator to the previous key/value pair.
	// It returns whether the iterator is pointing at a valid entry.
	Prev() bool

	// Key returns the internal key of the current key/value pair. The
	// UserKey slice must not be modified and may change on the next move.
	Key() InternalKey

	// Value returns the value of the current key/value pair, or nil if done.
	// The caller should not modify the contents of the returned slice, and
	// its contents may change on the next call to Next.
	Value() []byte

	// Valid returns true if the iterator is positioned at a valid key/value
	// pair and false otherwise.
	Valid() bool

	// Error returns any accumulated error.
	Error() error

	// Close closes the iterator and returns any accumulated error.
	// It is valid to call Close multiple times. Other methods should not be
	// called after the iterator has been closed.
	Close() error
}
