// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package db defines the interfaces for a key/value store.
//
// A DB's basic operations (Get, Set, Delete) should be self-explanatory. Get
// will return ErrNotFound if the requested key is not in the store. Callers
// are free to ignore this error.
//
// A DB also allows for iterating over the key/value pairs in key order. If d
// is a DB, the code below prints all key/value pairs whose keys are 'greater
// than or equal to' k:
//
//	iter := d.NewIter(readOptions)
//	for iter.SeekGE(k); iter.Valid(); iter.Next() {
//		fmt.Printf("key=%q value=%q\n", iter.Key(), iter.Value())
//	}
//	return iter.Close()
//
// Other talus packages provide implementations of these interfaces. The
// Options struct in this package holds the optional parameters for these
// implementations, including a Comparer to define a 'less than' relationship
// over keys. It is always valid to pass a nil *Options, which means to use
// the default parameter values. Any zero field of a non-nil *Options also
// means to use the default value for that parameter.
package db

import (
	"github.com/cockroachdb/errors"
)

// ErrNotFound means that a get call did not find the requested key.
var ErrNotFound = errors.New("talus/db: not found")

// ErrCorruption is a marker error for any form of on-disk corruption:
// checksum mismatches, malformed blocks, truncated manifests. Concrete
// corruption errors are constructed elsewhere and marked with this value so
// that errors.Is(err, ErrCorruption) holds.
var ErrCorruption = errors.New("talus/db: corruption")

// ErrInvalidArgument is returned when a caller-supplied argument cannot be
// used: a misordered range, an unknown property name, an oversized batch.
var ErrInvalidArgument = errors.New("talus/db: invalid argument")

// ErrNotSupported is returned for operations the store recognizes but does
// not implement, such as unknown compression codecs on write.
var ErrNotSupported = errors.New("talus/db: not supported")

// ErrClosed is returned by operations on a closed DB.
var ErrClosed = errors.New("talus/db: closed")

// ErrReadOnly is returned by mutating operations on a read-only DB.
var ErrReadOnly = errors.New("talus/db: read-only")

// ErrDBAlreadyExists is returned by Open when ErrorIfDBExists is set and the
// directory already holds a store.
var ErrDBAlreadyExists = errors.New("talus/db: database already exists")

// ErrDBDoesNotExist is returned by Open when creation is disallowed and the
// directory does not hold a store.
var ErrDBDoesNotExist = errors.New("talus/db: database does not exist")

// CorruptionErrorf formats a corruption error carrying the ErrCorruption
// mark.
func CorruptionErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrCorruption)
}

// IsCorruption returns whether err denotes on-disk corruption.
func IsCorruption(err error) bool {
	return errors.Is(err, ErrCorruption)
}

// Reader is a readable key/value store.
type Reader interface {
	// Get gets the value for the given key. It returns ErrNotFound if the
	// store does not contain the key.
	//
	// The caller should not modify the contents of the returned slice, but
	// it is safe to modify the contents of the argument after Get returns.
	Get(key []byte, o *ReadOptions) (value []byte, err error)

	// NewIter returns an iterator that is unpositioned (Iterator.Valid()
	// will return false). The iterator can be positioned via a call to
	// SeekGE, SeekLT, First or Last.
	NewIter(o *ReadOptions) Iterator

	// Close closes the Reader. It may or may not close any underlying io.
	Close() error
}

// Writer is a writable key/value store.
type Writer interface {
	// Set sets the value for the given key. It overwrites any previous value
	// for that key.
	//
	// It is safe to modify the contents of the arguments after Set returns.
	Set(key, value []byte, o *WriteOptions) error

	// Delete deletes the value for the given key. Deletes are blind all will
	// succeed even if the given key does not exist.
	//
	// It is safe to modify the contents of the arguments after Delete
	// returns.
	Delete(key []byte, o *WriteOptions) error
}

// Range is a key range.
type Range struct {
	// Start is the inclusive lower bound of the range.
	Start []byte

	// Limit is the exclusive upper bound of the range.
	Limit []byte
}

// Iterator iterates over a DB's key/value pairs in key order.
//
// An iterator must be closed after use, but it is not necessary to read an
// iterator until exhaustion.
//
// An iterator is not necessarily goroutine-safe, but it is safe to use
// multiple iterators concurrently, with each in a dedicated goroutine.
//
// It is also safe to use an iterator concurrently with modifying its
// underlying DB, if that DB permits modification. The iterator does not see
// those modifications: it observes the state of the store as of its creation
// and nothing newer.
type Iterator interface {
	// SeekGE moves the iterator to the first key/value pair whose key is
	// greater than or equal to the given key.
	// It returns whether the iterator is pointing at a valid entry.
	SeekGE(key []byte) bool

	// SeekLT moves the iterator to the last key/value pair whose key is less
	// than the given key.
	// It returns whether the iterator is pointing at a valid entry.
	SeekLT(key []byte) bool

	// First moves the iterator to the first key/value pair.
	// It returns whether the iterator is pointing at a valid entry.
	First() bool

	// Last moves the iterator to the last key/value pair.
	// It returns whether the iterator is pointing at a valid entry.
	Last() bool

	// Next moves the iterator to the next key/value pair.
	// It returns whether the iterator is pointing at a valid entry.
	Next() bool

	// Prev moves the iterator to the previous key/value pair.
	// It returns whether the iterator is pointing at a valid entry.
	Prev() bool

	// Key returns the key of the current key/value pair, or nil if done.
	// The caller should not modify the contents of the returned slice, and
	// its contents may change on the next call to Next.
	Key() []byte

	// Value returns the value of the current key/value pair, or nil if done.
	// The caller should not modify the contents of the returned slice, and
	// its contents may change on the next call to Next.
	Value() []byte

	// Valid returns true if the iterator is positioned at a valid key/value
	// pair and false otherwise.
	Valid() bool

	// Error returns any accumulated error.
	Error() error

	// Close closes the iterator and returns any accumulated error. Exhausting
	// all the key/value pairs in a table is not considered to be an error.
	// It is valid to call Close multiple times. Other methods should not be
	// called after the iterator has been closed.
	Close() error
}
