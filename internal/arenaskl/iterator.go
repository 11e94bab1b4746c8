/*
 * Copyright 2017 Dgraph Labs, Inc. and Contributors
 * Modifications copyright (C) 2025 The Talus Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package arenaskl

import (
	"github.com/talusdb/talus/db"
)

type splice struct {
	prev *node
	next *node
}

func (s *splice) init(prev, next *node) {
	s.prev = prev
	s.next = next
}

// Iterator is an iterator over the skiplist object. Use Skiplist.NewIter to
// construct an iterator. The current state of the iterator can be cloned by
// simply value copying the struct. All iterator methods are thread-safe.
type Iterator struct {
	list *Skiplist
	nd   *node
	key  db.InternalKey
}

// Iterator implements the db.InternalIterator interface.
var _ db.InternalIterator = (*Iterator)(nil)

// Close resets the iterator.
func (it *Iterator) Close() error {
	it.list = nil
	it.nd = nil
	return nil
}

// Error returns any accumulated error.
func (it *Iterator) Error() error {
	return nil
}

// SeekGE moves the iterator to the first entry whose key is greater than or
// equal to the given key.
func (it *Iterator) SeekGE(key db.InternalKey) {
	_, it.nd = it.seekForBaseSplice(key)
	if it.nd == it.list.tail {
		return
	}
	it.decodeKey()
}

// SeekLT moves the iterator to the last entry whose key is less than the
// given key.
func (it *Iterator) SeekLT(key db.InternalKey) {
	it.nd, _ = it.seekForBaseSplice(key)
	if it.nd == it.list.head {
		return
	}
	it.decodeKey()
}

// First seeks position at the first entry in list. Final state of iterator
// is Valid() iff list is not empty.
func (it *Iterator) First() {
	it.nd = it.list.getNext(it.list.head, 0)
	if it.nd == it.list.tail {
		return
	}
	it.decodeKey()
}

// Last seeks position at the last entry in list. Final state of iterator is
// Valid() iff list is not empty.
func (it *Iterator) Last() {
	it.nd = it.list.getPrev(it.list.tail, 0)
	if it.nd == it.list.head {
		return
	}
	it.decodeKey()
}

// Next advances to the next position. If there are no following nodes, then
// Valid() will be false after this call.
func (it *Iterator) Next() bool {
	it.nd = it.list.getNext(it.nd, 0)
	if it.nd == it.list.tail {
		return false
	}
	it.decodeKey()
	return true
}

// Prev moves to the previous position. If there are no previous nodes, then
// Valid() will be false after this call.
func (it *Iterator) Prev() bool {
	it.nd = it.list.getPrev(it.nd, 0)
	if it.nd == it.list.head {
		return false
	}
	it.decodeKey()
	return true
}

// Key returns the key at the current position.
func (it *Iterator) Key() db.InternalKey {
	return it.key
}

// Value returns the value at the current position.
func (it *Iterator) Value() []byte {
	return it.nd.getValue(it.list.arena)
}

// Valid returns true iff the iterator is positioned at a valid node.
func (it *Iterator) Valid() bool {
	return it.nd != nil && it.nd != it.list.head && it.nd != it.list.tail
}

func (it *Iterator) decodeKey() {
	it.key.UserKey = it.list.arena.getBytes(it.nd.keyOffset, it.nd.keySize)
	it.key.Trailer = it.nd.keyTrailer
}

func (it *Iterator) seekForBaseSplice(key db.InternalKey) (prev, next *node) {
	prev = it.list.head
	for level := int(it.list.Height() - 1); level >= 0; level-- {
		prev, next, _ = it.list.findSpliceForLevel(key, level, prev)
	}
	return
}
