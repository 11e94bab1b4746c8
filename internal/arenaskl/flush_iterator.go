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

import "github.com/talusdb/talus/db"

// flushIterator is an iterator over the skiplist object. Use
// Skiplist.NewFlushIter to construct an iterator. Unlike Iterator,
// flushIterator only supports forward iteration, which is all a table flush
// needs.
type flushIterator struct {
	Iterator
}

var _ db.InternalIterator = (*flushIterator)(nil)

// NewFlushIter returns a new forward-only iterator positioned before the
// first entry.
func (s *Skiplist) NewFlushIter() db.InternalIterator {
	return &flushIterator{Iterator{list: s, nd: s.head}}
}

func (it *flushIterator) SeekGE(key db.InternalKey) {
	panic("talus: SeekGE unimplemented")
}

func (it *flushIterator) SeekLT(key db.InternalKey) {
	panic("talus: SeekLT unimplemented")
}

func (it *flushIterator) Last() {
	panic("talus: Last unimplemented")
}

func (it *flushIterator) Prev() bool {
	panic("talus: Prev unimplemented")
}
