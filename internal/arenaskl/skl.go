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

/*
Package arenaskl implements a fast, non-allocating skiplist over a fixed
size arena.

Adapted from Andy Kimball's arenaskl, which in turn adapted Dgraph's
skiplist:

Key differences from the Dgraph version:
- No support for deletion; deletion is expressed as a tombstone entry at a
  higher layer.
- Keys carry an 8-byte trailer holding a sequence number and kind; entries
  with equal user keys order by descending trailer.
- Maintains prev links so reverse iteration costs the same as forward
  iteration.
*/
package arenaskl

import (
	"math"
	"math/rand"
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/talusdb/talus/db"
)

const (
	maxHeight = 12
	pValue    = 0.25
)

// ErrRecordExists indicates that an entry with the specified internal key
// already exists in the skiplist. Duplicate entries are not directly
// supported and can be handled by using a distinct sequence number for every
// entry.
var ErrRecordExists = errors.New("record with this key already exists")

var probabilities [maxHeight]uint32

func init() {
	// Precompute the skiplist probabilities so that only a single random
	// number needs to be generated per insert.
	p := 1.0
	for i := 0; i < maxHeight; i++ {
		probabilities[i] = uint32(float64(math.MaxUint32) * p)
		p *= pValue
	}
}

// Skiplist is a fast, concurrent skiplist implementation that supports
// forward and backward iteration. Keys and values are immutable once added
// to the skiplist and deletion is not supported. Instead, higher-level code
// is expected to add new entries that shadow existing entries and perform
// deletion via tombstones. It is up to the user to process these shadow
// entries and tombstones appropriately during retrieval.
type Skiplist struct {
	arena  *Arena
	cmp    db.Compare
	head   *node
	tail   *node
	height uint32 // Current height. 1 <= height <= maxHeight. CAS.

	// If set to true by tests, then extra delays are added to make it
	// easier to detect unusual race conditions.
	testing bool
}

// Inserter caches the splice computed by the last insert. Inserts performed
// in sorted order through the same Inserter reuse the splice instead of
// searching from the top of the list.
type Inserter struct {
	spl    [maxHeight]splice
	height uint32
}

// Add inserts a new key into the skiplist using the inserter's cached
// splice, which amortizes the cost of repeated inserts in sorted order.
func (ins *Inserter) Add(list *Skiplist, key db.InternalKey, value []byte) error {
	return list.addInternal(key, value, ins)
}

// NewSkiplist constructs and initializes a new, empty skiplist. All the
// usable range of the arena is used by the skiplist.
func NewSkiplist(arena *Arena, cmp db.Compare) *Skiplist {
	skl := &Skiplist{}
	skl.Reset(arena, cmp)
	return skl
}

// Reset the skiplist to empty and re-initialize.
func (s *Skiplist) Reset(arena *Arena, cmp db.Compare) {
	// Allocate head and tail nodes.
	head, err := newRawNode(arena, maxHeight, 0, 0)
	if err != nil {
		panic("arenaskl: arena too small, can't create head node")
	}
	head.keyOffset = 0

	tail, err := newRawNode(arena, maxHeight, 0, 0)
	if err != nil {
		panic("arenaskl: arena too small, can't create tail node")
	}
	tail.keyOffset = 0

	// Link all head/tail levels together.
	headOffset := arena.getPointerOffset(unsafe.Pointer(head))
	tailOffset := arena.getPointerOffset(unsafe.Pointer(tail))
	for i := 0; i < maxHeight; i++ {
		head.tower[i].next = tailOffset
		tail.tower[i].prev = headOffset
	}

	*s = Skiplist{
		arena:  arena,
		cmp:    cmp,
		head:   head,
		tail:   tail,
		height: 1,
	}
}

// Height returns the height of the highest tower within any of the nodes in
// the skiplist.
func (s *Skiplist) Height() uint32 {
	return atomic.LoadUint32(&s.height)
}

// Arena returns the arena backing this skiplist.
func (s *Skiplist) Arena() *Arena {
	return s.arena
}

// Size returns the number of bytes that have allocated from the arena.
func (s *Skiplist) Size() uint32 {
	return s.arena.Size()
}

// Add adds a new key if it does not yet exist. If the key already exists,
// then Add returns ErrRecordExists. If there isn't enough room in the arena,
// then Add returns ErrArenaFull.
func (s *Skiplist) Add(key db.InternalKey, value []byte) error {
	var ins Inserter
	return s.addInternal(key, value, &ins)
}

func (s *Skiplist) addInternal(key db.InternalKey, value []byte, ins *Inserter) error {
	if s.findSplice(key, ins) {
		// Found a node with an equal internal key.
		return ErrRecordExists
	}

	nd, height, err := s.newNode(key, value)
	if err != nil {
		return err
	}

	ndOffset := s.arena.getPointerOffset(unsafe.Pointer(nd))

	// We always insert from the base level and up. After you add a node in
	// base level, we cannot create a node in the level above because it
	// would have discovered the node in the base level.
	var found bool
	var invalidateSplice bool
	for i := 0; i < int(height); i++ {
		prev := ins.spl[i].prev
		next := ins.spl[i].next

		if prev == nil {
			// New node increased the height of the skiplist, so assume that
			// the new level has not yet been populated.
			if next != nil {
				panic("next is expected to be nil, since prev is nil")
			}

			prev = s.head
			next = s.tail
		}

		// +----------------+     +------------+     +----------------+
		// |      prev      |     |     nd     |     |      next      |
		// | prevNextOffset |---->|            |     |                |
		// |                |<----| prevOffset |     |                |
		// |                |     | nextOffset |---->|                |
		// |                |     |            |<----| nextPrevOffset |
		// +----------------+     +------------+     +----------------+
		//
		// 1. Initialize prevOffset and nextOffset to point to prev and next.
		// 2. CAS prevNextOffset to repoint from next to nd.
		// 3. CAS nextPrevOffset to repoint from prev to nd.
		for {
			if s.testing {
				// Let other goroutines run between setting the next link and
				// setting the prev link.
				runtime.Gosched()
			}

			prevOffset := s.arena.getPointerOffset(unsafe.Pointer(prev))
			nextOffset := s.arena.getPointerOffset(unsafe.Pointer(next))
			nd.tower[i].init(prevOffset, nextOffset)

			// Check whether next has an updated link to prev. If it does
			// not, that can mean one of two things:
			//   1. The thread that added the next node hasn't yet had a
			//      chance to add the prev link (but will shortly).
			//   2. Another thread has added a new node between prev and
			//      next.
			nextPrevOffset := next.prevOffset(i)
			if nextPrevOffset != prevOffset {
				// Determine whether #1 or #2 is true by checking whether
				// prev is still pointing to next. As long as the atomic
				// operations have at least acquire/release semantics (no
				// need for sequential consistency), this works, as it is
				// equivalent to the "publication safety" pattern.
				prevNextOffset := prev.nextOffset(i)
				if prevNextOffset == nextOffset {
					// Ok, case #1 is true, so help the other thread along by
					// updating the next node's prev link.
					next.casPrevOffset(i, nextPrevOffset, prevOffset)
				}
			}

			if prev.casNextOffset(i, nextOffset, ndOffset) {
				// Managed to insert nd between prev and next, so update the
				// next node's prev link and go to the next level.
				next.casPrevOffset(i, prevOffset, ndOffset)
				break
			}

			// CAS failed. We need to recompute prev and next. It is unlikely
			// to be helpful to try to use a different level as we redo the
			// search, because it is unlikely that lots of nodes are being
			// inserted between prev and next.
			prev, next, found = s.findSpliceForLevel(key, i, prev)
			if found {
				if i != 0 {
					panic("how can another thread have inserted a node at a non-base level?")
				}

				return ErrRecordExists
			}
			invalidateSplice = true
		}
	}

	// If we had to recompute the splice for a level, invalidate the entire
	// cached splice.
	if invalidateSplice {
		ins.height = 0
	} else {
		// The splice was valid. We inserted a node between spl[i].prev and
		// spl[i].next. Optimistically update spl[i].prev for use in a
		// subsequent call to add in this Inserter.
		for i := uint32(0); i < height; i++ {
			ins.spl[i].prev = nd
		}
	}

	return nil
}

// NewIter returns a new Iterator object. Note that it is safe for an
// iterator to be copied by value.
func (s *Skiplist) NewIter() Iterator {
	return Iterator{list: s, nd: s.head}
}

func (s *Skiplist) newNode(key db.InternalKey, value []byte) (nd *node, height uint32, err error) {
	height = s.randomHeight()
	nd, err = newNode(s.arena, height, key, value)
	if err != nil {
		return
	}

	// Try to increase s.height via CAS.
	listHeight := s.Height()
	for height > listHeight {
		if atomic.CompareAndSwapUint32(&s.height, listHeight, height) {
			// Successfully increased skiplist.height.
			break
		}

		listHeight = s.Height()
	}

	return
}

func (s *Skiplist) randomHeight() uint32 {
	rnd := rand.Uint32()
	h := uint32(1)
	for h < maxHeight && rnd <= probabilities[h] {
		h++
	}
	return h
}

func (s *Skiplist) getNext(nd *node, h int) *node {
	offset := nd.nextOffset(h)
	return (*node)(s.arena.getPointer(offset))
}

func (s *Skiplist) getPrev(nd *node, h int) *node {
	offset := nd.prevOffset(h)
	return (*node)(s.arena.getPointer(offset))
}

func (s *Skiplist) findSplice(key db.InternalKey, ins *Inserter) (found bool) {
	listHeight := s.Height()
	var level int

	prev := s.head
	if ins.height < listHeight {
		// Our cached height is less than the list height, which means there
		// were inserts that increased the height of the list. Recompute the
		// splice from scratch.
		ins.height = listHeight
		level = int(ins.height)
	} else {
		// Our cached height is equal to the list height.
		for ; level < int(listHeight); level++ {
			spl := &ins.spl[level]
			if s.getNext(spl.prev, level) != spl.next {
				// One or more nodes have been inserted between the splice at
				// this level.
				continue
			}
			if spl.prev != s.head && !s.keyIsAfterNode(spl.prev, key) {
				// Key lies before splice.
				level = int(listHeight)
				break
			}
			if spl.next != s.tail && s.keyIsAfterNode(spl.next, key) {
				// Key lies after splice.
				level = int(listHeight)
				break
			}
			// The splice brackets the key!
			break
		}
	}

	for level = level - 1; level >= 0; level-- {
		var next *node
		prev, next, found = s.findSpliceForLevel(key, level, prev)
		if next == nil {
			next = s.tail
		}
		ins.spl[level].init(prev, next)
	}

	return
}

func (s *Skiplist) findSpliceForLevel(
	key db.InternalKey, level int, start *node,
) (prev, next *node, found bool) {
	prev = start

	for {
		// Assume prev.key < key.
		next = s.getNext(prev, level)
		if next == s.tail {
			// Tail node, so done.
			break
		}

		nextKey := next.getKeyBytes(s.arena)
		cmp := s.cmp(key.UserKey, nextKey)
		if cmp < 0 {
			// We are done for this level, since prev.key < key < next.key.
			break
		}
		if cmp == 0 {
			// User-key equality. Descending trailer order breaks the tie.
			if key.Trailer == next.keyTrailer {
				// Internal key equality.
				found = true
				break
			}
			if key.Trailer > next.keyTrailer {
				// We are done for this level, since prev.key < key < next.key.
				break
			}
		}

		// Keep moving right on this level.
		prev = next
	}

	return
}

func (s *Skiplist) keyIsAfterNode(nd *node, key db.InternalKey) bool {
	ndKey := nd.getKeyBytes(s.arena)
	cmp := s.cmp(ndKey, key.UserKey)
	if cmp < 0 {
		return true
	}
	if cmp > 0 {
		return false
	}
	// User-key equality. Descending trailer order breaks the tie.
	if key.Trailer == nd.keyTrailer {
		// Internal key equality.
		return false
	}
	return key.Trailer < nd.keyTrailer
}
