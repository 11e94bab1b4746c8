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
	"sync/atomic"
	"unsafe"

	"github.com/talusdb/talus/db"
)

// links holds the next and prev arena offsets for one level of a node's
// tower. Both directions are maintained so that reverse iteration is as
// cheap as forward iteration.
type links struct {
	next uint32
	prev uint32
}

func (l *links) init(prevOffset, nextOffset uint32) {
	l.next = nextOffset
	l.prev = prevOffset
}

type node struct {
	// Immutable fields, so no need to lock to access key.
	keyOffset  uint32
	keySize    uint32
	keyTrailer uint64
	valueOff   uint32
	valueSize  uint32

	// Most nodes do not need to use the full height of the tower, since the
	// probability of each successive level decreases exponentially. Because
	// these elements are never accessed, they do not need to be allocated.
	// Therefore, when a node is allocated in the arena, its memory footprint
	// is deliberately truncated to not include unneeded tower elements.
	//
	// All accesses to elements should use CAS operations, with no need to
	// lock.
	tower [maxHeight]links
}

const (
	maxNodeSize = uint32(unsafe.Sizeof(node{}))
	linksSize   = uint32(unsafe.Sizeof(links{}))
)

// MaxNodeSize returns the maximum space needed for a node with the specified
// key and value sizes.
func MaxNodeSize(keySize, valueSize uint32) uint32 {
	return maxNodeSize + keySize + valueSize + align8
}

func newNode(
	arena *Arena, height uint32, key db.InternalKey, value []byte,
) (nd *node, err error) {
	if height < 1 || height > maxHeight {
		panic("height cannot be less than one or greater than the max height")
	}
	keySize := uint32(len(key.UserKey))
	valueSize := uint32(len(value))

	nd, err = newRawNode(arena, height, keySize, valueSize)
	if err != nil {
		return
	}
	nd.keyTrailer = key.Trailer
	copy(nd.getKeyBytes(arena), key.UserKey)
	copy(nd.getValue(arena), value)
	return
}

func newRawNode(arena *Arena, height uint32, keySize, valueSize uint32) (nd *node, err error) {
	// Compute the amount of the tower that will never be used, since the
	// height is less than maxHeight.
	unusedSize := (maxHeight - height) * linksSize
	nodeSize := maxNodeSize - unusedSize

	nodeOffset, err := arena.alloc(nodeSize+keySize+valueSize, align8)
	if err != nil {
		return
	}

	nd = (*node)(arena.getPointer(nodeOffset))
	nd.keyOffset = nodeOffset + nodeSize
	nd.keySize = keySize
	nd.valueOff = nd.keyOffset + keySize
	nd.valueSize = valueSize
	return
}

func (n *node) getKeyBytes(arena *Arena) []byte {
	return arena.getBytes(n.keyOffset, n.keySize)
}

func (n *node) getValue(arena *Arena) []byte {
	return arena.getBytes(n.valueOff, n.valueSize)
}

func (n *node) nextOffset(h int) uint32 {
	return atomic.LoadUint32(&n.tower[h].next)
}

func (n *node) prevOffset(h int) uint32 {
	return atomic.LoadUint32(&n.tower[h].prev)
}

func (n *node) casNextOffset(h int, old, val uint32) bool {
	return atomic.CompareAndSwapUint32(&n.tower[h].next, old, val)
}

func (n *node) casPrevOffset(h int, old, val uint32) bool {
	return atomic.CompareAndSwapUint32(&n.tower[h].prev, old, val)
}
