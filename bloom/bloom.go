// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package bloom implements Bloom filters.
package bloom

import (
	"github.com/talusdb/talus/db"
)

// FilterPolicy implements the db.FilterPolicy interface from the talus/db
// package.
//
// The integer value is the approximate number of bits used per key. A good
// value is 10, which yields a filter with ~1% false positive rate.
type FilterPolicy int

var _ db.FilterPolicy = FilterPolicy(0)

// Name implements the db.FilterPolicy interface.
func (p FilterPolicy) Name() string {
	// This string looks arbitrary, but its value is written to tables on
	// disk, and further, the reader ignores a filter block whose name does
	// not match the configured policy's name, so changing it would
	// effectively drop the filters of existing tables.
	return "leveldb.BuiltinBloomFilter2"
}

// AppendFilter implements the db.FilterPolicy interface.
func (p FilterPolicy) AppendFilter(dst []byte, keys [][]byte) []byte {
	// 0.69 =~ ln(2), the factor that minimizes the false positive rate for a
	// given bits-per-key budget.
	k := uint32(p) * 69 / 100
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}

	nBits := uint32(len(keys)) * uint32(p)
	// For small n, we can see a very high false positive rate. Fix it by
	// enforcing a minimum bloom filter length.
	if nBits < 64 {
		nBits = 64
	}
	nBytes := (nBits + 7) / 8
	nBits = nBytes * 8

	base := len(dst)
	for i := 0; i < int(nBytes); i++ {
		dst = append(dst, 0)
	}
	filter := dst[base:]

	for _, key := range keys {
		h := hash(key)
		delta := h>>17 | h<<15
		for j := uint32(0); j < k; j++ {
			bitPos := h % nBits
			filter[bitPos/8] |= 1 << (bitPos % 8)
			h += delta
		}
	}
	// Record the number of probes in the final byte so that readers built
	// with a different bits-per-key still interpret the filter correctly.
	return append(dst, byte(k))
}

// MayContain implements the db.FilterPolicy interface.
func (p FilterPolicy) MayContain(filter, key []byte) bool {
	if len(filter) < 2 {
		return false
	}
	k := filter[len(filter)-1]
	if k > 30 {
		// This is reserved for potentially new encodings. Consider it a
		// match.
		return true
	}
	filter = filter[:len(filter)-1]
	nBits := uint32(len(filter) * 8)

	h := hash(key)
	delta := h>>17 | h<<15
	for j := uint8(0); j < k; j++ {
		bitPos := h % nBits
		if filter[bitPos/8]&(1<<(bitPos%8)) == 0 {
			return false
		}
		h += delta
	}
	return true
}

// hash implements a hashing algorithm similar to the Murmur hash.
func hash(b []byte) uint32 {
	const (
		seed = 0xbc9f1d34
		m    = 0xc6a4a793
	)
	h := uint32(seed) ^ uint32(len(b))*m
	for ; len(b) >= 4; b = b[4:] {
		h += uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
		h *= m
		h ^= h >> 16
	}
	switch len(b) {
	case 3:
		h += uint32(b[2]) << 16
		fallthrough
	case 2:
		h += uint32(b[1]) << 8
		fallthrough
	case 1:
		h += uint32(b[0])
		h *= m
		h ^= h >> 24
	}
	return h
}
