// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package crc implements the checksum algorithm used throughout the talus
// file formats.
//
// The algorithm is CRC-32 with Castagnoli's polynomial, followed by a bit
// rotation and an additional delta. The additional processing is to lessen
// the probability of arbitrary key/value data coincidentally containing
// bytes that look like a checksum.
//
// To calculate the uint32 checksum of some data:
//
//	var u uint32 = crc.New(data).Value()
package crc

import "hash/crc32"

// CRC is a small wrapper around a running crc32 checksum.
type CRC uint32

var table = crc32.MakeTable(crc32.Castagnoli)

// New returns the checksum of the given data.
func New(b []byte) CRC {
	return CRC(0).Update(b)
}

// Update extends the checksum with the given data.
func (c CRC) Update(b []byte) CRC {
	return CRC(crc32.Update(uint32(c), table, b))
}

// Value returns the masked form of the checksum, as stored on disk.
func (c CRC) Value() uint32 {
	return uint32(c>>15|c<<17) + 0xa282ead8
}
