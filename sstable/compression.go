// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"bytes"
	"io"

	"github.com/DataDog/zstd"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/flate"
	"github.com/talusdb/talus/db"
)

// compressBlock compresses b per the requested compression, returning the
// block type byte and the compressed payload. The payload aliases buf when
// the codec writes into it. A codec failure falls back to storing the block
// uncompressed; callers separately decide whether the compressed form is
// worth keeping (see Writer.finishBlock).
func compressBlock(compression db.Compression, b, buf []byte) (byte, []byte) {
	switch compression {
	case db.SnappyCompression:
		return snappyCompressionBlockType, snappy.Encode(buf, b)
	case db.ZstdCompression:
		compressed, err := zstd.CompressLevel(buf[:0], b, zstd.DefaultCompression)
		if err != nil {
			return noCompressionBlockType, b
		}
		return zstdCompressionBlockType, compressed
	case db.ZlibRawCompression:
		var body bytes.Buffer
		fw, err := flate.NewWriter(&body, flate.DefaultCompression)
		if err != nil {
			return noCompressionBlockType, b
		}
		if _, err := fw.Write(b); err != nil {
			return noCompressionBlockType, b
		}
		if err := fw.Close(); err != nil {
			return noCompressionBlockType, b
		}
		return zlibRawCompressionBlockType, body.Bytes()
	default:
		return noCompressionBlockType, b
	}
}

// decompressBlock decompresses the payload of a block given its type byte.
// For an uncompressed block the payload is returned unchanged.
func decompressBlock(blockType byte, b []byte) ([]byte, error) {
	switch blockType {
	case noCompressionBlockType:
		return b, nil
	case snappyCompressionBlockType:
		decoded, err := snappy.Decode(nil, b)
		if err != nil {
			return nil, db.CorruptionErrorf("talus/sstable: corrupt snappy compressed block: %v", err)
		}
		return decoded, nil
	case zlibRawCompressionBlockType:
		fr := flate.NewReader(bytes.NewReader(b))
		decoded, err := io.ReadAll(fr)
		if err != nil {
			return nil, db.CorruptionErrorf("talus/sstable: corrupt zlib compressed block: %v", err)
		}
		if err := fr.Close(); err != nil {
			return nil, db.CorruptionErrorf("talus/sstable: corrupt zlib compressed block: %v", err)
		}
		return decoded, nil
	case zstdCompressionBlockType:
		decoded, err := zstd.Decompress(nil, b)
		if err != nil {
			return nil, db.CorruptionErrorf("talus/sstable: corrupt zstd compressed block: %v", err)
		}
		return decoded, nil
	default:
		return nil, db.CorruptionErrorf("talus/sstable: unknown block compression: %d", blockType)
	}
}
