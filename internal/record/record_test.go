// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package record

import (
	"bytes"
	"io"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func short(s string) string {
	if len(s) < 64 {
		return s
	}
	return s[:56] + "..." + s[len(s)-5:]
}

// big returns a string of length n, composed of repetitions of partial.
func big(partial string, n int) string {
	return strings.Repeat(partial, n/len(partial)+1)[:n]
}

func TestEmpty(t *testing.T) {
	buf := new(bytes.Buffer)
	r := NewReader(buf)
	_, err := r.Next()
	require.Equal(t, io.EOF, err)
}

func testGenerator(t *testing.T, reset func(), gen func() (string, bool)) {
	buf := new(bytes.Buffer)

	reset()
	w := NewWriter(buf)
	for {
		s, ok := gen()
		if !ok {
			break
		}
		_, err := w.WriteRecord([]byte(s))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	reset()
	r := NewReader(buf)
	for {
		s, ok := gen()
		if !ok {
			break
		}
		rr, err := r.Next()
		require.NoError(t, err)
		x, err := io.ReadAll(rr)
		require.NoError(t, err)
		if string(x) != s {
			t.Fatalf("got %q, want %q", short(string(x)), short(s))
		}
	}
	_, err := r.Next()
	require.Equal(t, io.EOF, err)
}

func testLiterals(t *testing.T, s []string) {
	var i int
	reset := func() {
		i = 0
	}
	gen := func() (string, bool) {
		if i == len(s) {
			return "", false
		}
		i++
		return s[i-1], true
	}
	testGenerator(t, reset, gen)
}

func TestMany(t *testing.T) {
	const n = 1e5
	var i int
	reset := func() {
		i = 0
	}
	gen := func() (string, bool) {
		if i == n {
			return "", false
		}
		i++
		return big("a", i%512), true
	}
	testGenerator(t, reset, gen)
}

func TestRandom(t *testing.T) {
	const n = 1e2
	var (
		i int
		r *rand.Rand
	)
	reset := func() {
		i, r = 0, rand.New(rand.NewSource(0))
	}
	gen := func() (string, bool) {
		if i == n {
			return "", false
		}
		i++
		return big("a", r.Intn(4*blockSize)), true
	}
	testGenerator(t, reset, gen)
}

func TestBasic(t *testing.T) {
	testLiterals(t, []string{
		strings.Repeat("a", 1000),
		strings.Repeat("b", 97270),
		strings.Repeat("c", 8000),
	})
}

func TestBoundary(t *testing.T) {
	for i := blockSize - 16; i < blockSize+16; i++ {
		s0 := big("abcd", i)
		for j := blockSize - 16; j < blockSize+16; j++ {
			s1 := big("ABCDE", j)
			testLiterals(t, []string{s0, s1})
			testLiterals(t, []string{s0, "", s1})
			testLiterals(t, []string{s0, "x", s1})
		}
	}
}

func TestFlush(t *testing.T) {
	buf := new(bytes.Buffer)
	w := NewWriter(buf)
	// Write a couple of records. Everything should still be held
	// in the record.Writer buffer, so that buf.Len should be 0.
	w0, _ := w.Next()
	w0.Write([]byte("0"))
	w1, _ := w.Next()
	w1.Write([]byte("11"))
	require.Equal(t, 0, buf.Len())
	// Flush the record.Writer buffer, which should yield 17 bytes.
	// 17 = 2*7 + 1 + 2, which is two headers and 1 + 2 payload bytes.
	require.NoError(t, w.Flush())
	require.Equal(t, 17, buf.Len())
	// Do another write, one that isn't large enough to complete the block.
	// The write should not have flowed through to buf.
	w2, _ := w.Next()
	w2.Write(bytes.Repeat([]byte("2"), 10000))
	require.Equal(t, 17, buf.Len())
	// Flushing should get us up to 10024 bytes written.
	// 10024 = 17 + 7 + 10000.
	require.NoError(t, w.Flush())
	require.Equal(t, 10024, buf.Len())
	// Do a bigger write, one that completes the current block.
	// We should now have 32768 bytes (a complete block), without
	// an explicit flush.
	w3, _ := w.Next()
	w3.Write(bytes.Repeat([]byte("3"), 40000))
	require.Equal(t, 32768, buf.Len())
	// Flushing should get us up to 50038 bytes written.
	// 50038 = 10024 + 2*7 + 40000. There are two headers because
	// the one record is split into two chunks.
	require.NoError(t, w.Flush())
	require.Equal(t, 50038, buf.Len())
	// Check that reading those records give the right lengths.
	r := NewReader(buf)
	wants := []int64{1, 2, 10000, 40000}
	for i, want := range wants {
		rr, _ := r.Next()
		n, err := io.Copy(io.Discard, rr)
		require.NoError(t, err)
		if n != want {
			t.Fatalf("read #%d: got %d bytes want %d", i, n, want)
		}
	}
}

func TestNonExhaustiveRead(t *testing.T) {
	const n = 100
	buf := new(bytes.Buffer)
	p := make([]byte, 10)
	rnd := rand.New(rand.NewSource(1))

	w := NewWriter(buf)
	for i := 0; i < n; i++ {
		length := len(p) + rnd.Intn(3*blockSize)
		s := string(uint8(i)) + "123456789abcdefgh"
		_, _ = w.WriteRecord([]byte(big(s, length)))
	}
	require.NoError(t, w.Close())

	r := NewReader(buf)
	for i := 0; i < n; i++ {
		rr, _ := r.Next()
		_, err := io.ReadFull(rr, p)
		require.NoError(t, err)
		want := string(uint8(i)) + "123456789"
		if got := string(p); got != want {
			t.Fatalf("read #%d: got %q want %q", i, got, want)
		}
	}
}

func TestStaleReader(t *testing.T) {
	buf := new(bytes.Buffer)

	w := NewWriter(buf)
	_, err := w.WriteRecord([]byte("0"))
	require.NoError(t, err)
	_, err = w.WriteRecord([]byte("11"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r := NewReader(buf)
	r0, err := r.Next()
	require.NoError(t, err)
	r1, err := r.Next()
	require.NoError(t, err)
	p := make([]byte, 1)
	if _, err := r0.Read(p); err == nil || !strings.Contains(err.Error(), "stale") {
		t.Fatalf("stale read #0: unexpected error: %v", err)
	}
	if _, err := r1.Read(p); err != nil {
		t.Fatalf("fresh read #1: got %v want nil error", err)
	}
	if _, err := w.WriteRecord([]byte("aaa")); err == nil || !strings.Contains(err.Error(), "closed") {
		t.Fatalf("write after close: unexpected error: %v", err)
	}
}

func TestStaleWriter(t *testing.T) {
	buf := new(bytes.Buffer)

	w := NewWriter(buf)
	w0, err := w.Next()
	require.NoError(t, err)
	w1, err := w.Next()
	require.NoError(t, err)
	if _, err := w0.Write([]byte("0")); err == nil || !strings.Contains(err.Error(), "stale") {
		t.Fatalf("stale write #0: unexpected error: %v", err)
	}
	if _, err := w1.Write([]byte("11")); err != nil {
		t.Fatalf("fresh write #1: got %v want nil error", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if _, err := w1.Write([]byte("0")); err == nil || !strings.Contains(err.Error(), "stale") {
		t.Fatalf("stale write #1: unexpected error: %v", err)
	}
}

// corruptBlock corrupts the checksum of the i-th block.
func corruptBlock(buf []byte, blockNum int) {
	buf[blockSize*blockNum] = 255
	buf[blockSize*blockNum+1] = 255
	buf[blockSize*blockNum+2] = 255
	buf[blockSize*blockNum+3] = 255
}

func TestCorruptBlock(t *testing.T) {
	buf := new(bytes.Buffer)

	w := NewWriter(buf)
	_, err := w.WriteRecord([]byte("0"))
	require.NoError(t, err)
	_, err = w.WriteRecord([]byte(big("x", 2*blockSize)))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	b := buf.Bytes()
	corruptBlock(b, 1)

	r := NewReader(bytes.NewReader(b))
	r0, err := r.Next()
	require.NoError(t, err)
	_, err = io.ReadAll(r0)
	require.NoError(t, err)

	r1, err := r.Next()
	require.NoError(t, err)
	_, err = io.ReadAll(r1)
	require.ErrorIs(t, err, ErrInvalidChunk)
	require.True(t, IsInvalidRecord(err))
}

func TestZeroedTail(t *testing.T) {
	buf := new(bytes.Buffer)

	w := NewWriter(buf)
	_, err := w.WriteRecord([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Append a run of zero bytes, as file preallocation would.
	b := append(buf.Bytes(), make([]byte, 100)...)

	r := NewReader(bytes.NewReader(b))
	r0, err := r.Next()
	require.NoError(t, err)
	p, err := io.ReadAll(r0)
	require.NoError(t, err)
	require.Equal(t, "hello", string(p))

	_, err = r.Next()
	require.ErrorIs(t, err, ErrZeroedChunk)
	require.True(t, IsInvalidRecord(err))
}

func TestTruncatedRecord(t *testing.T) {
	buf := new(bytes.Buffer)

	w := NewWriter(buf)
	_, err := w.WriteRecord([]byte(big("x", 2*blockSize)))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Cut the log off partway through the record's second chunk.
	b := buf.Bytes()[:blockSize+headerSize+17]

	r := NewReader(bytes.NewReader(b))
	r0, err := r.Next()
	require.NoError(t, err)
	_, err = io.ReadAll(r0)
	require.ErrorIs(t, err, ErrInvalidChunk)
	require.True(t, IsInvalidRecord(err))
}

func TestLastRecordOffset(t *testing.T) {
	recs := [][]byte{
		[]byte(big("a", 1000)),
		[]byte(big("b", 97270)),
		[]byte(big("c", 8000)),
	}
	// wants are the offsets of the first chunk header of each record. The
	// second record ends 6 bytes shy of a block boundary, too little for a
	// chunk header, so the third record starts at block 3.
	wants := []int64{0, 1007, 98304}

	buf := new(bytes.Buffer)
	w := NewWriter(buf)
	for i, rec := range recs {
		_, err := w.WriteRecord(rec)
		require.NoError(t, err)
		got, err := w.LastRecordOffset()
		require.NoError(t, err)
		if got != wants[i] {
			t.Fatalf("record #%d: got %d, want %d", i, got, wants[i])
		}
	}
	require.NoError(t, w.Close())
}

func TestNoLastRecord(t *testing.T) {
	w := NewWriter(new(bytes.Buffer))
	_, err := w.LastRecordOffset()
	require.ErrorIs(t, err, ErrNoLastRecord)
}

func TestSeekRecord(t *testing.T) {
	recs := [][]byte{
		[]byte(big("a", 1000)),
		[]byte(big("b", 97270)),
		[]byte(big("c", 8000)),
	}

	buf := new(bytes.Buffer)
	w := NewWriter(buf)
	var offsets []int64
	for _, rec := range recs {
		_, err := w.WriteRecord(rec)
		require.NoError(t, err)
		off, err := w.LastRecordOffset()
		require.NoError(t, err)
		offsets = append(offsets, off)
	}
	require.NoError(t, w.Close())

	// Seek directly to the final record and read it back.
	r := NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, r.SeekRecord(offsets[2]))
	rr, err := r.Next()
	require.NoError(t, err)
	p, err := io.ReadAll(rr)
	require.NoError(t, err)
	require.Equal(t, string(recs[2]), string(p))

	// A reader over a plain bytes.Buffer cannot seek.
	r = NewReader(new(bytes.Buffer))
	require.ErrorIs(t, r.SeekRecord(0), ErrNotAnIOSeeker)
}

func TestWriterSize(t *testing.T) {
	var w *Writer
	require.Equal(t, int64(0), w.Size())

	buf := new(bytes.Buffer)
	w = NewWriter(buf)
	require.Equal(t, int64(0), w.Size())
	_, err := w.WriteRecord([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, int64(headerSize+5), w.Size())
}
