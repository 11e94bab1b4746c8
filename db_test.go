// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package talus

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/talusdb/talus/db"
	"github.com/talusdb/talus/vfs"
)

func TestBasicCRUD(t *testing.T) {
	d := openTestDB(t, nil)
	defer d.Close()

	_, err := d.Get([]byte("missing"), nil)
	require.Equal(t, db.ErrNotFound, err)

	require.NoError(t, d.Set([]byte("a"), []byte("1"), nil))
	require.NoError(t, d.Set([]byte("b"), []byte("2"), nil))
	v, err := d.Get([]byte("a"), nil)
	require.NoError(t, err)
	require.Equal(t, "1", string(v))

	require.NoError(t, d.Set([]byte("a"), []byte("one"), nil))
	v, err = d.Get([]byte("a"), nil)
	require.NoError(t, err)
	require.Equal(t, "one", string(v))

	require.NoError(t, d.Delete([]byte("a"), nil))
	_, err = d.Get([]byte("a"), nil)
	require.Equal(t, db.ErrNotFound, err)

	// Deleting an absent key succeeds.
	require.NoError(t, d.Delete([]byte("never-set"), nil))

	v, err = d.Get([]byte("b"), nil)
	require.NoError(t, err)
	require.Equal(t, "2", string(v))
}

func TestApplyBatch(t *testing.T) {
	d := openTestDB(t, nil)
	defer d.Close()

	require.NoError(t, d.Set([]byte("doomed"), []byte("x"), nil))

	var b Batch
	b.Set([]byte("a"), []byte("1"))
	b.Set([]byte("b"), []byte("2"))
	b.Delete([]byte("doomed"))
	require.NoError(t, d.Apply(&b, nil))

	for _, kv := range []struct{ k, v string }{{"a", "1"}, {"b", "2"}} {
		v, err := d.Get([]byte(kv.k), nil)
		require.NoError(t, err)
		require.Equal(t, kv.v, string(v))
	}
	_, err := d.Get([]byte("doomed"), nil)
	require.Equal(t, db.ErrNotFound, err)

	// An empty batch is a no-op.
	require.NoError(t, d.Apply(&Batch{}, nil))
}

func TestReopenPersistence(t *testing.T) {
	fs := vfs.NewMem()
	require.NoError(t, fs.MkdirAll("/db", 0755))
	opts := &db.Options{FS: fs}

	d, err := Open("/db", opts)
	require.NoError(t, err)
	require.NoError(t, d.Set([]byte("stable"), []byte("on-disk"), nil))
	require.NoError(t, d.Flush())
	require.NoError(t, d.Set([]byte("recent"), []byte("wal-only"), nil))
	require.NoError(t, d.Close())

	// Close does not flush the memtable, so the second key comes back via
	// log replay.
	d, err = Open("/db", opts)
	require.NoError(t, err)
	defer d.Close()
	for _, kv := range []struct{ k, v string }{
		{"stable", "on-disk"},
		{"recent", "wal-only"},
	} {
		v, err := d.Get([]byte(kv.k), nil)
		require.NoError(t, err)
		require.Equal(t, kv.v, string(v))
	}
}

func TestFlushAndGet(t *testing.T) {
	d := openTestDB(t, nil)
	defer d.Close()

	const n = 100
	for i := 0; i < n; i++ {
		require.NoError(t, d.Set(
			[]byte(fmt.Sprintf("key-%03d", i)), []byte(fmt.Sprintf("val-%03d", i)), nil))
	}
	require.NoError(t, d.Flush())

	d.mu.Lock()
	require.True(t, d.mu.mem.empty())
	var tables int64
	for level := range d.mu.versions.currentVersion().files {
		tables += int64(len(d.mu.versions.currentVersion().files[level]))
	}
	d.mu.Unlock()
	require.Greater(t, tables, int64(0))

	for i := 0; i < n; i++ {
		v, err := d.Get([]byte(fmt.Sprintf("key-%03d", i)), nil)
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("val-%03d", i), string(v))
	}
}

func TestDeleteShadowsFlushedValue(t *testing.T) {
	d := openTestDB(t, nil)
	defer d.Close()

	require.NoError(t, d.Set([]byte("k"), []byte("v"), nil))
	require.NoError(t, d.Flush())
	require.NoError(t, d.Delete([]byte("k"), nil))

	// The tombstone in the memtable hides the table entry.
	_, err := d.Get([]byte("k"), nil)
	require.Equal(t, db.ErrNotFound, err)

	require.NoError(t, d.Flush())
	_, err = d.Get([]byte("k"), nil)
	require.Equal(t, db.ErrNotFound, err)
}

func TestIterBasics(t *testing.T) {
	d := openTestDB(t, nil)
	defer d.Close()

	keys := []string{"bravo", "delta", "foxtrot", "hotel"}
	for _, k := range keys {
		require.NoError(t, d.Set([]byte(k), []byte("v-"+k), nil))
	}
	// Spread the data across a table and the memtable.
	require.NoError(t, d.Flush())
	require.NoError(t, d.Set([]byte("alfa"), []byte("v-alfa"), nil))
	require.NoError(t, d.Delete([]byte("delta"), nil))

	iter := d.NewIter(nil)

	var forward []string
	for valid := iter.First(); valid; valid = iter.Next() {
		forward = append(forward, string(iter.Key()))
	}
	require.Equal(t, []string{"alfa", "bravo", "foxtrot", "hotel"}, forward)

	var backward []string
	for valid := iter.Last(); valid; valid = iter.Prev() {
		backward = append(backward, string(iter.Key()))
	}
	require.Equal(t, []string{"hotel", "foxtrot", "bravo", "alfa"}, backward)

	// SeekGE lands on the key itself or the next one; the deleted key is
	// skipped.
	require.True(t, iter.SeekGE([]byte("bravo")))
	require.Equal(t, "bravo", string(iter.Key()))
	require.True(t, iter.SeekGE([]byte("charlie")))
	require.Equal(t, "foxtrot", string(iter.Key()))
	require.False(t, iter.SeekGE([]byte("zulu")))

	require.True(t, iter.SeekLT([]byte("foxtrot")))
	require.Equal(t, "bravo", string(iter.Key()))
	require.False(t, iter.SeekLT([]byte("alfa")))

	require.NoError(t, iter.Close())
}

func TestIterIgnoresLaterWrites(t *testing.T) {
	d := openTestDB(t, nil)
	defer d.Close()

	require.NoError(t, d.Set([]byte("a"), []byte("1"), nil))
	iter := d.NewIter(nil)
	require.NoError(t, d.Set([]byte("b"), []byte("2"), nil))

	var got []string
	for valid := iter.First(); valid; valid = iter.Next() {
		got = append(got, string(iter.Key()))
	}
	require.NoError(t, iter.Close())
	require.Equal(t, []string{"a"}, got)
}

func TestLargeValues(t *testing.T) {
	d := openTestDB(t, &db.Options{MemTableSize: 1 << 20})
	defer d.Close()

	// Each value is a sizable fraction of the memtable, forcing rotations.
	value := bytes.Repeat([]byte("x"), 100<<10)
	const n = 30
	for i := 0; i < n; i++ {
		require.NoError(t, d.Set([]byte(fmt.Sprintf("big-%02d", i)), value, nil))
	}
	for i := 0; i < n; i++ {
		v, err := d.Get([]byte(fmt.Sprintf("big-%02d", i)), nil)
		require.NoError(t, err)
		require.Equal(t, len(value), len(v))
	}
}

func TestCompactRange(t *testing.T) {
	opts := &db.Options{
		MemTableSize: 64 << 10,
		Levels:       []db.LevelOptions{{TargetFileSize: 32 << 10}},
	}
	d := openTestDB(t, opts)
	defer d.Close()

	value := bytes.Repeat([]byte("v"), 1<<10)
	const n = 200
	for i := 0; i < n; i++ {
		require.NoError(t, d.Set([]byte(fmt.Sprintf("key-%06d", i)), value, nil))
	}
	// Rewrite half the keys so compaction has versions to drop.
	for i := 0; i < n; i += 2 {
		require.NoError(t, d.Set([]byte(fmt.Sprintf("key-%06d", i)), value, nil))
	}

	require.NoError(t, d.CompactRange(nil, nil))

	// After a full compaction every key is still readable and the level
	// structure has settled into deeper levels.
	for i := 0; i < n; i++ {
		v, err := d.Get([]byte(fmt.Sprintf("key-%06d", i)), nil)
		require.NoError(t, err)
		require.Equal(t, len(value), len(v))
	}

	d.mu.Lock()
	files0 := len(d.mu.versions.currentVersion().files[0])
	d.mu.Unlock()
	require.Equal(t, 0, files0)
}

func TestCompactRangeInvalid(t *testing.T) {
	d := openTestDB(t, nil)
	defer d.Close()

	err := d.CompactRange([]byte("z"), []byte("a"))
	require.ErrorIs(t, err, db.ErrInvalidArgument)
}

func TestGetApproximateSizes(t *testing.T) {
	d := openTestDB(t, nil)
	defer d.Close()

	value := bytes.Repeat([]byte("v"), 4<<10)
	for i := 0; i < 100; i++ {
		require.NoError(t, d.Set([]byte(fmt.Sprintf("key-%03d", i)), value, nil))
	}
	require.NoError(t, d.Flush())

	sizes, err := d.GetApproximateSizes([]db.Range{
		{Start: []byte("key-000"), Limit: []byte("key-100")},
		{Start: []byte("zzz-absent"), Limit: []byte("zzz-gone")},
	})
	require.NoError(t, err)
	require.Len(t, sizes, 2)
	require.Greater(t, sizes[0], uint64(0))
	require.Equal(t, uint64(0), sizes[1])

	_, err = d.GetApproximateSizes([]db.Range{
		{Start: []byte("b"), Limit: []byte("a")},
	})
	require.ErrorIs(t, err, db.ErrInvalidArgument)
}

func TestGetProperty(t *testing.T) {
	d := openTestDB(t, nil)
	defer d.Close()

	require.NoError(t, d.Set([]byte("k"), []byte("v"), nil))

	v, err := d.GetProperty("talus.num-files-at-level0")
	require.NoError(t, err)
	require.Equal(t, "0", v)

	v, err = d.GetProperty("talus.approximate-memory-usage")
	require.NoError(t, err)
	require.NotEqual(t, "0", v)

	require.NoError(t, d.Flush())
	v, err = d.GetProperty("talus.stats")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(v, "Level Files Size(MB)"))
	_, err = d.GetProperty("talus.sstables")
	require.NoError(t, err)

	for _, name := range []string{
		"bogus", "talus.", "talus.no-such-property",
		"talus.num-files-at-level7", "talus.num-files-at-level-1",
	} {
		_, err := d.GetProperty(name)
		require.ErrorIs(t, err, db.ErrInvalidArgument)
	}
}

func TestClosedDB(t *testing.T) {
	d := openTestDB(t, nil)
	require.NoError(t, d.Set([]byte("k"), []byte("v"), nil))
	require.NoError(t, d.Close())

	_, err := d.Get([]byte("k"), nil)
	require.Equal(t, db.ErrClosed, err)
	require.Equal(t, db.ErrClosed, d.Set([]byte("k"), []byte("v"), nil))
	require.Equal(t, db.ErrClosed, d.Delete([]byte("k"), nil))
	require.Equal(t, db.ErrClosed, d.Flush())
	_, err = d.GetProperty("talus.stats")
	require.Equal(t, db.ErrClosed, err)

	// Close is idempotent.
	require.NoError(t, d.Close())
}

func TestConcurrentWriters(t *testing.T) {
	d := openTestDB(t, nil)
	defer d.Close()

	const writers = 8
	const perWriter = 100
	done := make(chan error, writers)
	for w := 0; w < writers; w++ {
		go func(w int) {
			for i := 0; i < perWriter; i++ {
				k := []byte(fmt.Sprintf("w%d-%03d", w, i))
				if err := d.Set(k, k, nil); err != nil {
					done <- err
					return
				}
			}
			done <- nil
		}(w)
	}
	for w := 0; w < writers; w++ {
		require.NoError(t, <-done)
	}

	for w := 0; w < writers; w++ {
		for i := 0; i < perWriter; i++ {
			k := []byte(fmt.Sprintf("w%d-%03d", w, i))
			v, err := d.Get(k, nil)
			require.NoError(t, err)
			require.Equal(t, string(k), string(v))
		}
	}
}
