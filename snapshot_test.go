// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package talus

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/talusdb/talus/db"
	"github.com/talusdb/talus/vfs"
)

func openTestDB(t *testing.T, opts *db.Options) *DB {
	t.Helper()
	if opts == nil {
		opts = &db.Options{}
	}
	if opts.FS == nil {
		opts.FS = vfs.NewMem()
		require.NoError(t, opts.FS.MkdirAll("/db", 0755))
	}
	d, err := Open("/db", opts)
	require.NoError(t, err)
	return d
}

func TestSnapshotIsolation(t *testing.T) {
	d := openTestDB(t, nil)
	defer d.Close()

	require.NoError(t, d.Set([]byte("k"), []byte("v1"), nil))
	s := d.NewSnapshot()
	require.NoError(t, d.Set([]byte("k"), []byte("v2"), nil))
	require.NoError(t, d.Set([]byte("new"), []byte("x"), nil))

	// The snapshot still sees the state at its creation.
	v, err := s.Get([]byte("k"), nil)
	require.NoError(t, err)
	require.Equal(t, "v1", string(v))
	_, err = s.Get([]byte("new"), nil)
	require.Equal(t, db.ErrNotFound, err)

	// The DB sees the later writes.
	v, err = d.Get([]byte("k"), nil)
	require.NoError(t, err)
	require.Equal(t, "v2", string(v))

	require.NoError(t, s.Close())
}

func TestSnapshotSeesThroughDelete(t *testing.T) {
	d := openTestDB(t, nil)
	defer d.Close()

	require.NoError(t, d.Set([]byte("k"), []byte("v"), nil))
	s := d.NewSnapshot()
	require.NoError(t, d.Delete([]byte("k"), nil))

	_, err := d.Get([]byte("k"), nil)
	require.Equal(t, db.ErrNotFound, err)

	v, err := s.Get([]byte("k"), nil)
	require.NoError(t, err)
	require.Equal(t, "v", string(v))

	require.NoError(t, s.Close())
}

func TestSnapshotIter(t *testing.T) {
	d := openTestDB(t, nil)
	defer d.Close()

	for i := 0; i < 5; i++ {
		k := fmt.Sprintf("k%d", i)
		require.NoError(t, d.Set([]byte(k), []byte("old"), nil))
	}
	s := d.NewSnapshot()
	require.NoError(t, d.Set([]byte("k2"), []byte("new"), nil))
	require.NoError(t, d.Delete([]byte("k4"), nil))
	require.NoError(t, d.Set([]byte("k9"), []byte("new"), nil))

	iter := s.NewIter(nil)
	var got []string
	for valid := iter.First(); valid; valid = iter.Next() {
		got = append(got, fmt.Sprintf("%s=%s", iter.Key(), iter.Value()))
	}
	require.NoError(t, iter.Close())
	require.Equal(t, []string{
		"k0=old", "k1=old", "k2=old", "k3=old", "k4=old",
	}, got)

	require.NoError(t, s.Close())
}

func TestSnapshotSurvivesFlush(t *testing.T) {
	d := openTestDB(t, nil)
	defer d.Close()

	require.NoError(t, d.Set([]byte("k"), []byte("v1"), nil))
	s := d.NewSnapshot()
	require.NoError(t, d.Set([]byte("k"), []byte("v2"), nil))
	require.NoError(t, d.Flush())

	// Both versions reached a table; the snapshot still reads its own.
	v, err := s.Get([]byte("k"), nil)
	require.NoError(t, err)
	require.Equal(t, "v1", string(v))
	v, err = d.Get([]byte("k"), nil)
	require.NoError(t, err)
	require.Equal(t, "v2", string(v))

	require.NoError(t, s.Close())
}

func TestSnapshotClosed(t *testing.T) {
	d := openTestDB(t, nil)
	defer d.Close()

	require.NoError(t, d.Set([]byte("k"), []byte("v"), nil))
	s := d.NewSnapshot()
	require.NoError(t, s.Close())

	_, err := s.Get([]byte("k"), nil)
	require.Equal(t, db.ErrClosed, err)
	iter := s.NewIter(nil)
	require.False(t, iter.First())
	require.Equal(t, db.ErrClosed, iter.Error())
	require.Equal(t, db.ErrClosed, s.Close())
}

func TestSnapshotListOrdering(t *testing.T) {
	d := openTestDB(t, nil)
	defer d.Close()

	var snaps []*Snapshot
	for i := 0; i < 4; i++ {
		require.NoError(t, d.Set([]byte("k"), []byte{byte(i)}, nil))
		snaps = append(snaps, d.NewSnapshot())
	}

	d.mu.Lock()
	require.Equal(t, snaps[0].seqNum, d.mu.snapshots.earliest())
	d.mu.Unlock()

	// Closing out of order keeps the list consistent.
	require.NoError(t, snaps[0].Close())
	require.NoError(t, snaps[2].Close())
	d.mu.Lock()
	require.Equal(t, snaps[1].seqNum, d.mu.snapshots.earliest())
	d.mu.Unlock()

	require.NoError(t, snaps[1].Close())
	require.NoError(t, snaps[3].Close())
	d.mu.Lock()
	require.True(t, d.mu.snapshots.empty())
	d.mu.Unlock()
}
