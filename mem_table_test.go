// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package talus

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/talusdb/talus/db"
	"github.com/talusdb/talus/internal/arenaskl"
)

// memTableApply prepares and applies the batch, the way the commit pipeline
// would.
func memTableApply(t *testing.T, m *memTable, b *Batch, seqNum uint64) {
	t.Helper()
	b.setSeqNum(seqNum)
	require.NoError(t, m.prepare(b))
	require.NoError(t, m.apply(b, seqNum))
	m.unref()
}

func TestMemTableBasic(t *testing.T) {
	m := newMemTable(nil)
	require.True(t, m.empty())

	var b Batch
	b.Set([]byte("cherry"), []byte("red"))
	b.Set([]byte("peach"), []byte("yellow"))
	b.Set([]byte("grape"), []byte("purple"))
	memTableApply(t, m, &b, 1)
	require.False(t, m.empty())

	v, conclusive, err := m.get([]byte("peach"), db.InternalKeySeqNumMax)
	require.NoError(t, err)
	require.True(t, conclusive)
	require.Equal(t, "yellow", string(v))

	_, _, err = m.get([]byte("apple"), db.InternalKeySeqNumMax)
	require.Equal(t, db.ErrNotFound, err)
}

func TestMemTableTombstone(t *testing.T) {
	m := newMemTable(nil)

	var b Batch
	b.Set([]byte("k"), []byte("v1"))
	memTableApply(t, m, &b, 1)

	b = Batch{}
	b.Delete([]byte("k"))
	memTableApply(t, m, &b, 2)

	// Newest entry for k is a tombstone: the lookup is conclusive and the
	// key is gone.
	_, conclusive, err := m.get([]byte("k"), db.InternalKeySeqNumMax)
	require.True(t, conclusive)
	require.Equal(t, db.ErrNotFound, err)

	// Reading at the older sequence number still sees the value.
	v, _, err := m.get([]byte("k"), 1)
	require.NoError(t, err)
	require.Equal(t, "v1", string(v))
}

func TestMemTableVersions(t *testing.T) {
	m := newMemTable(nil)
	for seq := uint64(1); seq <= 5; seq++ {
		var b Batch
		b.Set([]byte("k"), []byte(fmt.Sprintf("v%d", seq)))
		memTableApply(t, m, &b, seq)
	}
	for seq := uint64(1); seq <= 5; seq++ {
		v, _, err := m.get([]byte("k"), seq)
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("v%d", seq), string(v))
	}
}

func TestMemTableIterOrder(t *testing.T) {
	m := newMemTable(nil)
	var b Batch
	for _, k := range []string{"delta", "alfa", "charlie", "echo", "bravo"} {
		b.Set([]byte(k), nil)
	}
	memTableApply(t, m, &b, 1)

	var got []string
	iter := m.newIter(nil)
	for iter.First(); iter.Valid(); iter.Next() {
		got = append(got, string(iter.Key().UserKey))
	}
	require.NoError(t, iter.Close())
	require.Equal(t, []string{"alfa", "bravo", "charlie", "delta", "echo"}, got)
}

func TestMemTableArenaFull(t *testing.T) {
	m := newMemTable(&db.Options{MemTableSize: 8 << 10})
	seq := uint64(1)
	for {
		var b Batch
		b.Set([]byte(fmt.Sprintf("key-%06d", seq)), make([]byte, 128))
		b.setSeqNum(seq)
		err := m.prepare(&b)
		if err == arenaskl.ErrArenaFull {
			break
		}
		require.NoError(t, err)
		require.NoError(t, m.apply(&b, seq))
		m.unref()
		seq++
	}
	require.Greater(t, seq, uint64(1))

	// Existing entries are still readable after the arena fills.
	v, _, err := m.get([]byte("key-000001"), db.InternalKeySeqNumMax)
	require.NoError(t, err)
	require.Len(t, v, 128)
}

func TestMemTableFlushRefs(t *testing.T) {
	m := newMemTable(nil)
	require.False(t, m.readyForFlush())

	var b Batch
	b.Set([]byte("a"), []byte("1"))
	b.setSeqNum(1)
	require.NoError(t, m.prepare(&b))

	// The creation ref and the prepare ref are both still held.
	m.unref()
	require.False(t, m.readyForFlush())
	require.NoError(t, m.apply(&b, 1))
	require.True(t, m.unref())
	require.True(t, m.readyForFlush())
}
