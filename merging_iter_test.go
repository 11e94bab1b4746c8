// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package talus

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/talusdb/talus/db"
)

// scanForward collects "ukey:value" strings from the iterator's current
// position to exhaustion.
func scanForward(m db.InternalIterator) (got []string) {
	for ; m.Valid(); m.Next() {
		got = append(got, string(m.Key().UserKey)+":"+string(m.Value()))
	}
	return got
}

func scanBackward(m db.InternalIterator) (got []string) {
	for ; m.Valid(); m.Prev() {
		got = append(got, string(m.Key().UserKey)+":"+string(m.Value()))
	}
	return got
}

func TestMergingIterForward(t *testing.T) {
	m := newMergingIter(db.DefaultComparer.Compare,
		newFakeIterator("a.SET.1:a1", "c.SET.1:c1", "e.SET.1:e1"),
		newFakeIterator("b.SET.2:b2", "d.SET.2:d2"),
	)
	defer m.Close()

	m.First()
	require.Equal(t,
		[]string{"a:a1", "b:b2", "c:c1", "d:d2", "e:e1"},
		scanForward(m))
	require.NoError(t, m.Error())
}

func TestMergingIterBackward(t *testing.T) {
	m := newMergingIter(db.DefaultComparer.Compare,
		newFakeIterator("a.SET.1:a1", "c.SET.1:c1", "e.SET.1:e1"),
		newFakeIterator("b.SET.2:b2", "d.SET.2:d2"),
	)
	defer m.Close()

	m.Last()
	require.Equal(t,
		[]string{"e:e1", "d:d2", "c:c1", "b:b2", "a:a1"},
		scanBackward(m))
	require.NoError(t, m.Error())
}

func TestMergingIterSameUserKey(t *testing.T) {
	// Entries for the same user key interleave across children and must
	// come out in decreasing sequence number order.
	m := newMergingIter(db.DefaultComparer.Compare,
		newFakeIterator("a.SET.3:a3", "b.SET.1:b1"),
		newFakeIterator("a.DEL.2:", "a.SET.1:a1"),
	)
	defer m.Close()

	m.First()
	var got []string
	for ; m.Valid(); m.Next() {
		got = append(got, m.Key().String())
	}
	require.Equal(t,
		[]string{"a#3,SET", "a#2,DEL", "a#1,SET", "b#1,SET"},
		got)
}

func TestMergingIterSeek(t *testing.T) {
	m := newMergingIter(db.DefaultComparer.Compare,
		newFakeIterator("a.SET.1:a1", "c.SET.1:c1", "e.SET.1:e1"),
		newFakeIterator("b.SET.2:b2", "d.SET.2:d2"),
	)
	defer m.Close()

	m.SeekGE(db.MakeSearchKey([]byte("c")))
	require.Equal(t, []string{"c:c1", "d:d2", "e:e1"}, scanForward(m))

	m.SeekGE(db.MakeSearchKey([]byte("z")))
	require.False(t, m.Valid())

	m.SeekLT(db.MakeSearchKey([]byte("c")))
	require.Equal(t, []string{"b:b2", "a:a1"}, scanBackward(m))

	m.SeekLT(db.MakeSearchKey([]byte("a")))
	require.False(t, m.Valid())
}

func TestMergingIterDirectionSwitch(t *testing.T) {
	newIter := func() *mergingIter {
		return newMergingIter(db.DefaultComparer.Compare,
			newFakeIterator("a.SET.1:a1", "c.SET.1:c1"),
			newFakeIterator("b.SET.2:b2", "d.SET.2:d2"),
		)
	}

	// Forward, then reverse from the middle.
	m := newIter()
	m.First()
	require.True(t, m.Next())
	require.Equal(t, "b", string(m.Key().UserKey))
	require.True(t, m.Prev())
	require.Equal(t, "a", string(m.Key().UserKey))
	require.NoError(t, m.Close())

	// Reverse, then forward from the middle.
	m = newIter()
	m.Last()
	require.True(t, m.Prev())
	require.Equal(t, "c", string(m.Key().UserKey))
	require.True(t, m.Next())
	require.Equal(t, "d", string(m.Key().UserKey))
	require.NoError(t, m.Close())

	// Next after reverse exhaustion restarts at the front.
	m = newIter()
	m.Last()
	for m.Valid() {
		m.Prev()
	}
	require.True(t, m.Next())
	require.Equal(t, "a", string(m.Key().UserKey))
	require.NoError(t, m.Close())

	// Prev after forward exhaustion restarts at the back.
	m = newIter()
	m.First()
	for m.Valid() {
		m.Next()
	}
	require.True(t, m.Prev())
	require.Equal(t, "d", string(m.Key().UserKey))
	require.NoError(t, m.Close())
}

func TestMergingIterClose(t *testing.T) {
	f0 := newFakeIterator("a.SET.1:a1")
	f1 := newFakeIterator("b.SET.1:b1")
	m := newMergingIter(db.DefaultComparer.Compare, f0, f1)
	require.NoError(t, m.Close())
	require.True(t, f0.closed)
	require.True(t, f1.closed)
	require.False(t, m.Valid())
}
