// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package talus

import (
	"strconv"
	"strings"

	"github.com/talusdb/talus/db"
)

// fakeIkey parses "ukey.SET.123" or "ukey.DEL.123" into an internal key.
func fakeIkey(s string) db.InternalKey {
	x := strings.Split(s, ".")
	if len(x) != 3 {
		panic("malformed internal key: " + s)
	}
	var kind db.InternalKeyKind
	switch x[1] {
	case "SET":
		kind = db.InternalKeyKindSet
	case "DEL":
		kind = db.InternalKeyKindDelete
	case "MAX":
		kind = db.InternalKeyKindMax
	default:
		panic("unknown kind: " + x[1])
	}
	seqNum, err := strconv.ParseUint(x[2], 10, 56)
	if err != nil {
		panic(err)
	}
	return db.MakeInternalKey([]byte(x[0]), seqNum, kind)
}

// fakeIter is an in-memory InternalIterator over a fixed sorted list of
// entries, used to drive the iterator stack in tests.
type fakeIter struct {
	keys   []db.InternalKey
	vals   [][]byte
	index  int
	closed bool
	err    error
}

var _ db.InternalIterator = (*fakeIter)(nil)

// newFakeIterator builds a fakeIter from entries of the form
// "ukey.KIND.seqnum:value". The entries must already be in internal key
// order.
func newFakeIterator(entries ...string) *fakeIter {
	f := &fakeIter{index: -1}
	for _, e := range entries {
		key, val := e, ""
		if i := strings.IndexByte(e, ':'); i >= 0 {
			key, val = e[:i], e[i+1:]
		}
		f.keys = append(f.keys, fakeIkey(key))
		f.vals = append(f.vals, []byte(val))
	}
	return f
}

func (f *fakeIter) SeekGE(key db.InternalKey) {
	for f.index = 0; f.index < len(f.keys); f.index++ {
		if db.InternalCompare(db.DefaultComparer.Compare, key, f.keys[f.index]) <= 0 {
			break
		}
	}
}

func (f *fakeIter) SeekLT(key db.InternalKey) {
	for f.index = len(f.keys) - 1; f.index >= 0; f.index-- {
		if db.InternalCompare(db.DefaultComparer.Compare, f.keys[f.index], key) < 0 {
			break
		}
	}
}

func (f *fakeIter) First() {
	f.index = 0
}

func (f *fakeIter) Last() {
	f.index = len(f.keys) - 1
}

func (f *fakeIter) Next() bool {
	if f.index < len(f.keys) {
		f.index++
	}
	return f.Valid()
}

func (f *fakeIter) Prev() bool {
	if f.index >= 0 {
		f.index--
	}
	return f.Valid()
}

func (f *fakeIter) Key() db.InternalKey {
	if !f.Valid() {
		return db.InternalKey{}
	}
	return f.keys[f.index]
}

func (f *fakeIter) Value() []byte {
	if !f.Valid() {
		return nil
	}
	return f.vals[f.index]
}

func (f *fakeIter) Valid() bool {
	return f.index >= 0 && f.index < len(f.keys) && f.err == nil
}

func (f *fakeIter) Error() error {
	return f.err
}

func (f *fakeIter) Close() error {
	f.closed = true
	return f.err
}
