// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package talus

import (
	"github.com/cockroachdb/errors"
	"github.com/talusdb/talus/db"
)

// dbIter wraps an internal iterator and presents the user-visible view of
// the DB: entries above the sequence number are hidden, deletion tombstones
// shadow older entries for the same user key, and only the newest visible
// entry per user key is surfaced.
type dbIter struct {
	cmp    db.Compare
	iter   db.InternalIterator
	seqNum uint64
	err    error
	// keyBuf holds a stable copy of the current user key. The key slices
	// returned by the internal iterator are only valid until it moves.
	keyBuf []byte
	key    []byte
	value  []byte
	// valBuf backs value during reverse iteration, where finding the
	// winning entry requires moving past it.
	valBuf []byte
	valid  bool
	dir    int
	// onClose, if set, is run once when the iterator is closed. The DB uses
	// it to release the version the iterator reads from.
	onClose func()
}

var _ db.Iterator = (*dbIter)(nil)

func newDBIter(cmp db.Compare, iter db.InternalIterator, seqNum uint64) *dbIter {
	return &dbIter{
		cmp:    cmp,
		iter:   iter,
		seqNum: seqNum,
	}
}

// findNextEntry positions the iterator at the next visible, non-deleted
// user key at or after the internal iterator's current position. On success
// the internal iterator rests on the winning entry.
func (i *dbIter) findNextEntry() bool {
	i.valid = false
	for i.iter.Valid() {
		key := i.iter.Key()
		if key.SeqNum() > i.seqNum {
			// Not visible at this sequence number.
			i.iter.Next()
			continue
		}
		switch key.Kind() {
		case db.InternalKeyKindDelete:
			i.skipForward(key.UserKey)
			continue
		case db.InternalKeyKindSet:
			i.keyBuf = append(i.keyBuf[:0], key.UserKey...)
			i.key = i.keyBuf
			i.value = i.iter.Value()
			i.valid = true
			return true
		default:
			i.err = errors.Errorf("talus: invalid internal key kind %d", key.Kind())
			return false
		}
	}
	return false
}

// skipForward steps the internal iterator past every remaining entry for
// the given user key.
func (i *dbIter) skipForward(userKey []byte) {
	i.keyBuf = append(i.keyBuf[:0], userKey...)
	for i.iter.Next() {
		if i.cmp(i.iter.Key().UserKey, i.keyBuf) != 0 {
			break
		}
	}
}

// findPrevEntry positions the iterator at the previous visible, non-deleted
// user key at or before the internal iterator's current position. On
// success the internal iterator rests just before the run of entries for
// the returned key, which may leave it invalid.
func (i *dbIter) findPrevEntry() bool {
	i.valid = false
	for i.iter.Valid() {
		key := i.iter.Key()
		if i.valid {
			if i.cmp(key.UserKey, i.key) < 0 {
				// The candidate entry is the newest visible one for its
				// user key.
				return true
			}
		}
		if key.SeqNum() > i.seqNum {
			i.iter.Prev()
			continue
		}
		switch key.Kind() {
		case db.InternalKeyKindDelete:
			i.valid = false
		case db.InternalKeyKindSet:
			// Newer entries for the same user key sort earlier, so walking
			// backward each entry seen supersedes the candidate.
			i.keyBuf = append(i.keyBuf[:0], key.UserKey...)
			i.key = i.keyBuf
			i.valBuf = append(i.valBuf[:0], i.iter.Value()...)
			i.value = i.valBuf
			i.valid = true
		default:
			i.err = errors.Errorf("talus: invalid internal key kind %d", key.Kind())
			return false
		}
		i.iter.Prev()
	}
	return i.valid
}

func (i *dbIter) SeekGE(key []byte) bool {
	if i.err != nil {
		return false
	}
	i.dir = 1
	i.iter.SeekGE(db.MakeInternalKey(key, i.seqNum, db.InternalKeyKindMax))
	return i.findNextEntry()
}

func (i *dbIter) SeekLT(key []byte) bool {
	if i.err != nil {
		return false
	}
	i.dir = -1
	i.iter.SeekLT(db.MakeSearchKey(key))
	return i.findPrevEntry()
}

func (i *dbIter) First() bool {
	if i.err != nil {
		return false
	}
	i.dir = 1
	i.iter.First()
	return i.findNextEntry()
}

func (i *dbIter) Last() bool {
	if i.err != nil {
		return false
	}
	i.dir = -1
	i.iter.Last()
	return i.findPrevEntry()
}

func (i *dbIter) Next() bool {
	if i.err != nil {
		return false
	}
	switch i.dir {
	case -1:
		i.dir = 1
		if !i.valid {
			// Reverse iteration was exhausted; restart at the front.
			i.iter.First()
			return i.findNextEntry()
		}
		// After reverse iteration the internal iterator rests before the
		// current key's run of entries. Move forward past that run.
		if !i.iter.Valid() {
			i.iter.First()
		} else {
			i.iter.Next()
		}
		for i.iter.Valid() && i.cmp(i.iter.Key().UserKey, i.key) <= 0 {
			i.iter.Next()
		}
		return i.findNextEntry()
	default:
		if !i.valid {
			return false
		}
		// Step past the older entries for the current user key.
		i.skipForward(i.key)
		return i.findNextEntry()
	}
}

func (i *dbIter) Prev() bool {
	if i.err != nil {
		return false
	}
	switch i.dir {
	case 1:
		i.dir = -1
		if !i.valid {
			// Forward iteration was exhausted; restart at the back.
			i.iter.Last()
			return i.findPrevEntry()
		}
		// The internal iterator rests on the current entry. Move backward
		// past the current key's run of entries.
		for i.iter.Valid() && i.cmp(i.iter.Key().UserKey, i.key) >= 0 {
			i.iter.Prev()
		}
		return i.findPrevEntry()
	default:
		if !i.valid {
			return false
		}
		return i.findPrevEntry()
	}
}

func (i *dbIter) Key() []byte {
	return i.key
}

func (i *dbIter) Value() []byte {
	return i.value
}

func (i *dbIter) Valid() bool {
	return i.valid && i.err == nil
}

func (i *dbIter) Error() error {
	if i.err != nil || i.iter == nil {
		return i.err
	}
	return i.iter.Error()
}

func (i *dbIter) Close() error {
	if i.iter != nil {
		if err := i.iter.Close(); err != nil && i.err == nil {
			i.err = err
		}
		i.iter = nil
	}
	if i.onClose != nil {
		i.onClose()
		i.onClose = nil
	}
	i.valid = false
	return i.err
}
