// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package talus

import (
	"sort"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/talusdb/talus/db"
)

const numLevels = 7

// fileMetadata holds the metadata for an on-disk table.
type fileMetadata struct {
	// fileNum is the file number.
	fileNum uint64
	// size is the size of the file, in bytes.
	size uint64
	// smallest and largest are the inclusive bounds for the internal keys
	// stored in the table.
	smallest db.InternalKey
	largest  db.InternalKey

	// allowedSeeks is decremented for every read that lands on this table
	// without producing a result. When it reaches zero the table becomes a
	// seek compaction candidate. Accessed atomically.
	allowedSeeks int32
}

// initAllowedSeeks derives the seek budget from the file size: one seek per
// 16 KiB of data, with a floor of 100.
func (f *fileMetadata) initAllowedSeeks() {
	allowed := int32(f.size / (16 << 10))
	if allowed < 100 {
		allowed = 100
	}
	atomic.StoreInt32(&f.allowedSeeks, allowed)
}

// totalSize returns the total size of all the files in f.
func totalSize(f []*fileMetadata) (size uint64) {
	for _, x := range f {
		size += x.size
	}
	return size
}

// ikeyRange returns the minimum smallest and maximum largest internal key
// over all the fileMetadata in f0 and f1.
func ikeyRange(ucmp db.Compare, f0, f1 []*fileMetadata) (smallest, largest db.InternalKey) {
	first := true
	for _, f := range [2][]*fileMetadata{f0, f1} {
		for _, meta := range f {
			if first {
				first = false
				smallest, largest = meta.smallest, meta.largest
				continue
			}
			if db.InternalCompare(ucmp, meta.smallest, smallest) < 0 {
				smallest = meta.smallest
			}
			if db.InternalCompare(ucmp, meta.largest, largest) > 0 {
				largest = meta.largest
			}
		}
	}
	return smallest, largest
}

type byFileNum []*fileMetadata

func (b byFileNum) Len() int           { return len(b) }
func (b byFileNum) Less(i, j int) bool { return b[i].fileNum < b[j].fileNum }
func (b byFileNum) Swap(i, j int)      { b[i], b[j] = b[j], b[i] }

type bySmallest struct {
	dat []*fileMetadata
	cmp db.Compare
}

func (b bySmallest) Len() int { return len(b.dat) }
func (b bySmallest) Less(i, j int) bool {
	return db.InternalCompare(b.cmp, b.dat[i].smallest, b.dat[j].smallest) < 0
}
func (b bySmallest) Swap(i, j int) { b.dat[i], b.dat[j] = b.dat[j], b.dat[i] }

// version is a collection of file metadata for on-disk tables at various
// levels. In-memory DBs are written to level-0 tables, and compactions
// migrate data from level N to level N+1. The tables map internal keys
// (which are a user key, a delete or set bit, and a sequence number) to user
// values.
//
// The tables at level 0 are sorted by increasing fileNum. If two level 0
// tables have fileNums i and j and i < j, then the sequence numbers of every
// internal key in table i are all less than those for table j. The range of
// internal keys [fileMetadata.smallest, fileMetadata.largest] in each level
// 0 table may overlap.
//
// The tables at any non-0 level are sorted by their internal key range and
// any two tables at the same non-0 level do not overlap.
//
// The internal key ranges of two tables at different levels X and Y may
// overlap, for any X != Y.
//
// Finally, for every internal key in a table at level X, there is no
// internal key in a higher level table that has both the same user key and a
// higher sequence number.
type version struct {
	refs int32

	files [numLevels][]*fileMetadata

	// Every version is part of a circular doubly-linked list of versions.
	// One of those versions is a versionSet.dummyVersion.
	prev, next *version
}

func (v *version) ref() {
	atomic.AddInt32(&v.refs, 1)
}

// unref releases a reference. When the last reference is dropped the version
// removes itself from its version list, so that the files it references no
// longer count as live.
func (v *version) unref(mu locker) {
	if atomic.AddInt32(&v.refs, -1) == 0 {
		mu.Lock()
		v.next.prev = v.prev
		v.prev.next = v.next
		mu.Unlock()
	}
}

func (v *version) unrefLocked() {
	if atomic.AddInt32(&v.refs, -1) == 0 {
		v.next.prev = v.prev
		v.prev.next = v.next
	}
}

type locker interface {
	Lock()
	Unlock()
}

// overlaps returns all elements of v.files[level] whose user key range
// intersects the inclusive range [ukey0, ukey1]. If level is non-zero then
// the user key ranges of v.files[level] are assumed to not overlap (although
// they may touch). If level is zero then that assumption cannot be made, and
// the [ukey0, ukey1] range is expanded to the union of those matching ranges
// so far and the computation is repeated until [ukey0, ukey1] stabilizes.
func (v *version) overlaps(level int, ucmp db.Compare, ukey0, ukey1 []byte) (ret []*fileMetadata) {
loop:
	for {
		for _, meta := range v.files[level] {
			m0 := meta.smallest.UserKey
			m1 := meta.largest.UserKey
			if ucmp(m1, ukey0) < 0 {
				// meta is completely before the specified range; skip it.
				continue
			}
			if ucmp(m0, ukey1) > 0 {
				// meta is completely after the specified range; skip it.
				continue
			}
			ret = append(ret, meta)

			// If level == 0, check if the newly added fileMetadata has
			// expanded the range. If so, restart the search.
			if level != 0 {
				continue
			}
			restart := false
			if ucmp(m0, ukey0) < 0 {
				ukey0 = m0
				restart = true
			}
			if ucmp(m1, ukey1) > 0 {
				ukey1 = m1
				restart = true
			}
			if restart {
				ret = ret[:0]
				continue loop
			}
		}
		return ret
	}
}

// checkOrdering checks that the files are consistent with respect to
// increasing file numbers (for level 0 files) and increasing and non-
// overlapping internal key ranges (for level non-0 files).
func (v *version) checkOrdering(ucmp db.Compare) error {
	for level, ff := range v.files {
		if level == 0 {
			prevFileNum := uint64(0)
			for i, f := range ff {
				if i != 0 && prevFileNum >= f.fileNum {
					return errors.Errorf("talus: level 0 files are not in increasing fileNum order: %d, %d", prevFileNum, f.fileNum)
				}
				prevFileNum = f.fileNum
			}
		} else {
			var prevLargest db.InternalKey
			for i, f := range ff {
				if i != 0 && db.InternalCompare(ucmp, prevLargest, f.smallest) >= 0 {
					return errors.Errorf("talus: level non-0 files are not in increasing ikey order: %s, %s", prevLargest, f.smallest)
				}
				if db.InternalCompare(ucmp, f.smallest, f.largest) > 0 {
					return errors.Errorf("talus: level non-0 file has inconsistent bounds: %s, %s", f.smallest, f.largest)
				}
				prevLargest = f.largest
			}
		}
	}
	return nil
}

// tableNewIter creates an iterator over the table with the given file
// number.
type tableNewIter interface {
	newIter(fileNum uint64, ro *db.ReadOptions) (db.InternalIterator, error)
}

// get looks up the newest entry for ikey's user key that is visible at
// ikey's sequence number.
//
// If that entry is a set, its value is returned. If it is a deletion
// tombstone, or if no entry exists, db.ErrNotFound is returned.
func (v *version) get(ikey db.InternalKey, tc tableNewIter, ucmp db.Compare, ro *db.ReadOptions) ([]byte, error) {
	ukey := ikey.UserKey
	// Iterate through v's tables, calling internalGet if the table's bounds
	// might contain ikey. Due to the order in which we search the tables,
	// and the ordering within a table, we stop after the first conclusive
	// result.

	// Search the level 0 files in decreasing fileNum order, which is also
	// decreasing sequence number order.
	for i := len(v.files[0]) - 1; i >= 0; i-- {
		f := v.files[0][i]
		// We compare user keys on the low end, as we do not want to reject
		// a table whose smallest internal key may have the same user key
		// and a lower sequence number. The internal key ordering sorts
		// increasing by user key but then descending by sequence number.
		if ucmp(ukey, f.smallest.UserKey) < 0 {
			continue
		}
		// We compare internal keys on the high end. It gives a tighter
		// bound than comparing user keys.
		if db.InternalCompare(ucmp, ikey, f.largest) > 0 {
			continue
		}
		value, conclusive, err := internalGet(f, ikey, tc, ucmp, ro)
		if conclusive {
			return value, err
		}
	}

	// Search the remaining levels.
	for level := 1; level < numLevels; level++ {
		n := len(v.files[level])
		if n == 0 {
			continue
		}
		// Find the earliest file at that level whose largest key is >= ikey.
		index := sort.Search(n, func(i int) bool {
			return db.InternalCompare(ucmp, v.files[level][i].largest, ikey) >= 0
		})
		if index == n {
			continue
		}
		f := v.files[level][index]
		if ucmp(ukey, f.smallest.UserKey) < 0 {
			continue
		}
		value, conclusive, err := internalGet(f, ikey, tc, ucmp, ro)
		if conclusive {
			return value, err
		}
	}
	return nil, db.ErrNotFound
}

// internalGet searches the table f for the first entry at or after ikey and
// reports whether that search was conclusive.
//
// A search is inconclusive when the table holds no entry for ikey's user
// key, in which case the table's seek budget is charged.
func internalGet(
	f *fileMetadata, ikey db.InternalKey, tc tableNewIter, ucmp db.Compare, ro *db.ReadOptions,
) (value []byte, conclusive bool, err error) {
	iter, err := tc.newIter(f.fileNum, ro)
	if err != nil {
		return nil, true, errors.Wrapf(err, "talus: could not open table %06d", f.fileNum)
	}
	iter.SeekGE(ikey)
	if !iter.Valid() {
		atomic.AddInt32(&f.allowedSeeks, -1)
		err = iter.Close()
		return nil, err != nil, err
	}
	k := iter.Key()
	if !k.Valid() {
		iter.Close()
		return nil, true, db.CorruptionErrorf("talus: corrupt table %06d: invalid internal key", f.fileNum)
	}
	if ucmp(ikey.UserKey, k.UserKey) != 0 {
		atomic.AddInt32(&f.allowedSeeks, -1)
		err = iter.Close()
		return nil, err != nil, err
	}
	if k.Kind() == db.InternalKeyKindDelete {
		iter.Close()
		return nil, true, db.ErrNotFound
	}
	value = append([]byte(nil), iter.Value()...)
	return value, true, iter.Close()
}

// seekCompaction returns a level and file whose seek budget has been
// exhausted, if any.
func (v *version) seekCompaction() (level int, file *fileMetadata) {
	for level, ff := range v.files {
		for _, f := range ff {
			if atomic.LoadInt32(&f.allowedSeeks) <= 0 {
				return level, f
			}
		}
	}
	return -1, nil
}
