// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package talus

import (
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/tokenbucket"
	"github.com/talusdb/talus/db"
	"github.com/talusdb/talus/sstable"
	"github.com/talusdb/talus/vfs"
)

// maxMemCompactLevel is the maximum level to which a new memtable flush can
// be pushed when its key range does not overlap the intervening levels.
// Pushing past level 0 avoids some rewriting, but going too deep makes the
// eventual overwrite compactions expensive.
const maxMemCompactLevel = 2

// maxBytesForLevel returns the byte budget for the given level. Level 1
// holds 10MB; every deeper level holds ten times its parent. Level 0 is
// scored by file count instead of bytes.
func maxBytesForLevel(level int) float64 {
	result := 10.0 * 1048576.0
	for level > 1 {
		result *= 10
		level--
	}
	return result
}

// maxGrandparentOverlapBytes is the maximum number of bytes of overlap with
// level+2 before a compaction output at level+1 is cut.
func maxGrandparentOverlapBytes(opts *db.Options, level int) int64 {
	return 10 * opts.Level(level).TargetFileSize
}

// expandedCompactionByteSizeLimit is the maximum total size of a compaction
// after its level-N inputs are grown to cleanly align with level N+1.
func expandedCompactionByteSizeLimit(opts *db.Options, level int) uint64 {
	return uint64(25 * opts.Level(level).TargetFileSize)
}

// compaction is a table compaction from one level to the next, starting from
// a given version.
type compaction struct {
	version *version

	// level is the level that is being compacted. Inputs from level and
	// level+1 will be merged to produce a set of level+1 files.
	level int

	// inputs[0] and inputs[1] are the tables in this compaction from level
	// and level+1 respectively. inputs[2] are the grandparent tables, those
	// in level+2 overlapping the key range of the compaction output.
	inputs [3][]*fileMetadata

	// grandparentIndex, seenKey and overlappedBytes track how many bytes of
	// grandparent tables the current output overlaps, for deciding when to
	// cut the output.
	grandparentIndex int
	seenKey          bool
	overlappedBytes  int64
}

// pickCompaction picks the best compaction, if any.
//
// d.mu must be held when calling this.
func (d *DB) pickCompaction() *compaction {
	cur := d.mu.versions.currentVersion()
	ucmp := d.cmp

	// Pick the level whose size most exceeds its budget. Level 0 is scored
	// by file count, as its files overlap and each one read-amplifies every
	// lookup.
	bestLevel, bestScore := -1, float64(0)
	for level := 0; level < numLevels-1; level++ {
		var score float64
		if level == 0 {
			score = float64(len(cur.files[0])) / float64(d.opts.L0CompactionThreshold)
		} else {
			score = float64(totalSize(cur.files[level])) / maxBytesForLevel(level)
		}
		if score >= 1 && score > bestScore {
			bestLevel, bestScore = level, score
		}
	}

	var c *compaction
	if bestLevel >= 0 {
		c = &compaction{
			version: cur,
			level:   bestLevel,
		}
		// Compactions rotate through the level's key space: seed with the
		// first table after the level's compaction cursor, wrapping around
		// to the first table.
		cursor := d.mu.versions.compactPointers[bestLevel]
		for _, f := range cur.files[bestLevel] {
			if len(cursor.UserKey) == 0 || db.InternalCompare(ucmp, f.largest, cursor) > 0 {
				c.inputs[0] = []*fileMetadata{f}
				break
			}
		}
		if len(c.inputs[0]) == 0 {
			c.inputs[0] = []*fileMetadata{cur.files[bestLevel][0]}
		}
	} else if level, file := cur.seekCompaction(); level >= 0 && level < numLevels-1 {
		// A table whose seek budget is spent costs more in wasted seeks
		// than its compaction would.
		c = &compaction{
			version: cur,
			level:   level,
			inputs:  [3][]*fileMetadata{{file}},
		}
	} else {
		return nil
	}

	// Level 0 files may overlap each other, so pull in every level 0 file
	// that overlaps the seed's key range.
	if c.level == 0 {
		smallest, largest := ikeyRange(ucmp, c.inputs[0], nil)
		c.inputs[0] = cur.overlaps(0, ucmp, smallest.UserKey, largest.UserKey)
	}

	d.setupOtherInputs(c)
	return c
}

// setupOtherInputs fills in the rest of the compaction inputs, regardless of
// how the first input was selected.
//
// d.mu must be held when calling this.
func (d *DB) setupOtherInputs(c *compaction) {
	ucmp := d.cmp
	smallest0, largest0 := ikeyRange(ucmp, c.inputs[0], nil)
	c.inputs[1] = c.version.overlaps(c.level+1, ucmp, smallest0.UserKey, largest0.UserKey)
	smallest01, largest01 := ikeyRange(ucmp, c.inputs[0], c.inputs[1])

	// Grow the inputs at c.level if doing so does not pull in any more
	// tables at c.level+1 and the compaction stays under its size limit.
	// Growing aligns the compaction with the level's table boundaries, so
	// the same keys are not recompacted soon after.
	grow0 := c.version.overlaps(c.level, ucmp, smallest01.UserKey, largest01.UserKey)
	if len(grow0) > len(c.inputs[0]) &&
		totalSize(grow0)+totalSize(c.inputs[1]) < expandedCompactionByteSizeLimit(d.opts, c.level+1) {
		sm, la := ikeyRange(ucmp, grow0, nil)
		grow1 := c.version.overlaps(c.level+1, ucmp, sm.UserKey, la.UserKey)
		if len(grow1) == len(c.inputs[1]) {
			c.inputs[0] = grow0
			c.inputs[1] = grow1
			smallest01, largest01 = ikeyRange(ucmp, c.inputs[0], c.inputs[1])
		}
	}

	// Compute the grandparent tables that overlap the compaction output.
	if c.level+2 < numLevels {
		c.inputs[2] = c.version.overlaps(c.level+2, ucmp, smallest01.UserKey, largest01.UserKey)
	}
}

// isBaseLevelForUkey reports whether it is guaranteed that there are no
// key/value pairs for the given user key in any level below the compaction
// output level. A deletion tombstone can only be elided when this holds, as
// otherwise it would resurrect the deeper entry.
func (c *compaction) isBaseLevelForUkey(ucmp db.Compare, ukey []byte) bool {
	for level := c.level + 2; level < numLevels; level++ {
		for _, f := range c.version.files[level] {
			if ucmp(ukey, f.largest.UserKey) <= 0 && ucmp(ukey, f.smallest.UserKey) >= 0 {
				return false
			}
		}
	}
	return true
}

// shouldStopBefore reports whether the current compaction output should be
// finished before adding the given key, because the output would otherwise
// overlap too many bytes of grandparent tables and make their eventual
// compaction expensive.
func (c *compaction) shouldStopBefore(ucmp db.Compare, key db.InternalKey, maxOverlap int64) bool {
	grandparents := c.inputs[2]
	for c.grandparentIndex < len(grandparents) {
		g := grandparents[c.grandparentIndex]
		if db.InternalCompare(ucmp, key, g.largest) <= 0 {
			break
		}
		if c.seenKey {
			c.overlappedBytes += int64(g.size)
		}
		c.grandparentIndex++
	}
	c.seenKey = true
	if c.overlappedBytes > maxOverlap {
		c.overlappedBytes = 0
		return true
	}
	return false
}

// maybeScheduleCompaction schedules a background flush or compaction if one
// is needed and none is running.
//
// d.mu must be held when calling this.
func (d *DB) maybeScheduleCompaction() {
	if d.mu.compact.compacting || d.mu.closed || d.opts.ReadOnly || d.mu.compact.disabled > 0 {
		return
	}
	if d.mu.imm == nil && !d.needsCompaction() {
		return
	}
	d.mu.compact.compacting = true
	go d.backgroundCompaction()
}

// needsCompaction reports whether some level is over its size budget or some
// table has spent its seek budget.
//
// d.mu must be held when calling this.
func (d *DB) needsCompaction() bool {
	cur := d.mu.versions.currentVersion()
	if len(cur.files[0]) >= d.opts.L0CompactionThreshold {
		return true
	}
	for level := 1; level < numLevels-1; level++ {
		if float64(totalSize(cur.files[level])) >= maxBytesForLevel(level) {
			return true
		}
	}
	if level, _ := cur.seekCompaction(); level >= 0 {
		return true
	}
	return false
}

// backgroundCompaction runs one flush or compaction, then reschedules itself
// if more work remains.
func (d *DB) backgroundCompaction() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.compact1(); err != nil {
		// A background error leaves the on-disk state behind the memtables,
		// so accepting more writes would let the gap grow without bound.
		// The error is sticky: all subsequent writes fail with it.
		d.mu.compact.err = err
		d.opts.Logger.Infof("talus: background error: %s", err)
	}
	d.mu.compact.compacting = false
	// The previous compaction may have produced too many files in a level,
	// so check again.
	d.maybeScheduleCompaction()
	d.mu.compact.cond.Broadcast()
}

// compact1 runs one flush or compaction.
//
// d.mu must be held when calling this, but the mutex may be released and
// reacquired during the disk IO.
func (d *DB) compact1() error {
	if d.mu.imm != nil {
		return d.flush1()
	}
	c := d.pickCompaction()
	if c == nil {
		return nil
	}
	return d.compactDiskTables(c)
}

// flush1 writes the immutable memtable to a table and installs it in the
// LSM.
//
// d.mu must be held when calling this, but the mutex may be released and
// reacquired during the disk IO.
func (d *DB) flush1() error {
	imm := d.mu.imm
	// Wait until every batch applied to the memtable before it was rotated
	// out has finished.
	for !imm.readyForFlush() {
		d.mu.compact.cond.Wait()
	}

	meta, err := d.writeLevel0Table(imm.newFlushIter())
	if err != nil {
		return err
	}

	// A flush whose key range does not overlap the top levels can be
	// installed directly at a deeper level, skipping pointless rewrites.
	level := d.pickLevelForMemTableOutput(meta.smallest.UserKey, meta.largest.UserKey)

	ve := versionEdit{
		logNumber: d.logNumber,
		newFiles:  []newFileEntry{{level: level, meta: meta}},
	}
	err = d.mu.versions.logAndApply(&ve, d.dataDir)
	delete(d.mu.compact.pendingOutputs, meta.fileNum)
	if err != nil {
		return err
	}

	d.mu.imm = nil
	d.mu.compact.flushCount++
	close(imm.flushedCh)
	d.deleteObsoleteFiles()
	return nil
}

// pickLevelForMemTableOutput returns the level a flushed memtable's table
// should be installed at: the deepest level, up to maxMemCompactLevel, whose
// key space the table does not overlap and whose children do not overlap it
// too much.
//
// d.mu must be held when calling this.
func (d *DB) pickLevelForMemTableOutput(smallest, largest []byte) int {
	cur := d.mu.versions.currentVersion()
	level := 0
	if len(cur.overlaps(0, d.cmp, smallest, largest)) != 0 {
		return 0
	}
	for ; level < maxMemCompactLevel; level++ {
		if len(cur.overlaps(level+1, d.cmp, smallest, largest)) != 0 {
			break
		}
		if level+2 < numLevels {
			overlaps := cur.overlaps(level+2, d.cmp, smallest, largest)
			if int64(totalSize(overlaps)) > maxGrandparentOverlapBytes(d.opts, level) {
				break
			}
		}
	}
	return level
}

// writeLevel0Table writes the iterator's contents to a new table, returning
// its metadata. The table is written in the level 0 format, which any level
// accepts.
//
// d.mu must be held when calling this, but the mutex is released during the
// disk IO.
func (d *DB) writeLevel0Table(iter db.InternalIterator) (meta *fileMetadata, err error) {
	meta = &fileMetadata{fileNum: d.mu.versions.nextFileNum()}
	d.mu.compact.pendingOutputs[meta.fileNum] = struct{}{}

	// Release the lock while doing the IO.
	d.mu.Unlock()
	defer d.mu.Lock()

	fs := d.opts.FS
	filename := dbFilename(d.dirname, fileTypeTable, meta.fileNum)
	var (
		file vfs.File
		tw   *sstable.Writer
	)
	defer func() {
		if iter != nil {
			err = firstError(err, iter.Close())
		}
		if tw != nil {
			err = firstError(err, tw.Close())
		}
		if file != nil {
			err = firstError(err, file.Close())
		}
		if err != nil {
			fs.Remove(filename)
			meta = nil
		}
	}()

	file, err = fs.Create(filename)
	if err != nil {
		return nil, err
	}
	tw = sstable.NewWriter(file, d.opts, d.opts.Level(0))

	iter.First()
	if !iter.Valid() {
		return nil, errors.Errorf("talus: nothing to flush to table %06d", meta.fileNum)
	}
	meta.smallest = iter.Key().Clone()
	for {
		meta.largest = iter.Key().Clone()
		if err1 := tw.Add(iter.Key(), iter.Value()); err1 != nil {
			return nil, err1
		}
		if !iter.Next() {
			break
		}
	}
	if err1 := iter.Close(); err1 != nil {
		iter = nil
		return nil, err1
	}
	iter = nil
	if err1 := tw.Close(); err1 != nil {
		tw = nil
		return nil, err1
	}
	tw = nil
	if err1 := file.Sync(); err1 != nil {
		return nil, err1
	}
	if err1 := file.Close(); err1 != nil {
		file = nil
		return nil, err1
	}
	file = nil

	stat, err := fs.Stat(filename)
	if err != nil {
		return nil, err
	}
	meta.size = uint64(stat.Size())
	meta.initAllowedSeeks()
	return meta, nil
}

// compactDiskTables runs a compaction that produces new on-disk tables from
// memtables or old on-disk tables, and installs the result.
//
// d.mu must be held when calling this, but the mutex may be released and
// reacquired during the disk IO.
func (d *DB) compactDiskTables(c *compaction) (retErr error) {
	// Check for a trivial move of one table from level to level+1.
	if len(c.inputs[0]) == 1 && len(c.inputs[1]) == 0 &&
		int64(totalSize(c.inputs[2])) <= maxGrandparentOverlapBytes(d.opts, c.level) {
		meta := c.inputs[0][0]
		ve := versionEdit{
			deletedFiles: map[deletedFileEntry]bool{
				{level: c.level, fileNum: meta.fileNum}: true,
			},
			newFiles: []newFileEntry{
				{level: c.level + 1, meta: meta},
			},
			compactPointers: []compactPointerEntry{
				{level: c.level, key: meta.largest},
			},
		}
		if err := d.mu.versions.logAndApply(&ve, d.dataDir); err != nil {
			return err
		}
		d.mu.compact.compactCount++
		d.deleteObsoleteFiles()
		return nil
	}

	ve, pendingOutputs, err := d.compactDiskTablesLocked(c)
	for _, fileNum := range pendingOutputs {
		delete(d.mu.compact.pendingOutputs, fileNum)
	}
	if err != nil {
		return err
	}
	if err := d.mu.versions.logAndApply(ve, d.dataDir); err != nil {
		return err
	}
	d.mu.compact.compactCount++
	d.deleteObsoleteFiles()
	return nil
}

// compactDiskTablesLocked merges the compaction inputs into new tables at
// level+1, dropping shadowed entries and elidable tombstones. It returns the
// version edit to install and the file numbers the caller must remove from
// the pending outputs.
//
// d.mu must be held when calling this, but the mutex is released during the
// disk IO.
func (d *DB) compactDiskTablesLocked(
	c *compaction,
) (ve *versionEdit, pendingOutputs []uint64, retErr error) {
	// Entry versions shadowed by a newer entry for the same user key can
	// only be dropped if no open snapshot can observe them.
	smallestSnapshot := atomic.LoadUint64(&d.mu.versions.lastSequence)
	if !d.mu.snapshots.empty() {
		smallestSnapshot = d.mu.snapshots.earliest()
	}

	ucmp := d.cmp
	targetFileSize := d.opts.Level(c.level + 1).TargetFileSize
	maxOverlap := maxGrandparentOverlapBytes(d.opts, c.level)

	var limiter tokenbucket.TokenBucket
	useLimiter := d.opts.CompactionThroughput > 0
	if useLimiter {
		r := d.opts.CompactionThroughput
		limiter.Init(tokenbucket.TokensPerSecond(r), tokenbucket.Tokens(r))
	}

	// Release the lock while doing the IO.
	d.mu.Unlock()
	defer d.mu.Lock()

	var iters []db.InternalIterator
	if c.level == 0 {
		for _, f := range c.inputs[0] {
			iter, err := d.tableCache.newIter(f.fileNum, nil)
			if err != nil {
				for _, it := range iters {
					it.Close()
				}
				return nil, nil, err
			}
			iters = append(iters, iter)
		}
	} else {
		iters = append(iters, newLevelIter(ucmp, &d.tableCache, nil, c.inputs[0]))
	}
	iters = append(iters, newLevelIter(ucmp, &d.tableCache, nil, c.inputs[1]))
	iter := newMergingIter(ucmp, iters...)
	defer func() {
		if iter != nil {
			retErr = firstError(retErr, iter.Close())
		}
	}()

	ve = &versionEdit{
		deletedFiles: map[deletedFileEntry]bool{},
	}
	for i := 0; i <= 1; i++ {
		for _, f := range c.inputs[i] {
			ve.deletedFiles[deletedFileEntry{
				level:   c.level + i,
				fileNum: f.fileNum,
			}] = true
		}
	}

	var (
		fs       = d.opts.FS
		filename string
		file     vfs.File
		tw       *sstable.Writer
		smallest db.InternalKey
		largest  db.InternalKey
		curUkey  []byte
		hasUkey  bool
		lastSeq  = db.InternalKeySeqNumMax
	)
	defer func() {
		if tw != nil {
			retErr = firstError(retErr, tw.Close())
		}
		if file != nil {
			retErr = firstError(retErr, file.Close())
		}
		if retErr != nil {
			for _, fileNum := range pendingOutputs {
				fs.Remove(dbFilename(d.dirname, fileTypeTable, fileNum))
			}
		}
	}()

	finishOutput := func() error {
		if err := tw.Close(); err != nil {
			tw = nil
			return err
		}
		tw = nil
		if err := file.Sync(); err != nil {
			return err
		}
		if err := file.Close(); err != nil {
			file = nil
			return err
		}
		file = nil
		stat, err := fs.Stat(filename)
		if err != nil {
			return err
		}
		meta := &fileMetadata{
			fileNum:  pendingOutputs[len(pendingOutputs)-1],
			size:     uint64(stat.Size()),
			smallest: smallest,
			largest:  largest,
		}
		meta.initAllowedSeeks()
		ve.newFiles = append(ve.newFiles, newFileEntry{level: c.level + 1, meta: meta})
		return nil
	}

	for iter.First(); iter.Valid(); iter.Next() {
		ikey := iter.Key()

		if tw != nil && c.shouldStopBefore(ucmp, ikey, maxOverlap) {
			if err := finishOutput(); err != nil {
				return nil, pendingOutputs, err
			}
		}

		if !hasUkey || ucmp(ikey.UserKey, curUkey) != 0 {
			// This is the first occurrence of this user key.
			curUkey = append(curUkey[:0], ikey.UserKey...)
			hasUkey = true
			lastSeq = db.InternalKeySeqNumMax
		}

		drop := false
		if lastSeq <= smallestSnapshot {
			// For this user key there is an entry with a newer sequence
			// number that is itself at or below the smallest snapshot, so
			// this entry is not visible to any reader.
			drop = true
		} else if ikey.Kind() == db.InternalKeyKindDelete &&
			ikey.SeqNum() <= smallestSnapshot &&
			c.isBaseLevelForUkey(ucmp, ikey.UserKey) {
			// This tombstone shadows nothing in any deeper level, so it has
			// done its job and can itself be dropped.
			drop = true
		}
		lastSeq = ikey.SeqNum()
		if drop {
			continue
		}

		if useLimiter {
			n := tokenbucket.Tokens(ikey.Size() + len(iter.Value()))
			for {
				ok, wait := limiter.TryToFulfill(n)
				if ok {
					break
				}
				time.Sleep(wait)
			}
		}

		if tw == nil {
			d.mu.Lock()
			fileNum := d.mu.versions.nextFileNum()
			d.mu.compact.pendingOutputs[fileNum] = struct{}{}
			pendingOutputs = append(pendingOutputs, fileNum)
			d.mu.Unlock()

			filename = dbFilename(d.dirname, fileTypeTable, fileNum)
			var err error
			file, err = fs.Create(filename)
			if err != nil {
				return nil, pendingOutputs, err
			}
			tw = sstable.NewWriter(file, d.opts, d.opts.Level(c.level+1))
			smallest = ikey.Clone()
		}
		largest = ikey.Clone()
		if err := tw.Add(ikey, iter.Value()); err != nil {
			return nil, pendingOutputs, err
		}

		if tw.EstimatedSize() >= uint64(targetFileSize) {
			if err := finishOutput(); err != nil {
				return nil, pendingOutputs, err
			}
		}
	}
	if err := iter.Error(); err != nil {
		return nil, pendingOutputs, err
	}
	if err := iter.Close(); err != nil {
		iter = nil
		return nil, pendingOutputs, err
	}
	iter = nil

	if tw != nil {
		if err := finishOutput(); err != nil {
			return nil, pendingOutputs, err
		}
	}

	// Record where the compaction stopped, so the next one at this level
	// resumes from there.
	if n := len(c.inputs[0]); n > 0 {
		ve.compactPointers = append(ve.compactPointers, compactPointerEntry{
			level: c.level,
			key:   c.inputs[0][n-1].largest,
		})
	}
	return ve, pendingOutputs, nil
}

// CompactRange performs a manual compaction of the tables whose key range
// overlaps [start, limit]. The memtable is flushed first if it overlaps the
// range. On return every entry in the range has been compacted down to the
// deepest level holding data for it.
func (d *DB) CompactRange(start, limit []byte) error {
	if d.opts.ReadOnly {
		return db.ErrReadOnly
	}
	if d.cmp(start, limit) > 0 {
		return errors.Wrapf(db.ErrInvalidArgument,
			"talus: compaction range start %q is after limit %q", start, limit)
	}

	// Flush the memtable first if it holds keys in the range.
	d.mu.Lock()
	if d.mu.closed {
		d.mu.Unlock()
		return db.ErrClosed
	}
	memOverlaps := false
	for _, mem := range [2]*memTable{d.mu.mem, d.mu.imm} {
		if mem == nil || memOverlaps {
			continue
		}
		iter := mem.newIter(nil)
		iter.SeekGE(db.MakeSearchKey(start))
		if iter.Valid() && d.cmp(iter.Key().UserKey, limit) <= 0 {
			memOverlaps = true
		}
		iter.Close()
	}
	d.mu.Unlock()
	if memOverlaps {
		if err := d.Flush(); err != nil {
			return err
		}
	}

	for level := 0; level < numLevels-1; level++ {
		if err := d.compactRange1(level, start, limit); err != nil {
			return err
		}
	}
	return nil
}

// compactRange1 compacts the tables at the given level whose key range
// overlaps [start, limit] into level+1.
func (d *DB) compactRange1(level int, start, limit []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for {
		if d.mu.closed {
			return db.ErrClosed
		}
		if err := d.mu.compact.err; err != nil {
			return err
		}
		if !d.mu.compact.compacting {
			break
		}
		d.mu.compact.cond.Wait()
	}

	cur := d.mu.versions.currentVersion()
	inputs := cur.overlaps(level, d.cmp, start, limit)
	if len(inputs) == 0 {
		return nil
	}
	c := &compaction{
		version: cur,
		level:   level,
		inputs:  [3][]*fileMetadata{inputs},
	}
	d.setupOtherInputs(c)

	d.mu.compact.compacting = true
	d.mu.compact.manualLevel = level
	err := d.compactDiskTables(c)
	d.mu.compact.manualLevel = -1
	d.mu.compact.compacting = false
	if err != nil {
		d.mu.compact.err = err
		d.mu.compact.cond.Broadcast()
		return err
	}
	d.maybeScheduleCompaction()
	d.mu.compact.cond.Broadcast()
	return nil
}

// PauseCompaction disables background flushes and compactions until a
// matching ResumeCompaction call. Pauses nest: compaction resumes when every
// pause has been matched by a resume.
//
// A running flush or compaction is not interrupted, but no new one starts.
func (d *DB) PauseCompaction() {
	d.mu.Lock()
	d.mu.compact.disabled++
	d.mu.Unlock()
}

// ResumeCompaction re-enables background flushes and compactions disabled by
// PauseCompaction.
func (d *DB) ResumeCompaction() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mu.compact.disabled <= 0 {
		panic("talus: compaction was not paused")
	}
	d.mu.compact.disabled--
	if d.mu.compact.disabled == 0 {
		d.maybeScheduleCompaction()
	}
}
