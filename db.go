// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package talus provides an ordered key/value store.
package talus

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/talusdb/talus/db"
	"github.com/talusdb/talus/internal/arenaskl"
	"github.com/talusdb/talus/internal/record"
	"github.com/talusdb/talus/vfs"
)

const (
	// minTableCacheSize is the minimum size of the table cache.
	minTableCacheSize = 64

	// numNonTableCacheFiles is an approximation of the number of open files
	// the DB needs that are not table files: the WAL, the MANIFEST, CURRENT
	// and LOCK, plus some headroom.
	numNonTableCacheFiles = 10
)

// DB provides a concurrent, persistent ordered key/value store.
//
// A DB's basic operations (Get, Set, Delete) should be self-explanatory. Get
// and Delete take a key to be retrieved or deleted. Set takes a key and a
// value to associate with that key. Multiple Sets and Deletes can be applied
// atomically via Apply.
//
// A DB also allows for iterating over the key/value pairs in key order. If d
// is a DB, the code below prints all key/value pairs whose keys are 'greater
// than or equal to' k:
//
//	iter := d.NewIter(readOptions)
//	for iter.SeekGE(k); iter.Valid(); iter.Next() {
//		fmt.Printf("key=%q value=%q\n", iter.Key(), iter.Value())
//	}
//	return iter.Close()
//
// A DB is safe for concurrent use by multiple goroutines.
type DB struct {
	dirname string
	opts    *db.Options
	cmp     db.Compare
	equal   db.Equal

	tableCache tableCache

	commit commitPipeline

	// logSeqNum is the last sequence number assigned to a batch. It is
	// only modified by the commit pipeline's prepare step, which serializes
	// commits, but is read atomically elsewhere.
	logSeqNum uint64

	fileLock io.Closer
	dataDir  vfs.File

	// logNumber is the file number of the open WAL. The log writer and file
	// are only accessed with the commit pipeline mutex held.
	logNumber uint64
	logFile   vfs.File
	log       *record.Writer

	// iterCount is the number of open iterators, tracked so that Close can
	// report leaked iterators.
	iterCount int32

	mu struct {
		sync.Mutex

		mem      *memTable
		imm      *memTable
		versions versionSet

		snapshots snapshotList

		compact struct {
			cond sync.Cond
			// compacting is true while a flush or compaction is running,
			// either in the background or via CompactRange.
			compacting bool
			// disabled is incremented by PauseCompaction and decremented by
			// ResumeCompaction. Background compaction is skipped while it is
			// positive.
			disabled int
			// err is a background flush or compaction error. Once set, all
			// subsequent writes fail with it.
			err error
			// pendingOutputs holds the file numbers of tables currently being
			// written by a flush or compaction, so that they are not deleted
			// as obsolete.
			pendingOutputs map[uint64]struct{}
			// manualLevel, when non-negative, marks the level being compacted
			// by CompactRange.
			manualLevel int
			// flushCount and compactCount total the memtable flushes and
			// table compactions performed over the DB's lifetime.
			flushCount   int64
			compactCount int64
		}

		closed bool
	}
}

var (
	_ db.Reader = (*DB)(nil)
	_ db.Writer = (*DB)(nil)
)

// Get gets the value for the given key. It returns ErrNotFound if the DB
// does not contain the key.
//
// The caller should not modify the contents of the returned slice, but it is
// safe to modify the contents of the argument after Get returns.
func (d *DB) Get(key []byte, ro *db.ReadOptions) ([]byte, error) {
	d.mu.Lock()
	if d.mu.closed {
		d.mu.Unlock()
		return nil, db.ErrClosed
	}
	snapshot := atomic.LoadUint64(&d.mu.versions.lastSequence)
	current := d.mu.versions.currentVersion()
	current.ref()
	memtables := [2]*memTable{d.mu.mem, d.mu.imm}
	d.mu.Unlock()
	defer current.unref(&d.mu)

	ikey := db.MakeInternalKey(key, snapshot, db.InternalKeyKindMax)
	return d.getInternal(ikey, current, memtables, ro)
}

func (d *DB) getInternal(
	ikey db.InternalKey, current *version, memtables [2]*memTable, ro *db.ReadOptions,
) ([]byte, error) {
	// Look in the memtables before going to the on-disk current version.
	for _, mem := range memtables {
		if mem == nil {
			continue
		}
		value, conclusive, err := mem.get(ikey.UserKey, ikey.SeqNum())
		if conclusive {
			return value, err
		}
	}

	value, err := current.get(ikey, &d.tableCache, d.cmp, ro)

	// A read that searched a table without finding its key charges that
	// table's seek budget; an exhausted budget triggers a compaction.
	if level, _ := current.seekCompaction(); level >= 0 {
		d.mu.Lock()
		d.maybeScheduleCompaction()
		d.mu.Unlock()
	}
	return value, err
}

// Set sets the value for the given key. It overwrites any previous value for
// that key.
//
// It is safe to modify the contents of the arguments after Set returns.
func (d *DB) Set(key, value []byte, wo *db.WriteOptions) error {
	var batch Batch
	batch.Set(key, value)
	return d.Apply(&batch, wo)
}

// Delete deletes the value for the given key. Deletes are blind all will
// succeed even if the given key does not exist.
//
// It is safe to modify the contents of the arguments after Delete returns.
func (d *DB) Delete(key []byte, wo *db.WriteOptions) error {
	var batch Batch
	batch.Delete(key)
	return d.Apply(&batch, wo)
}

// Apply the operations contained in the batch to the DB.
//
// It is safe to modify the contents of the arguments after Apply returns.
func (d *DB) Apply(batch *Batch, wo *db.WriteOptions) error {
	if d.opts.ReadOnly {
		return db.ErrReadOnly
	}
	if batch.Empty() {
		return nil
	}
	if batch.count() == invalidBatchCount {
		return errors.Wrap(db.ErrInvalidArgument, "talus: batch too large")
	}
	return d.commit.Commit(batch, wo.GetSync())
}

// commitPrepare makes room for the batch in the current memtable, assigns
// the batch its sequence numbers and reserves memtable space. It runs with
// the commit pipeline mutex held, which serializes commits.
func (d *DB) commitPrepare(b *Batch) (*memTable, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mu.closed {
		return nil, db.ErrClosed
	}
	if uint64(b.memTableSize) >= uint64(d.opts.MemTableSize)/2 {
		return nil, errors.Wrapf(db.ErrInvalidArgument,
			"talus: batch of %d bytes is too large for a %d byte memtable",
			b.memTableSize, d.opts.MemTableSize)
	}
	if err := d.makeRoomForWrite(false); err != nil {
		return nil, err
	}
	for {
		mem := d.mu.mem
		err := mem.prepare(b)
		if err != arenaskl.ErrArenaFull {
			if err != nil {
				return nil, err
			}
			n := uint64(b.count())
			b.setSeqNum(atomic.AddUint64(&d.logSeqNum, n) - n + 1)
			return mem, nil
		}
		if err := d.makeRoomForWrite(true); err != nil {
			return nil, err
		}
	}
}

// commitWrite appends the batch to the WAL, syncing the log file when
// requested. It runs with the commit pipeline mutex held. A sync flushes
// everything buffered so far, so earlier unsynced batches are made durable
// along with this one.
func (d *DB) commitWrite(b *Batch, syncWAL bool) error {
	if _, err := d.log.WriteRecord(b.Repr()); err != nil {
		return err
	}
	if syncWAL {
		if err := d.log.Flush(); err != nil {
			return err
		}
		if err := d.logFile.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// commitApply inserts the batch's entries into the memtable it was prepared
// against. It may run concurrently with other applies.
func (d *DB) commitApply(b *Batch, mem *memTable) error {
	err := mem.apply(b, b.seqNum())
	if err != nil {
		return err
	}
	if mem.unref() {
		d.mu.Lock()
		d.maybeScheduleCompaction()
		// A flush may already be waiting for the memtable's readers to drain.
		d.mu.compact.cond.Broadcast()
		d.mu.Unlock()
	}
	return nil
}

// commitPublish makes the batch's writes visible to readers by advancing the
// last published sequence number. The commit pipeline invokes it in commit
// order.
func (d *DB) commitPublish(b *Batch) {
	atomic.StoreUint64(&d.mu.versions.lastSequence, b.seqNum()+uint64(b.count())-1)
}

// newIterInternal constructs an iterator reading at the given sequence
// number over the current memtables and version.
func (d *DB) newIterInternal(ro *db.ReadOptions, seqNum uint64) db.Iterator {
	d.mu.Lock()
	if d.mu.closed {
		d.mu.Unlock()
		return &dbIter{err: db.ErrClosed}
	}
	if seqNum == db.InternalKeySeqNumMax {
		seqNum = atomic.LoadUint64(&d.mu.versions.lastSequence)
	}
	current := d.mu.versions.currentVersion()
	current.ref()

	iters := []db.InternalIterator{d.mu.mem.newIter(ro)}
	if d.mu.imm != nil {
		iters = append(iters, d.mu.imm.newIter(ro))
	}
	d.mu.Unlock()

	// The level 0 files need to be added from newest to oldest. Their key
	// ranges may overlap, so each gets its own child iterator.
	for i := len(current.files[0]) - 1; i >= 0; i-- {
		f := current.files[0][i]
		iter, err := d.tableCache.newIter(f.fileNum, ro)
		if err != nil {
			for _, it := range iters {
				it.Close()
			}
			current.unref(&d.mu)
			return &dbIter{err: errors.Wrapf(err, "talus: could not open table %06d", f.fileNum)}
		}
		iters = append(iters, iter)
	}

	// The tables within a non-0 level do not overlap, so a single level
	// iterator suffices.
	for level := 1; level < numLevels; level++ {
		if len(current.files[level]) == 0 {
			continue
		}
		iters = append(iters, newLevelIter(d.cmp, &d.tableCache, ro, current.files[level]))
	}

	atomic.AddInt32(&d.iterCount, 1)
	iter := newDBIter(d.cmp, newMergingIter(d.cmp, iters...), seqNum)
	iter.onClose = func() {
		current.unref(&d.mu)
		atomic.AddInt32(&d.iterCount, -1)
	}
	return iter
}

// NewIter returns an iterator that is unpositioned (Iterator.Valid() will
// return false). The iterator can be positioned via a call to SeekGE,
// SeekLT, First or Last. The iterator observes the state of the DB as of its
// creation and nothing newer.
func (d *DB) NewIter(ro *db.ReadOptions) db.Iterator {
	return d.newIterInternal(ro, db.InternalKeySeqNumMax)
}

// makeRoomForWrite ensures the current memtable can accept another write,
// stalling or rotating as needed. If force is true the current memtable is
// rotated out even if it has room.
//
// d.mu must be held, as well as the commit pipeline mutex. d.mu may be
// released and reacquired while waiting; the commit pipeline mutex stays held.
func (d *DB) makeRoomForWrite(force bool) error {
	allowDelay := !force
	for {
		if err := d.mu.compact.err; err != nil {
			return err
		}
		if allowDelay && len(d.mu.versions.currentVersion().files[0]) >= d.opts.L0SlowdownWritesThreshold {
			// We are getting close to hitting a hard limit on the number of
			// L0 files. Rather than delaying a single write by several
			// seconds when we hit the hard limit, start delaying each
			// individual write by 1ms to reduce latency variance.
			d.mu.Unlock()
			time.Sleep(1 * time.Millisecond)
			d.mu.Lock()
			allowDelay = false
			continue
		}
		if !force {
			// The caller retries its memtable reservation, which fails only
			// when the memtable is full, so a rotation is only needed when
			// forced.
			return nil
		}
		if d.mu.imm != nil {
			// The previous memtable has not yet been flushed.
			d.mu.compact.cond.Wait()
			continue
		}
		if len(d.mu.versions.currentVersion().files[0]) >= d.opts.L0StopWritesThreshold {
			d.mu.compact.cond.Wait()
			continue
		}

		// Rotate: attach a new WAL and swap in a fresh memtable, moving the
		// full one to the flush queue.
		newLogNumber := d.mu.versions.nextFileNum()
		newLogFile, err := d.opts.FS.Create(dbFilename(d.dirname, fileTypeLog, newLogNumber))
		if err != nil {
			return err
		}
		if err := d.log.Close(); err != nil {
			newLogFile.Close()
			return err
		}
		if err := d.logFile.Close(); err != nil {
			newLogFile.Close()
			return err
		}
		d.logNumber = newLogNumber
		d.logFile = newLogFile
		d.log = record.NewWriter(newLogFile)

		d.mu.imm = d.mu.mem
		// Drop the creation reference. Once every in-flight apply has
		// released its reference too, the memtable is ready to flush.
		d.mu.imm.unref()
		d.mu.mem = newMemTable(d.opts)
		d.maybeScheduleCompaction()
		force = false
	}
}

// Flush writes the contents of the current memtable to on-disk tables and
// waits for that flush to complete.
func (d *DB) Flush() error {
	for {
		d.mu.Lock()
		if d.mu.closed {
			d.mu.Unlock()
			return db.ErrClosed
		}
		if d.opts.ReadOnly {
			d.mu.Unlock()
			return db.ErrReadOnly
		}
		if err := d.mu.compact.err; err != nil {
			d.mu.Unlock()
			return err
		}
		if d.mu.imm != nil {
			// An earlier memtable is still being flushed. Wait for it so
			// that there is room to queue the current one.
			d.mu.compact.cond.Wait()
			d.mu.Unlock()
			continue
		}
		if d.mu.mem.empty() {
			d.mu.Unlock()
			return nil
		}
		d.mu.Unlock()

		// Rotating the memtable swaps the WAL, which requires the commit
		// mutex. Reacquire both in lock order and recheck.
		d.commit.mu.Lock()
		d.mu.Lock()
		if d.mu.closed {
			d.mu.Unlock()
			d.commit.mu.Unlock()
			return db.ErrClosed
		}
		if d.mu.imm != nil || d.mu.mem.empty() {
			d.mu.Unlock()
			d.commit.mu.Unlock()
			continue
		}
		err := d.makeRoomForWrite(true)
		flushed := d.mu.imm
		d.mu.Unlock()
		d.commit.mu.Unlock()
		if err != nil {
			return err
		}
		if flushed != nil {
			<-flushed.flushed()
		}
		return nil
	}
}

// Close closes the DB.
//
// It is not safe to close a DB until all outstanding iterators are closed.
// It is valid to call Close multiple times. Other methods should not be
// called after the DB has been closed.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mu.closed {
		return nil
	}
	for d.mu.compact.compacting {
		d.mu.compact.cond.Wait()
	}
	d.mu.closed = true

	var err error
	if n := atomic.LoadInt32(&d.iterCount); n > 0 {
		err = errors.Errorf("talus: %d unclosed iterators", n)
	}
	if d.log != nil {
		err = firstError(err, d.log.Close())
		err = firstError(err, d.logFile.Close())
	}
	err = firstError(err, d.tableCache.Close())
	if d.mu.versions.manifest != nil {
		err = firstError(err, d.mu.versions.manifest.Close())
		err = firstError(err, d.mu.versions.manifestFile.Close())
	}
	if d.dataDir != nil {
		err = firstError(err, d.dataDir.Close())
	}
	if d.fileLock != nil {
		err = firstError(err, d.fileLock.Close())
	}
	return err
}

func firstError(err0, err1 error) error {
	if err0 != nil {
		return err0
	}
	return err1
}

// GetApproximateSizes returns the approximate on-disk size of the data for
// each of the given key ranges. The sizes count table data only; entries
// still in the memtable contribute nothing.
func (d *DB) GetApproximateSizes(ranges []db.Range) ([]uint64, error) {
	d.mu.Lock()
	if d.mu.closed {
		d.mu.Unlock()
		return nil, db.ErrClosed
	}
	current := d.mu.versions.currentVersion()
	current.ref()
	d.mu.Unlock()
	defer current.unref(&d.mu)

	sizes := make([]uint64, len(ranges))
	for i, r := range ranges {
		if d.cmp(r.Start, r.Limit) > 0 {
			return nil, errors.Wrapf(db.ErrInvalidArgument,
				"talus: range start %q is after limit %q", r.Start, r.Limit)
		}
		start := db.MakeSearchKey(r.Start)
		limit := db.MakeSearchKey(r.Limit)
		startOff, err := d.approximateOffset(current, start)
		if err != nil {
			return nil, err
		}
		limitOff, err := d.approximateOffset(current, limit)
		if err != nil {
			return nil, err
		}
		if limitOff > startOff {
			sizes[i] = limitOff - startOff
		}
	}
	return sizes, nil
}

// approximateOffset sums, over every table in the version, the approximate
// number of table bytes holding keys before ikey.
func (d *DB) approximateOffset(v *version, ikey db.InternalKey) (uint64, error) {
	var total uint64
	for _, ff := range v.files {
		for _, f := range ff {
			if db.InternalCompare(d.cmp, f.largest, ikey) <= 0 {
				// The whole table is before ikey.
				total += f.size
				continue
			}
			if db.InternalCompare(d.cmp, f.smallest, ikey) >= 0 {
				continue
			}
			// ikey falls within the table's bounds; ask the table.
			off, err := d.tableCache.approximateOffset(f.fileNum, ikey)
			if err != nil {
				return 0, err
			}
			total += off
		}
	}
	return total, nil
}

// GetProperty returns the value of the named DB property, or an error if the
// name is not recognized.
//
// The understood properties are:
//
//	talus.num-files-at-level<N>    the number of tables at the given level
//	talus.stats                    a multi-line summary of per-level state
//	talus.sstables                 a listing of the tables in each level
//	talus.approximate-memory-usage the bytes used by the memtables
func (d *DB) GetProperty(name string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mu.closed {
		return "", db.ErrClosed
	}
	current := d.mu.versions.currentVersion()

	const prefix = "talus."
	if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
		return "", errors.Wrapf(db.ErrInvalidArgument, "talus: unknown property %q", name)
	}
	p := name[len(prefix):]

	const levelPrefix = "num-files-at-level"
	if len(p) > len(levelPrefix) && p[:len(levelPrefix)] == levelPrefix {
		level := -1
		if s := p[len(levelPrefix):]; len(s) == 1 && s[0] >= '0' && s[0] <= '9' {
			level = int(s[0] - '0')
		}
		if level < 0 || level >= numLevels {
			return "", errors.Wrapf(db.ErrInvalidArgument, "talus: unknown property %q", name)
		}
		return fmt.Sprintf("%d", len(current.files[level])), nil
	}

	switch p {
	case "stats":
		s := "Level Files Size(MB)\n--------------------\n"
		for level, ff := range current.files {
			if len(ff) == 0 {
				continue
			}
			s += fmt.Sprintf("%5d %5d %8.1f\n",
				level, len(ff), float64(totalSize(ff))/(1<<20))
		}
		return s, nil
	case "sstables":
		var s string
		for level, ff := range current.files {
			if len(ff) == 0 {
				continue
			}
			s += fmt.Sprintf("level %d:\n", level)
			for _, f := range ff {
				s += fmt.Sprintf("  %06d: %d bytes, [%s, %s]\n",
					f.fileNum, f.size, f.smallest, f.largest)
			}
		}
		return s, nil
	case "approximate-memory-usage":
		usage := d.mu.mem.approximateMemoryUsage()
		if d.mu.imm != nil {
			usage += d.mu.imm.approximateMemoryUsage()
		}
		return fmt.Sprintf("%d", usage), nil
	}
	return "", errors.Wrapf(db.ErrInvalidArgument, "talus: unknown property %q", name)
}

// deleteObsoleteFiles deletes those files that are no longer needed: old log
// files, old manifests, and tables no longer referenced by any live version.
//
// d.mu must be held when calling this, but it is released during the actual
// file deletion.
func (d *DB) deleteObsoleteFiles() {
	liveFileNums := map[uint64]bool{}
	for fileNum := range d.mu.compact.pendingOutputs {
		liveFileNums[fileNum] = true
	}
	d.mu.versions.addLiveFileNums(liveFileNums)
	logNumber := d.mu.versions.logNumber
	prevLogNumber := d.mu.versions.prevLogNumber
	manifestFileNumber := d.mu.versions.manifestFileNumber
	d.mu.Unlock()
	defer d.mu.Lock()

	fs := d.opts.FS
	list, err := fs.List(d.dirname)
	if err != nil {
		// Ignore the error and try again next time.
		return
	}
	for _, filename := range list {
		fileType, fileNum, ok := parseDBFilename(filename)
		if !ok {
			continue
		}
		keep := true
		switch fileType {
		case fileTypeLog:
			keep = fileNum >= logNumber || fileNum == prevLogNumber
		case fileTypeManifest:
			keep = fileNum >= manifestFileNumber
		case fileTypeTable:
			keep = liveFileNums[fileNum]
		case fileTypeTemp:
			keep = false
		}
		if keep {
			continue
		}
		if fileType == fileTypeTable {
			d.tableCache.evict(fileNum)
		}
		// Ignore any file deletion errors.
		fs.Remove(d.dirname + string(os.PathSeparator) + filename)
	}
}
