// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package talus

import (
	"io"
	"os"
	"sort"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/talusdb/talus/db"
	"github.com/talusdb/talus/internal/arenaskl"
	"github.com/talusdb/talus/internal/record"
	"github.com/talusdb/talus/vfs"
)

// Open opens a DB whose files live in the given directory. The directory is
// created, along with an empty store, if it does not already hold one.
func Open(dirname string, opts *db.Options) (*DB, error) {
	opts = opts.EnsureDefaults()
	d := &DB{
		dirname: dirname,
		opts:    opts,
		cmp:     opts.Comparer.Compare,
		equal:   opts.Comparer.Equal,
	}
	tableCacheSize := opts.MaxOpenFiles - numNonTableCacheFiles
	if tableCacheSize < minTableCacheSize {
		tableCacheSize = minTableCacheSize
	}
	d.tableCache.init(dirname, opts.FS, opts, tableCacheSize)
	d.commit.init(commitEnv{
		prepare: d.commitPrepare,
		write:   d.commitWrite,
		apply:   d.commitApply,
		publish: d.commitPublish,
	})
	d.mu.versions.init(dirname, opts)
	d.mu.snapshots.init()
	d.mu.compact.cond.L = &d.mu
	d.mu.compact.pendingOutputs = make(map[uint64]struct{})
	d.mu.compact.manualLevel = -1
	d.mu.mem = newMemTable(opts)

	fs := opts.FS
	if err := fs.MkdirAll(dirname, 0755); err != nil {
		return nil, err
	}

	// Lock the database directory for the lifetime of the DB.
	fileLock, err := fs.Lock(dbFilename(dirname, fileTypeLock, 0))
	if err != nil {
		return nil, err
	}
	defer func() {
		if fileLock != nil {
			fileLock.Close()
		}
	}()

	dataDir, err := fs.OpenDir(dirname)
	if err != nil {
		return nil, err
	}
	defer func() {
		if dataDir != nil {
			dataDir.Close()
		}
	}()

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := fs.Stat(dbFilename(dirname, fileTypeCurrent, 0)); os.IsNotExist(err) {
		if opts.ErrorIfDBDoesNotExist || opts.ReadOnly {
			return nil, errors.Wrapf(db.ErrDBDoesNotExist, "talus: database %q", dirname)
		}
		// Create the DB if it did not already exist.
		if err := d.mu.versions.create(dataDir); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, errors.Wrapf(err, "talus: database %q", dirname)
	} else if opts.ErrorIfDBExists {
		return nil, errors.Wrapf(db.ErrDBAlreadyExists, "talus: database %q", dirname)
	} else {
		// Load the version set from the current manifest.
		if err := d.mu.versions.load(); err != nil {
			return nil, err
		}
	}

	// Replay any newer log files than the one named in the manifest.
	var ve versionEdit
	list, err := fs.List(dirname)
	if err != nil {
		return nil, err
	}
	var logFiles []uint64
	for _, filename := range list {
		ft, fn, ok := parseDBFilename(filename)
		if !ok || ft != fileTypeLog {
			continue
		}
		if fn >= d.mu.versions.logNumber || fn == d.mu.versions.prevLogNumber {
			logFiles = append(logFiles, fn)
		}
	}
	sort.Slice(logFiles, func(i, j int) bool { return logFiles[i] < logFiles[j] })

	if opts.ReadOnly && len(logFiles) > 0 {
		// Replayed batches cannot be flushed to tables in read-only mode, so
		// they are applied to a single memtable sized upfront to hold every
		// entry in the logs.
		var extra uint64
		for _, fn := range logFiles {
			n, err := logMemTableSize(fs, dbFilename(dirname, fileTypeLog, fn), opts.ParanoidChecks)
			if err != nil {
				return nil, err
			}
			extra += n
		}
		if extra > 0 {
			memOpts := *opts
			memOpts.MemTableSize = opts.MemTableSize + int(extra)
			d.mu.mem = newMemTable(&memOpts)
		}
	}

	for _, fn := range logFiles {
		maxSeqNum, err := d.replayLogFile(&ve, fs, dbFilename(dirname, fileTypeLog, fn))
		if err != nil {
			return nil, err
		}
		d.mu.versions.markFileNumUsed(fn)
		if maxSeqNum > atomic.LoadUint64(&d.mu.versions.lastSequence) {
			atomic.StoreUint64(&d.mu.versions.lastSequence, maxSeqNum)
		}
	}

	if !opts.ReadOnly {
		// Create an empty log file for the new session.
		logNumber := d.mu.versions.nextFileNum()
		logFile, err := fs.Create(dbFilename(dirname, fileTypeLog, logNumber))
		if err != nil {
			return nil, err
		}
		if err := dataDir.Sync(); err != nil {
			logFile.Close()
			return nil, err
		}
		d.logNumber = logNumber
		d.logFile = logFile
		d.log = record.NewWriter(logFile)
		ve.logNumber = logNumber

		// Write a new manifest to disk, pointing at the new log and holding
		// any tables produced by log replay.
		if err := d.mu.versions.logAndApply(&ve, dataDir); err != nil {
			return nil, err
		}
		d.mu.compact.pendingOutputs = make(map[uint64]struct{})
		d.deleteObsoleteFiles()
		d.maybeScheduleCompaction()
	}

	d.logSeqNum = atomic.LoadUint64(&d.mu.versions.lastSequence)
	d.dataDir, dataDir = dataDir, nil
	d.fileLock, fileLock = fileLock, nil
	return d, nil
}

// replayLogFile applies the batches in the named log file to the DB's
// current memtable. When the memtable fills, its contents are written to a
// new level 0 table recorded in ve.
//
// d.mu must be held when calling this, but the mutex may be released and
// reacquired during the disk IO.
func (d *DB) replayLogFile(
	ve *versionEdit, fs vfs.FS, filename string,
) (maxSeqNum uint64, err error) {
	file, err := fs.Open(filename)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	rr := record.NewReader(file)
	for {
		rec, err := rr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if !d.opts.ParanoidChecks && record.IsInvalidRecord(err) {
				// A torn write at the log tail marks the point the previous
				// session stopped. Everything before it replayed cleanly.
				break
			}
			return 0, err
		}
		data, err := io.ReadAll(rec)
		if err != nil {
			if !d.opts.ParanoidChecks && (err == io.ErrUnexpectedEOF || record.IsInvalidRecord(err)) {
				break
			}
			return 0, err
		}
		if len(data) < batchHeaderLen {
			return 0, db.CorruptionErrorf("talus: corrupt log file %q: record is too small", filename)
		}
		b := Batch{data: data}
		seqNum := b.seqNum()
		if seqNum == 0 || b.count() == invalidBatchCount {
			return 0, db.CorruptionErrorf("talus: corrupt log file %q: invalid batch header", filename)
		}
		maxSeqNum = seqNum + uint64(b.count()) - 1
		b.refreshMemTableSize()

		for {
			mem := d.mu.mem
			if err := mem.prepare(&b); err != arenaskl.ErrArenaFull {
				if err != nil {
					return 0, err
				}
				break
			}
			if mem.empty() {
				// The batch is too large for an empty memtable; size one for
				// it.
				memOpts := *d.opts
				memOpts.MemTableSize = d.opts.MemTableSize + int(b.memTableSize)
				d.mu.mem = newMemTable(&memOpts)
				continue
			}
			if d.opts.ReadOnly {
				return 0, errors.Errorf("talus: memtable full replaying log file %q", filename)
			}
			meta, err := d.writeLevel0Table(mem.newFlushIter())
			if err != nil {
				return 0, err
			}
			ve.newFiles = append(ve.newFiles, newFileEntry{level: 0, meta: meta})
			d.mu.mem = newMemTable(d.opts)
		}
		if err := d.mu.mem.apply(&b, seqNum); err != nil {
			return 0, err
		}
		d.mu.mem.unref()
	}

	if !d.opts.ReadOnly && !d.mu.mem.empty() {
		meta, err := d.writeLevel0Table(d.mu.mem.newFlushIter())
		if err != nil {
			return 0, err
		}
		ve.newFiles = append(ve.newFiles, newFileEntry{level: 0, meta: meta})
		d.mu.mem = newMemTable(d.opts)
	}
	return maxSeqNum, nil
}

// logMemTableSize returns the number of arena bytes needed to hold every
// entry in the named log file.
func logMemTableSize(fs vfs.FS, filename string, paranoid bool) (uint64, error) {
	file, err := fs.Open(filename)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	var size uint64
	rr := record.NewReader(file)
	for {
		rec, err := rr.Next()
		if err == io.EOF {
			return size, nil
		}
		if err != nil {
			if !paranoid && record.IsInvalidRecord(err) {
				return size, nil
			}
			return 0, err
		}
		data, err := io.ReadAll(rec)
		if err != nil {
			if !paranoid && (err == io.ErrUnexpectedEOF || record.IsInvalidRecord(err)) {
				return size, nil
			}
			return 0, err
		}
		if len(data) < batchHeaderLen {
			return 0, db.CorruptionErrorf("talus: corrupt log file %q: record is too small", filename)
		}
		b := Batch{data: data}
		b.refreshMemTableSize()
		size += uint64(b.memTableSize)
	}
}

// Destroy removes all of the named database's files. It does nothing and
// returns nil if the directory does not exist.
//
// Destroy must not be called on a database that is open elsewhere.
func Destroy(dirname string, opts *db.Options) error {
	opts = opts.EnsureDefaults()
	fs := opts.FS
	list, err := fs.List(dirname)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	// Hold the directory lock while deleting, so that a concurrent Open
	// fails rather than observing a half-deleted store.
	fileLock, err := fs.Lock(dbFilename(dirname, fileTypeLock, 0))
	if err != nil {
		return err
	}

	var firstErr error
	for _, filename := range list {
		ft, _, ok := parseDBFilename(filename)
		if !ok || ft == fileTypeLock {
			continue
		}
		if err := fs.Remove(dirname + string(os.PathSeparator) + filename); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := fileLock.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := fs.Remove(dbFilename(dirname, fileTypeLock, 0)); err != nil && firstErr == nil {
		firstErr = err
	}
	// The directory itself is removed only if nothing else lives in it.
	fs.Remove(dirname)
	return firstErr
}
