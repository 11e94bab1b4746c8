// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package talus

import (
	"io"
	"os"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/talusdb/talus/db"
	"github.com/talusdb/talus/internal/arenaskl"
	"github.com/talusdb/talus/internal/record"
	"github.com/talusdb/talus/sstable"
	"github.com/talusdb/talus/vfs"
)

// Repair recovers as much data as possible from the named database's files.
// Log files are converted into tables, every readable table is carried into
// a rebuilt manifest, and files that cannot be read are moved into a "lost"
// subdirectory rather than deleted.
//
// Repair makes no attempt to preserve the shape of the LSM: all recovered
// tables are placed in level 0, so entries deleted or overwritten before an
// earlier compaction may reappear. Repair must not be called on a database
// that is open elsewhere.
func Repair(dirname string, opts *db.Options) error {
	opts = opts.EnsureDefaults()
	r := &repairer{
		dirname:        dirname,
		opts:           opts,
		fs:             opts.FS,
		nextFileNumber: 1,
	}

	fileLock, err := r.fs.Lock(dbFilename(dirname, fileTypeLock, 0))
	if err != nil {
		return err
	}
	defer fileLock.Close()

	if err := r.findFiles(); err != nil {
		return err
	}
	r.convertLogs()
	r.scanTables()
	if err := r.writeManifest(); err != nil {
		return err
	}
	opts.Logger.Infof("talus: repaired %q: %d tables, last sequence %d",
		dirname, len(r.newTables), r.maxSeqNum)
	return nil
}

type repairer struct {
	dirname string
	opts    *db.Options
	fs      vfs.FS

	manifests []string
	logs      []uint64
	tables    []uint64

	nextFileNumber uint64
	maxSeqNum      uint64
	newTables      []*fileMetadata
}

// findFiles classifies the directory's contents and reserves a file number
// past every number already in use.
func (r *repairer) findFiles() error {
	list, err := r.fs.List(r.dirname)
	if err != nil {
		return err
	}
	for _, filename := range list {
		ft, fn, ok := parseDBFilename(filename)
		if !ok {
			continue
		}
		if fn+1 > r.nextFileNumber {
			r.nextFileNumber = fn + 1
		}
		switch ft {
		case fileTypeManifest:
			r.manifests = append(r.manifests, filename)
		case fileTypeLog:
			r.logs = append(r.logs, fn)
		case fileTypeTable:
			r.tables = append(r.tables, fn)
		}
	}
	sort.Slice(r.logs, func(i, j int) bool { return r.logs[i] < r.logs[j] })
	sort.Slice(r.tables, func(i, j int) bool { return r.tables[i] < r.tables[j] })
	return nil
}

// convertLogs rewrites each log file's batches into level 0 tables. The log
// files themselves are archived afterwards, whether or not conversion
// succeeded, so that a subsequent Open does not replay them.
func (r *repairer) convertLogs() {
	for _, fn := range r.logs {
		if err := r.convertLogToTables(fn); err != nil {
			r.opts.Logger.Infof("talus: log file %06d: %s", fn, err)
		}
		r.archiveFile(dbFilename(r.dirname, fileTypeLog, fn))
	}
}

func (r *repairer) convertLogToTables(fn uint64) error {
	file, err := r.fs.Open(dbFilename(r.dirname, fileTypeLog, fn))
	if err != nil {
		return err
	}
	defer file.Close()

	mem := newMemTable(r.opts)
	flush := func() error {
		meta, err := r.writeTable(mem.newFlushIter())
		if err != nil {
			return err
		}
		r.newTables = append(r.newTables, meta)
		mem = newMemTable(r.opts)
		return nil
	}

	// Read every batch that can be read; a corrupt record ends the log, but
	// everything recovered before it is kept.
	var corrupt error
	rr := record.NewReader(file)
	for corrupt == nil {
		rec, err := rr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			corrupt = err
			break
		}
		data, err := io.ReadAll(rec)
		if err != nil {
			corrupt = err
			break
		}
		if len(data) < batchHeaderLen {
			corrupt = db.CorruptionErrorf("talus: corrupt log file %06d: record is too small", fn)
			break
		}
		b := Batch{data: data}
		seqNum := b.seqNum()
		if seqNum == 0 || b.count() == invalidBatchCount {
			corrupt = db.CorruptionErrorf("talus: corrupt log file %06d: invalid batch header", fn)
			break
		}
		if last := seqNum + uint64(b.count()) - 1; last > r.maxSeqNum {
			r.maxSeqNum = last
		}
		b.refreshMemTableSize()

		for {
			if err := mem.prepare(&b); err != arenaskl.ErrArenaFull {
				if err != nil {
					return err
				}
				break
			}
			if mem.empty() {
				// The batch is too large for an empty memtable; size one
				// for it.
				memOpts := *r.opts
				memOpts.MemTableSize = r.opts.MemTableSize + int(b.memTableSize)
				mem = newMemTable(&memOpts)
				continue
			}
			if err := flush(); err != nil {
				return err
			}
		}
		if err := mem.apply(&b, seqNum); err != nil {
			return err
		}
		mem.unref()
	}

	if !mem.empty() {
		if err := flush(); err != nil {
			return err
		}
	}
	return corrupt
}

// scanTables reads every table in the directory to recover its key bounds.
// Unreadable tables are archived; readable ones join the rebuilt manifest.
func (r *repairer) scanTables() {
	for _, fn := range r.tables {
		meta, err := r.scanTable(fn)
		if err != nil {
			r.opts.Logger.Infof("talus: table file %06d: %s", fn, err)
			r.archiveFile(dbFilename(r.dirname, fileTypeTable, fn))
			continue
		}
		r.newTables = append(r.newTables, meta)
	}
}

func (r *repairer) scanTable(fn uint64) (*fileMetadata, error) {
	filename := dbFilename(r.dirname, fileTypeTable, fn)
	stat, err := r.fs.Stat(filename)
	if err != nil {
		return nil, err
	}
	file, err := r.fs.Open(filename)
	if err != nil {
		return nil, err
	}
	tr := sstable.NewReader(file, fn, r.opts)
	iter := tr.NewIter(&db.ReadOptions{VerifyChecksums: true})

	meta := &fileMetadata{
		fileNum: fn,
		size:    uint64(stat.Size()),
	}
	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if n == 0 {
			meta.smallest = key.Clone()
		}
		meta.largest = key.Clone()
		if seqNum := key.SeqNum(); seqNum > r.maxSeqNum {
			r.maxSeqNum = seqNum
		}
		n++
	}
	if err := iter.Error(); err != nil {
		iter.Close()
		tr.Close()
		return nil, err
	}
	if err := iter.Close(); err != nil {
		tr.Close()
		return nil, err
	}
	if err := tr.Close(); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, errors.New("table holds no entries")
	}
	meta.initAllowedSeeks()
	return meta, nil
}

// writeTable dumps the iterator's contents into a new table file.
func (r *repairer) writeTable(iter db.InternalIterator) (meta *fileMetadata, err error) {
	fn := r.nextFileNumber
	r.nextFileNumber++
	filename := dbFilename(r.dirname, fileTypeTable, fn)

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
			r.fs.Remove(filename)
			meta = nil
		}
	}()

	iter.First()
	if !iter.Valid() {
		return nil, errors.New("talus: nothing to write")
	}

	file, err = r.fs.Create(filename)
	if err != nil {
		return nil, err
	}
	tw = sstable.NewWriter(file, r.opts, r.opts.Level(0))

	meta = &fileMetadata{fileNum: fn}
	meta.smallest = iter.Key().Clone()
	for {
		meta.largest = iter.Key().Clone()
		if err := tw.Add(meta.largest, iter.Value()); err != nil {
			return nil, err
		}
		if !iter.Next() {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	err = iter.Close()
	iter = nil
	if err != nil {
		return nil, err
	}
	err = tw.Close()
	tw = nil
	if err != nil {
		return nil, err
	}
	if err := file.Sync(); err != nil {
		return nil, err
	}
	err = file.Close()
	file = nil
	if err != nil {
		return nil, err
	}

	stat, err := r.fs.Stat(filename)
	if err != nil {
		return nil, err
	}
	meta.size = uint64(stat.Size())
	meta.initAllowedSeeks()
	return meta, nil
}

// writeManifest installs a manifest describing the recovered tables, all in
// level 0, and points CURRENT at it. The old manifests are archived first so
// that a failure partway through does not leave the store pointing at a
// descriptor that contradicts the repaired state.
func (r *repairer) writeManifest() (err error) {
	for _, filename := range r.manifests {
		r.archiveFile(r.dirname + string(os.PathSeparator) + filename)
	}

	manifestNum := r.nextFileNumber
	r.nextFileNumber++
	filename := dbFilename(r.dirname, fileTypeManifest, manifestNum)

	var (
		file     vfs.File
		manifest *record.Writer
	)
	defer func() {
		if manifest != nil {
			err = firstError(err, manifest.Close())
		}
		if file != nil {
			err = firstError(err, file.Close())
		}
		if err != nil {
			r.fs.Remove(filename)
		}
	}()

	file, err = r.fs.Create(filename)
	if err != nil {
		return err
	}
	manifest = record.NewWriter(file)

	ve := versionEdit{
		comparatorName: r.opts.Comparer.Name,
		nextFileNumber: r.nextFileNumber,
		lastSequence:   r.maxSeqNum,
	}
	for _, meta := range r.newTables {
		ve.newFiles = append(ve.newFiles, newFileEntry{level: 0, meta: meta})
	}
	if err := ve.encodeTo(manifest); err != nil {
		return err
	}
	err = manifest.Close()
	manifest = nil
	if err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		return err
	}
	err = file.Close()
	file = nil
	if err != nil {
		return err
	}

	return setCurrentFile(r.dirname, r.fs, manifestNum)
}

// archiveFile moves a file into the database's "lost" subdirectory. Archive
// failures are logged but not fatal: repair recovers what it can.
func (r *repairer) archiveFile(path string) {
	lostDir := r.dirname + string(os.PathSeparator) + "lost"
	if err := r.fs.MkdirAll(lostDir, 0755); err != nil {
		r.opts.Logger.Infof("talus: could not create %q: %s", lostDir, err)
		return
	}
	target := lostDir + string(os.PathSeparator) + vfs.Basename(path)
	if err := r.fs.Rename(path, target); err != nil {
		r.opts.Logger.Infof("talus: could not archive %q: %s", path, err)
		return
	}
	r.opts.Logger.Infof("talus: archived %q", path)
}
