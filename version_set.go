// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package talus

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/talusdb/talus/db"
	"github.com/talusdb/talus/internal/record"
	"github.com/talusdb/talus/vfs"
)

// versionSet manages a collection of immutable versions, and manages the
// creation of a new version from the most recent version. A new version is
// created from an existing version by applying a version edit which is just
// like it sounds: a delta from the previous version. Version edits are
// logged to the MANIFEST file, which is replayed at startup.
type versionSet struct {
	dirname string
	opts    *db.Options
	fs      vfs.FS
	ucmp    db.Compare
	cmpName string

	// dummyVersion is the head of a circular doubly-linked list of
	// versions. dummyVersion.prev is the current version.
	dummyVersion version

	logNumber          uint64
	prevLogNumber      uint64
	nextFileNumber     uint64
	lastSequence       uint64 // atomic
	manifestFileNumber uint64

	// compactPointers are the round-robin compaction cursors, one per
	// level. A zero-length user key means the level has no cursor yet.
	compactPointers [numLevels]db.InternalKey

	manifestFile vfs.File
	manifest     *record.Writer
}

func (s *versionSet) init(dirname string, opts *db.Options) {
	s.dirname = dirname
	s.opts = opts
	s.fs = opts.FS
	s.ucmp = opts.Comparer.Compare
	s.cmpName = opts.Comparer.Name
	s.dummyVersion.prev = &s.dummyVersion
	s.dummyVersion.next = &s.dummyVersion
	s.nextFileNumber = 1
}

// create creates a version set for a fresh DB. A new manifest holding an
// empty version is written and CURRENT is pointed at it.
func (s *versionSet) create(dir vfs.File) error {
	s.append(&version{})
	s.manifestFileNumber = s.nextFileNum()
	if err := s.createManifest(s.manifestFileNumber); err != nil {
		return err
	}
	if err := s.manifest.Flush(); err != nil {
		return err
	}
	if err := s.manifestFile.Sync(); err != nil {
		return err
	}
	if err := setCurrentFile(s.dirname, s.fs, s.manifestFileNumber); err != nil {
		return err
	}
	return dir.Sync()
}

// load loads the version set from the manifest file named by CURRENT.
func (s *versionSet) load() error {
	// Read the CURRENT file to find the current manifest file.
	current, err := s.fs.Open(dbFilename(s.dirname, fileTypeCurrent, 0))
	if err != nil {
		return errors.Wrapf(err, "talus: could not open CURRENT file for DB %q", s.dirname)
	}
	defer current.Close()
	stat, err := current.Stat()
	if err != nil {
		return err
	}
	n := stat.Size()
	if n == 0 {
		return errors.Errorf("talus: CURRENT file for DB %q is empty", s.dirname)
	}
	if n > 4096 {
		return errors.Errorf("talus: CURRENT file for DB %q is too large", s.dirname)
	}
	b := make([]byte, n)
	if _, err := current.ReadAt(b, 0); err != nil {
		return err
	}
	if b[n-1] != '\n' {
		return errors.Errorf("talus: CURRENT file for DB %q is malformed", s.dirname)
	}
	b = b[:n-1]

	// Read the versionEdits in the manifest file.
	var bve bulkVersionEdit
	var ve versionEdit
	manifestName := s.dirname + string(os.PathSeparator) + string(b)
	manifest, err := s.fs.Open(manifestName)
	if err != nil {
		return errors.Wrapf(err, "talus: could not open manifest file %q for DB %q", b, s.dirname)
	}
	defer manifest.Close()
	rr := record.NewReader(manifest)
	for {
		r, err := rr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		var edit versionEdit
		if err := edit.decode(r); err != nil {
			return err
		}
		if edit.comparatorName != "" {
			if edit.comparatorName != s.cmpName {
				return errors.Errorf("talus: comparer name from file %q != comparer name from Options %q",
					edit.comparatorName, s.cmpName)
			}
		}
		bve.accumulate(&edit)
		for _, cp := range edit.compactPointers {
			s.compactPointers[cp.level] = cp.key
		}
		if edit.logNumber != 0 {
			ve.logNumber = edit.logNumber
		}
		if edit.prevLogNumber != 0 {
			ve.prevLogNumber = edit.prevLogNumber
		}
		if edit.nextFileNumber != 0 {
			ve.nextFileNumber = edit.nextFileNumber
		}
		if edit.lastSequence != 0 {
			ve.lastSequence = edit.lastSequence
		}
	}
	if ve.nextFileNumber == 0 {
		return errors.Errorf("talus: manifest file %q for DB %q has no next-file-number", b, s.dirname)
	}
	s.logNumber = ve.logNumber
	s.prevLogNumber = ve.prevLogNumber
	s.nextFileNumber = ve.nextFileNumber
	atomic.StoreUint64(&s.lastSequence, ve.lastSequence)
	s.markFileNumUsed(s.logNumber)
	s.markFileNumUsed(s.prevLogNumber)

	newVersion, err := bve.apply(nil, s.ucmp)
	if err != nil {
		return err
	}
	s.append(newVersion)
	return nil
}

// logAndApply logs the version edit to the manifest, applies it to the
// current version and installs the new version. The manifest is rolled over
// to a new file when it grows past Options.MaxManifestFileSize.
func (s *versionSet) logAndApply(ve *versionEdit, dir vfs.File) error {
	if ve.logNumber != 0 {
		if ve.logNumber < s.logNumber || s.nextFileNumber <= ve.logNumber {
			panic("talus: inconsistent versionEdit logNumber")
		}
	}
	ve.nextFileNumber = s.nextFileNumber
	ve.lastSequence = atomic.LoadUint64(&s.lastSequence)

	var bve bulkVersionEdit
	bve.accumulate(ve)
	newVersion, err := bve.apply(s.currentVersion(), s.ucmp)
	if err != nil {
		return err
	}

	newManifest := s.manifest == nil || s.manifest.Size() >= s.opts.MaxManifestFileSize
	if newManifest {
		s.manifestFileNumber = s.nextFileNum()
		if err := s.createManifest(s.manifestFileNumber); err != nil {
			return err
		}
	}
	if err := ve.encodeTo(s.manifest); err != nil {
		return err
	}
	if err := s.manifest.Flush(); err != nil {
		return err
	}
	if err := s.manifestFile.Sync(); err != nil {
		return err
	}
	if newManifest {
		if err := setCurrentFile(s.dirname, s.fs, s.manifestFileNumber); err != nil {
			return err
		}
		if dir != nil {
			if err := dir.Sync(); err != nil {
				return err
			}
		}
	}

	// Install the new version and retire the old one.
	old := s.currentVersion()
	s.append(newVersion)
	old.unrefLocked()
	if ve.logNumber != 0 {
		s.logNumber = ve.logNumber
	}
	if ve.prevLogNumber != 0 {
		s.prevLogNumber = ve.prevLogNumber
	}
	for _, cp := range ve.compactPointers {
		s.compactPointers[cp.level] = cp.key
	}
	return nil
}

// encodeTo writes ve as a single record.
func (v *versionEdit) encodeTo(rw *record.Writer) error {
	w, err := rw.Next()
	if err != nil {
		return err
	}
	return v.encode(w)
}

// createManifest creates a new manifest file holding a snapshot of the
// current version set state.
func (s *versionSet) createManifest(fileNum uint64) (err error) {
	var (
		filename     = dbFilename(s.dirname, fileTypeManifest, fileNum)
		manifestFile vfs.File
		manifest     *record.Writer
	)
	defer func() {
		if manifest != nil {
			manifest.Close()
		}
		if manifestFile != nil {
			manifestFile.Close()
		}
		if err != nil {
			s.fs.Remove(filename)
		}
	}()
	manifestFile, err = s.fs.Create(filename)
	if err != nil {
		return err
	}
	manifest = record.NewWriter(manifestFile)

	snapshot := versionEdit{
		comparatorName: s.cmpName,
		logNumber:      s.logNumber,
		prevLogNumber:  s.prevLogNumber,
		nextFileNumber: s.nextFileNumber,
		lastSequence:   atomic.LoadUint64(&s.lastSequence),
	}
	for level, key := range s.compactPointers {
		if len(key.UserKey) != 0 {
			snapshot.compactPointers = append(snapshot.compactPointers, compactPointerEntry{
				level: level,
				key:   key,
			})
		}
	}
	cv := s.currentVersion()
	for level, ff := range cv.files {
		for _, meta := range ff {
			snapshot.newFiles = append(snapshot.newFiles, newFileEntry{
				level: level,
				meta:  meta,
			})
		}
	}
	if err := snapshot.encodeTo(manifest); err != nil {
		return err
	}

	if s.manifest != nil {
		s.manifest.Close()
		s.manifest = nil
	}
	if s.manifestFile != nil {
		s.manifestFile.Close()
		s.manifestFile = nil
	}
	s.manifest, manifest = manifest, nil
	s.manifestFile, manifestFile = manifestFile, nil
	return nil
}

func (s *versionSet) markFileNumUsed(fileNum uint64) {
	if s.nextFileNumber <= fileNum {
		s.nextFileNumber = fileNum + 1
	}
}

func (s *versionSet) nextFileNum() uint64 {
	x := s.nextFileNumber
	s.nextFileNumber++
	return x
}

func (s *versionSet) append(v *version) {
	if v.refs != 0 {
		panic("talus: version should be unreferenced")
	}
	if v.prev != nil || v.next != nil {
		panic("talus: version should not be linked")
	}
	v.ref()
	v.prev = s.dummyVersion.prev
	v.prev.next = v
	v.next = &s.dummyVersion
	v.next.prev = v
}

func (s *versionSet) currentVersion() *version {
	return s.dummyVersion.prev
}

// addLiveFileNums adds the file numbers referenced by any live version to
// the map.
func (s *versionSet) addLiveFileNums(m map[uint64]bool) {
	for v := s.dummyVersion.next; v != &s.dummyVersion; v = v.next {
		for _, ff := range v.files {
			for _, f := range ff {
				m[f.fileNum] = true
			}
		}
	}
}
