// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package vfs

import (
	"sync/atomic"
)

// SyncingFileOptions holds the options for a syncingFile.
type SyncingFileOptions struct {
	// BytesPerSync is the threshold of unsynced bytes at which a background
	// range sync is requested. Zero disables periodic syncing.
	BytesPerSync int
}

// NewSyncingFile wraps a writable file and ensures that data is synced
// periodically as it is written. Syncing as-you-go avoids the latency spike
// that occurs when the OS flushes a large accumulation of dirty buffers at
// once. The wrapper provides no extra durability: an explicit Sync is still
// required for that.
func NewSyncingFile(f File, opts SyncingFileOptions) File {
	s := &syncingFile{
		File:         f,
		bytesPerSync: int64(opts.BytesPerSync),
	}
	s.init()
	return s
}

type syncingFile struct {
	File
	bytesPerSync int64
	offset       int64
	syncOffset   int64
	// syncTo syncs the file data in [0, offset). On Linux it maps to
	// sync_file_range, elsewhere to a full fdatasync-equivalent Sync.
	syncTo func(offset int64) error
}

func (f *syncingFile) Write(p []byte) (n int, err error) {
	n, err = f.File.Write(p)
	if err != nil {
		return n, err
	}
	atomic.AddInt64(&f.offset, int64(n))
	if err := f.maybeSync(); err != nil {
		return 0, err
	}
	return n, nil
}

func (f *syncingFile) maybeSync() error {
	if f.bytesPerSync <= 0 {
		return nil
	}
	const syncRangeBuffer = 1 << 20 // 1 MB
	offset := atomic.LoadInt64(&f.offset)
	if offset <= syncRangeBuffer {
		return nil
	}
	// Lag the sync point a megabyte behind the write point so that the sync
	// never waits on the page currently being appended to.
	syncToOffset := offset - syncRangeBuffer
	syncToOffset -= syncToOffset % f.bytesPerSync
	if syncToOffset <= atomic.LoadInt64(&f.syncOffset) {
		return nil
	}
	atomic.StoreInt64(&f.syncOffset, syncToOffset)
	return f.syncTo(syncToOffset)
}

func (f *syncingFile) syncToGeneric(offset int64) error {
	return f.File.Sync()
}

func (f *syncingFile) Sync() error {
	atomic.StoreInt64(&f.syncOffset, atomic.LoadInt64(&f.offset))
	return f.File.Sync()
}
