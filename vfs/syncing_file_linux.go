// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

//go:build linux

package vfs

import (
	"os"

	"golang.org/x/sys/unix"
)

type fdGetter interface {
	Fd() uintptr
}

func (f *syncingFile) init() {
	fd, ok := f.File.(fdGetter)
	if !ok {
		f.syncTo = f.syncToGeneric
		return
	}
	f.syncTo = func(offset int64) error {
		// Write out the dirty pages asynchronously. The final Sync makes the
		// data durable; this only smooths the writeback.
		return unix.SyncFileRange(int(fd.Fd()), 0, offset, unix.SYNC_FILE_RANGE_WRITE)
	}
}

var _ fdGetter = (*os.File)(nil)
