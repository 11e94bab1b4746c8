// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd

package vfs

import (
	"io"
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// lockedFiles tracks the locks held by this process. flock is advisory
// between processes but not between goroutines, so re-acquisition within the
// process has to be refused here.
var lockedFiles struct {
	sync.Mutex
	held map[string]bool
}

func (defaultFS) Lock(name string) (io.Closer, error) {
	lockedFiles.Lock()
	if lockedFiles.held == nil {
		lockedFiles.held = map[string]bool{}
	}
	if lockedFiles.held[name] {
		lockedFiles.Unlock()
		return nil, errors.Newf("lock held by current process: %q", name)
	}
	lockedFiles.held[name] = true
	lockedFiles.Unlock()

	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		releaseLockedFile(name)
		return nil, errors.WithStack(err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		releaseLockedFile(name)
		return nil, errors.Wrapf(err, "lock held by another process: %q", name)
	}
	return &fileLock{f: f, name: name}, nil
}

func releaseLockedFile(name string) {
	lockedFiles.Lock()
	delete(lockedFiles.held, name)
	lockedFiles.Unlock()
}

type fileLock struct {
	f    *os.File
	name string
}

func (l *fileLock) Close() error {
	releaseLockedFile(l.name)
	return l.f.Close()
}
