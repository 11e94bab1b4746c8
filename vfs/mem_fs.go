// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package vfs

import (
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

const memSep = "/"

// NewMem returns a new memory-backed FS implementation. Paths use forward
// slashes regardless of host platform.
func NewMem() FS {
	return &memFS{
		root: &memNode{
			children: map[string]*memNode{},
			isDir:    true,
		},
	}
}

// memFS implements FS over an in-memory tree of directories and files. All
// methods take the filesystem-wide mutex, which is sufficient because the
// heavy lifting of file I/O happens against per-file data guarded by the
// file's own mutex.
type memFS struct {
	mu   sync.Mutex
	root *memNode
}

type memNode struct {
	name     string
	isDir    bool
	refs     int
	mu       sync.Mutex
	data     []byte
	modTime  time.Time
	children map[string]*memNode
	locked   bool
}

// walk walks the directory tree for the fullname, calling f at each step.
// dir is the directory at that step, frag the name fragment, and final
// whether it is the last step.
func (y *memFS) walk(fullname string, f func(dir *memNode, frag string, final bool) error) error {
	y.mu.Lock()
	defer y.mu.Unlock()

	// For memFS, the path separator is '/' and the walk is case sensitive.
	fullname = strings.TrimPrefix(fullname, memSep)
	dir := y.root
	frags := strings.Split(fullname, memSep)
	for i, frag := range frags {
		final := i == len(frags)-1
		if frag == "" && !final {
			continue
		}
		if err := f(dir, frag, final); err != nil {
			return err
		}
		if !final {
			child := dir.children[frag]
			if child == nil {
				return &os.PathError{
					Op:   "open",
					Path: fullname,
					Err:  os.ErrNotExist,
				}
			}
			if !child.isDir {
				return errors.Newf("talus/vfs: not a directory: %q", frag)
			}
			dir = child
		}
	}
	return nil
}

func (y *memFS) Create(fullname string) (File, error) {
	var ret *memFile
	err := y.walk(fullname, func(dir *memNode, frag string, final bool) error {
		if final {
			if frag == "" {
				return errors.New("talus/vfs: empty file name")
			}
			n := &memNode{name: frag, modTime: time.Now()}
			dir.children[frag] = n
			ret = &memFile{n: n, write: true}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (y *memFS) open(fullname string, allowDir bool) (File, error) {
	var ret *memFile
	err := y.walk(fullname, func(dir *memNode, frag string, final bool) error {
		if final {
			if frag == "" {
				if allowDir {
					ret = &memFile{n: dir}
				}
				return nil
			}
			if n := dir.children[frag]; n != nil {
				if n.isDir && !allowDir {
					return errors.Newf("talus/vfs: cannot open directory: %q", fullname)
				}
				ret = &memFile{n: n}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if ret == nil {
		return nil, &os.PathError{
			Op:   "open",
			Path: fullname,
			Err:  os.ErrNotExist,
		}
	}
	return ret, nil
}

func (y *memFS) Open(fullname string) (File, error) {
	return y.open(fullname, false)
}

func (y *memFS) OpenDir(fullname string) (File, error) {
	return y.open(fullname, true)
}

func (y *memFS) Remove(fullname string) error {
	return y.walk(fullname, func(dir *memNode, frag string, final bool) error {
		if final {
			if frag == "" {
				return errors.New("talus/vfs: empty file name")
			}
			n, ok := dir.children[frag]
			if !ok {
				return &os.PathError{
					Op:   "remove",
					Path: fullname,
					Err:  os.ErrNotExist,
				}
			}
			if n.isDir && len(n.children) > 0 {
				return errors.Newf("talus/vfs: directory not empty: %q", fullname)
			}
			delete(dir.children, frag)
		}
		return nil
	})
}

func (y *memFS) Rename(oldname, newname string) error {
	var n *memNode
	err := y.walk(oldname, func(dir *memNode, frag string, final bool) error {
		if final {
			if frag == "" {
				return errors.New("talus/vfs: empty file name")
			}
			n = dir.children[frag]
			delete(dir.children, frag)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if n == nil {
		return &os.PathError{
			Op:   "rename",
			Path: oldname,
			Err:  os.ErrNotExist,
		}
	}
	return y.walk(newname, func(dir *memNode, frag string, final bool) error {
		if final {
			if frag == "" {
				return errors.New("talus/vfs: empty file name")
			}
			n.name = frag
			dir.children[frag] = n
		}
		return nil
	})
}

func (y *memFS) MkdirAll(dir string, perm os.FileMode) error {
	return y.walk(dir, func(dir *memNode, frag string, final bool) error {
		if frag == "" {
			if final {
				return nil
			}
			return errors.New("talus/vfs: empty file name")
		}
		child := dir.children[frag]
		if child == nil {
			dir.children[frag] = &memNode{
				name:     frag,
				children: map[string]*memNode{},
				isDir:    true,
			}
			return nil
		}
		if !child.isDir {
			return errors.Newf("talus/vfs: not a directory: %q", frag)
		}
		return nil
	})
}

func (y *memFS) Lock(fullname string) (io.Closer, error) {
	// FS.Lock excludes other processes, but other processes cannot see this
	// process' memory. A single boolean on the node suffices to catch
	// double-opens within the process.
	var ret io.Closer
	err := y.walk(fullname, func(dir *memNode, frag string, final bool) error {
		if final {
			if frag == "" {
				return errors.New("talus/vfs: empty file name")
			}
			n := dir.children[frag]
			if n == nil {
				n = &memNode{name: frag, modTime: time.Now()}
				dir.children[frag] = n
			}
			if n.locked {
				return errors.Newf("lock held by current process: %q", fullname)
			}
			n.locked = true
			ret = &memFileLock{y: y, fullname: fullname, n: n}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (y *memFS) List(dirname string) ([]string, error) {
	var ret []string
	err := y.walk(dirname, func(dir *memNode, frag string, final bool) error {
		if final {
			node := dir
			if frag != "" {
				node = dir.children[frag]
				if node == nil {
					return &os.PathError{
						Op:   "open",
						Path: dirname,
						Err:  os.ErrNotExist,
					}
				}
			}
			ret = make([]string, 0, len(node.children))
			for name := range node.children {
				ret = append(ret, name)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(ret)
	return ret, nil
}

func (y *memFS) Stat(name string) (os.FileInfo, error) {
	f, err := y.open(name, true)
	if err != nil {
		if pe := (*os.PathError)(nil); errors.As(err, &pe) {
			pe.Op = "stat"
		}
		return nil, err
	}
	defer f.Close()
	return f.Stat()
}

// memFile is a reader or writer of a node's data.
type memFile struct {
	n     *memNode
	rpos  int
	write bool
}

func (f *memFile) Close() error {
	return nil
}

func (f *memFile) Read(p []byte) (int, error) {
	if f.write {
		return 0, errors.New("talus/vfs: file was not opened for reading")
	}
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	if f.rpos >= len(f.n.data) {
		return 0, io.EOF
	}
	n := copy(p, f.n.data[f.rpos:])
	f.rpos += n
	return n, nil
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	if f.write {
		return 0, errors.New("talus/vfs: file was not opened for reading")
	}
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	if off >= int64(len(f.n.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.n.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *memFile) Write(p []byte) (int, error) {
	if !f.write {
		return 0, errors.New("talus/vfs: file was not created for writing")
	}
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	f.n.data = append(f.n.data, p...)
	f.n.modTime = time.Now()
	return len(p), nil
}

func (f *memFile) Stat() (os.FileInfo, error) {
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	return &memFileInfo{
		name:    f.n.name,
		size:    int64(len(f.n.data)),
		modTime: f.n.modTime,
		isDir:   f.n.isDir,
	}, nil
}

func (f *memFile) Sync() error {
	return nil
}

// memFileInfo implements os.FileInfo for a memFile.
type memFileInfo struct {
	name    string
	size    int64
	modTime time.Time
	isDir   bool
}

func (f *memFileInfo) Name() string {
	return f.name
}

func (f *memFileInfo) Size() int64 {
	return f.size
}

func (f *memFileInfo) Mode() os.FileMode {
	if f.isDir {
		return os.ModeDir | 0755
	}
	return 0644
}

func (f *memFileInfo) ModTime() time.Time {
	return f.modTime
}

func (f *memFileInfo) IsDir() bool {
	return f.isDir
}

func (f *memFileInfo) Sys() interface{} {
	return nil
}

type memFileLock struct {
	y        *memFS
	n        *memNode
	fullname string
}

func (l *memFileLock) Close() error {
	if l.y == nil {
		return nil
	}
	l.y.mu.Lock()
	l.n.locked = false
	l.y.mu.Unlock()
	l.y = nil
	return nil
}
