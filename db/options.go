// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package db

import (
	"github.com/talusdb/talus/internal/cache"
	"github.com/talusdb/talus/vfs"
)

// Compression is the per-block compression algorithm to use.
type Compression int

// The available compression types.
const (
	DefaultCompression Compression = iota
	NoCompression
	SnappyCompression
	ZstdCompression
	ZlibRawCompression
	nCompression
)

func (c Compression) String() string {
	switch c {
	case DefaultCompression:
		return "Default"
	case NoCompression:
		return "NoCompression"
	case SnappyCompression:
		return "Snappy"
	case ZstdCompression:
		return "Zstd"
	case ZlibRawCompression:
		return "ZlibRaw"
	default:
		return "Unknown"
	}
}

// FilterPolicy is an algorithm for probabilistically encoding a set of keys.
// The canonical implementation is a Bloom filter.
//
// Every FilterPolicy has a name. This names the algorithm itself, not any one
// particular instance. Aspects specific to a particular instance, such as the
// set of keys or any other parameters, will be encoded in the []byte filter
// returned by AppendFilter.
//
// The name may be written to files on disk, along with the filter data. To
// use these filters, the FilterPolicy name at the time of writing must equal
// the name at the time of reading. If they do not match, the filters will be
// ignored, which will not affect correctness but may affect performance.
type FilterPolicy interface {
	// Name names the filter policy.
	Name() string

	// AppendFilter appends to dst an encoded filter that holds a set of
	// []byte keys.
	AppendFilter(dst []byte, keys [][]byte) []byte

	// MayContain returns whether the encoded filter may contain given key.
	// False positives are possible, where it returns true for keys not in
	// the original set.
	MayContain(filter, key []byte) bool
}

// LevelOptions holds the optional per-table parameters.
type LevelOptions struct {
	// BlockRestartInterval is the number of keys between restart points for
	// delta encoding of keys.
	//
	// The default value is 16.
	BlockRestartInterval int

	// BlockSize is the target uncompressed size in bytes of each table block.
	//
	// The default value is 4096.
	BlockSize int

	// BlockSizeThreshold is recorded by the table writer but does not affect
	// compression: whatever its value, a compressed block is kept only if it
	// is smaller than 7/8 of its uncompressed size (a saving of more than
	// 12.5%), and is otherwise stored uncompressed.
	//
	// The default value is 90.
	BlockSizeThreshold int

	// Compression defines the per-block compression to use.
	//
	// The default value (DefaultCompression) uses snappy compression.
	Compression Compression

	// FilterPolicy defines a filter algorithm (such as a Bloom filter) that
	// can reduce disk reads for Get calls.
	//
	// One such implementation is bloom.FilterPolicy(10) from the talus/bloom
	// package.
	//
	// The default value means to use no filter.
	FilterPolicy FilterPolicy

	// TargetFileSize is the size above which a compaction output file is
	// finished and a new one started.
	//
	// The default value is 2MB.
	TargetFileSize int64
}

// EnsureDefaults ensures that the default values for all of the options have
// been initialized.
func (o *LevelOptions) EnsureDefaults() *LevelOptions {
	if o == nil {
		o = &LevelOptions{}
	}
	if o.BlockRestartInterval <= 0 {
		o.BlockRestartInterval = 16
	}
	if o.BlockSize <= 0 {
		o.BlockSize = 4096
	}
	if o.BlockSizeThreshold <= 0 {
		o.BlockSizeThreshold = 90
	}
	if o.Compression <= DefaultCompression || o.Compression >= nCompression {
		o.Compression = SnappyCompression
	}
	if o.TargetFileSize <= 0 {
		o.TargetFileSize = 2 << 20
	}
	return o
}

// Options holds the optional parameters for configuring talus. These options
// apply to the DB at large; per-query options are defined by the ReadOptions
// and WriteOptions types.
type Options struct {
	// BytesPerSync syncs sstables periodically as they are being written, in
	// order to smooth out writes to disk. This option does not provide any
	// persistency guarantee, but is used to avoid latency spikes if the OS
	// automatically decides to write out a large chunk of dirty filesystem
	// buffers.
	//
	// The default value is 512KB.
	BytesPerSync int

	// Cache is used to cache uncompressed blocks from sstables. If nil, a
	// cache of CacheSize bytes is created.
	Cache *cache.Cache

	// CacheSize is the size of the automatically created block cache, in
	// bytes, when Cache is nil.
	//
	// The default value is 8MB.
	CacheSize int64

	// Comparer defines a total ordering over the space of []byte keys: a
	// 'less than' relationship. The same comparison algorithm must be used
	// for reads and writes over the lifetime of the DB.
	//
	// The default value uses the same ordering as bytes.Compare.
	Comparer *Comparer

	// CompactionThroughput limits the rate, in bytes per second, at which
	// compactions write output. Zero means unlimited.
	CompactionThroughput int64

	// ErrorIfDBExists is whether it is an error if the database already
	// exists.
	//
	// The default value is false.
	ErrorIfDBExists bool

	// ErrorIfDBDoesNotExist is whether it is an error if the database does
	// not already exist. When false, Open creates the store if the directory
	// holds none.
	//
	// The default value is false.
	ErrorIfDBDoesNotExist bool

	// FS maps file names to byte storage.
	//
	// The default value uses the underlying operating system's file system.
	FS vfs.FS

	// L0CompactionThreshold is the number of L0 files necessary to trigger
	// an L0 compaction.
	//
	// The default value is 4.
	L0CompactionThreshold int

	// L0SlowdownWritesThreshold is a soft limit on the number of L0 files.
	// Writes are slowed down when this threshold is reached.
	//
	// The default value is 8.
	L0SlowdownWritesThreshold int

	// L0StopWritesThreshold is a hard limit on the number of L0 files.
	// Writes are stopped when this threshold is reached.
	//
	// The default value is 12.
	L0StopWritesThreshold int

	// Levels holds the per-level table options. Options for the last level
	// specified are used for all subsequent levels.
	Levels []LevelOptions

	// Logger receives the store's event messages. The default logger writes
	// via the standard log package.
	Logger Logger

	// MaxManifestFileSize is the size at which the MANIFEST is rolled over
	// to a new file.
	//
	// The default value is 128MB.
	MaxManifestFileSize int64

	// MaxOpenFiles is a soft limit on the number of open files that can be
	// used by the DB.
	//
	// The default value is 1000.
	MaxOpenFiles int

	// MemTableSize is the size of a MemTable, and of the arena that backs
	// it, in bytes. Note that more than one MemTable can be in existence
	// since flushing a MemTable involves creating a new one and writing the
	// contents of the old one in the background.
	//
	// The default value is 4MB.
	MemTableSize int

	// ParanoidChecks makes the store treat every detected inconsistency as
	// fatal: WAL replay surfaces mid-log corruption instead of truncating,
	// and background reads verify checksums.
	//
	// The default value is false.
	ParanoidChecks bool

	// ReadOnly opens the store for reading only. Mutating operations return
	// ErrReadOnly and no background compaction runs.
	//
	// The default value is false.
	ReadOnly bool
}

// EnsureDefaults ensures that the default values for all options are set if
// a valid value was not already specified. Returns the new options.
func (o *Options) EnsureDefaults() *Options {
	if o == nil {
		o = &Options{}
	}
	if o.BytesPerSync <= 0 {
		o.BytesPerSync = 512 << 10
	}
	if o.CacheSize <= 0 {
		o.CacheSize = 8 << 20
	}
	if o.Comparer == nil {
		o.Comparer = DefaultComparer
	}
	if o.FS == nil {
		o.FS = vfs.Default
	}
	if o.L0CompactionThreshold <= 0 {
		o.L0CompactionThreshold = 4
	}
	if o.L0SlowdownWritesThreshold <= 0 {
		o.L0SlowdownWritesThreshold = 8
	}
	if o.L0StopWritesThreshold <= 0 {
		o.L0StopWritesThreshold = 12
	}
	if o.Levels == nil {
		o.Levels = make([]LevelOptions, 1)
	}
	for i := range o.Levels {
		o.Levels[i] = *o.Levels[i].EnsureDefaults()
	}
	if o.Logger == nil {
		o.Logger = DefaultLogger
	}
	if o.MaxManifestFileSize <= 0 {
		o.MaxManifestFileSize = 128 << 20
	}
	if o.MaxOpenFiles == 0 {
		o.MaxOpenFiles = 1000
	}
	if o.MemTableSize <= 0 {
		o.MemTableSize = 4 << 20
	}
	return o
}

// Level returns the LevelOptions for the specified level. Levels after the
// last configured one inherit its options.
func (o *Options) Level(level int) LevelOptions {
	if level < len(o.Levels) {
		return o.Levels[level]
	}
	return o.Levels[len(o.Levels)-1]
}

// ReadOptions hold the optional per-query parameters for Get and iterator
// operations.
//
// Like Options, a nil *ReadOptions is valid and means to use the default
// values.
type ReadOptions struct {
	// FillCacheOff disables populating the block cache with blocks read on
	// behalf of this query. Bulk scans set it to avoid evicting hot blocks.
	FillCacheOff bool

	// VerifyChecksums verifies the per-block checksum of every block read
	// on behalf of this query, even when the block is served from the OS
	// buffer cache.
	VerifyChecksums bool
}

// GetFillCache returns whether blocks read for this query populate the
// block cache.
func (o *ReadOptions) GetFillCache() bool {
	return o == nil || !o.FillCacheOff
}

// GetVerifyChecksums returns whether block checksums are verified for this
// query.
func (o *ReadOptions) GetVerifyChecksums() bool {
	return o != nil && o.VerifyChecksums
}

// WriteOptions hold the optional per-query parameters for Set and Delete
// operations.
//
// Like Options, a nil *WriteOptions is valid and means to use the default
// values.
type WriteOptions struct {
	// Sync is whether to sync underlying writes from the OS buffer cache
	// through to actual disk, if applicable. Setting Sync can result in
	// slower writes.
	//
	// If false, and the machine crashes, then some recent writes may be
	// lost. Note that if it is just the process that crashes (and the
	// machine does not) then no writes will be lost.
	//
	// In other words, Sync being false has the same semantics as a write
	// system call. Sync being true means write followed by fsync.
	//
	// The default value is true.
	Sync bool
}

// Sync specifies the default write options for writes which synchronize to
// disk.
var Sync = &WriteOptions{Sync: true}

// NoSync specifies the default write options for writes which do not
// synchronize to disk.
var NoSync = &WriteOptions{Sync: false}

// GetSync returns the sync behavior, defaulting to synced.
func (o *WriteOptions) GetSync() bool {
	return o == nil || o.Sync
}
