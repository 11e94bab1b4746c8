// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package talus

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/talusdb/talus/vfs"
)

func TestDBFilename(t *testing.T) {
	testCases := []struct {
		fileType fileType
		fileNum  uint64
		want     string
	}{
		{fileTypeLog, 7, "/dir/000007.log"},
		{fileTypeLock, 0, "/dir/LOCK"},
		{fileTypeTable, 42, "/dir/000042.sst"},
		{fileTypeManifest, 3, "/dir/MANIFEST-000003"},
		{fileTypeCurrent, 0, "/dir/CURRENT"},
		{fileTypeTemp, 5, "/dir/000005.dbtmp"},
	}
	for _, c := range testCases {
		require.Equal(t, c.want, dbFilename("/dir", c.fileType, c.fileNum))
		// A trailing separator on the directory makes no difference.
		require.Equal(t, c.want, dbFilename("/dir/", c.fileType, c.fileNum))
	}
}

func TestParseDBFilename(t *testing.T) {
	testCases := []struct {
		filename string
		fileType fileType
		fileNum  uint64
		ok       bool
	}{
		{"000007.log", fileTypeLog, 7, true},
		{"/some/dir/000007.log", fileTypeLog, 7, true},
		{"LOCK", fileTypeLock, 0, true},
		{"123456.sst", fileTypeTable, 123456, true},
		{"MANIFEST-000001", fileTypeManifest, 1, true},
		{"CURRENT", fileTypeCurrent, 0, true},
		{"000009.dbtmp", fileTypeTemp, 9, true},

		{"", 0, 0, false},
		{"CURRENT.bak", 0, 0, false},
		{"MANIFEST", 0, 0, false},
		{"MANIFEST-", 0, 0, false},
		{"MANIFEST-abc", 0, 0, false},
		{"abcdef.log", 0, 0, false},
		{"000001.ldb", 0, 0, false},
		{"000001", 0, 0, false},
		{"000001.", 0, 0, false},
	}
	for _, c := range testCases {
		ft, fn, ok := parseDBFilename(c.filename)
		require.Equal(t, c.ok, ok, "filename=%q", c.filename)
		if ok {
			require.Equal(t, c.fileType, ft, "filename=%q", c.filename)
			require.Equal(t, c.fileNum, fn, "filename=%q", c.filename)
		}
	}
}

func TestParseDBFilenameRoundTrip(t *testing.T) {
	for _, ft := range []fileType{
		fileTypeLog, fileTypeLock, fileTypeTable, fileTypeManifest,
		fileTypeCurrent, fileTypeTemp,
	} {
		name := dbFilename("/db", ft, 13)
		gotType, gotNum, ok := parseDBFilename(name)
		require.True(t, ok, "name=%q", name)
		require.Equal(t, ft, gotType)
		switch ft {
		case fileTypeLock, fileTypeCurrent:
			require.EqualValues(t, 0, gotNum)
		default:
			require.EqualValues(t, 13, gotNum)
		}
	}
}

func TestSetCurrentFile(t *testing.T) {
	fs := vfs.NewMem()
	require.NoError(t, fs.MkdirAll("/db", 0755))

	require.NoError(t, setCurrentFile("/db", fs, 4))

	f, err := fs.Open("/db/CURRENT")
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.Equal(t, "MANIFEST-000004\n", string(data))

	// Re-pointing CURRENT replaces the old contents and leaves no temp file
	// behind.
	require.NoError(t, setCurrentFile("/db", fs, 11))
	f, err = fs.Open("/db/CURRENT")
	require.NoError(t, err)
	data, err = io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.Equal(t, "MANIFEST-000011\n", string(data))

	names, err := fs.List("/db")
	require.NoError(t, err)
	require.Equal(t, []string{"CURRENT"}, names)
}
