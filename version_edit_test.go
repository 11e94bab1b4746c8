// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package talus

import (
	"bytes"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/cockroachdb/datadriven"
	"github.com/kr/pretty"
	"github.com/stretchr/testify/require"
	"github.com/talusdb/talus/db"
)

// describeEdit renders a versionEdit in the text form the codec test
// fixtures use as expected output.
func describeEdit(v *versionEdit) string {
	var buf bytes.Buffer
	if v.comparatorName != "" {
		fmt.Fprintf(&buf, "comparator: %s\n", v.comparatorName)
	}
	if v.logNumber != 0 {
		fmt.Fprintf(&buf, "log-number: %d\n", v.logNumber)
	}
	if v.prevLogNumber != 0 {
		fmt.Fprintf(&buf, "prev-log-number: %d\n", v.prevLogNumber)
	}
	if v.nextFileNumber != 0 {
		fmt.Fprintf(&buf, "next-file-number: %d\n", v.nextFileNumber)
	}
	if v.lastSequence != 0 {
		fmt.Fprintf(&buf, "last-sequence: %d\n", v.lastSequence)
	}
	for _, cp := range v.compactPointers {
		fmt.Fprintf(&buf, "compact-pointer: L%d %s\n", cp.level, cp.key)
	}
	deleted := make([]deletedFileEntry, 0, len(v.deletedFiles))
	for df := range v.deletedFiles {
		deleted = append(deleted, df)
	}
	sort.Slice(deleted, func(i, j int) bool {
		if deleted[i].level != deleted[j].level {
			return deleted[i].level < deleted[j].level
		}
		return deleted[i].fileNum < deleted[j].fileNum
	})
	for _, df := range deleted {
		fmt.Fprintf(&buf, "deleted-file: L%d %06d\n", df.level, df.fileNum)
	}
	for _, nf := range v.newFiles {
		fmt.Fprintf(&buf, "new-file: L%d %06d %d %s-%s\n",
			nf.level, nf.meta.fileNum, nf.meta.size, nf.meta.smallest, nf.meta.largest)
	}
	return buf.String()
}

func TestVersionEditCodec(t *testing.T) {
	parseUint := func(s string) uint64 {
		u, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			t.Fatal(err)
		}
		return u
	}

	datadriven.RunTest(t, "testdata/version_edit",
		func(t *testing.T, td *datadriven.TestData) string {
			switch td.Cmd {
			case "encode-decode":
				var ve versionEdit
				for _, line := range strings.Split(td.Input, "\n") {
					fields := strings.Fields(line)
					if len(fields) == 0 {
						continue
					}
					switch fields[0] {
					case "comparator":
						ve.comparatorName = fields[1]
					case "log-number":
						ve.logNumber = parseUint(fields[1])
					case "prev-log-number":
						ve.prevLogNumber = parseUint(fields[1])
					case "next-file-number":
						ve.nextFileNumber = parseUint(fields[1])
					case "last-sequence":
						ve.lastSequence = parseUint(fields[1])
					case "compact-pointer":
						ve.compactPointers = append(ve.compactPointers, compactPointerEntry{
							level: int(parseUint(fields[1])),
							key:   fakeIkey(fields[2]),
						})
					case "deleted-file":
						if ve.deletedFiles == nil {
							ve.deletedFiles = make(map[deletedFileEntry]bool)
						}
						ve.deletedFiles[deletedFileEntry{
							level:   int(parseUint(fields[1])),
							fileNum: parseUint(fields[2]),
						}] = true
					case "new-file":
						meta := &fileMetadata{
							fileNum:  parseUint(fields[2]),
							size:     parseUint(fields[3]),
							smallest: fakeIkey(fields[4]),
							largest:  fakeIkey(fields[5]),
						}
						// The decoder hands back files with a fresh seek
						// budget, so the comparison below needs one too.
						meta.initAllowedSeeks()
						ve.newFiles = append(ve.newFiles, newFileEntry{
							level: int(parseUint(fields[1])),
							meta:  meta,
						})
					default:
						return fmt.Sprintf("unknown field: %s", fields[0])
					}
				}

				var buf bytes.Buffer
				if err := ve.encode(&buf); err != nil {
					return err.Error()
				}
				var decoded versionEdit
				if err := decoded.decode(&buf); err != nil {
					return err.Error()
				}
				if !reflect.DeepEqual(ve, decoded) {
					t.Fatalf("encode/decode mismatch:\n%s",
						strings.Join(pretty.Diff(ve, decoded), "\n"))
				}
				return describeEdit(&decoded)

			default:
				return fmt.Sprintf("unknown command: %s", td.Cmd)
			}
		})
}

func TestVersionEditDecodeCorrupt(t *testing.T) {
	// An unknown tag (200, a two-byte varint) is corruption.
	var ve versionEdit
	err := ve.decode(bytes.NewReader([]byte{200, 1}))
	require.Error(t, err)
	require.True(t, db.IsCorruption(err))

	// A level beyond the last is corruption.
	err = ve.decode(bytes.NewReader([]byte{tagCompactPointer, numLevels}))
	require.Error(t, err)
	require.True(t, db.IsCorruption(err))

	// A truncated field is corruption.
	err = ve.decode(bytes.NewReader([]byte{tagComparator, 10, 'a', 'b'}))
	require.Error(t, err)
	require.True(t, db.IsCorruption(err))
}

func TestBulkVersionEdit(t *testing.T) {
	base := &version{}
	base.files[1] = []*fileMetadata{
		{fileNum: 1, smallest: ikey("a"), largest: ikey("e")},
		{fileNum: 2, smallest: ikey("f"), largest: ikey("j")},
	}

	var bve bulkVersionEdit
	bve.accumulate(&versionEdit{
		newFiles: []newFileEntry{
			{level: 0, meta: &fileMetadata{fileNum: 3, smallest: ikey("c"), largest: ikey("m")}},
		},
		deletedFiles: map[deletedFileEntry]bool{
			{level: 1, fileNum: 1}: true,
		},
	})
	bve.accumulate(&versionEdit{
		newFiles: []newFileEntry{
			{level: 1, meta: &fileMetadata{fileNum: 4, smallest: ikey("k"), largest: ikey("z")}},
		},
	})

	v, err := bve.apply(base, db.DefaultComparer.Compare)
	require.NoError(t, err)

	require.Equal(t, 1, len(v.files[0]))
	require.EqualValues(t, 3, v.files[0][0].fileNum)

	require.Equal(t, 2, len(v.files[1]))
	require.EqualValues(t, 2, v.files[1][0].fileNum)
	require.EqualValues(t, 4, v.files[1][1].fileNum)

	// The base version is untouched.
	require.Equal(t, 2, len(base.files[1]))
}

func TestBulkVersionEditAddThenDelete(t *testing.T) {
	// A file added and deleted within the same accumulation never appears.
	var bve bulkVersionEdit
	bve.accumulate(&versionEdit{
		deletedFiles: map[deletedFileEntry]bool{
			{level: 3, fileNum: 9}: true,
		},
	})
	bve.accumulate(&versionEdit{
		newFiles: []newFileEntry{
			{level: 3, meta: &fileMetadata{fileNum: 9, smallest: ikey("a"), largest: ikey("b")}},
		},
	})

	v, err := bve.apply(nil, db.DefaultComparer.Compare)
	require.NoError(t, err)
	require.Equal(t, 1, len(v.files[3]))

	// But deleting after adding removes it.
	var bve2 bulkVersionEdit
	bve2.accumulate(&versionEdit{
		newFiles: []newFileEntry{
			{level: 3, meta: &fileMetadata{fileNum: 9, smallest: ikey("a"), largest: ikey("b")}},
		},
	})
	bve2.accumulate(&versionEdit{
		deletedFiles: map[deletedFileEntry]bool{
			{level: 3, fileNum: 9}: true,
		},
	})
	v, err = bve2.apply(nil, db.DefaultComparer.Compare)
	require.NoError(t, err)
	require.Equal(t, 0, len(v.files[3]))
}

func TestBulkVersionEditInconsistent(t *testing.T) {
	// Overlapping files in a non-0 level fail the consistency check.
	var bve bulkVersionEdit
	bve.accumulate(&versionEdit{
		newFiles: []newFileEntry{
			{level: 2, meta: &fileMetadata{fileNum: 1, smallest: ikey("a"), largest: ikey("m")}},
			{level: 2, meta: &fileMetadata{fileNum: 2, smallest: ikey("g"), largest: ikey("z")}},
		},
	})
	_, err := bve.apply(nil, db.DefaultComparer.Compare)
	require.Error(t, err)
}
