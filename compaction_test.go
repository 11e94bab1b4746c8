// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package talus

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/cockroachdb/datadriven"
	"github.com/stretchr/testify/require"
	"github.com/talusdb/talus/db"
)

func TestMaxBytesForLevel(t *testing.T) {
	require.Equal(t, 10.0*1048576.0, maxBytesForLevel(1))
	require.Equal(t, 100.0*1048576.0, maxBytesForLevel(2))
	require.Equal(t, 1000.0*1048576.0, maxBytesForLevel(3))
	require.Equal(t, 1000000.0*1048576.0, maxBytesForLevel(6))
}

func TestCompactionSizeLimits(t *testing.T) {
	opts := (&db.Options{}).EnsureDefaults()
	tfs := opts.Level(1).TargetFileSize
	require.Equal(t, 10*tfs, maxGrandparentOverlapBytes(opts, 1))
	require.Equal(t, uint64(25*tfs), expandedCompactionByteSizeLimit(opts, 1))
}

func TestIsBaseLevelForUkey(t *testing.T) {
	v := &version{}
	v.files[4] = []*fileMetadata{
		{smallest: ikey("d"), largest: ikey("f")},
		{smallest: ikey("m"), largest: ikey("p")},
	}
	c := &compaction{version: v, level: 1}

	cmp := db.DefaultComparer.Compare
	// Keys outside every deeper table can drop their tombstones.
	require.True(t, c.isBaseLevelForUkey(cmp, []byte("a")))
	require.True(t, c.isBaseLevelForUkey(cmp, []byte("g")))
	require.True(t, c.isBaseLevelForUkey(cmp, []byte("z")))
	// Keys covered by a deeper table cannot.
	require.False(t, c.isBaseLevelForUkey(cmp, []byte("d")))
	require.False(t, c.isBaseLevelForUkey(cmp, []byte("e")))
	require.False(t, c.isBaseLevelForUkey(cmp, []byte("p")))

	// A compaction into the deepest levels has nothing below it.
	c = &compaction{version: v, level: 3}
	require.True(t, c.isBaseLevelForUkey(cmp, []byte("e")))
}

func TestCompactionShouldStopBefore(t *testing.T) {
	cmp := db.DefaultComparer.Compare
	var grandparents []*fileMetadata

	parseMeta := func(s string) *fileMetadata {
		parts := strings.Split(s, "-")
		if len(parts) != 2 {
			t.Fatalf("malformed table spec: %s", s)
		}
		return &fileMetadata{
			smallest: ikey(parts[0]),
			largest:  ikey(parts[1]),
		}
	}

	datadriven.RunTest(t, "testdata/compaction_should_stop_before",
		func(t *testing.T, td *datadriven.TestData) string {
			switch td.Cmd {
			case "define":
				grandparents = nil
				if len(td.Input) == 0 {
					return ""
				}
				for _, data := range strings.Split(td.Input, "\n") {
					parts := strings.Fields(data)
					if len(parts) != 2 {
						return fmt.Sprintf("malformed test:\n%s", td.Input)
					}

					meta := parseMeta(parts[0])
					var err error
					meta.size, err = strconv.ParseUint(parts[1], 10, 64)
					if err != nil {
						return err.Error()
					}
					grandparents = append(grandparents, meta)
				}
				sort.Sort(bySmallest{grandparents, cmp})
				return ""

			case "compact":
				c := &compaction{
					inputs: [3][]*fileMetadata{2: grandparents},
				}
				if len(td.CmdArgs) != 1 {
					return fmt.Sprintf("%s expects 1 argument", td.Cmd)
				}
				if len(td.CmdArgs[0].Vals) != 1 {
					return fmt.Sprintf("%s expects 1 value", td.CmdArgs[0].Key)
				}
				maxOverlap, err := strconv.ParseInt(td.CmdArgs[0].Vals[0], 10, 64)
				if err != nil {
					return err.Error()
				}

				var buf bytes.Buffer
				var smallest, largest string
				for i, key := range strings.Fields(td.Input) {
					if i == 0 {
						smallest = key
					}
					if c.shouldStopBefore(cmp, ikey(key), maxOverlap) {
						fmt.Fprintf(&buf, "%s-%s\n", smallest, largest)
						smallest = key
					}
					largest = key
				}
				fmt.Fprintf(&buf, "%s-%s\n", smallest, largest)
				return buf.String()

			default:
				return fmt.Sprintf("unknown command: %s", td.Cmd)
			}
		})
}

func TestPickLevelForMemTableOutput(t *testing.T) {
	d := openTestDB(t, nil)
	defer d.Close()

	v := &version{}
	v.files[2] = []*fileMetadata{
		{smallest: ikey("m"), largest: ikey("p"), size: 1 << 20},
	}
	d.mu.Lock()
	d.mu.versions.append(v)

	// No overlap anywhere: the flush is pushed to the deepest allowed
	// level.
	require.Equal(t, 2, d.pickLevelForMemTableOutput([]byte("a"), []byte("c")))
	// Overlap with level 2 stops the push at level 1.
	require.Equal(t, 1, d.pickLevelForMemTableOutput([]byte("n"), []byte("o")))
	d.mu.Unlock()

	// Overlap with level 0 pins the table to level 0.
	v0 := &version{}
	v0.files[0] = []*fileMetadata{
		{smallest: ikey("a"), largest: ikey("z"), size: 1 << 10},
	}
	d.mu.Lock()
	d.mu.versions.append(v0)
	require.Equal(t, 0, d.pickLevelForMemTableOutput([]byte("m"), []byte("n")))
	d.mu.Unlock()
}

func TestPickCompaction(t *testing.T) {
	var d *DB
	defer func() {
		if d != nil {
			require.NoError(t, d.Close())
		}
	}()

	var fileNum uint64
	parseMeta := func(s string) *fileMetadata {
		parts := strings.Split(s, "-")
		if len(parts) != 2 {
			t.Fatalf("malformed table spec: %s", s)
		}
		fileNum++
		return &fileMetadata{
			fileNum:  fileNum,
			smallest: fakeIkey(parts[0]),
			largest:  fakeIkey(parts[1]),
		}
	}

	datadriven.RunTest(t, "testdata/compaction_pick",
		func(t *testing.T, td *datadriven.TestData) string {
			switch td.Cmd {
			case "define":
				if d != nil {
					if err := d.Close(); err != nil {
						return err.Error()
					}
				}
				d = openTestDB(t, nil)
				fileNum = 0

				v := &version{}
				for _, data := range strings.Split(td.Input, "\n") {
					parts := strings.Fields(data)
					if len(parts) == 0 {
						continue
					}
					if len(parts) < 3 {
						return fmt.Sprintf("malformed table spec: %s", data)
					}
					level, err := strconv.Atoi(strings.TrimSuffix(parts[0], ":"))
					if err != nil {
						return err.Error()
					}
					meta := parseMeta(parts[1])
					if meta.size, err = strconv.ParseUint(strings.TrimPrefix(parts[2], "size="), 10, 64); err != nil {
						return err.Error()
					}
					// A table is born with a full seek budget unless the
					// test exhausts it up front.
					if len(parts) < 4 || parts[3] != "seeks-exhausted" {
						meta.initAllowedSeeks()
					}
					v.files[level] = append(v.files[level], meta)
				}
				for level := 1; level < numLevels; level++ {
					sort.Sort(bySmallest{v.files[level], d.cmp})
				}

				d.mu.Lock()
				d.mu.versions.append(v)
				d.mu.Unlock()
				return ""

			case "pick":
				d.mu.Lock()
				c := d.pickCompaction()
				d.mu.Unlock()
				if c == nil {
					return "nil\n"
				}

				var buf bytes.Buffer
				for i := range c.inputs {
					if len(c.inputs[i]) == 0 {
						continue
					}
					fmt.Fprintf(&buf, "L%d:", c.level+i)
					for _, f := range c.inputs[i] {
						fmt.Fprintf(&buf, " %06d", f.fileNum)
					}
					buf.WriteString("\n")
				}
				return buf.String()

			default:
				return fmt.Sprintf("unknown command: %s", td.Cmd)
			}
		})
}

func TestFlushCompactCounters(t *testing.T) {
	d := openTestDB(t, nil)
	defer d.Close()

	require.NoError(t, d.Set([]byte("k"), []byte("v"), nil))
	require.NoError(t, d.Flush())

	m := d.Metrics()
	require.Equal(t, int64(1), m.Flushes)
}
