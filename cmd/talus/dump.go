// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"bytes"
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"github.com/talusdb/talus/db"
	"github.com/talusdb/talus/sstable"
	"github.com/talusdb/talus/vfs"
)

var (
	dumpVerifyChecksums bool
	dumpTruncate        bool
)

var dumpCmd = &cobra.Command{
	Use:   "dump <sst> [<sst>...]",
	Short: "print the entries of one or more tables",
	Long:  ``,
	Args:  cobra.MinimumNArgs(1),
	Run:   runDump,
}

func init() {
	dumpCmd.Flags().BoolVarP(
		&dumpVerifyChecksums, "verify-checksums", "c", false, "verify block checksums")
	dumpCmd.Flags().BoolVarP(
		&dumpTruncate, "truncate", "t", false, "truncate long keys and values")
}

func runDump(cmd *cobra.Command, args []string) {
	for i, arg := range args {
		if i != 0 {
			fmt.Println()
		}
		fmt.Printf("filename: %q\n", arg)
		if err := dumpTable(arg); err != nil {
			log.Fatal(err)
		}
	}
}

func dumpTable(filename string) error {
	f, err := vfs.Default.Open(filename)
	if err != nil {
		return err
	}
	opts := (&db.Options{}).EnsureDefaults()
	r := sstable.NewReader(f, 0, opts)
	defer r.Close()

	var kBuf, vBuf bytes.Buffer
	iter := r.NewIter(&db.ReadOptions{VerifyChecksums: dumpVerifyChecksums})
	for iter.First(); iter.Valid(); iter.Next() {
		key, value := iter.Key(), iter.Value()
		ukey := key.UserKey
		if dumpTruncate {
			ukey = trunc(&kBuf, ukey)
			value = trunc(&vBuf, value)
		}
		fmt.Printf("%q#%d,%s: %q\n", ukey, key.SeqNum(), key.Kind(), value)
	}
	if err := iter.Error(); err != nil {
		iter.Close()
		return err
	}
	return iter.Close()
}

func trunc(dst *bytes.Buffer, b []byte) []byte {
	if len(b) < 64 {
		return b
	}
	dst.Reset()
	fmt.Fprintf(dst, "%s...(%d bytes)...%s", b[:20], len(b)-40, b[len(b)-20:])
	return dst.Bytes()
}
