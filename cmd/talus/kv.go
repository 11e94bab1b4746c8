// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"fmt"
	"log"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/talusdb/talus/db"
)

var (
	scanStart string
	scanEnd   string
	scanCount int
)

var getCmd = &cobra.Command{
	Use:   "get <dir> <key>",
	Short: "print the value for a key",
	Long:  ``,
	Args:  cobra.ExactArgs(2),
	Run:   runGet,
}

var setCmd = &cobra.Command{
	Use:   "set <dir> <key> <value>",
	Short: "set a key to a value",
	Long:  ``,
	Args:  cobra.ExactArgs(3),
	Run:   runSet,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <dir> <key>",
	Short: "delete a key",
	Long:  ``,
	Args:  cobra.ExactArgs(2),
	Run:   runDelete,
}

var scanCmd = &cobra.Command{
	Use:   "scan <dir>",
	Short: "print a range of keys and values",
	Long:  ``,
	Args:  cobra.ExactArgs(1),
	Run:   runScan,
}

func init() {
	scanCmd.Flags().StringVar(
		&scanStart, "start", "", "start of the scan range (inclusive)")
	scanCmd.Flags().StringVar(
		&scanEnd, "end", "", "end of the scan range (exclusive)")
	scanCmd.Flags().IntVar(
		&scanCount, "count", 0, "maximum number of entries to print (0 for all)")
}

func runGet(cmd *cobra.Command, args []string) {
	d := openStore(args[0], true)
	defer d.Close()

	value, err := d.Get([]byte(args[1]), nil)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			log.Fatalf("%q not found", args[1])
		}
		log.Fatal(err)
	}
	fmt.Printf("%s\n", value)
}

func runSet(cmd *cobra.Command, args []string) {
	d := openStore(args[0], false)
	defer d.Close()

	if err := d.Set([]byte(args[1]), []byte(args[2]), db.Sync); err != nil {
		log.Fatal(err)
	}
}

func runDelete(cmd *cobra.Command, args []string) {
	d := openStore(args[0], false)
	defer d.Close()

	if err := d.Delete([]byte(args[1]), db.Sync); err != nil {
		log.Fatal(err)
	}
}

func runScan(cmd *cobra.Command, args []string) {
	d := openStore(args[0], true)
	defer d.Close()

	iter := d.NewIter(nil)
	defer iter.Close()

	n := 0
	for valid := seekScanStart(iter); valid; valid = iter.Next() {
		if scanEnd != "" && string(iter.Key()) >= scanEnd {
			break
		}
		fmt.Printf("%q: %q\n", iter.Key(), iter.Value())
		n++
		if scanCount > 0 && n >= scanCount {
			break
		}
	}
	if err := iter.Error(); err != nil {
		log.Fatal(err)
	}
}

func seekScanStart(iter db.Iterator) bool {
	if scanStart != "" {
		return iter.SeekGE([]byte(scanStart))
	}
	return iter.First()
}
