// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var manifestCmd = &cobra.Command{
	Use:   "manifest <dir>",
	Short: "print the store's current level structure",
	Long:  ``,
	Args:  cobra.ExactArgs(1),
	Run:   runManifest,
}

var propsCmd = &cobra.Command{
	Use:   "props <dir>",
	Short: "print the store's properties",
	Long:  ``,
	Args:  cobra.ExactArgs(1),
	Run:   runProps,
}

func runManifest(cmd *cobra.Command, args []string) {
	d := openStore(args[0], true)
	defer d.Close()

	m := d.Metrics()
	t := tablewriter.NewWriter(os.Stdout)
	t.SetHeader([]string{"Level", "Tables", "Size"})
	for level := range m.Levels {
		t.Append([]string{
			strconv.Itoa(level),
			strconv.FormatInt(m.Levels[level].NumFiles, 10),
			strconv.FormatUint(m.Levels[level].Size, 10),
		})
	}
	t.SetFooter([]string{"", "", strconv.FormatUint(m.TotalSize(), 10)})
	t.Render()

	sstables, err := d.GetProperty("talus.sstables")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Print(sstables)
}

func runProps(cmd *cobra.Command, args []string) {
	d := openStore(args[0], true)
	defer d.Close()

	t := tablewriter.NewWriter(os.Stdout)
	t.SetHeader([]string{"Property", "Value"})
	names := []string{
		"talus.num-files-at-level0",
		"talus.num-files-at-level1",
		"talus.num-files-at-level2",
		"talus.num-files-at-level3",
		"talus.num-files-at-level4",
		"talus.num-files-at-level5",
		"talus.num-files-at-level6",
		"talus.approximate-memory-usage",
	}
	for _, name := range names {
		value, err := d.GetProperty(name)
		if err != nil {
			log.Fatal(err)
		}
		t.Append([]string{name, value})
	}
	t.Render()

	stats, err := d.GetProperty("talus.stats")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Print(stats)
}
