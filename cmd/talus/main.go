// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// The talus command inspects and exercises talus stores.
package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/talusdb/talus"
	"github.com/talusdb/talus/db"
)

var rootCmd = &cobra.Command{
	Use:   "talus [command] (flags)",
	Short: "talus introspection/benchmarking tool",
	Long:  ``,
}

func main() {
	log.SetFlags(0)

	cobra.EnableCommandSorting = false
	rootCmd.AddCommand(
		getCmd,
		setCmd,
		deleteCmd,
		scanCmd,
		dumpCmd,
		manifestCmd,
		propsCmd,
		benchCmd,
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openStore(dirname string, readOnly bool) *talus.DB {
	d, err := talus.Open(dirname, &db.Options{
		ReadOnly:              readOnly,
		ErrorIfDBDoesNotExist: readOnly,
	})
	if err != nil {
		log.Fatal(err)
	}
	return d
}
