package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tinyrange/guestmem/pkg/guestmem"
)

var mapCmd = &cobra.Command{
	Use:   "map <layout>",
	Short: "Map a layout and print the resulting memory map",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		space, err := openSpace(args[0])
		if err != nil {
			return err
		}
		defer space.Close()

		fmt.Printf("%3s %-33s %10s %s\n", "#", "range", "size", "backing")

		return guestmem.DumpMap(space, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(mapCmd)
}
