package main

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/tinyrange/guestmem/pkg/access"
	"github.com/tinyrange/guestmem/pkg/guestmem"
	"github.com/tinyrange/guestmem/pkg/layout"
	"github.com/tinyrange/guestmem/pkg/snapshot"
)

var (
	inspectAddr string
	inspectLen  string
	inspectU64  bool
	inspectMap  bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <snapshot>",
	Short: "Restore a snapshot and dump part of it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addrValue, err := layout.ParseQuantity(inspectAddr)
		if err != nil {
			return err
		}
		addr := guestmem.GuestAddress(addrValue)

		length, err := layout.ParseQuantity(inspectLen)
		if err != nil {
			return err
		}

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		space, err := snapshot.Restore(f, snapshot.Options{})
		if err != nil {
			return err
		}
		defer space.Close()

		slog.Debug("restored snapshot", "regions", space.NumRegions())

		if inspectMap {
			if err := guestmem.DumpMap(space, os.Stdout); err != nil {
				return err
			}
		}

		if inspectU64 {
			v, err := access.ReadObj[uint64, guestmem.GuestAddress](space, addr)
			if err != nil {
				return err
			}

			fmt.Printf("%s: 0x%016x\n", addr, v)

			return nil
		}

		dumper := hex.Dumper(os.Stdout)

		if err := space.ReadIntoStream(addr, dumper, int(length)); err != nil {
			return err
		}

		return dumper.Close()
	},
}

func init() {
	inspectCmd.Flags().StringVar(&inspectAddr, "addr", "0", "the guest address to start at")
	inspectCmd.Flags().StringVar(&inspectLen, "len", "256", "the number of bytes to dump")
	inspectCmd.Flags().BoolVar(&inspectU64, "u64", false, "print the uint64 (host byte order) at --addr instead of a hexdump")
	inspectCmd.Flags().BoolVar(&inspectMap, "map", false, "print the memory map of the snapshot first")
	rootCmd.AddCommand(inspectCmd)
}
