package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/tinyrange/guestmem/pkg/guestmem"
	"github.com/tinyrange/guestmem/pkg/layout"
	"github.com/tinyrange/guestmem/pkg/mmap"
	"github.com/tinyrange/guestmem/pkg/snapshot"
	"golang.org/x/term"
)

var (
	snapshotOutput string
	snapshotLoad   []string
)

// loadFile copies the whole of filename into space at addr.
func loadFile(space *mmap.MappedAddressSpace, addr guestmem.GuestAddress, filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	slog.Debug("loading file", "file", filename, "addr", addr, "size", info.Size())

	return space.WriteFromStream(addr, f, int(info.Size()))
}

func showProgress() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <layout>",
	Short: "Map a layout, load files into it and write a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if snapshotOutput == "" {
			return fmt.Errorf("please specify an output file with -o")
		}

		space, err := openSpace(args[0])
		if err != nil {
			return err
		}
		defer space.Close()

		for _, load := range snapshotLoad {
			addrText, filename, ok := strings.Cut(load, "=")
			if !ok {
				return fmt.Errorf("expected ADDR=FILE got %q", load)
			}

			addr, err := layout.ParseQuantity(addrText)
			if err != nil {
				return err
			}

			if err := loadFile(space, guestmem.GuestAddress(addr), filename); err != nil {
				return fmt.Errorf("load %s: %w", filename, err)
			}
		}

		out, err := os.Create(snapshotOutput)
		if err != nil {
			return err
		}
		defer out.Close()

		var opts snapshot.Options

		if showProgress() {
			regions, err := snapshot.Layout(space)
			if err != nil {
				return err
			}

			pb := progressbar.DefaultBytes(snapshot.TotalSize(regions), "saving snapshot")
			defer pb.Close()

			opts.Progress = pb
		}

		if err := snapshot.Save(space, out, opts); err != nil {
			return err
		}

		if err := out.Close(); err != nil {
			return err
		}

		slog.Info("wrote snapshot", "output", snapshotOutput)

		return nil
	},
}

func init() {
	snapshotCmd.Flags().StringVarP(&snapshotOutput, "output", "o", "", "the file to write the snapshot to")
	snapshotCmd.Flags().StringArrayVar(&snapshotLoad, "load", []string{}, "copy FILE into guest memory at ADDR before saving (ADDR=FILE)")
	rootCmd.AddCommand(snapshotCmd)
}
