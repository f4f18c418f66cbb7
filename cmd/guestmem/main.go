package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/tinyrange/guestmem/pkg/layout"
	"github.com/tinyrange/guestmem/pkg/mmap"
)

var rootVerbose bool

var rootCmd = &cobra.Command{
	Use:          "guestmem",
	Short:        "Build, snapshot and inspect guest physical memory",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

func setupLogging() {
	level := slog.LevelInfo
	if rootVerbose {
		level = slog.LevelDebug
	}

	w := os.Stderr

	slog.SetDefault(slog.New(
		tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
			NoColor:    !isatty.IsTerminal(w.Fd()),
		}),
	))
}

// openSpace loads a layout file and maps it. Paths in the layout are
// relative to the layout file.
func openSpace(filename string) (*mmap.MappedAddressSpace, error) {
	l, err := layout.LoadFile(filename)
	if err != nil {
		return nil, err
	}

	ranges, files, err := l.Open(filepath.Dir(filename))
	if err != nil {
		return nil, err
	}
	// Mappings stay valid after their files are closed.
	defer files.Close()

	space, err := mmap.New(ranges)
	if err != nil {
		return nil, fmt.Errorf("map %s: %w", filename, err)
	}

	slog.Debug("mapped layout", "layout", filename, "regions", space.NumRegions())

	return space, nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&rootVerbose, "verbose", "v", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}
