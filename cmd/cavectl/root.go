package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joshuapare/cavekit/cave"
	"github.com/joshuapare/cavekit/winmem"
)

var (
	// Global flags
	verbose bool
	quiet   bool
	jsonOut bool
	pid     uint32
)

var rootCmd = &cobra.Command{
	Use:   "cavectl",
	Short: "Inspect and allocate discoverable memory buffers in a process",
	Long: `cavectl scans a process's virtual address space for magic-tagged
bump buffers, creates new ones inside a caller-supplied address window, and
appends bytes to them. It operates on the current process by default or on
another process via --pid.`,
	Version: "0.1.0",
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().Uint32Var(&pid, "pid", 0, "Target process ID (0 = current process)")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openTarget returns the target selected by --pid. The caller must Close it.
func openTarget() (*winmem.Process, error) {
	if pid == 0 {
		return winmem.Current()
	}
	printVerbose("Opening process %d\n", pid)
	return winmem.Open(pid)
}

// parseAddr parses an address written as a Go integer literal: decimal,
// 0x-prefixed hex, or 0o/0b/leading-zero octal and binary forms.
func parseAddr(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad address %q: %w", s, err)
	}
	return v, nil
}

// windowFromFlags builds the placement window from --min/--max values.
func windowFromFlags(minAddr, maxAddr string) (cave.Range, error) {
	w := cave.FullRange
	if minAddr != "" {
		v, err := parseAddr(minAddr)
		if err != nil {
			return cave.Range{}, err
		}
		w.Start = v
	}
	if maxAddr != "" {
		v, err := parseAddr(maxAddr)
		if err != nil {
			return cave.Range{}, err
		}
		w.End = v
	}
	return w, nil
}

// Helper functions for output

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...interface{}) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
