package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshuapare/cavekit/cave"
)

func init() {
	rootCmd.AddCommand(newAppendCmd())
}

func newAppendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "append <buffer-address> <hex-bytes>",
		Short: "Append bytes to an existing buffer",
		Long: `The append command writes bytes at a buffer's bump pointer and prints
the address they landed at. The buffer address is its start (as printed by
scan and create), and the payload is hex, with or without spaces.

Example:
  cavectl append 0x10000000 90909090
  cavectl append --pid 4242 0x10000000 "48 8B 05 00 00 00 00"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAppend(args)
		},
	}
	return cmd
}

func runAppend(args []string) error {
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	payload, err := hex.DecodeString(strings.ReplaceAll(args[1], " ", ""))
	if err != nil {
		return fmt.Errorf("bad hex payload: %w", err)
	}
	if len(payload) == 0 {
		return fmt.Errorf("empty payload")
	}

	p, err := openTarget()
	if err != nil {
		return err
	}
	defer p.Close()

	b, err := cave.FromAddress(p, addr)
	if err != nil {
		return fmt.Errorf("no buffer at 0x%X: %w", addr, err)
	}

	dst, err := b.Append(payload)
	if err != nil {
		return fmt.Errorf("append %d bytes: %w", len(payload), err)
	}

	if jsonOut {
		return printJSON(map[string]interface{}{
			"buffer":  b.Base(),
			"address": dst,
			"length":  len(payload),
		})
	}
	printInfo("Wrote %d bytes at 0x%016X\n", len(payload), dst)
	return nil
}
