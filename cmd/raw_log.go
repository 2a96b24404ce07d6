// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/Thermoquad/fieldboot/pkg/framing"
	"github.com/spf13/cobra"
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display UART frames in human-readable format",
	Long: `Continuously decode and display the bootloader's UART frames as they arrive.

Each frame is shown with timestamp, tag and decoded payload: ready and reset
text, erase requests, program data chunks, signatures and heartbeat counters.

Supports both serial and WebSocket (emulator /uart) connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
}

func runRawLog(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Fieldboot - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	decoder := framing.NewDecoder()
	buf := make([]byte, 128)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			if errors.Is(err, ErrConnectionClosed) || errors.Is(err, io.EOF) {
				logger.Info("connection closed")
				return nil
			}
			if _, ok := conn.(*WebSocketConnection); ok {
				logger.WithError(err).Info("connection closed")
				return nil
			}
			logger.WithError(err).Warn("read error")
			continue
		}

		frames, errs := decoder.Decode(buf[:n])
		for _, err := range errs {
			fmt.Printf("[ERROR] %v\n", err)
		}
		for _, f := range frames {
			fmt.Print(framing.FormatFrame(f))
		}
	}
}
