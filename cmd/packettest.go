// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/fieldboot/pkg/framing"
	"github.com/spf13/cobra"
)

var packetTestTimeout int

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test a UART link by waiting for a complete frame",
	Long: `Wait for a complete UART frame on the connection until timeout.

Bytes outside a START..END frame are ignored. The bootloader sends "R" shortly
after startup and heartbeat frames every 12 ms once enabled, so a live link
normally passes within a few milliseconds.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a frame
  2 - Connection error`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Fieldboot - Frame Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for a frame...\n\n")

	frameChan := make(chan *framing.Frame, 1)
	errChan := make(chan error, 1)

	go func() {
		decoder := framing.NewDecoder()
		buf := make([]byte, 128)
		skipped := 0
		for {
			n, err := conn.Read(buf)
			if err != nil {
				errChan <- err
				return
			}
			for _, b := range buf[:n] {
				f, decodeErr := decoder.DecodeByte(b)
				if decodeErr != nil {
					skipped++
					continue
				}
				if f != nil {
					if skipped > 0 {
						fmt.Printf("(%d decode errors before sync)\n", skipped)
					}
					frameChan <- f
					return
				}
			}
		}
	}()

	select {
	case f := <-frameChan:
		fmt.Printf("SUCCESS: Received frame\n")
		fmt.Printf("  Tag: %s (0x%02X)\n", framing.FormatTag(f), f.Tag())
		fmt.Printf("  Payload: %d bytes\n", len(f.Payload()))
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(packetTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No frame received within %d seconds\n", packetTestTimeout)
		os.Exit(1)
	}

	return nil
}
