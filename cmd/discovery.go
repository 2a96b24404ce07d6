// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/Thermoquad/fieldboot/pkg/hidhost"
	"github.com/spf13/cobra"
	"go.bug.st/serial"
)

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "List attached bootloaders and serial ports",
	Long: `List USB devices with the bootloader's vendor ID and the serial ports
available for raw_log, monitor and packet_test.

The vendor ID comes from --usb (default 1fc9). Devices whose product ID
matches are marked.

Exit codes:
  0 - At least one matching bootloader found
  1 - No matching bootloader found
  2 - USB enumeration failed`,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	vid, pid, err := parseUSBID(usbID)
	if err != nil {
		return err
	}

	fmt.Printf("Fieldboot - Discovery\n\n")

	ports, err := serial.GetPortsList()
	switch {
	case err != nil:
		fmt.Printf("Serial ports: enumeration failed: %v\n", err)
	case len(ports) == 0:
		fmt.Printf("Serial ports: none\n")
	default:
		fmt.Printf("Serial ports:\n")
		for _, p := range ports {
			fmt.Printf("  %s\n", p)
		}
	}
	fmt.Println()

	descs, err := hidhost.ListUSB(vid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "USB error: %v\n", err)
		os.Exit(2)
	}

	matches := 0
	fmt.Printf("USB devices with vendor %s:\n", vid)
	for _, d := range descs {
		mark := ""
		if d.Product == pid {
			mark = "  <- bootloader"
			matches++
		}
		fmt.Printf("  bus %d addr %d  %s:%s%s\n", d.Bus, d.Address, d.Vendor, d.Product, mark)
	}
	if len(descs) == 0 {
		fmt.Printf("  none\n")
	}

	fmt.Printf("\n--- Discovery summary ---\n")
	fmt.Printf("Bootloaders found: %d\n", matches)
	if matches == 0 {
		os.Exit(1)
	}
	return nil
}
