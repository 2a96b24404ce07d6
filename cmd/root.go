// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Thermoquad/fieldboot/pkg/bootloader"
	"github.com/Thermoquad/fieldboot/pkg/hidhost"
	"github.com/google/gousb"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// USB connection flags
	usbID string

	logLevel string

	logger = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "fieldboot",
	Short: "Field-update bootloader host tool and emulator",
	Long: `Fieldboot - flash, query and emulate the USB HID field-update bootloader.

The bootloader exposes a 64 byte HID feature report for commands and relays
program data to a downstream microcontroller over a framed UART link.

Connection modes:
  USB HID:   --usb 1fc9:1002
  WebSocket: --url ws://host:8765/hid [--username user]
  UART:      --port /dev/ttyUSB0 [--baud 115200]   (raw_log, monitor, packet_test)

For WebSocket authentication, the password is read from the FIELDBOOT_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVar(&usbID, "usb", "", "USB vendor:product ID in hex (default 1fc9:1002)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
}

func setupLogging(cmd *cobra.Command, args []string) error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}

	logger.SetFormatter(&prefixed.TextFormatter{
		TimestampFormat: "15:04:05",
		FullTimestamp:   true,
		ForceFormatting: true,
	})
	logger.SetOutput(os.Stderr)
	logger.SetLevel(level)

	bootloader.SetLogger(logger.WithField("prefix", "boot"))
	hidhost.SetLogger(logger.WithField("prefix", "host"))
	return nil
}

// parseUSBID parses "vvvv:pppp" in hex. An empty string selects the
// bootloader's default IDs.
func parseUSBID(s string) (gousb.ID, gousb.ID, error) {
	if s == "" {
		return hidhost.DefaultVendorID, hidhost.DefaultProductID, nil
	}
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("bad USB ID %q (want vid:pid)", s)
	}
	vid, err := strconv.ParseUint(parts[0], 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("bad vendor ID %q: %w", parts[0], err)
	}
	pid, err := strconv.ParseUint(parts[1], 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("bad product ID %q: %w", parts[1], err)
	}
	return gousb.ID(vid), gousb.ID(pid), nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
