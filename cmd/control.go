// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Thermoquad/fieldboot/pkg/hidhost"
	"github.com/spf13/cobra"
)

var controlTimeout time.Duration

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Send a control command to the bootloader",
	Long: `Send one of the bootloader's control commands.

  reinvoke        restart into the ROM ISP loader
  reset           reset the downstream device, then the bootloader after
                  its watchdog timeout
  set-version N   store hardware version N in the device settings`,
}

var reinvokeCmd = &cobra.Command{
	Use:   "reinvoke",
	Short: "Restart into ROM ISP mode",
	Args:  cobra.NoArgs,
	RunE: withFlasher(func(ctx context.Context, f *hidhost.Flasher, args []string) error {
		if err := f.Reinvoke(ctx); err != nil {
			return err
		}
		fmt.Println("ISP reinvoke requested")
		return nil
	}),
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the downstream device and the bootloader",
	Args:  cobra.NoArgs,
	RunE: withFlasher(func(ctx context.Context, f *hidhost.Flasher, args []string) error {
		if err := f.Reset(ctx); err != nil {
			return err
		}
		fmt.Println("Reset requested")
		return nil
	}),
}

var setVersionCmd = &cobra.Command{
	Use:   "set-version N",
	Short: "Store the hardware version",
	Args:  cobra.ExactArgs(1),
	RunE: withFlasher(func(ctx context.Context, f *hidhost.Flasher, args []string) error {
		v, err := strconv.ParseUint(args[0], 0, 32)
		if err != nil {
			return fmt.Errorf("bad version %q: %w", args[0], err)
		}
		if err := f.SetHardwareVersion(ctx, uint32(v)); err != nil {
			return err
		}
		fmt.Printf("Hardware version set to %d\n", v)
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(controlCmd)
	controlCmd.PersistentFlags().DurationVar(&controlTimeout, "timeout", 5*time.Second, "Command timeout")
	controlCmd.AddCommand(reinvokeCmd, resetCmd, setVersionCmd)
}

// withFlasher opens the transport and runs fn with a Flasher bound to it
func withFlasher(fn func(ctx context.Context, f *hidhost.Flasher, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		t, connInfo, err := OpenTransport()
		if err != nil {
			return err
		}
		defer t.Close()
		logger.WithField("connection", connInfo).Debug("transport open")

		ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
		defer cancel()
		return fn(ctx, hidhost.NewFlasher(t, hidhost.WithLogger(logger.WithField("prefix", "control"))), args)
	}
}
