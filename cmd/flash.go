// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thermoquad/fieldboot/pkg/firmware"
	"github.com/Thermoquad/fieldboot/pkg/hidhost"
	"github.com/Thermoquad/fieldboot/pkg/hidproto"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	flashBase       uint32
	flashDownstream bool
	flashSignature  string
	flashChunkSize  int
)

var flashCmd = &cobra.Command{
	Use:   "flash IMAGE",
	Short: "Program an application image",
	Long: `Erase the image slot, write IMAGE and verify its signature.

IMAGE is a raw binary loaded at --base, or an Intel HEX file (.hex, .ihex,
.ihx) whose records are placed by address. The device only marks the image
bootable when the signature it computes over the written flash matches.

With --downstream the image is relayed to the downstream microcontroller
over the bootloader's UART instead. The relay has no acknowledgement; the
signature sent is the image signature unless --signature is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runFlash,
}

func init() {
	rootCmd.AddCommand(flashCmd)
	flashCmd.Flags().Uint32Var(&flashBase, "base", firmware.DefaultBase, "Load address of raw binary images")
	flashCmd.Flags().BoolVar(&flashDownstream, "downstream", false, "Relay the image to the downstream device")
	flashCmd.Flags().StringVar(&flashSignature, "signature", "", "Downstream signature as 32 hex digits")
	flashCmd.Flags().IntVar(&flashChunkSize, "chunk-size", hidproto.MaxChunk, "Bytes per write report")
}

func runFlash(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	img, err := firmware.Load(args[0], flashBase)
	if err != nil {
		return err
	}

	t, connInfo, err := OpenTransport()
	if err != nil {
		return err
	}
	defer t.Close()

	fmt.Printf("Fieldboot - Flash\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Image: %s (%d bytes at 0x%05X)\n\n", img.Name, img.Size(), img.Base)

	bar := progress.New(progress.WithDefaultGradient(), progress.WithWidth(40))
	flasher := hidhost.NewFlasher(t,
		hidhost.WithChunkSize(flashChunkSize),
		hidhost.WithLogger(logger.WithField("prefix", "flash")),
		hidhost.WithProgressCallback(func(p hidhost.Progress) {
			fmt.Fprintf(os.Stderr, "\r%-10s %s %6d/%d bytes",
				p.Phase, bar.ViewAs(p.Percentage/100), p.BytesWritten, p.TotalBytes)
			if p.Phase == hidhost.PhaseComplete {
				fmt.Fprintf(os.Stderr, "  %s\n", p.ElapsedTime.Round(time.Millisecond))
			}
		}),
	)

	if flashDownstream {
		sig := img.Signature()
		if flashSignature != "" {
			if sig, err = parseSignature(flashSignature); err != nil {
				return err
			}
		}
		if err := flasher.ProgramDownstream(ctx, img.Data, sig); err != nil {
			fmt.Fprintln(os.Stderr)
			return fmt.Errorf("downstream update failed: %w", err)
		}
		logger.WithField("signature", fmt.Sprintf("%X", sig)).Info("downstream update relayed")
		return nil
	}

	if err := flasher.Program(ctx, img); err != nil {
		fmt.Fprintln(os.Stderr)
		return fmt.Errorf("update failed: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"image":     img.Name,
		"signature": fmt.Sprintf("%X", img.Signature()),
	}).Info("image verified and committed")
	return nil
}

func parseSignature(s string) ([hidproto.SignatureSize]byte, error) {
	var sig [hidproto.SignatureSize]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return sig, fmt.Errorf("bad --signature: %w", err)
	}
	if len(raw) != len(sig) {
		return sig, fmt.Errorf("bad --signature: %d bytes, want %d", len(raw), len(sig))
	}
	copy(sig[:], raw)
	return sig, nil
}
