// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/Thermoquad/fieldboot/pkg/hidhost"
	"github.com/Thermoquad/fieldboot/pkg/hidproto"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show product and version information",
	Long: `Send GET_HWINFO and display the product ID, bootloader version and the
hardware version stored in the device settings.`,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	t, connInfo, err := OpenTransport()
	if err != nil {
		return err
	}
	defer t.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	info, err := hidhost.NewFlasher(t).Info(ctx)
	if err != nil {
		return fmt.Errorf("GET_HWINFO failed: %w", err)
	}

	fmt.Println(renderInfo(connInfo, info))
	return nil
}

func renderInfo(connInfo string, info hidproto.HwInfo) string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true).
		Width(20)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	row := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), valueStyle.Render(value))
	}

	body := lipgloss.JoinVertical(lipgloss.Left,
		row("Connection:", connInfo),
		row("Product ID:", fmt.Sprintf("0x%04X", info.ProductID)),
		row("Bootloader version:", formatVersion(info.BootloaderVersion)),
		row("Hardware version:", fmt.Sprintf("%d", info.SettingsVersion)),
	)

	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("FIELDBOOT - DEVICE INFO"),
		boxStyle.Render(body),
	)
}

// formatVersion renders a major.minor.patch word as stored at 0x24 of the
// bootloader image
func formatVersion(v uint32) string {
	return fmt.Sprintf("%d.%d.%d (0x%08X)", v>>16, (v>>8)&0xFF, v&0xFF, v)
}
