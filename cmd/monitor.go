// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/fieldboot/pkg/framing"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Monitor UART frames, heartbeats and decode errors",
	Long: `Track the bootloader's UART frames with statistics.

This command decodes every frame and reports:
  - Decode errors (oversized frames, START inside a frame, dangling escapes)
  - Heartbeat counter and heartbeats lost to transmit overflow
  - Program data throughput during a downstream update
  - Frame and error rates

By default, only errors and control frames are displayed. Use --show-all to
display heartbeat and program data frames too.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (including heartbeats and program data)")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds, text mode)")
	monitorCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	if useTUI {
		return runTUIMode(conn, connInfo)
	}
	return runTextMode(conn, connInfo)
}

// isRoutine reports whether f is a high-rate frame hidden without --show-all
func isRoutine(f *framing.Frame) bool {
	return f.Tag() == framing.TagHeartbeat || f.Tag() == framing.TagProgram
}

// readLoop feeds decoded frames and errors to emit until the connection
// fails. Decode errors before the first frame are counted, not emitted.
func readLoop(conn Connection, emit func(f *framing.Frame, err error), synced func(skipped int)) error {
	decoder := framing.NewDecoder()
	buf := make([]byte, 128)
	synchronized := false
	skipped := 0

	for {
		n, err := conn.Read(buf)
		if err != nil {
			return err
		}
		for _, b := range buf[:n] {
			f, decodeErr := decoder.DecodeByte(b)
			switch {
			case decodeErr != nil && synchronized:
				emit(nil, decodeErr)
			case decodeErr != nil:
				skipped++
			case f != nil:
				if !synchronized {
					synchronized = true
					synced(skipped)
				}
				emit(f, nil)
			}
		}
	}
}

// runTUIMode runs the monitor in a bubbletea program
func runTUIMode(conn Connection, connInfo string) error {
	p := tea.NewProgram(initialModel(connInfo, showAll))

	go func() {
		err := readLoop(conn,
			func(f *framing.Frame, err error) { p.Send(frameMsg{frame: f, decodeErr: err}) },
			func(skipped int) { p.Send(syncMsg{invalidBytes: skipped}) },
		)
		p.Send(connErrMsg{err: err})
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// runTextMode prints frames and periodic statistics to stdout
func runTextMode(conn Connection, connInfo string) error {
	fmt.Printf("Fieldboot - Frame Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors and control frames\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	type event struct {
		frame  *framing.Frame
		err    error
		synced bool
		skip   int
	}
	events := make(chan event, 64)
	done := make(chan error, 1)
	go func() {
		done <- readLoop(conn,
			func(f *framing.Frame, err error) { events <- event{frame: f, err: err} },
			func(skipped int) { events <- event{synced: true, skip: skipped} },
		)
	}()

	stats := framing.NewStatistics()
	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case ev := <-events:
			switch {
			case ev.synced && ev.skip > 0:
				fmt.Printf("[SYNC] Synchronized after %d decode errors\n\n", ev.skip)
			case ev.synced:
				fmt.Printf("[SYNC] Synchronized\n\n")
			case ev.err != nil:
				stats.Update(nil, ev.err)
				fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %v\n\n", time.Now().Format("15:04:05.000"), ev.err)
			default:
				missed := stats.MissedHeartbeat
				stats.Update(ev.frame, nil)
				if stats.MissedHeartbeat > missed {
					fmt.Printf("[%s] \033[1;33mHEARTBEAT GAP:\033[0m %d heartbeats missing before counter %d\n\n",
						ev.frame.Timestamp().Format("15:04:05.000"), stats.MissedHeartbeat-missed, stats.LastCounter)
				}
				if showAll || !isRoutine(ev.frame) {
					fmt.Print(framing.FormatFrame(ev.frame))
				}
			}

		case err := <-done:
			if errors.Is(err, ErrConnectionClosed) {
				fmt.Println("Connection closed")
				return nil
			}
			return fmt.Errorf("read failed: %w", err)

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()
		}
	}
}
