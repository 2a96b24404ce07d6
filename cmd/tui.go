// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/fieldboot/pkg/framing"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Event log entry
type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// TUI model
type model struct {
	connInfo      string
	showAll       bool
	stats         *framing.Statistics
	eventLog      []logEntry
	maxLogEntries int
	synchronized  bool
	invalidBytes  int
	width         int
	height        int
	quitting      bool
	connErr       error

	lastHeartbeat time.Time
	lastSignature []byte
	lastText      string
}

// Messages
type tickMsg time.Time
type frameMsg struct {
	frame     *framing.Frame
	decodeErr error
}
type syncMsg struct {
	invalidBytes int
}
type connErrMsg struct {
	err error
}

func initialModel(connInfo string, showAll bool) model {
	return model{
		connInfo:      connInfo,
		showAll:       showAll,
		stats:         framing.NewStatistics(),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.stats.Reset()
			m.addLogEntry("Statistics reset", false)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.stats.CalculateRates()
		return m, tickCmd()

	case syncMsg:
		m.synchronized = true
		m.invalidBytes = msg.invalidBytes
		if msg.invalidBytes > 0 {
			m.addLogEntry(fmt.Sprintf("Synchronized after %d decode errors", msg.invalidBytes), false)
		} else {
			m.addLogEntry("Synchronized", false)
		}

	case connErrMsg:
		m.connErr = msg.err
		m.addLogEntry(fmt.Sprintf("Connection lost: %v", msg.err), true)

	case frameMsg:
		if msg.decodeErr != nil {
			m.stats.Update(nil, msg.decodeErr)
			m.addLogEntry(fmt.Sprintf("DECODE ERROR: %v", msg.decodeErr), true)
			return m, nil
		}
		m.handleFrame(msg.frame)
	}

	return m, nil
}

func (m *model) handleFrame(f *framing.Frame) {
	missed := m.stats.MissedHeartbeat
	m.stats.Update(f, nil)
	if gap := m.stats.MissedHeartbeat - missed; gap > 0 {
		m.addLogEntry(fmt.Sprintf("Heartbeat gap: %d missing before counter %d", gap, m.stats.LastCounter), true)
	}

	switch {
	case f.Tag() == framing.TagHeartbeat:
		m.lastHeartbeat = f.Timestamp()
	case f.Tag() == framing.TagSignature:
		m.lastSignature = f.Payload()
	case f.IsReset(), f.Tag() == framing.TagReady, f.Tag() == framing.TagErase:
		m.lastText = framing.FormatTag(f)
	}

	if m.showAll || !isRoutine(f) {
		m.addLogEntry(fmt.Sprintf("%s len=%d", framing.FormatTag(f), len(f.Payload())), false)
	}
}

func (m *model) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("FIELDBOOT - FRAME MONITOR"))
	s.WriteString("\n")
	mode := "Errors and control frames"
	if m.showAll {
		mode = "All frames"
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Mode: %s | 'r' reset stats, 'q' quit", m.connInfo, mode)))
	s.WriteString("\n\n")

	switch {
	case m.connErr != nil:
		s.WriteString(errorStyle.Render("✗ Disconnected"))
	case !m.synchronized:
		s.WriteString(warningStyle.Render("⏳ Waiting for synchronization..."))
	default:
		s.WriteString(valueStyle.Render("✓ Synchronized"))
		if m.invalidBytes > 0 {
			s.WriteString(headerStyle.Render(fmt.Sprintf(" (%d decode errors before sync)", m.invalidBytes)))
		}
	}
	s.WriteString("\n\n")

	// Statistics
	m.stats.CalculateRates()
	stats := strings.Builder{}
	stats.WriteString(fmt.Sprintf("%s %s   %s %s\n",
		labelStyle.Render("Frames:"), valueStyle.Render(fmt.Sprintf("%d", m.stats.TotalFrames)),
		labelStyle.Render("Decode Errors:"), func() string {
			if m.stats.DecodeErrors > 0 {
				return errorStyle.Render(fmt.Sprintf("%d", m.stats.DecodeErrors))
			}
			return valueStyle.Render("0")
		}(),
	))
	stats.WriteString(fmt.Sprintf("%s %s   %s %s\n",
		labelStyle.Render("Program Data:"), valueStyle.Render(fmt.Sprintf("%d frames, %d bytes", m.stats.ProgramFrames, m.stats.ProgramBytes)),
		labelStyle.Render("Signatures:"), valueStyle.Render(fmt.Sprintf("%d", m.stats.SignatureFrames)),
	))
	stats.WriteString(fmt.Sprintf("%s %s   %s %s",
		labelStyle.Render("Frame Rate:"), valueStyle.Render(fmt.Sprintf("%.1f frames/s", m.stats.FrameRate)),
		labelStyle.Render("Error Rate:"), func() string {
			if m.stats.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.2f err/s", m.stats.ErrorRate))
			}
			return valueStyle.Render("0.00 err/s")
		}(),
	))
	s.WriteString(boxStyle.Render(stats.String()))
	s.WriteString("\n\n")

	// Heartbeat
	s.WriteString(labelStyle.Render("Heartbeat:"))
	s.WriteString("\n")
	beat := strings.Builder{}
	if !m.stats.HasCounter {
		beat.WriteString(headerStyle.Render("(no heartbeat yet, sent after the first relay command)"))
	} else {
		age := time.Since(m.lastHeartbeat).Round(time.Millisecond)
		beat.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s",
			labelStyle.Render("Counter:"), valueStyle.Render(fmt.Sprintf("%d", m.stats.LastCounter)),
			labelStyle.Render("Missed:"), func() string {
				if m.stats.MissedHeartbeat > 0 {
					return warningStyle.Render(fmt.Sprintf("%d", m.stats.MissedHeartbeat))
				}
				return valueStyle.Render("0")
			}(),
			labelStyle.Render("Last:"), valueStyle.Render(age.String()+" ago"),
		))
	}
	if m.lastSignature != nil {
		beat.WriteString(fmt.Sprintf("\n%s %s", labelStyle.Render("Signature:"), valueStyle.Render(fmt.Sprintf("%X", m.lastSignature))))
	}
	if m.lastText != "" {
		beat.WriteString(fmt.Sprintf("\n%s %s", labelStyle.Render("Last control:"), valueStyle.Render(m.lastText)))
	}
	s.WriteString(boxStyle.Render(beat.String()))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 18
	if logHeight < 5 {
		logHeight = 5
	}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	events := strings.Builder{}
	if len(m.eventLog) == 0 {
		events.WriteString(headerStyle.Render("  (no events yet)"))
	}
	for _, entry := range m.eventLog[startIdx:] {
		timestamp := headerStyle.Render(entry.timestamp.Format("15:04:05.000"))
		if entry.isError {
			events.WriteString(fmt.Sprintf("%s %s\n", timestamp, errorStyle.Render("✗ "+entry.message)))
		} else {
			events.WriteString(fmt.Sprintf("%s %s\n", timestamp, warningStyle.Render("ℹ "+entry.message)))
		}
	}
	s.WriteString(boxStyle.Width(m.width - 4).Render(events.String()))

	return s.String()
}
