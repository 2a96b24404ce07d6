// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/Thermoquad/fieldboot/pkg/hidhost"
	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"
)

// Connection is a byte stream carrying the bootloader's UART frames
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
}

// SerialConnection is a UART stream on a local serial port
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// ErrConnectionClosed is returned once the WebSocket stream has failed
var ErrConnectionClosed = errors.New("websocket connection closed")

// WebSocketConnection is a UART stream carried in binary WebSocket messages,
// such as the emulator's /uart endpoint
type WebSocketConnection struct {
	conn    *websocket.Conn
	pending []byte
	closed  bool
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	if w.closed {
		return 0, ErrConnectionClosed
	}
	for len(w.pending) == 0 {
		kind, data, err := w.conn.ReadMessage()
		if err != nil {
			w.closed = true
			return 0, err
		}
		if kind == websocket.BinaryMessage {
			w.pending = data
		}
	}
	n := copy(p, w.pending)
	w.pending = w.pending[n:]
	return n, nil
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketConnection) Close() error {
	return w.conn.Close()
}

// OpenSerialConnection opens a serial port at 8N1
func OpenSerialConnection(portName string, baudRate int) (Connection, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	return &SerialConnection{port: port}, nil
}

// OpenWebSocketConnection dials a UART stream endpoint with optional Basic auth
func OpenWebSocketConnection(wsURL, username, password string, skipSSLVerify bool) (Connection, error) {
	conn, err := hidhost.DialWebSocket(wsURL, username, password, skipSSLVerify)
	if err != nil {
		return nil, err
	}
	return &WebSocketConnection{conn: conn}, nil
}

// GetPassword reads FIELDBOOT_PASSWORD or prompts without echo
func GetPassword() (string, error) {
	if pw := os.Getenv("FIELDBOOT_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}
	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

func wsPassword() (string, error) {
	if wsUsername == "" {
		return "", nil
	}
	return GetPassword()
}

// OpenConnection opens the UART stream selected by --url or --port
func OpenConnection() (Connection, string, error) {
	if wsURL != "" {
		password, err := wsPassword()
		if err != nil {
			return nil, "", err
		}
		conn, err := OpenWebSocketConnection(wsURL, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	if portName != "" {
		conn, err := OpenSerialConnection(portName, baudRate)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}

	return nil, "", fmt.Errorf("either --port or --url must be specified")
}

// OpenTransport opens the feature report channel selected by --url, falling
// back to USB with --usb or the default IDs.
func OpenTransport() (hidhost.Transport, string, error) {
	if wsURL != "" {
		password, err := wsPassword()
		if err != nil {
			return nil, "", err
		}
		t, err := hidhost.DialWS(wsURL, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return t, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	vid, pid, err := parseUSBID(usbID)
	if err != nil {
		return nil, "", err
	}
	t, err := hidhost.OpenUSB(vid, pid)
	if err != nil {
		return nil, "", err
	}
	return t, fmt.Sprintf("USB: %s:%s", vid, pid), nil
}
