// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hidhost

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket feature report messages. A request is [bRequest, reportType,
// data...]; a reply is [status u32 LE, data...].
const (
	wsHeaderLen = 2
	wsStatusLen = 4
)

// WSTransport carries feature reports over a WebSocket to an emulated
// device
type WSTransport struct {
	conn    *websocket.Conn
	timeout time.Duration
}

// DialWS connects to an emulator's feature report endpoint with optional
// HTTP Basic auth
func DialWS(wsURL, username, password string, skipSSLVerify bool) (*WSTransport, error) {
	conn, err := DialWebSocket(wsURL, username, password, skipSSLVerify)
	if err != nil {
		return nil, err
	}
	logger.WithField("url", wsURL).Info("connected to emulator")
	return &WSTransport{conn: conn, timeout: 5 * time.Second}, nil
}

// DialWebSocket opens a ws:// or wss:// connection, sending Basic auth
// when both username and password are set.
func DialWebSocket(wsURL, username, password string, skipSSLVerify bool) (*websocket.Conn, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}
	return conn, nil
}

func (w *WSTransport) roundTrip(req, reportType byte, data []byte) ([]byte, error) {
	msg := make([]byte, 0, wsHeaderLen+len(data))
	msg = append(msg, req, reportType)
	msg = append(msg, data...)

	if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
		return nil, err
	}
	if err := w.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if err := w.conn.SetReadDeadline(time.Now().Add(w.timeout)); err != nil {
		return nil, err
	}
	for {
		messageType, reply, err := w.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read reply: %w", err)
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		if len(reply) < wsStatusLen {
			return nil, fmt.Errorf("short reply: %d bytes", len(reply))
		}
		if status := binary.LittleEndian.Uint32(reply); status != 0 {
			return nil, &RejectedError{Request: req, Code: status}
		}
		return reply[wsStatusLen:], nil
	}
}

// SetFeature sends a feature report
func (w *WSTransport) SetFeature(report []byte) error {
	buf, err := padReport(report)
	if err != nil {
		return err
	}
	_, err = w.roundTrip(RequestSetReport, featureReportType, buf)
	return err
}

// GetFeature reads the current feature report
func (w *WSTransport) GetFeature() ([]byte, error) {
	return w.roundTrip(RequestGetReport, featureReportType, nil)
}

// GetReport reads a report of any type, exposing the device's status for
// unsupported types
func (w *WSTransport) GetReport(reportType byte) ([]byte, error) {
	return w.roundTrip(RequestGetReport, reportType, nil)
}

// Close closes the connection
func (w *WSTransport) Close() error {
	_ = w.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return w.conn.Close()
}
