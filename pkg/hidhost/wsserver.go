// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hidhost

import (
	"context"
	"crypto/subtle"
	"encoding/binary"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ReportHandler is the device side of the feature report channel
type ReportHandler interface {
	SetReport(ctx context.Context, reportType byte, data []byte) (uint32, error)
	GetReport(ctx context.Context, reportType byte) ([]byte, uint32, error)
}

// Server exposes a ReportHandler over WebSocket
type Server struct {
	handler  ReportHandler
	username string
	password string
	upgrader websocket.Upgrader
	timeout  time.Duration
	log      logrus.FieldLogger
}

// NewServer creates a feature report server. Basic auth is required when
// password is non-empty.
func NewServer(handler ReportHandler, username, password string) *Server {
	return &Server{
		handler:  handler,
		username: username,
		password: password,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		timeout: 5 * time.Second,
		log:     logger,
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.password == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.password)) == 1
	return userOK && passOK
}

// ServeHTTP upgrades the connection and serves requests until it closes
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="fieldboot"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := s.log.WithField("remote", r.RemoteAddr)
	log.Info("host connected")

	for {
		messageType, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Debug("read failed")
			}
			log.Info("host disconnected")
			return
		}
		if messageType != websocket.BinaryMessage || len(msg) < wsHeaderLen {
			continue
		}

		reply := s.dispatch(r.Context(), msg[0], msg[1], msg[wsHeaderLen:])
		if err := conn.WriteMessage(websocket.BinaryMessage, reply); err != nil {
			log.WithError(err).Debug("write failed")
			return
		}
	}
}

func (s *Server) dispatch(parent context.Context, req, reportType byte, data []byte) []byte {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	var (
		status uint32
		out    []byte
		err    error
	)
	switch req {
	case RequestSetReport:
		status, err = s.handler.SetReport(ctx, reportType, data)
	case RequestGetReport:
		out, status, err = s.handler.GetReport(ctx, reportType)
	default:
		status = 0xFFFFFFFF
	}
	if err != nil {
		s.log.WithError(err).WithField("request", req).Warn("request failed")
		status = 0xFFFFFFFF
		out = nil
	}

	reply := make([]byte, wsStatusLen, wsStatusLen+len(out))
	binary.LittleEndian.PutUint32(reply, status)
	return append(reply, out...)
}
