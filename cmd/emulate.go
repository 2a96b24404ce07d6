// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Thermoquad/fieldboot/pkg/bootloader"
	"github.com/Thermoquad/fieldboot/pkg/firmware"
	"github.com/Thermoquad/fieldboot/pkg/framing"
	"github.com/Thermoquad/fieldboot/pkg/hidhost"
	"github.com/Thermoquad/fieldboot/pkg/hwio"
	"github.com/Thermoquad/fieldboot/pkg/irq"
	"github.com/Thermoquad/fieldboot/pkg/settings"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	emulateListen    string
	emulateSettings  string
	emulateDump      string
	emulateImage     string
	emulateHeartbeat bool
)

var emulateCmd = &cobra.Command{
	Use:   "emulate",
	Short: "Run an emulated bootloader",
	Long: `Run the bootloader against simulated flash, timer and UART.

The emulator serves feature reports on ws://<listen>/hid for the flash, info
and control commands, and streams the UART wire on ws://<listen>/uart for
raw_log, monitor and packet_test. With --port the UART wire is also written
to a serial port.

With --username, clients must authenticate with that user and the password
from FIELDBOOT_PASSWORD (prompted if unset).

On exit, --dump writes the image slot as Intel HEX.`,
	RunE: runEmulate,
}

func init() {
	rootCmd.AddCommand(emulateCmd)
	emulateCmd.Flags().StringVar(&emulateListen, "listen", ":8765", "Listen address for the WebSocket endpoints")
	emulateCmd.Flags().StringVar(&emulateSettings, "settings", "", "CBOR settings file (in-memory when empty)")
	emulateCmd.Flags().StringVar(&emulateDump, "dump", "", "Write the image slot to this Intel HEX file on exit")
	emulateCmd.Flags().StringVar(&emulateImage, "image", "", "Preload flash from a .bin or .hex image")
	emulateCmd.Flags().BoolVar(&emulateHeartbeat, "heartbeat", false, "Send heartbeat frames from startup")
}

func runEmulate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openSettings()
	if err != nil {
		return err
	}

	hub := newWireHub(logger.WithField("prefix", "uart"))
	if portName != "" {
		conn, err := OpenSerialConnection(portName, baudRate)
		if err != nil {
			return err
		}
		defer conn.Close()
		hub.serial = conn
	}

	simLog := logger.WithField("prefix", "sim")
	ctrl := irq.NewController()
	sim := hwio.NewSim(hwio.WithWire(hub), hwio.WithSimLogger(simLog))
	sim.Attach(ctrl)

	geom := bootloader.DefaultGeometry()
	if emulateImage != "" {
		img, err := firmware.Load(emulateImage, geom.Base)
		if err != nil {
			return err
		}
		sim.LoadFlash(img.Base, img.Data)
		logger.WithFields(logrus.Fields{"image": img.Name, "size": img.Size()}).Info("preloaded flash")
	}

	dev := bootloader.New(sim, store, ctrl,
		bootloader.WithGeometry(geom),
		bootloader.WithHeartbeatEnabled(emulateHeartbeat),
		bootloader.WithLogger(logger.WithField("prefix", "boot")),
	)

	password := ""
	if wsUsername != "" {
		if password, err = GetPassword(); err != nil {
			return err
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/hid", hidhost.NewServer(dev, wsUsername, password))
	mux.Handle("/uart", hub.handler(wsUsername, password))
	srv := &http.Server{Addr: emulateListen, Handler: mux}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := sim.RunClock(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("clock stopped")
		}
	}()
	go func() {
		defer wg.Done()
		if err := dev.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("device stopped")
		}
	}()
	go func() {
		defer wg.Done()
		watchResets(ctx, cancel, sim)
	}()

	go shutdownWhenDone(ctx, srv, 2*time.Second, logger)

	logger.WithField("listen", emulateListen).Info("emulator listening on /hid and /uart")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		cancel()
		wg.Wait()
		return fmt.Errorf("listen failed: %w", err)
	}
	wg.Wait()

	if err := dev.LastWriteError(); err != nil {
		logger.WithError(err).Warn("last firmware write failed")
	}
	if emulateDump != "" {
		if err := dumpSlot(sim, geom); err != nil {
			return err
		}
	}
	return nil
}

// shutdownWhenDone shuts srv down once ctx is done, waiting at most
// timeout for open requests.
func shutdownWhenDone(ctx context.Context, srv *http.Server, timeout time.Duration, log logrus.FieldLogger) {
	<-ctx.Done()
	shutdown, done := context.WithTimeout(context.Background(), timeout)
	defer done()
	if err := srv.Shutdown(shutdown); err != nil {
		log.WithError(err).Debug("http shutdown")
	}
}

func openSettings() (settings.Store, error) {
	if emulateSettings == "" {
		return settings.NewMemStore(settings.Settings{}), nil
	}
	store, err := settings.OpenFileStore(emulateSettings)
	if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"path":    store.Path(),
		"version": store.Get().Version,
	}).Info("loaded settings")
	return store, nil
}

// watchResets stops the emulator when the device reinvokes ISP or its
// watchdog expires.
func watchResets(ctx context.Context, cancel context.CancelFunc, sim *hwio.Sim) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var watchdog <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-watchdog:
			logger.Warn("watchdog reset, stopping emulator")
			cancel()
			return
		case <-ticker.C:
			if sim.ISPReinvoked() {
				logger.Info("ISP reinvoked, stopping emulator")
				cancel()
				return
			}
			if ms := sim.WatchdogTimeout(); ms > 0 && watchdog == nil {
				logger.WithField("timeout_ms", ms).Info("watchdog armed")
				watchdog = time.After(time.Duration(ms) * time.Millisecond)
			}
		}
	}
}

func dumpSlot(sim *hwio.Sim, geom bootloader.Geometry) error {
	f, err := os.Create(emulateDump)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", emulateDump, err)
	}
	defer f.Close()

	flash := sim.Snapshot()
	if err := firmware.WriteHex(f, geom.Base, flash[geom.Base:geom.End]); err != nil {
		return fmt.Errorf("failed to write %s: %w", emulateDump, err)
	}
	logger.WithField("path", emulateDump).Info("dumped image slot")
	return nil
}

// ============================================================
// UART wire fan-out
// ============================================================

// wireHub receives the simulated UART wire and copies it to WebSocket
// subscribers and an optional serial port. Frames are also decoded into
// the debug log.
type wireHub struct {
	mu      sync.Mutex
	subs    map[chan []byte]struct{}
	serial  Connection
	decoder *framing.Decoder
	log     logrus.FieldLogger
}

func newWireHub(log logrus.FieldLogger) *wireHub {
	return &wireHub{
		subs:    make(map[chan []byte]struct{}),
		decoder: framing.NewDecoder(),
		log:     log,
	}
}

func (h *wireHub) Write(p []byte) (int, error) {
	data := append([]byte(nil), p...)

	h.mu.Lock()
	for ch := range h.subs {
		select {
		case ch <- data:
		default:
			h.log.Debug("subscriber too slow, dropping wire bytes")
		}
	}
	frames, errs := h.decoder.Decode(data)
	h.mu.Unlock()

	for _, f := range frames {
		h.log.WithFields(logrus.Fields{
			"tag":     framing.FormatTag(f),
			"payload": len(f.Payload()),
		}).Debug("frame")
	}
	for _, err := range errs {
		h.log.WithError(err).Debug("undecodable wire bytes")
	}

	if h.serial != nil {
		if _, err := h.serial.Write(data); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (h *wireHub) subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *wireHub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

func (h *wireHub) handler(username, password string) http.Handler {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if password != "" {
			user, pass, ok := r.BasicAuth()
			if !ok || user != username || pass != password {
				w.Header().Set("WWW-Authenticate", `Basic realm="fieldboot"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.WithError(err).Warn("websocket upgrade failed")
			return
		}
		defer conn.Close()

		ch := h.subscribe()
		defer h.unsubscribe(ch)

		// Reader only detects the close
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		h.log.WithField("remote", r.RemoteAddr).Info("uart client connected")
		for {
			select {
			case <-closed:
				h.log.WithField("remote", r.RemoteAddr).Info("uart client disconnected")
				return
			case data := <-ch:
				if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
					return
				}
			}
		}
	})
}
