// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bootloader

import (
	"encoding/binary"

	"github.com/Thermoquad/fieldboot/pkg/framing"
	"github.com/Thermoquad/fieldboot/pkg/hidproto"
	"github.com/sirupsen/logrus"
)

// Reserved slot of the bootloader's own vector table holding its version
const bootloaderVersionAddr = 0x24

// Watchdog timeout armed by RESET_WHOLE_SOC
const resetWatchdogMs = 10000

// HandleFeatureReport decodes one command and updates the status report
// read back by the next get_report. Commands whose length fields do not
// fit the buffer are ignored and leave the report untouched.
func (d *Device) HandleFeatureReport(buf []byte) {
	if len(buf) == 0 {
		return
	}
	op := buf[0]
	log := d.log.WithField("opcode", hidproto.FormatOpcode(op))

	switch op {
	case hidproto.OpGetHwInfo:
		info := d.hwInfo()
		d.report.SetHwInfo(info)
		log.WithFields(logrus.Fields{
			"bootloader_version": info.BootloaderVersion,
			"settings_version":   info.SettingsVersion,
		}).Info("GET_HWINFO")

	case hidproto.OpReinvokeISP:
		d.reinvoke = true
		log.Info("REINVOKE_ISP")

	case hidproto.OpEraseProgram2:
		d.report.SetStatus(hidproto.StatusInProgress)
		if err := d.image.Erase(); err != nil {
			log.WithError(err).Warn("ERASE_PROGRAM2 failed")
			d.report.SetStatus(hidproto.StatusFailed)
			return
		}
		d.report.SetStatus(hidproto.StatusOK)
		log.Info("ERASE_PROGRAM2")

	case hidproto.OpFlashFirmware:
		data, ok := lengthPrefixed(buf)
		if !ok {
			log.WithField("len", len(buf)).Warn("malformed command ignored")
			return
		}
		err := d.image.Write(data)
		d.lastWriteErr = err
		d.led.Advance()
		if err != nil {
			log.WithError(err).WithField("code", ErrorCode(err)).Warn("firmware write failed, not reported")
		} else {
			log.WithFields(logrus.Fields{
				"len":    len(data),
				"cursor": d.image.Cursor(),
				"staged": d.image.Staged(),
			}).Trace("FLASH_FIRMWARE")
		}
		d.report.SetStatus(hidproto.StatusOK)
		d.report.SetFlashAck()

	case hidproto.OpVerifyFirmwareSig:
		sig, ok := signatureArg(buf)
		if !ok {
			log.WithField("len", len(buf)).Warn("malformed command ignored")
			return
		}
		err := d.image.Finalize(sig)
		code := ErrorCode(err)
		d.report.SetStatus(code)
		if err != nil {
			log.WithError(err).WithField("status", code).Warn("VERIFY_FIRMWARE_SIG failed")
			return
		}
		log.WithField("cursor", d.image.Cursor()).Info("VERIFY_FIRMWARE_SIG")

	case hidproto.OpResetWholeSoc:
		if len(buf) < 2 {
			log.Warn("malformed command ignored")
			return
		}
		if buf[1] == 0 {
			d.tx.SendText(framing.ResetText)
			d.hw.ArmWatchdog(resetWatchdogMs)
			log.Info("RESET_WHOLE_SOC")
		}

	case hidproto.OpNrfEraseProgram:
		d.beat.Enable()
		d.tx.SendText(string(framing.TagErase))
		d.report.SetStatus(hidproto.StatusInProgress)
		log.Info("NRF_ERASE_PROGRAM")

	case hidproto.OpNrfFlashProgram:
		data, ok := lengthPrefixed(buf)
		if !ok {
			log.WithField("len", len(buf)).Warn("malformed command ignored")
			return
		}
		d.beat.Enable()
		d.tx.SendFrame(framing.TagProgram, data)
		d.report.SetStatus(hidproto.StatusInProgress)

	case hidproto.OpNrfVerifyFirmwareSig:
		sig, ok := signatureArg(buf)
		if !ok {
			log.WithField("len", len(buf)).Warn("malformed command ignored")
			return
		}
		d.beat.Enable()
		d.tx.SendFrame(framing.TagSignature, sig[:])
		d.report.SetStatus(hidproto.StatusInProgress)
		log.Info("NRF_VERIFY_FIRMWARE_SIG")

	case hidproto.OpSetHardwareVersion:
		if len(buf) < 6 || buf[1] != 4 {
			log.Warn("malformed command ignored")
			return
		}
		s := d.settings.Get()
		s.Version = binary.LittleEndian.Uint32(buf[2:6])
		d.settings.Set(s)
		if err := d.settings.Flush(); err != nil {
			log.WithError(err).Error("settings flush failed")
			return
		}
		log.WithField("version", s.Version).Info("SET_HARDWARE_VERSION")

	default:
		d.log.WithField("opcode", op).Infof("unknown command 0x%02X", op)
	}
}

func (d *Device) hwInfo() hidproto.HwInfo {
	var version uint32
	if b := d.hw.ReadFlash(bootloaderVersionAddr, 4); len(b) == 4 {
		version = binary.LittleEndian.Uint32(b)
	}
	return hidproto.HwInfo{
		ProductID:         d.cfg.ProductID,
		BootloaderVersion: version,
		SettingsVersion:   d.settings.Get().Version,
	}
}

// lengthPrefixed returns buf[2:2+buf[1]] when it fits
func lengthPrefixed(buf []byte) ([]byte, bool) {
	if len(buf) < 2 {
		return nil, false
	}
	n := int(buf[1])
	if 2+n > len(buf) {
		return nil, false
	}
	return buf[2 : 2+n], true
}

// signatureArg returns buf[2:18] when it fits
func signatureArg(buf []byte) ([16]byte, bool) {
	var sig [16]byte
	if len(buf) < 2+len(sig) {
		return sig, false
	}
	copy(sig[:], buf[2:2+len(sig)])
	return sig, true
}
