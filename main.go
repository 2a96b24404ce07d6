// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Fieldboot - USB HID field-update bootloader
//
// Host tool for flashing and controlling the bootloader, and an emulator
// that runs the bootloader against simulated hardware.

package main

import (
	"os"

	"github.com/Thermoquad/fieldboot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
