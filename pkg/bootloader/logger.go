// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bootloader

import (
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.New()

// SetLogger replaces the package logger used by devices created without
// WithLogger.
func SetLogger(l logrus.FieldLogger) {
	if l != nil {
		logger = l
	}
}
