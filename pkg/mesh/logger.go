/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package mesh

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger mirrors the shape of the teacher's own device.Logger field
// (device.log.Verbosef/Errorf), backed by a zerolog.Logger instead of a
// raw printf-shaped function, per the ambient-logging stack grounded on
// the virtengine-virtengine/shurlinet-shurli/gosuda-portal/R2Northstar-Atlas
// examples' use of github.com/rs/zerolog.
type Logger struct {
	z zerolog.Logger
}

// NewLogger builds a Logger for component, writing structured,
// level-tagged lines to os.Stderr.
func NewLogger(component string) *Logger {
	z := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().Timestamp().Str("component", component).Logger()
	return &Logger{z: z}
}

func (l *Logger) Verbosef(format string, args ...any) {
	l.z.Debug().Msgf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.z.Error().Msgf(format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.z.Info().Msgf(format, args...)
}
