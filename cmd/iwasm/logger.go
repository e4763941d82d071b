// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"fmt"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// verbosityLevels maps -v to zap levels. 0 keeps only fatal messages and 5
// is as chatty as 4.
var verbosityLevels = []zapcore.Level{
	zapcore.FatalLevel,
	zapcore.ErrorLevel,
	zapcore.WarnLevel,
	zapcore.InfoLevel,
	zapcore.DebugLevel,
	zapcore.DebugLevel,
}

// newLogger returns a console logger writing to w. Levels from info down
// use the development encoder, which adds caller information.
func newLogger(verbose int, w io.Writer) (*zap.Logger, error) {
	if verbose < 0 || verbose >= len(verbosityLevels) {
		return nil, fmt.Errorf("invalid verbosity %d, must be between 0 and %d", verbose, len(verbosityLevels)-1)
	}
	level := verbosityLevels[verbose]

	encoderConfig := zap.NewProductionEncoderConfig()
	var opts []zap.Option
	if level <= zapcore.InfoLevel {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		opts = append(opts, zap.AddCaller())
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(w), level)
	return zap.New(core, opts...), nil
}
