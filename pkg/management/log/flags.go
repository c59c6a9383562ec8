/*
Copyright The Polybackup Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package log

import (
	"fmt"
	"os"

	"github.com/go-logr/zapr"
	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
	"k8s.io/klog/v2"
)

// Flags contains the set of values necessary for configuring
// the logging subsystem
type Flags struct {
	logLevel       string
	logDestination string
}

// AddFlags binds the logging configuration flags to a given flagset
func (l *Flags) AddFlags(flags *pflag.FlagSet) {
	flags.StringVar(&l.logLevel, "log-level", DefaultLevelString,
		"the desired log level, one of error, warning, info, debug and trace")
	flags.StringVar(&l.logDestination, "log-destination", "",
		"where the log stream will be written")
}

// ConfigureLogging configure the logging honoring the flags
// passed from the user
func (l *Flags) ConfigureLogging() {
	switch l.logLevel {
	case ErrorLevelString,
		WarningLevelString,
		InfoLevelString,
		DebugLevelString,
		TraceLevelString:
		break
	default:
		Info("Invalid log level, defaulting", "level", l.logLevel, "default", DefaultLevelString)
		l.logLevel = DefaultLevelString
	}
	SetLogLevel(l.logLevel)

	sink := zapcore.Lock(os.Stderr)
	if l.logDestination != "" {
		logStream, err := os.OpenFile(l.logDestination, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666) //#nosec
		if err != nil {
			panic(fmt.Sprintf("Cannot open log destination %v: %v", l.logDestination, err))
		}
		sink = zapcore.Lock(logStream)
	}

	zapLogger := newZapLogger(sink)
	SetLogger(zapLogger)

	// client-go logs through klog, route it to the same stream
	klog.SetLogger(zapr.NewLogger(zapLogger))
}
