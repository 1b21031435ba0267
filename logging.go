package bridge

import (
	"github.com/sirupsen/logrus"
)

// log is the package-wide logger. Callers can replace it with SetLogger to
// route bridge diagnostics into their own logging pipeline, the same way the
// relay's own server process configures a *logrus.Logger at startup.
var log = logrus.New()

// SetLogger swaps the package logger. Passing nil restores a fresh
// default logger (logrus defaults: Info level, written to stderr).
func SetLogger(l *logrus.Logger) {
	if l == nil {
		log = logrus.New()
		return
	}
	log = l
}

func logFields(generation uint64, extra logrus.Fields) logrus.Fields {
	f := logrus.Fields{"generation": generation}
	for k, v := range extra {
		f[k] = v
	}
	return f
}
