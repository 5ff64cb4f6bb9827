package vproxy

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Log is the package-wide structured logger. Front-ends, the allocator,
// and the binder all log through it via WithFields. Replace it (or call
// SetLogLevel) before starting any listener to change verbosity or
// output.
var Log = newDefaultLogger()

func newDefaultLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = os.Stderr
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLogLevel parses level (trace|debug|info|warn|error) as used by the
// VPROXY_LOG environment variable and applies it to Log. An unrecognized
// level is left unchanged and the error is returned to the caller.
func SetLogLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	Log.SetLevel(lvl)
	return nil
}
