package ybox

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the *logrus.Entry threaded through every component
// constructor. In debug mode (explicit debug, or YBOX_DEBUG or DEBUG set to
// TRUE) it logs
// text-formatted to stderr at debug level; otherwise it appends
// JSON-formatted entries to <dataDir>/ybox.log at warn level, mirroring the
// teacher's pkg/log.NewLogger split between development and production
// loggers.
func NewLogger(dataDir string, debug bool) *logrus.Entry {
	debug = debug || os.Getenv("YBOX_DEBUG") == "TRUE" || os.Getenv("DEBUG") == "TRUE"

	log := logrus.New()
	if debug {
		log.SetLevel(logrus.DebugLevel)
		log.Formatter = &logrus.TextFormatter{FullTimestamp: true}
		log.Out = os.Stderr
	} else {
		log.SetLevel(logrus.WarnLevel)
		log.Formatter = &logrus.JSONFormatter{}
		if dataDir != "" {
			if err := os.MkdirAll(dataDir, 0o750); err == nil {
				if file, err := os.OpenFile(filepath.Join(dataDir, "ybox.log"),
					os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640); err == nil {
					log.Out = file
				}
			}
		}
	}

	return log.WithFields(logrus.Fields{"pid": os.Getpid()})
}

// LogCommand logs the formatted command message at warn level, after the
// teacher's OSCommand.RunCommandWithOutput log line; no duration is recorded.
func LogCommand(log *logrus.Entry, verb string, args ...any) {
	log.Warn(fmt.Sprintf(verb, args...))
}
