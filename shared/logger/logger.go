// Package logger provides the structured logging façade used by every CTI
// component. It wraps logrus the way the rest of the CTI wire and staging
// protocols wrap their own dependencies: one place to change backend,
// everywhere else just calls the package-level functions.
package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

func init() {
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.InfoLevel)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// Init configures the logger from the CTI_DEBUG / CTI_LOG_DIR environment
// variables: CTI_DEBUG turns on debug-level logging, and CTI_LOG_DIR, if
// set, redirects output to CTI_LOG_DIR/cti.log (opened for append) instead
// of stderr; failure to open that file is returned as an error.
func Init() error {
	if v := os.Getenv("CTI_DEBUG"); v != "" && !strings.EqualFold(v, "0") && !strings.EqualFold(v, "false") {
		log.SetLevel(logrus.DebugLevel)
	}

	if name := os.Getenv("CTI_LOG_SYSLOG"); name != "" {
		if err := setupSyslog(log, name); err != nil {
			return err
		}
	}

	dir := os.Getenv("CTI_LOG_DIR")
	if dir == "" {
		return nil
	}

	path := dir + "/cti.log"
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}

	log.SetOutput(f)

	return nil
}

// Fields is an alias for logrus.Fields, kept so callers never import logrus
// directly.
type Fields = logrus.Fields

// AddContext returns a logger scoped to the given structured fields (e.g.
// app_id, session_id, manifest_id, wlm) for the lifetime of one operation.
func AddContext(fields Fields) *logrus.Entry {
	return log.WithFields(fields)
}

func Debug(args ...any)                 { log.Debug(args...) }
func Debugf(format string, args ...any) { log.Debugf(format, args...) }
func Info(args ...any)                  { log.Info(args...) }
func Infof(format string, args ...any)  { log.Infof(format, args...) }
func Warn(args ...any)                  { log.Warn(args...) }
func Warnf(format string, args ...any)  { log.Warnf(format, args...) }
func Error(args ...any)                 { log.Error(args...) }
func Errorf(format string, args ...any) { log.Errorf(format, args...) }
func Fatal(args ...any)                 { log.Fatal(args...) }
func Fatalf(format string, args ...any) { log.Fatalf(format, args...) }
