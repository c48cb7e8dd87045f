// Package logging provides the logger shared by every package in the service.
package logging

import (
	"github.com/sirupsen/logrus"
)

// Log is the logger used throughout the service.
var Log = logrus.New()

func init() {
	Log.SetFormatter(&logrus.JSONFormatter{})
}

// SetupLogging sets the log level. Unrecognized levels fall back to info.
func SetupLogging(level string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		Log.WithError(err).Warnf("unrecognized log level `%s`, using info", level)
		parsed = logrus.InfoLevel
	}
	Log.SetLevel(parsed)
}

// ForPackage returns a log entry tagged with the name of the calling package.
func ForPackage(name string) *logrus.Entry {
	return Log.WithFields(logrus.Fields{
		"service": "meeting-notifier",
		"package": name,
	})
}
