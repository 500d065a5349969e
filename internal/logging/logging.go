package logging

import (
	"path/filepath"
	"time"
)

const runStamp = "20060102_150405"

// LogFilePath names the log file of one daemon run, stamped in UTC:
// <logsDir>/<app>.20260212_213836.log.
func LogFilePath(logsDir, appName string, started time.Time) string {
	return filepath.Join(logsDir, appName+"."+started.UTC().Format(runStamp)+".log")
}

// StatusFilePath is where the monitor keeps the latest status snapshot.
// It is not stamped, so tooling can always find it.
func StatusFilePath(logsDir, appName string) string {
	return filepath.Join(logsDir, appName+".status.json")
}
