// Package utils provides shared helper functions.
package utils

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TimestampLayout is the wall-clock format shared with the admin surface
// for heartbeat values and log rows.
const TimestampLayout = "2006-01-02 15:04:05"

// EnsureDir ensures a directory exists, creating it if necessary.
func EnsureDir(path string) (string, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", err
	}
	return path, nil
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

// FormatTimestamp renders t in local time using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.Local().Format(TimestampLayout)
}

// ParseTimestamp parses a TimestampLayout value in local time.
func ParseTimestamp(s string) (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, strings.TrimSpace(s), time.Local)
}

// TruncateRunes cuts s to at most max characters without splitting a
// multi-byte character.
func TruncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
