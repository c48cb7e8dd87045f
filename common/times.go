package common

import (
	"regexp"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

var millisRegexp = regexp.MustCompile(`^\d+$`)

// FormatTimestamp formats a timestamp as the number of milliseconds since the epoch.
func FormatTimestamp(timestamp time.Time) string {
	return strconv.FormatInt(timestamp.UnixNano()/int64(time.Millisecond), 10)
}

// FixTimestamp converts a timestamp in either RFC 3339 format or milliseconds since the epoch to
// milliseconds since the epoch. Empty strings are returned unchanged.
func FixTimestamp(timestamp string) (string, error) {
	if timestamp == "" || millisRegexp.MatchString(timestamp) {
		return timestamp, nil
	}

	parsed, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return "", errors.Wrapf(err, "unable to parse timestamp `%s`", timestamp)
	}

	return FormatTimestamp(parsed), nil
}
