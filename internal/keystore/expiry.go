package keystore

import (
	"errors"
	"strings"
	"time"
)

// ErrMalformedExpiry indicates the stored expiry value could not be parsed.
// Distinct from ErrNotFound so callers can report it separately.
var ErrMalformedExpiry = errors.New("keystore: malformed expiry timestamp")

// expiryLayouts are tried in order. The store emits RFC 3339 variants as well
// as its native space-separated form; values without a zone are taken as UTC.
var expiryLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05Z07:00",
}

var expiryLayoutsNoZone = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseExpiry parses a stored expiry timestamp leniently. A trailing "Z" or an
// explicit offset is honored; a missing zone is treated as UTC.
func ParseExpiry(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, ErrMalformedExpiry
	}
	for _, layout := range expiryLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range expiryLayoutsNoZone {
		if ts, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, ErrMalformedExpiry
}
