package adapters

import (
	"strings"
	"time"
)

// ParseVendorTime parses timestamps as cameras emit them and returns fallback
// when nothing matches.
// Hikvision ISAPI: 2023-10-27T10:00:00+08:00, sometimes without zone.
// ONVIF xsd:dateTime: 2023-10-27T02:00:00.123Z
func ParseVendorTime(raw string, fallback time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}

	// strip sub-seconds some firmwares append without a zone
	clean := strings.Split(raw, ".")[0]
	if t, err := time.Parse("2006-01-02T15:04:05", clean); err == nil {
		return t
	}

	return fallback
}
