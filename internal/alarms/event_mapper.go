package alarms

import (
	"strings"

	"github.com/technosupport/ts-alarms/internal/alarms/adapters"
)

// MapEvent classifies an event into a coarse type and severity for consumers
// that do not want vendor vocabulary.
func MapEvent(ev adapters.Event) (string, string) {
	var raw string
	switch m := ev.Meta.(type) {
	case adapters.LinkMeta:
		if ev.Active {
			return "connectivity", "info"
		}
		return "connectivity", "warn"
	case adapters.StreamMeta:
		raw = m.EventType
	case adapters.PullPointMeta:
		raw = m.Topic
	default:
		raw = ev.Identity
	}
	raw = strings.ToLower(raw)

	switch {
	case strings.Contains(raw, "motion") || strings.Contains(raw, "vmd") || strings.Contains(raw, "pir"):
		return "motion", "info"
	case strings.Contains(raw, "linedetection") || strings.Contains(raw, "linecross") ||
		strings.Contains(raw, "fielddetection") || strings.Contains(raw, "intrusion") ||
		strings.Contains(raw, "region"):
		return "intrusion", "warn"
	case strings.Contains(raw, "tamper") || strings.Contains(raw, "shelter") || strings.Contains(raw, "defocus"):
		return "tamper", "warn"
	case strings.Contains(raw, "videoloss") || strings.Contains(raw, "signalloss"):
		return "video_loss", "critical"
	case strings.Contains(raw, "diskfull") || strings.Contains(raw, "hddfull") || strings.Contains(raw, "storagefailure") ||
		strings.Contains(raw, "diskerror"):
		return "disk", "critical"
	case strings.Contains(raw, "io") && (strings.Contains(raw, "port") || raw == "io") || strings.Contains(raw, "digitalinput"):
		return "input", "warn"
	}
	return "unknown", "info"
}
