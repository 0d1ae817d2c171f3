package hikvision

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/technosupport/ts-alarms/internal/alarms/adapters"
)

const closingTag = "</eventnotificationalert>"

// frame accumulates the interesting lines of one multipart part.
type frame struct {
	eventType   string
	state       string
	description string
	dateTime    string
	channel     int
	hasChannel  bool
	seen        bool
}

func (f *frame) reset() { *f = frame{} }

// feed consumes one line. It reports flush=true when the line ends a part;
// the caller then calls build and reset.
func (f *frame) feed(line, boundaryLine string) (flush bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	if trimmed == boundaryLine {
		return true
	}

	lower := strings.ToLower(trimmed)
	switch {
	case strings.HasPrefix(lower, "<eventtype>"):
		f.eventType = tagValue(trimmed)
		f.seen = true
	case strings.HasPrefix(trimmed, "<eventState>"):
		f.state = strings.ToLower(tagValue(trimmed))
		f.seen = true
	case strings.HasPrefix(trimmed, "<channelID>"), strings.HasPrefix(trimmed, "<dynChannelID>"):
		if n, err := strconv.Atoi(tagValue(trimmed)); err == nil {
			f.channel = n
			f.hasChannel = true
		}
		f.seen = true
	case strings.HasPrefix(trimmed, "<dateTime>"):
		f.dateTime = tagValue(trimmed)
	case strings.HasPrefix(trimmed, "<eventDescription>"):
		f.description = tagValue(trimmed)
	case lower == closingTag:
		return true
	}
	return false
}

// build turns the accumulated lines into an event. ok is false when a
// required field is missing; such frames are dropped without error.
func (f *frame) build(v Variant, now time.Time) (adapters.Event, bool) {
	if f.eventType == "" {
		return adapters.Event{}, false
	}

	var active bool
	switch f.state {
	case "active":
		active = true
	case "inactive":
		active = false
	default:
		return adapters.Event{}, false
	}

	if v.Channels && !f.hasChannel {
		return adapters.Event{}, false
	}

	category := CategoryName(f.eventType)
	identity := category
	if v.Channels {
		identity = fmt.Sprintf("%s (Channel %d)", category, f.channel)
	}

	return adapters.Event{
		Identity:   identity,
		Active:     active,
		OccurredAt: adapters.ParseVendorTime(f.dateTime, now),
		Meta: adapters.StreamMeta{
			EventType:   f.eventType,
			Category:    category,
			Channel:     f.channel,
			HasChannel:  f.hasChannel,
			Description: f.description,
		},
	}, true
}

// tagValue returns the text between the first '>' and the next '<'.
func tagValue(line string) string {
	start := strings.IndexByte(line, '>')
	if start < 0 {
		return ""
	}
	rest := line[start+1:]
	if end := strings.IndexByte(rest, '<'); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}
