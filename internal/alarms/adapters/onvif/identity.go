package onvif

import (
	"strings"
	"time"

	"github.com/technosupport/ts-alarms/internal/alarms/adapters"
)

const identitySeparator = " | "

// normalizeTopic strips namespace prefixes from every path segment:
// "tns1:RuleEngine/CellMotionDetector/Motion" -> "RuleEngine/CellMotionDetector/Motion".
func normalizeTopic(topic string) string {
	segments := strings.Split(strings.TrimSpace(topic), "/")
	for i, s := range segments {
		segments[i] = stripPrefix(s)
	}
	return strings.Join(segments, "/")
}

// topicSet splits a topic expression union ("a|b") into normalized topics.
func topicSet(raw string) []string {
	var out []string
	for _, t := range strings.Split(raw, "|") {
		if t = normalizeTopic(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func itemPairs(items []simpleItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, strings.TrimSpace(it.Name)+"="+strings.TrimSpace(it.Value))
	}
	return out
}

func parseStrictBool(s string) (value, ok bool) {
	switch {
	case strings.EqualFold(strings.TrimSpace(s), "true"):
		return true, true
	case strings.EqualFold(strings.TrimSpace(s), "false"):
		return false, true
	}
	return false, false
}

func component(values []string) string {
	return adapters.TruncateRunes(adapters.CompactComponent(values), adapters.MaxComponentLength)
}

// BuildIdentity joins the compacted topic, source and data-key components.
// Equal sets yield equal identities whatever their order.
func BuildIdentity(topics, sources, dataKeys []string) string {
	parts := make([]string, 0, 3)
	for _, set := range [][]string{topics, sources, dataKeys} {
		if c := component(set); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, identitySeparator)
}

// eventFromMessage converts one notification. Messages without exactly one
// boolean data item are not alarms and are dropped.
func eventFromMessage(m NotificationMessage, now time.Time) (adapters.Event, bool) {
	msg := m.Message.Message
	if len(msg.Data.Items) != 1 {
		return adapters.Event{}, false
	}
	data := msg.Data.Items[0]
	active, ok := parseStrictBool(data.Value)
	if !ok {
		return adapters.Event{}, false
	}

	topics := topicSet(m.Topic)
	if len(topics) == 0 {
		return adapters.Event{}, false
	}
	sources := itemPairs(msg.Source.Items)
	dataKey := strings.TrimSpace(data.Name)

	return adapters.Event{
		Identity:   BuildIdentity(topics, sources, []string{dataKey}),
		Active:     active,
		OccurredAt: adapters.ParseVendorTime(msg.UtcTime, now),
		Meta: adapters.PullPointMeta{
			Topic:     strings.Join(topics, "|"),
			Source:    strings.Join(sources, ","),
			DataKey:   dataKey,
			Operation: msg.PropertyOperation,
		},
	}, true
}
