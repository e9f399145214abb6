package config

import (
	"strings"

	"github.com/google/go-cmp/cmp"
)

// DiffSerialized returns a line diff between two serialized configuration
// payloads. It is used to show what a rejected edit changed.
func DiffSerialized(previous, current []byte) string {
	prevLines := splitLines(previous)
	currLines := splitLines(current)
	return cmp.Diff(prevLines, currLines)
}

// Changes lists the top-level settings that differ between two decoded
// configurations, in declaration order. A nil side counts as the defaults.
func Changes(previous, current *Config) []string {
	if previous == nil {
		previous = Default()
	}
	if current == nil {
		current = Default()
	}
	checks := []struct {
		name string
		a, b any
	}{
		{"enabled", previous.Enabled, current.Enabled},
		{"highlight", previous.Highlight, current.Highlight},
		{"target", previous.Target, current.Target},
		{"sources", previous.Sources, current.Sources},
		{"marker", previous.Marker, current.Marker},
		{"historyLimit", previous.HistoryLimit, current.HistoryLimit},
		{"telemetry", previous.Telemetry, current.Telemetry},
	}
	var changed []string
	for _, c := range checks {
		if !cmp.Equal(c.a, c.b, cmpopts...) {
			changed = append(changed, c.name)
		}
	}
	return changed
}

// nil and empty source lists are the same setting.
var cmpopts = []cmp.Option{
	cmp.Comparer(func(a, b []Identity) bool {
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	}),
}

func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return []string{""}
	}
	return strings.Split(text, "\n")
}
