package pipeline

import (
	"regexp"

	"github.com/fyrsmithlabs/pointerd/internal/geometry"
)

// Intent is the coarse UI-element category inferred from a target's text
// description. It selects the retry offset pattern when a click produced
// no visible change.
type Intent string

const (
	IntentButton  Intent = "button"
	IntentLink    Intent = "link"
	IntentField   Intent = "field"
	IntentIcon    Intent = "icon"
	IntentMenu    Intent = "menu"
	IntentUnknown Intent = "unknown"
)

// intentRules is the ordered keyword rule list; the first match wins.
// More specific element kinds come before the broad ones.
type intentRule struct {
	intent  Intent
	pattern *regexp.Regexp
}

var intentRules = []intentRule{
	{IntentIcon, regexp.MustCompile(`(?i)\b(icon|checkbox|radio|toggle|arrow|avatar)\b`)},
	{IntentField, regexp.MustCompile(`(?i)\b(field|input|textbox|password|username|email|search)\b`)},
	{IntentMenu, regexp.MustCompile(`(?i)\b(menu|dropdown|drop-down|tab|combobox)\b`)},
	{IntentLink, regexp.MustCompile(`(?i)\b(link|anchor|hyperlink|url)\b`)},
	{IntentButton, regexp.MustCompile(`(?i)\b(button|submit|save|ok|apply|confirm|cancel|close|sign in|log ?in)\b`)},
}

// ClassifyIntent maps a free-text element description to an intent.
func ClassifyIntent(description string) Intent {
	if description == "" {
		return IntentUnknown
	}
	for _, rule := range intentRules {
		if rule.pattern.MatchString(description) {
			return rule.intent
		}
	}
	return IntentUnknown
}

// retryOffsets are the ordered probe displacements replayed per intent
// when post-click verification saw no UI change. Icons get a tight cross,
// buttons and menus a wider one, links small diagonal nudges.
var retryOffsets = map[Intent][]geometry.Point{
	IntentIcon:   {{X: 2, Y: 0}, {X: -2, Y: 0}, {X: 0, Y: 2}, {X: 0, Y: -2}},
	IntentButton: {{X: 3, Y: 0}, {X: -3, Y: 0}, {X: 0, Y: 3}, {X: 0, Y: -3}},
	IntentMenu:   {{X: 3, Y: 0}, {X: -3, Y: 0}, {X: 0, Y: 3}, {X: 0, Y: -3}},
	IntentField:  {{X: 4, Y: 0}, {X: -4, Y: 0}, {X: 0, Y: 2}},
	IntentLink:   {{X: 2, Y: 2}, {X: -2, Y: -2}, {X: 2, Y: -2}, {X: -2, Y: 2}},
}

// genericOffsets is the fallback nudge sequence for unknown intents.
var genericOffsets = []geometry.Point{{X: 3, Y: 0}, {X: 0, Y: 3}, {X: -3, Y: -3}}

// RetryOffsets returns the ordered probe offsets for an intent.
func RetryOffsets(intent Intent) []geometry.Point {
	if offsets, ok := retryOffsets[intent]; ok {
		return offsets
	}
	return genericOffsets
}
