package parser

import (
	"strings"

	"github.com/tjfontaine/voicegate/internal/domain"
)

// extractIntent pulls the intent name and slot mapping out of a `request`
// object. The slots key must be present even when empty; its total absence is
// malformed input, not "no slots". A slot definition without a value
// represents a parameter the user did not fill and is omitted from the
// mapping entirely.
func extractIntent(req domain.Document, s domain.Sanitizer) (string, map[string]string, error) {
	intent, err := req.Map("intent")
	if err != nil {
		return "", nil, domain.ErrMissingIntentName("request has no intent object")
	}

	name, err := intent.String("name")
	if err != nil || strings.TrimSpace(name) == "" {
		return "", nil, domain.ErrMissingIntentName("intent name is missing or blank")
	}
	name = s.Sanitize(name)
	if name == "" {
		return "", nil, domain.ErrMissingIntentName("intent name is blank after sanitization")
	}

	raw, err := intent.Array("slots")
	if err != nil {
		return "", nil, domain.ErrMissingSlots("intent has no slots collection")
	}

	slots := make(map[string]string, len(raw))
	for _, entry := range raw {
		def, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		slot := domain.Document(def)

		slotName, err := slot.String("name")
		if err != nil {
			continue
		}
		value, err := slot.String("value")
		if err != nil {
			// Recognized slot shape with no user-supplied value.
			continue
		}

		// Last write wins on duplicate names; platform input is name-unique.
		slots[s.Sanitize(slotName)] = s.Sanitize(value)
	}

	return name, slots, nil
}
