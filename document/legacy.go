package document

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.veridoc.io/veridoc/types"
)

// legacyTypeTags maps the old single "documentType" tag to the current
// category. Old records prefix the tag with "mock_" for synthetic fixtures
// instead of carrying an explicit flag.
var legacyTypeTags = map[string]types.DocumentCategory{
	"passport":   types.CategoryPassport,
	"id_card":    types.CategoryIDCard,
	"eu_id_card": types.CategoryIDCard,
	"aadhaar":    types.CategoryQRCredential,
}

// MigrateLegacy parses a stored envelope, normalizing records written before
// documentCategory and the synthetic flag existed by inferring both from the
// legacy type tag. Already-current records pass through unchanged.
func MigrateLegacy(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Category.IsValid() {
		return &env, nil
	}
	var legacy struct {
		DocumentType string `json:"documentType"`
	}
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	tag := legacy.DocumentType
	if strings.HasPrefix(tag, "mock_") {
		env.Synthetic = true
		tag = strings.TrimPrefix(tag, "mock_")
	}
	category, ok := legacyTypeTags[tag]
	if !ok {
		return nil, fmt.Errorf("%w: unknown legacy document type %q",
			ErrMalformedEnvelope, legacy.DocumentType)
	}
	env.Category = category
	return &env, nil
}

// Marshal serializes the envelope in the current on-disk format.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
