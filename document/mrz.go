package document

import (
	"fmt"
	"strings"

	"go.veridoc.io/veridoc/types"
)

// fieldSpan addresses a fixed-width MRZ field by line and byte offsets.
type fieldSpan struct{ line, start, end int }

// mrzLayout is the per-category offset table. Passports use the TD3 layout
// (2 lines of 44), identity cards the TD1 layout (3 lines of 30).
type mrzLayout struct {
	lines, lineLen int

	docCode         fieldSpan
	issuingState    fieldSpan
	name            fieldSpan
	docNumber       fieldSpan
	docNumberCheck  fieldSpan
	nationality     fieldSpan
	birthDate       fieldSpan
	birthDateCheck  fieldSpan
	sex             fieldSpan
	expiryDate      fieldSpan
	expiryDateCheck fieldSpan
}

var td3Layout = mrzLayout{
	lines: 2, lineLen: 44,
	docCode:         fieldSpan{0, 0, 2},
	issuingState:    fieldSpan{0, 2, 5},
	name:            fieldSpan{0, 5, 44},
	docNumber:       fieldSpan{1, 0, 9},
	docNumberCheck:  fieldSpan{1, 9, 10},
	nationality:     fieldSpan{1, 10, 13},
	birthDate:       fieldSpan{1, 13, 19},
	birthDateCheck:  fieldSpan{1, 19, 20},
	sex:             fieldSpan{1, 20, 21},
	expiryDate:      fieldSpan{1, 21, 27},
	expiryDateCheck: fieldSpan{1, 27, 28},
}

var td1Layout = mrzLayout{
	lines: 3, lineLen: 30,
	docCode:         fieldSpan{0, 0, 2},
	issuingState:    fieldSpan{0, 2, 5},
	docNumber:       fieldSpan{0, 5, 14},
	docNumberCheck:  fieldSpan{0, 14, 15},
	birthDate:       fieldSpan{1, 0, 6},
	birthDateCheck:  fieldSpan{1, 6, 7},
	sex:             fieldSpan{1, 7, 8},
	expiryDate:      fieldSpan{1, 8, 14},
	expiryDateCheck: fieldSpan{1, 14, 15},
	nationality:     fieldSpan{1, 15, 18},
	name:            fieldSpan{2, 0, 30},
}

func layoutFor(category types.DocumentCategory) (mrzLayout, error) {
	switch category {
	case types.CategoryPassport:
		return td3Layout, nil
	case types.CategoryIDCard:
		return td1Layout, nil
	}
	return mrzLayout{}, fmt.Errorf("%w: no MRZ layout for category %q",
		ErrMalformedEnvelope, category)
}

// checkDigit computes the ICAO 7-3-1 check digit over an MRZ field. Digits
// keep their value, letters map to 10..35 and the filler '<' counts as zero.
// Returns -1 if the field contains a character outside the MRZ alphabet.
func checkDigit(s string) int {
	weights := [3]int{7, 3, 1}
	sum := 0
	for i := 0; i < len(s); i++ {
		var v int
		switch c := s[i]; {
		case c >= '0' && c <= '9':
			v = int(c - '0')
		case c >= 'A' && c <= 'Z':
			v = int(c-'A') + 10
		case c == '<':
			v = 0
		default:
			return -1
		}
		sum += v * weights[i%3]
	}
	return sum % 10
}

// ParseMRZ extracts the identity tuple from a machine readable zone using
// the fixed offset table of the given category. The MRZ may be passed with
// or without line separators. Check digit or width inconsistencies return
// ErrMalformedEnvelope.
func ParseMRZ(category types.DocumentCategory, mrz string) (*Identity, error) {
	layout, err := layoutFor(category)
	if err != nil {
		return nil, err
	}
	flat := strings.ReplaceAll(mrz, "\n", "")
	if len(flat) != layout.lines*layout.lineLen {
		return nil, fmt.Errorf("%w: mrz length %d, want %d",
			ErrMalformedEnvelope, len(flat), layout.lines*layout.lineLen)
	}
	lines := make([]string, layout.lines)
	for i := range lines {
		lines[i] = flat[i*layout.lineLen : (i+1)*layout.lineLen]
	}
	field := func(s fieldSpan) string { return lines[s.line][s.start:s.end] }

	docNumber := field(layout.docNumber)
	birthDate := field(layout.birthDate)
	expiryDate := field(layout.expiryDate)
	for _, c := range []struct {
		name, value, check string
	}{
		{"document number", docNumber, field(layout.docNumberCheck)},
		{"birth date", birthDate, field(layout.birthDateCheck)},
		{"expiry date", expiryDate, field(layout.expiryDateCheck)},
	} {
		want := checkDigit(c.value)
		if want < 0 || c.check != string(rune('0'+want)) {
			return nil, fmt.Errorf("%w: %s check digit mismatch",
				ErrMalformedEnvelope, c.name)
		}
	}
	sex := field(layout.sex)
	if sex != "M" && sex != "F" && sex != "<" {
		return nil, fmt.Errorf("%w: invalid sex %q", ErrMalformedEnvelope, sex)
	}
	return &Identity{
		DocumentNumber: strings.TrimRight(docNumber, "<"),
		Nationality:    strings.TrimRight(field(layout.nationality), "<"),
		IssuingState:   strings.TrimRight(field(layout.issuingState), "<"),
		Name:           parseMRZName(field(layout.name)),
		BirthDate:      birthDate,
		ExpiryDate:     expiryDate,
		Sex:            sex,
	}, nil
}

// parseMRZName turns "DOE<<JOHN<PAUL" into "DOE JOHN PAUL", with the primary
// identifier first.
func parseMRZName(raw string) string {
	raw = strings.TrimRight(raw, "<")
	parts := strings.SplitN(raw, "<<", 2)
	for i, p := range parts {
		parts[i] = strings.ReplaceAll(p, "<", " ")
	}
	return strings.Join(parts, " ")
}
