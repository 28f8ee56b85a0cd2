package document

import (
	"testing"

	qt "github.com/frankban/quicktest"
	"go.veridoc.io/veridoc/types"
)

func TestMigrateLegacy(t *testing.T) {
	c := qt.New(t)
	for _, tc := range []struct {
		tag       string
		category  types.DocumentCategory
		synthetic bool
	}{
		{"passport", types.CategoryPassport, false},
		{"mock_passport", types.CategoryPassport, true},
		{"id_card", types.CategoryIDCard, false},
		{"eu_id_card", types.CategoryIDCard, false},
		{"mock_aadhaar", types.CategoryQRCredential, true},
	} {
		c.Run(tc.tag, func(c *qt.C) {
			env, err := MigrateLegacy([]byte(`{"documentType":"` + tc.tag + `"}`))
			c.Assert(err, qt.IsNil)
			c.Assert(env.Category, qt.Equals, tc.category)
			c.Assert(env.Synthetic, qt.Equals, tc.synthetic)
		})
	}
}

func TestMigrateLegacyCurrentFormat(t *testing.T) {
	c := qt.New(t)
	// A record already carrying a category passes through untouched.
	env, err := MigrateLegacy([]byte(`{"documentCategory":"passport","mock":true}`))
	c.Assert(err, qt.IsNil)
	c.Assert(env.Category, qt.Equals, types.CategoryPassport)
	c.Assert(env.Synthetic, qt.IsTrue)
}

func TestMigrateLegacyUnknownType(t *testing.T) {
	c := qt.New(t)
	_, err := MigrateLegacy([]byte(`{"documentType":"library_card"}`))
	c.Assert(err, qt.ErrorIs, ErrMalformedEnvelope)

	_, err = MigrateLegacy([]byte(`not json`))
	c.Assert(err, qt.ErrorIs, ErrMalformedEnvelope)
}
