package types

import (
	"encoding/json"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestHexBytesJSON(t *testing.T) {
	c := qt.New(t)
	b := HexBytes{0xde, 0xad, 0xbe, 0xef}
	data, err := json.Marshal(b)
	c.Assert(err, qt.IsNil)
	c.Assert(string(data), qt.Equals, `"deadbeef"`)

	var back HexBytes
	c.Assert(json.Unmarshal(data, &back), qt.IsNil)
	c.Assert(back, qt.DeepEquals, b)

	// 0x prefixes are accepted on input.
	c.Assert(json.Unmarshal([]byte(`"0xdeadbeef"`), &back), qt.IsNil)
	c.Assert(back, qt.DeepEquals, b)

	c.Assert(json.Unmarshal([]byte(`"zz"`), &back), qt.IsNotNil)

	// Decoding into a reused buffer with spare capacity must grow the
	// slice before writing into it.
	reused := make(HexBytes, 0, 16)
	c.Assert(json.Unmarshal([]byte(`"c0ffee"`), &reused), qt.IsNil)
	c.Assert(reused, qt.DeepEquals, HexBytes{0xc0, 0xff, 0xee})
}

func TestDocumentCategoryTags(t *testing.T) {
	c := qt.New(t)
	c.Assert(CategoryPassport.Tag(), qt.Equals, int64(1))
	c.Assert(CategoryIDCard.Tag(), qt.Equals, int64(2))
	c.Assert(CategoryQRCredential.Tag(), qt.Equals, int64(3))
	c.Assert(DocumentCategory("voter_card").IsValid(), qt.IsFalse)
	c.Assert(CategoryPassport.IsMRZ(), qt.IsTrue)
	c.Assert(CategoryQRCredential.IsMRZ(), qt.IsFalse)
}

func TestEnvironmentFor(t *testing.T) {
	c := qt.New(t)
	c.Assert(EnvironmentFor(true), qt.Equals, EnvironmentStaging)
	c.Assert(EnvironmentFor(false), qt.Equals, EnvironmentProduction)
}
