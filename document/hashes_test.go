package document

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"go.veridoc.io/veridoc/types"
)

// testEnvelope builds a structurally complete passport envelope with a
// consistent hash chain and a placeholder signature.
func testEnvelope(c *qt.C, alg string) *Envelope {
	env := &Envelope{
		Category:          types.CategoryPassport,
		MRZ:               specimenTD3,
		DigestAlgorithm:   alg,
		Signature:         types.HexBytes{0x01},
		SignerCertificate: types.HexBytes{0x02},
	}
	record, err := env.RawIdentityRecord()
	c.Assert(err, qt.IsNil)
	hashes, err := NewDataGroupHashes(alg, record, map[int][]byte{
		2: []byte("facial image"),
		7: []byte("signature image"),
	})
	c.Assert(err, qt.IsNil)
	env.DataGroupHashes = hashes
	content, err := BuildSignedContent(hashes)
	c.Assert(err, qt.IsNil)
	env.SignedContent = content
	attrs, err := BuildSignedAttributes(alg, content, time.Unix(1700000000, 0))
	c.Assert(err, qt.IsNil)
	env.SignedAttributes = attrs
	return env
}

func TestCheckDataGroups(t *testing.T) {
	c := qt.New(t)
	for _, alg := range []string{"sha1", "sha256", "sha384", "sha512"} {
		c.Run(alg, func(c *qt.C) {
			env := testEnvelope(c, alg)
			c.Assert(CheckDataGroups(env), qt.IsNil)
		})
	}
}

func TestCheckDataGroupsRecordMismatch(t *testing.T) {
	c := qt.New(t)
	env := testEnvelope(c, "sha256")
	// Change the identity record under the hash chain.
	env.MRZ = specimenTD1
	c.Assert(CheckDataGroups(env), qt.ErrorIs, ErrHashMismatch)
}

func TestCheckDataGroupsContentMismatch(t *testing.T) {
	c := qt.New(t)
	env := testEnvelope(c, "sha256")
	env.SignedContent[0] ^= 0x01
	c.Assert(CheckDataGroups(env), qt.ErrorIs, ErrHashMismatch)
}

func TestCheckDataGroupsAttributesMismatch(t *testing.T) {
	c := qt.New(t)
	env := testEnvelope(c, "sha256")
	env.SignedAttributes[len(env.SignedAttributes)-1] ^= 0x01
	c.Assert(CheckDataGroups(env), qt.ErrorIs, ErrHashMismatch)
}

func TestCheckDataGroupsUnknownDigest(t *testing.T) {
	c := qt.New(t)
	env := testEnvelope(c, "sha256")
	env.DigestAlgorithm = "md5"
	c.Assert(CheckDataGroups(env), qt.ErrorIs, ErrDigestUnsupported)
}

func TestBuildSignedContentOrder(t *testing.T) {
	c := qt.New(t)
	env := testEnvelope(c, "sha256")
	// The serialization is order independent: shuffling the hash list
	// yields the same signed content.
	reversed := make([]DataGroupHash, 0, len(env.DataGroupHashes))
	for i := len(env.DataGroupHashes) - 1; i >= 0; i-- {
		reversed = append(reversed, env.DataGroupHashes[i])
	}
	content, err := BuildSignedContent(reversed)
	c.Assert(err, qt.IsNil)
	c.Assert(content, qt.DeepEquals, []byte(env.SignedContent))
}

func TestEnvelopeValidate(t *testing.T) {
	c := qt.New(t)
	env := testEnvelope(c, "sha256")
	c.Assert(env.Validate(), qt.IsNil)

	bad := *env
	bad.Category = "driving_license"
	c.Assert(bad.Validate(), qt.ErrorIs, ErrMalformedEnvelope)

	bad = *env
	bad.Signature = nil
	c.Assert(bad.Validate(), qt.ErrorIs, ErrMalformedEnvelope)

	bad = *env
	bad.SignerCertificate = nil
	c.Assert(bad.Validate(), qt.ErrorIs, ErrMalformedEnvelope)

	bad = *env
	bad.DataGroupHashes = append([]DataGroupHash{}, env.DataGroupHashes...)
	bad.DataGroupHashes = append(bad.DataGroupHashes, DataGroupHash{Number: 1, Hash: types.HexBytes{0xee}})
	c.Assert(bad.Validate(), qt.ErrorIs, ErrMalformedEnvelope)
}
