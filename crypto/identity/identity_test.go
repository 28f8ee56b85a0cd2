package identity

import (
	"math/big"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"
	"go.veridoc.io/veridoc/document"
	"go.veridoc.io/veridoc/types"
)

const specimenTD3 = "P<UTOERIKSSON<<ANNA<MARIA<<<<<<<<<<<<<<<<<<<\n" +
	"L898902C36UTO7408122F1204159ZE184226B<<<<<10"

func passportEnvelope() *document.Envelope {
	return &document.Envelope{
		Category: types.CategoryPassport,
		MRZ:      specimenTD3,
	}
}

func TestStringToFieldElem(t *testing.T) {
	c := qt.New(t)
	v, err := stringToFieldElem("AB")
	c.Assert(err, qt.IsNil)
	// 'A'<<8 | 'B'
	c.Assert(v.Int64(), qt.Equals, int64(65*256+66))

	v, err = stringToFieldElem("")
	c.Assert(err, qt.IsNil)
	c.Assert(v.Sign(), qt.Equals, 0)

	_, err = stringToFieldElem(strings.Repeat("X", 32))
	c.Assert(err, qt.IsNotNil)

	_, err = stringToFieldElem("caf\xe9")
	c.Assert(err, qt.IsNotNil)
}

func TestCommitmentDeterminism(t *testing.T) {
	c := qt.New(t)
	secret := big.NewInt(123456789)
	env := passportEnvelope()

	first, err := Commitment(env, secret)
	c.Assert(err, qt.IsNil)
	second, err := Commitment(env, secret)
	c.Assert(err, qt.IsNil)
	c.Assert(first.Cmp(second), qt.Equals, 0)

	// A different secret moves the commitment.
	other, err := Commitment(env, big.NewInt(987654321))
	c.Assert(err, qt.IsNil)
	c.Assert(first.Cmp(other), qt.Not(qt.Equals), 0)
}

func TestCommitmentAndNullifierDiffer(t *testing.T) {
	c := qt.New(t)
	secret := big.NewInt(123456789)
	env := passportEnvelope()

	commitment, err := Commitment(env, secret)
	c.Assert(err, qt.IsNil)
	nullifier, err := Nullifier(env, secret)
	c.Assert(err, qt.IsNil)
	c.Assert(commitment.Cmp(nullifier), qt.Not(qt.Equals), 0)
}

func TestNullifierTracksDocument(t *testing.T) {
	c := qt.New(t)
	secret := big.NewInt(42)

	passport, err := Nullifier(passportEnvelope(), secret)
	c.Assert(err, qt.IsNil)

	// The same holder data under another category yields a different
	// nullifier, because the category tag leads the tuple.
	qr := &document.Envelope{
		Category: types.CategoryQRCredential,
		QR: &document.QRFields{
			Version:     "2",
			Reference:   "L898902C3",
			Name:        "ERIKSSON ANNA MARIA",
			DateOfBirth: "740812",
			Gender:      "F",
			Region:      "UTO",
		},
	}
	qrNullifier, err := Nullifier(qr, secret)
	c.Assert(err, qt.IsNil)
	c.Assert(passport.Cmp(qrNullifier), qt.Not(qt.Equals), 0)
}

func TestLeafBytes(t *testing.T) {
	c := qt.New(t)
	secret := big.NewInt(7)
	commitment, err := Commitment(passportEnvelope(), secret)
	c.Assert(err, qt.IsNil)
	leaf := LeafBytes(commitment)
	c.Assert(len(leaf), qt.Equals, 32)
	// Same scalar, same leaf.
	c.Assert([]byte(LeafBytes(commitment)), qt.DeepEquals, []byte(leaf))
}

func TestCommitmentMalformedEnvelope(t *testing.T) {
	c := qt.New(t)
	env := &document.Envelope{Category: types.CategoryPassport, MRZ: "garbage"}
	_, err := Commitment(env, big.NewInt(1))
	c.Assert(err, qt.ErrorIs, document.ErrMalformedEnvelope)
}
