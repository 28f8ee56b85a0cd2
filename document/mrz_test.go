package document

import (
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"
	"go.veridoc.io/veridoc/types"
)

// ICAO Doc 9303 specimen documents.
const (
	specimenTD3 = "P<UTOERIKSSON<<ANNA<MARIA<<<<<<<<<<<<<<<<<<<\n" +
		"L898902C36UTO7408122F1204159ZE184226B<<<<<10"
	specimenTD1 = "I<UTOD231458907<<<<<<<<<<<<<<<\n" +
		"7408122F1204159UTO<<<<<<<<<<<6\n" +
		"ERIKSSON<<ANNA<MARIA<<<<<<<<<<"
)

func TestParseMRZPassport(t *testing.T) {
	c := qt.New(t)
	id, err := ParseMRZ(types.CategoryPassport, specimenTD3)
	c.Assert(err, qt.IsNil)
	c.Assert(id.DocumentNumber, qt.Equals, "L898902C3")
	c.Assert(id.Nationality, qt.Equals, "UTO")
	c.Assert(id.IssuingState, qt.Equals, "UTO")
	c.Assert(id.Name, qt.Equals, "ERIKSSON ANNA MARIA")
	c.Assert(id.BirthDate, qt.Equals, "740812")
	c.Assert(id.ExpiryDate, qt.Equals, "120415")
	c.Assert(id.Sex, qt.Equals, "F")
}

func TestParseMRZIDCard(t *testing.T) {
	c := qt.New(t)
	id, err := ParseMRZ(types.CategoryIDCard, specimenTD1)
	c.Assert(err, qt.IsNil)
	c.Assert(id.DocumentNumber, qt.Equals, "D23145890")
	c.Assert(id.Nationality, qt.Equals, "UTO")
	c.Assert(id.Name, qt.Equals, "ERIKSSON ANNA MARIA")
	c.Assert(id.BirthDate, qt.Equals, "740812")
	c.Assert(id.ExpiryDate, qt.Equals, "120415")
}

func TestParseMRZCheckDigits(t *testing.T) {
	c := qt.New(t)
	// Change the birth date without updating its check digit.
	mutated := strings.Replace(specimenTD3, "7408122", "7508122", 1)
	_, err := ParseMRZ(types.CategoryPassport, mutated)
	c.Assert(err, qt.ErrorIs, ErrMalformedEnvelope)

	// Same for the document number.
	mutated = strings.Replace(specimenTD3, "L898902C36", "L898902C46", 1)
	_, err = ParseMRZ(types.CategoryPassport, mutated)
	c.Assert(err, qt.ErrorIs, ErrMalformedEnvelope)
}

func TestParseMRZMalformed(t *testing.T) {
	c := qt.New(t)
	_, err := ParseMRZ(types.CategoryPassport, "P<UTO")
	c.Assert(err, qt.ErrorIs, ErrMalformedEnvelope)

	// A TD1 MRZ does not fit the passport layout.
	_, err = ParseMRZ(types.CategoryPassport, specimenTD1)
	c.Assert(err, qt.ErrorIs, ErrMalformedEnvelope)

	// QR credentials carry no MRZ at all.
	_, err = ParseMRZ(types.CategoryQRCredential, specimenTD3)
	c.Assert(err, qt.ErrorIs, ErrMalformedEnvelope)
}

func TestCheckDigit(t *testing.T) {
	c := qt.New(t)
	c.Assert(checkDigit("L898902C3"), qt.Equals, 6)
	c.Assert(checkDigit("740812"), qt.Equals, 2)
	c.Assert(checkDigit("120415"), qt.Equals, 9)
	c.Assert(checkDigit("<<<<<<"), qt.Equals, 0)
	c.Assert(checkDigit("74.812"), qt.Equals, -1)
}
