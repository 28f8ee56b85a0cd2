// Package document models the signed identity document envelope: the typed
// representation of a passport, national ID card or QR-based national
// credential, independent of how it was transported or scanned.
package document

import (
	"fmt"
	"sort"

	"go.veridoc.io/veridoc/types"
)

// ErrMalformedEnvelope is returned when raw document input cannot be parsed
// into a well formed envelope. It is fatal for that document only.
var ErrMalformedEnvelope = fmt.Errorf("malformed document envelope")

// DataGroupHash is one entry of the ordered data-group hash list carried by
// the envelope. Group 1 always covers the raw identity record.
type DataGroupHash struct {
	Number int            `json:"number"`
	Hash   types.HexBytes `json:"hash"`
}

// QRFields is the decoded structured field set of a QR-based credential.
type QRFields struct {
	Version     string `json:"version,omitempty"`
	Reference   string `json:"reference"`
	Name        string `json:"name"`
	DateOfBirth string `json:"dateOfBirth"`
	Gender      string `json:"gender"`
	Region      string `json:"region"`
}

// Record returns the canonical byte serialization of the QR field set, which
// is what the data group 1 hash covers for QR credentials.
func (q *QRFields) Record() []byte {
	fields := [][]byte{
		[]byte(q.Version),
		[]byte(q.Reference),
		[]byte(q.Name),
		[]byte(q.DateOfBirth),
		[]byte(q.Gender),
		[]byte(q.Region),
	}
	var out []byte
	for i, f := range fields {
		if i > 0 {
			out = append(out, qrFieldSeparator)
		}
		out = append(out, f...)
	}
	return out
}

// Envelope is the canonical signed-document record. For MRZ categories the
// signer is identified by a DER certificate; for QR credentials by a raw
// public key checked against the remote registry.
type Envelope struct {
	Category types.DocumentCategory `json:"documentCategory"`

	MRZ string     `json:"mrz,omitempty"`
	QR  *QRFields  `json:"qrFields,omitempty"`

	DataGroupHashes []DataGroupHash `json:"dataGroupHashes"`

	// DigestAlgorithm names the hash used over the raw identity record,
	// the signed content and the signed attributes.
	DigestAlgorithm  string         `json:"digestAlgorithm"`
	SignedContent    types.HexBytes `json:"signedContent"`
	SignedAttributes types.HexBytes `json:"signedAttributes"`

	Signature          types.HexBytes `json:"signature"`
	SignatureAlgorithm string         `json:"signatureAlgorithm"`
	// PSSSaltLength carries the salt length declared by the signer
	// certificate parameters. Only meaningful for rsa-pss.
	PSSSaltLength int `json:"pssSaltLength,omitempty"`

	SignerCertificate types.HexBytes `json:"signerCertificate,omitempty"`
	SignerPublicKey   types.HexBytes `json:"signerPublicKey,omitempty"`

	// Authority is the key identifier of the authority this envelope is
	// believed to chain to. It is corrected by the registration tracker
	// when a different authority actually matches.
	Authority types.HexBytes `json:"authority,omitempty"`

	// Synthetic marks test-only fixtures; they are checked against the
	// staging registry and never claim real-world validity.
	Synthetic bool `json:"mock"`
}

// Identity is the per-document identity tuple extracted from the raw
// identity record. Field values feed the commitment and nullifier hashes,
// so their exact formatting is part of the circuit wire contract.
type Identity struct {
	DocumentNumber string `json:"documentNumber"`
	Nationality    string `json:"nationality"`
	IssuingState   string `json:"issuingState,omitempty"`
	Name           string `json:"name,omitempty"`
	BirthDate      string `json:"birthDate"`  // YYMMDD
	ExpiryDate     string `json:"expiryDate,omitempty"`
	Sex            string `json:"sex,omitempty"`
}

// Identity extracts the identity tuple according to the envelope category.
func (e *Envelope) Identity() (*Identity, error) {
	switch {
	case e.Category.IsMRZ():
		return ParseMRZ(e.Category, e.MRZ)
	case e.Category == types.CategoryQRCredential:
		if e.QR == nil {
			return nil, fmt.Errorf("%w: missing qr field set", ErrMalformedEnvelope)
		}
		return &Identity{
			// The reference is a locally-scoped short identifier, not
			// a globally unique number.
			DocumentNumber: e.QR.Reference,
			Nationality:    e.QR.Region,
			Name:           e.QR.Name,
			BirthDate:      e.QR.DateOfBirth,
			Sex:            e.QR.Gender,
		}, nil
	}
	return nil, fmt.Errorf("%w: unknown document category %q", ErrMalformedEnvelope, e.Category)
}

// RawIdentityRecord returns the bytes covered by the data group 1 hash.
func (e *Envelope) RawIdentityRecord() ([]byte, error) {
	switch {
	case e.Category.IsMRZ():
		if e.MRZ == "" {
			return nil, fmt.Errorf("%w: missing mrz", ErrMalformedEnvelope)
		}
		return []byte(e.MRZ), nil
	case e.Category == types.CategoryQRCredential:
		if e.QR == nil {
			return nil, fmt.Errorf("%w: missing qr field set", ErrMalformedEnvelope)
		}
		return e.QR.Record(), nil
	}
	return nil, fmt.Errorf("%w: unknown document category %q", ErrMalformedEnvelope, e.Category)
}

// DataGroup returns the hash entry for the given group number.
func (e *Envelope) DataGroup(n int) (DataGroupHash, bool) {
	for _, dg := range e.DataGroupHashes {
		if dg.Number == n {
			return dg, true
		}
	}
	return DataGroupHash{}, false
}

// Validate performs the structural checks that do not require any remote
// data: category, raw record presence, a single group 1 entry, and the
// signer material matching the category.
func (e *Envelope) Validate() error {
	if !e.Category.IsValid() {
		return fmt.Errorf("%w: unknown document category %q", ErrMalformedEnvelope, e.Category)
	}
	if _, err := e.RawIdentityRecord(); err != nil {
		return err
	}
	n := 0
	for _, dg := range e.DataGroupHashes {
		if dg.Number == 1 {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("%w: expected exactly one data group 1 entry, got %d",
			ErrMalformedEnvelope, n)
	}
	if len(e.Signature) == 0 {
		return fmt.Errorf("%w: missing signature", ErrMalformedEnvelope)
	}
	if e.Category.IsMRZ() && len(e.SignerCertificate) == 0 {
		return fmt.Errorf("%w: missing signer certificate", ErrMalformedEnvelope)
	}
	if e.Category == types.CategoryQRCredential && len(e.SignerPublicKey) == 0 {
		return fmt.Errorf("%w: missing signer public key", ErrMalformedEnvelope)
	}
	return nil
}

// sortedDataGroups returns the hash list ordered by group number, which is
// the order the signed content is built in.
func (e *Envelope) sortedDataGroups() []DataGroupHash {
	dgs := make([]DataGroupHash, len(e.DataGroupHashes))
	copy(dgs, e.DataGroupHashes)
	sort.Slice(dgs, func(i, j int) bool { return dgs[i].Number < dgs[j].Number })
	return dgs
}
