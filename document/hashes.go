package document

import (
	"bytes"
	"crypto/sha1" //nolint:gosec // legacy data groups still declare sha1
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"time"

	"go.veridoc.io/veridoc/types"
)

var (
	// ErrHashMismatch is returned when the envelope hash chain is broken:
	// the data group 1 hash does not cover the raw identity record, or the
	// signed attributes do not carry the digest of the signed content.
	ErrHashMismatch = fmt.Errorf("document hash chain mismatch")

	// ErrDigestUnsupported is returned when the envelope declares a digest
	// algorithm outside the supported set.
	ErrDigestUnsupported = fmt.Errorf("unsupported digest algorithm")
)

// signedAttributesMagic prefixes the signer-attested byte sequence, followed
// by the big-endian signing time and the signed content digest. The layout
// is fixed: signature verification feeds these exact bytes to the signer.
var signedAttributesMagic = []byte("VDA1")

const signedAttributesTimeLen = 8

// SumDigest hashes data with the named digest algorithm. Supported names
// are sha1, sha256, sha384 and sha512.
func SumDigest(alg string, data []byte) ([]byte, error) {
	switch alg {
	case "sha1":
		h := sha1.Sum(data) //nolint:gosec
		return h[:], nil
	case "sha256":
		h := sha256.Sum256(data)
		return h[:], nil
	case "sha384":
		h := sha512.Sum384(data)
		return h[:], nil
	case "sha512":
		h := sha512.Sum512(data)
		return h[:], nil
	}
	return nil, fmt.Errorf("%w: %q", ErrDigestUnsupported, alg)
}

// DigestSize returns the output size in bytes of the named digest.
func DigestSize(alg string) (int, error) {
	d, err := SumDigest(alg, nil)
	if err != nil {
		return 0, err
	}
	return len(d), nil
}

// BuildSignedContent serializes the ordered data-group hash list into the
// eContent byte sequence: one (group, length, hash) record per group,
// ordered by group number.
func BuildSignedContent(hashes []DataGroupHash) ([]byte, error) {
	var buf bytes.Buffer
	e := Envelope{DataGroupHashes: hashes}
	for _, dg := range e.sortedDataGroups() {
		if dg.Number <= 0 || dg.Number > 16 {
			return nil, fmt.Errorf("%w: data group number %d out of range",
				ErrMalformedEnvelope, dg.Number)
		}
		if len(dg.Hash) == 0 || len(dg.Hash) > 64 {
			return nil, fmt.Errorf("%w: data group %d hash length %d",
				ErrMalformedEnvelope, dg.Number, len(dg.Hash))
		}
		buf.WriteByte(byte(dg.Number))
		buf.WriteByte(byte(len(dg.Hash)))
		buf.Write(dg.Hash)
	}
	return buf.Bytes(), nil
}

// BuildSignedAttributes creates the signer-attested byte sequence from the
// digest of the signed content plus the signing time.
func BuildSignedAttributes(alg string, signedContent []byte, signingTime time.Time) ([]byte, error) {
	digest, err := SumDigest(alg, signedContent)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(signedAttributesMagic)+signedAttributesTimeLen+len(digest))
	out = append(out, signedAttributesMagic...)
	var ts [signedAttributesTimeLen]byte
	binary.BigEndian.PutUint64(ts[:], uint64(signingTime.Unix()))
	out = append(out, ts[:]...)
	out = append(out, digest...)
	return out, nil
}

// digestInSignedAttributes extracts the signed content digest carried by the
// signed attributes.
func digestInSignedAttributes(alg string, signedAttributes []byte) ([]byte, error) {
	size, err := DigestSize(alg)
	if err != nil {
		return nil, err
	}
	min := len(signedAttributesMagic) + signedAttributesTimeLen + size
	if len(signedAttributes) < min {
		return nil, fmt.Errorf("%w: signed attributes too short (%d bytes)",
			ErrMalformedEnvelope, len(signedAttributes))
	}
	if !bytes.HasPrefix(signedAttributes, signedAttributesMagic) {
		return nil, fmt.Errorf("%w: bad signed attributes prefix", ErrMalformedEnvelope)
	}
	return signedAttributes[len(signedAttributes)-size:], nil
}

// CheckDataGroups verifies the envelope's hash chain: the data group 1 hash
// covers the raw identity record, the signed content is the serialization of
// the hash list, and the signed attributes carry the signed content digest.
// Any break returns ErrHashMismatch; an unknown digest returns
// ErrDigestUnsupported. It does not verify the signature itself.
func CheckDataGroups(e *Envelope) error {
	if err := e.Validate(); err != nil {
		return err
	}
	record, err := e.RawIdentityRecord()
	if err != nil {
		return err
	}
	recordDigest, err := SumDigest(e.DigestAlgorithm, record)
	if err != nil {
		return err
	}
	dg1, _ := e.DataGroup(1)
	if !bytes.Equal(recordDigest, dg1.Hash) {
		return fmt.Errorf("%w: data group 1 does not cover the identity record",
			ErrHashMismatch)
	}
	signedContent, err := BuildSignedContent(e.DataGroupHashes)
	if err != nil {
		return err
	}
	if !bytes.Equal(signedContent, e.SignedContent) {
		return fmt.Errorf("%w: signed content does not match the data group hashes",
			ErrHashMismatch)
	}
	carried, err := digestInSignedAttributes(e.DigestAlgorithm, e.SignedAttributes)
	if err != nil {
		return err
	}
	contentDigest, err := SumDigest(e.DigestAlgorithm, e.SignedContent)
	if err != nil {
		return err
	}
	if !bytes.Equal(carried, contentDigest) {
		return fmt.Errorf("%w: signed attributes do not carry the signed content digest",
			ErrHashMismatch)
	}
	return nil
}

// NewDataGroupHashes builds a well formed hash list from the raw identity
// record plus any extra (group, payload) pairs. Used by importers and tests.
func NewDataGroupHashes(alg string, record []byte, extra map[int][]byte) ([]DataGroupHash, error) {
	h, err := SumDigest(alg, record)
	if err != nil {
		return nil, err
	}
	hashes := []DataGroupHash{{Number: 1, Hash: types.HexBytes(h)}}
	for n, payload := range extra {
		eh, err := SumDigest(alg, payload)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, DataGroupHash{Number: n, Hash: types.HexBytes(eh)})
	}
	return hashes, nil
}
