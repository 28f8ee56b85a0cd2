// Package docsig verifies that a document envelope was signed by a trusted
// document signer: it checks the envelope hash chain, dispatches signature
// verification across the supported algorithm families, and matches the
// signer against the configured trust anchors.
package docsig

import (
	"fmt"

	"go.veridoc.io/veridoc/types"
)

// Supported signature algorithm families, as declared by the envelope.
const (
	AlgRSAPKCS1 = "rsa-pkcs1"
	AlgRSAPSS   = "rsa-pss"
	AlgECDSA    = "ecdsa"
)

var (
	// ErrUnsupportedAlgorithm is returned when the envelope declares a
	// signature algorithm or curve outside the supported set.
	ErrUnsupportedAlgorithm = fmt.Errorf("unsupported signature algorithm")

	// ErrSignatureMismatch is returned when the signature does not verify
	// over the signed attributes. Never coerced into a false Valid result.
	ErrSignatureMismatch = fmt.Errorf("signature mismatch")

	// ErrAuthorityNotFound is returned when the signer chains to none of
	// the trust anchors. Callers treat the document as provisionally
	// unregistered, not as invalid.
	ErrAuthorityNotFound = fmt.Errorf("signing authority not found")

	// ErrNoAuthorityKeyID is returned when the signer certificate carries
	// no authority key identifier and the envelope has no recorded
	// authority either, so chain matching cannot even start.
	ErrNoAuthorityKeyID = fmt.Errorf("missing authority key identifier")
)

// Authority is one trusted signing authority: a canonical country signing
// CA or an alternative authority published by the remote registry.
type Authority struct {
	KeyID     types.HexBytes `json:"keyId"`
	PublicKey types.HexBytes `json:"publicKey,omitempty"` // DER
	Subject   string         `json:"subject,omitempty"`
}

// TrustAnchors aggregates everything a chain match may be attempted
// against: canonical roots, registry-published alternative authorities, and
// the flat signer key registry used by QR credentials.
type TrustAnchors struct {
	Roots        []Authority
	Alternatives []Authority
	SignerKeys   []types.HexBytes
}

// Result is the verification outcome for a valid envelope.
type Result struct {
	Valid            bool           `json:"valid"`
	MatchedAuthority types.HexBytes `json:"matchedAuthority,omitempty"`
}
