// Package types holds the shared basic types used across the veridoc
// packages, so that leaf packages do not need to import each other.
package types

// DocumentCategory identifies the physical credential family carried by a
// signed document envelope.
type DocumentCategory string

const (
	// CategoryPassport is an ICAO MRZ passport (TD3 layout).
	CategoryPassport DocumentCategory = "passport"
	// CategoryIDCard is a national identity card (TD1 layout).
	CategoryIDCard DocumentCategory = "id_card"
	// CategoryQRCredential is a QR-based national identity credential,
	// signed by a flat public-key registry instead of a certificate chain.
	CategoryQRCredential DocumentCategory = "qr_credential"
)

// Tag returns the numeric category tag used as the leading input of the
// commitment and nullifier hashes. The values are part of the circuit wire
// contract and must never change.
func (c DocumentCategory) Tag() int64 {
	switch c {
	case CategoryPassport:
		return 1
	case CategoryIDCard:
		return 2
	case CategoryQRCredential:
		return 3
	}
	return 0
}

// IsValid reports whether the category is one of the known set.
func (c DocumentCategory) IsValid() bool {
	return c.Tag() != 0
}

// IsMRZ reports whether the category carries a machine readable zone and a
// document signer certificate (as opposed to a QR public-key registry).
func (c DocumentCategory) IsMRZ() bool {
	return c == CategoryPassport || c == CategoryIDCard
}

// Environment selects which remote registry deployment a document is
// checked against.
type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
)

// EnvironmentFor returns the registry environment for a document: synthetic
// test fixtures are always checked against staging.
func EnvironmentFor(synthetic bool) Environment {
	if synthetic {
		return EnvironmentStaging
	}
	return EnvironmentProduction
}

// CommitmentTreeLevels is the depth of the commitment accumulator tree.
// Must match the value used by the proving circuit, and be wide enough for
// 32 byte commitment leaves.
const CommitmentTreeLevels = 256
