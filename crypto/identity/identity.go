// Package identity derives the two circuit-facing scalars from a validated
// document envelope plus the user secret: the commitment that binds the
// secret and document to a registry entry, and the nullifier that detects
// duplicate registrations without revealing the secret.
//
// The hashing construction must be byte-identical to the one the proving
// circuit recomputes internally. Field ordering, the string packing and the
// Poseidon arity are a wire-format contract, not an implementation detail.
package identity

import (
	"context"
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"
	"go.vocdoni.io/dvote/tree/arbo"

	"go.veridoc.io/veridoc/document"
	"go.veridoc.io/veridoc/types"
)

// SecretSource supplies the locally held secret scalar. Implementations
// wrap the platform secure key store; the secret must never be logged or
// serialized by this repository.
type SecretSource interface {
	Secret(ctx context.Context) (*big.Int, error)
}

// StaticSecret is a SecretSource around a fixed scalar, for wiring and tests.
type StaticSecret big.Int

func (s *StaticSecret) Secret(context.Context) (*big.Int, error) {
	return (*big.Int)(s), nil
}

// maxFieldStringLen caps packed strings at 31 bytes so they stay below the
// Poseidon field modulus.
const maxFieldStringLen = 31

// stringToFieldElem packs an ASCII string into a field element by shifting
// each byte into the integer, most significant first.
func stringToFieldElem(s string) (*big.Int, error) {
	if len(s) > maxFieldStringLen {
		return nil, fmt.Errorf("field string %q longer than %d bytes", s, maxFieldStringLen)
	}
	result := new(big.Int)
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return nil, fmt.Errorf("field string %q contains non-ASCII characters", s)
		}
		result.Lsh(result, 8)
		result.Add(result, big.NewInt(int64(s[i])))
	}
	return result, nil
}

// tupleFor assembles the ordered identity tuple hashed into the commitment:
// category tag, nationality, date of birth, document identifier.
func tupleFor(env *document.Envelope) ([]*big.Int, error) {
	id, err := env.Identity()
	if err != nil {
		return nil, err
	}
	nationality, err := stringToFieldElem(id.Nationality)
	if err != nil {
		return nil, err
	}
	birthDate, err := stringToFieldElem(id.BirthDate)
	if err != nil {
		return nil, err
	}
	number, err := stringToFieldElem(id.DocumentNumber)
	if err != nil {
		return nil, err
	}
	return []*big.Int{
		big.NewInt(env.Category.Tag()),
		nationality,
		birthDate,
		number,
	}, nil
}

// Commitment derives the registry commitment scalar. Deterministic: the
// same envelope and secret always produce the same value.
func Commitment(env *document.Envelope, secret *big.Int) (*big.Int, error) {
	tuple, err := tupleFor(env)
	if err != nil {
		return nil, err
	}
	return poseidon.Hash(append(tuple, secret))
}

// Nullifier derives the duplicate-registration nullifier: a one-way
// function of the secret and the document identity fields. For QR
// credentials the identifier component is only locally scoped; determinism
// still holds, global uniqueness is not promised.
func Nullifier(env *document.Envelope, secret *big.Int) (*big.Int, error) {
	id, err := env.Identity()
	if err != nil {
		return nil, err
	}
	number, err := stringToFieldElem(id.DocumentNumber)
	if err != nil {
		return nil, err
	}
	birthDate, err := stringToFieldElem(id.BirthDate)
	if err != nil {
		return nil, err
	}
	return poseidon.Hash([]*big.Int{
		big.NewInt(env.Category.Tag()),
		number,
		birthDate,
		secret,
	})
}

// LeafBytes returns the fixed-width byte representation of a derived scalar
// used as a commitment tree key.
func LeafBytes(v *big.Int) types.HexBytes {
	return arbo.BigIntToBytes(32, v)
}
