package committree

import (
	"go.veridoc.io/veridoc/crypto/docsig"
	"go.veridoc.io/veridoc/types"
)

// AuthoritySet is the alternative-authority list published by the remote
// registry for one document category, used when the canonical country
// signing CA cannot be matched directly.
type AuthoritySet struct {
	Category    types.DocumentCategory `json:"category"`
	Environment types.Environment      `json:"environment"`
	Authorities []docsig.Authority     `json:"authorities"`
}

// PublicKeySet is the flat signer key registry distributed for QR
// credentials, which carry no certificate chain.
type PublicKeySet struct {
	Environment types.Environment `json:"environment"`
	Keys        []types.HexBytes  `json:"keys"`
}

// Anchors assembles the trust anchors for a validation run from the
// canonical roots plus whatever the registry published.
func Anchors(roots []docsig.Authority, alts *AuthoritySet, keys *PublicKeySet) *docsig.TrustAnchors {
	anchors := &docsig.TrustAnchors{Roots: roots}
	if alts != nil {
		anchors.Alternatives = alts.Authorities
	}
	if keys != nil {
		anchors.SignerKeys = keys.Keys
	}
	return anchors
}
