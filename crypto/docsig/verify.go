package docsig

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"fmt"

	"go.veridoc.io/veridoc/document"
	"go.veridoc.io/veridoc/log"
	"go.veridoc.io/veridoc/types"
)

// ecdsaCurveBits is the set of named curve sizes accepted for document
// signer certificates.
var ecdsaCurveBits = map[int]bool{224: true, 256: true, 384: true, 521: true}

func cryptoHash(alg string) (crypto.Hash, error) {
	switch alg {
	case "sha1":
		return crypto.SHA1, nil
	case "sha256":
		return crypto.SHA256, nil
	case "sha384":
		return crypto.SHA384, nil
	case "sha512":
		return crypto.SHA512, nil
	}
	return 0, fmt.Errorf("%w: digest %q", document.ErrDigestUnsupported, alg)
}

// signerPublicKey extracts the verification key: from the DER certificate
// for MRZ categories, from the raw PKIX key for QR credentials. The
// certificate is also returned when present, for chain matching.
func signerPublicKey(env *document.Envelope) (crypto.PublicKey, *x509.Certificate, error) {
	if env.Category.IsMRZ() {
		cert, err := x509.ParseCertificate(env.SignerCertificate)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: cannot parse signer certificate: %v",
				document.ErrMalformedEnvelope, err)
		}
		return cert.PublicKey, cert, nil
	}
	pub, err := x509.ParsePKIXPublicKey(env.SignerPublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: cannot parse signer public key: %v",
			document.ErrMalformedEnvelope, err)
	}
	return pub, nil, nil
}

// VerifySignature checks the envelope signature over the signed attributes,
// dispatching on the declared algorithm family.
func VerifySignature(env *document.Envelope) error {
	h, err := cryptoHash(env.DigestAlgorithm)
	if err != nil {
		return err
	}
	digest, err := document.SumDigest(env.DigestAlgorithm, env.SignedAttributes)
	if err != nil {
		return err
	}
	pub, _, err := signerPublicKey(env)
	if err != nil {
		return err
	}

	switch env.SignatureAlgorithm {
	case AlgRSAPKCS1:
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("%w: %s with non-RSA key",
				ErrUnsupportedAlgorithm, env.SignatureAlgorithm)
		}
		if err := rsa.VerifyPKCS1v15(rsaPub, h, digest, env.Signature); err != nil {
			return fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
		}
	case AlgRSAPSS:
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("%w: %s with non-RSA key",
				ErrUnsupportedAlgorithm, env.SignatureAlgorithm)
		}
		// Salt length comes from the signer certificate parameters,
		// carried on the envelope by the importer.
		saltLength := env.PSSSaltLength
		if saltLength == 0 {
			saltLength = rsa.PSSSaltLengthAuto
		}
		opts := &rsa.PSSOptions{SaltLength: saltLength, Hash: h}
		if err := rsa.VerifyPSS(rsaPub, h, digest, env.Signature, opts); err != nil {
			return fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
		}
	case AlgECDSA:
		ecPub, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return fmt.Errorf("%w: %s with non-ECDSA key",
				ErrUnsupportedAlgorithm, env.SignatureAlgorithm)
		}
		if !ecdsaCurveBits[ecPub.Curve.Params().BitSize] {
			return fmt.Errorf("%w: curve %s", ErrUnsupportedAlgorithm,
				ecPub.Curve.Params().Name)
		}
		if !ecdsa.VerifyASN1(ecPub, digest, env.Signature) {
			return fmt.Errorf("%w: ecdsa verification failed", ErrSignatureMismatch)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, env.SignatureAlgorithm)
	}
	return nil
}

// MatchAuthority resolves which trust anchor the signer chains to: the
// canonical roots first, then the registry-published alternatives, then (for
// QR credentials) direct membership of the signer key in the key registry.
func MatchAuthority(env *document.Envelope, anchors *TrustAnchors) (types.HexBytes, error) {
	if !env.Category.IsMRZ() {
		for _, k := range anchors.SignerKeys {
			if bytes.Equal(k, env.SignerPublicKey) {
				return types.HexBytes(k), nil
			}
		}
		return nil, ErrAuthorityNotFound
	}

	_, cert, err := signerPublicKey(env)
	if err != nil {
		return nil, err
	}
	keyID := types.HexBytes(cert.AuthorityKeyId)
	if len(keyID) == 0 {
		keyID = env.Authority
	}
	if len(keyID) == 0 {
		return nil, ErrNoAuthorityKeyID
	}
	for _, a := range anchors.Roots {
		if bytes.Equal(a.KeyID, keyID) {
			return a.KeyID, nil
		}
	}
	for _, a := range anchors.Alternatives {
		if bytes.Equal(a.KeyID, keyID) {
			return a.KeyID, nil
		}
	}
	return nil, ErrAuthorityNotFound
}

// Verify runs the full validation of an envelope: hash chain, signature and
// chain match. Each failure class keeps its own error identity so callers
// can pattern-match on the variant instead of registering callbacks.
func Verify(env *document.Envelope, anchors *TrustAnchors) (Result, error) {
	if err := document.CheckDataGroups(env); err != nil {
		return Result{}, err
	}
	if err := VerifySignature(env); err != nil {
		return Result{}, err
	}
	matched, err := MatchAuthority(env, anchors)
	if err != nil {
		return Result{}, err
	}
	log.Debugw("document signature verified",
		"category", string(env.Category),
		"algorithm", env.SignatureAlgorithm,
		"authority", matched.String())
	return Result{Valid: true, MatchedAuthority: matched}, nil
}
