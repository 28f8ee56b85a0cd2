package document

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"math/big"

	"go.veridoc.io/veridoc/types"
)

const (
	// qrFieldSeparator delimits the fields of the inflated QR byte stream.
	qrFieldSeparator = 0xff

	// qrSignatureLen is the fixed length of the signature suffix appended
	// to the compressed QR payload.
	qrSignatureLen = 256

	qrMinFields = 6
)

// ParseQRCredential decodes the numeric payload of a QR-based national
// credential into its structured field set and the appended signature.
//
// The payload is a decimal string carrying a big-endian integer whose byte
// representation is a zlib-compressed field stream followed by a fixed
// length signature suffix. Fields are separated by 0xff.
func ParseQRCredential(payload string) (*QRFields, types.HexBytes, error) {
	n, ok := new(big.Int).SetString(payload, 10)
	if !ok || n.Sign() <= 0 {
		return nil, nil, fmt.Errorf("%w: qr payload is not a positive decimal integer",
			ErrMalformedEnvelope)
	}
	data := n.Bytes()
	if len(data) <= qrSignatureLen {
		return nil, nil, fmt.Errorf("%w: qr payload too short (%d bytes)",
			ErrMalformedEnvelope, len(data))
	}
	signature := types.HexBytes(data[len(data)-qrSignatureLen:])
	body := data[:len(data)-qrSignatureLen]

	zr, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: cannot inflate qr payload: %v",
			ErrMalformedEnvelope, err)
	}
	raw, err := io.ReadAll(zr)
	zr.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: cannot inflate qr payload: %v",
			ErrMalformedEnvelope, err)
	}

	fields := bytes.Split(raw, []byte{qrFieldSeparator})
	if len(fields) < qrMinFields {
		return nil, nil, fmt.Errorf("%w: qr payload has %d fields, want at least %d",
			ErrMalformedEnvelope, len(fields), qrMinFields)
	}
	qr := &QRFields{
		Version:     string(fields[0]),
		Reference:   string(fields[1]),
		Name:        string(fields[2]),
		DateOfBirth: string(fields[3]),
		Gender:      string(fields[4]),
		Region:      string(fields[5]),
	}
	if qr.Reference == "" || qr.Name == "" || qr.DateOfBirth == "" {
		return nil, nil, fmt.Errorf("%w: qr payload misses mandatory fields",
			ErrMalformedEnvelope)
	}
	return qr, signature, nil
}

// EncodeQRCredential is the inverse of ParseQRCredential; used by tests and
// by the legacy migration re-serializer.
func EncodeQRCredential(qr *QRFields, signature []byte) (string, error) {
	if len(signature) != qrSignatureLen {
		return "", fmt.Errorf("signature must be %d bytes, got %d",
			qrSignatureLen, len(signature))
	}
	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(qr.Record()); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	data := append(compressed.Bytes(), signature...)
	return new(big.Int).SetBytes(data).String(), nil
}
