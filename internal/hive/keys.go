package hive

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/mr-tron/base58"
)

// ErrInvalidBase58 marks a posting key that cannot be decoded. The message
// matches the marker other podping tooling greps for on startup failure.
var ErrInvalidBase58 = errors.New("Error loading Base58 object")

// wifVersion is the version byte prefixing every graphene WIF key.
const wifVersion = 0x80

// DecodeWIF decodes a wallet-import-format posting key: Base58 over a
// version byte, the 32-byte secret, and a 4-byte double-SHA256 checksum.
func DecodeWIF(wif string) (*secp256k1.PrivateKey, error) {
	raw, err := base58.Decode(wif)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBase58, err)
	}
	if len(raw) != 37 || raw[0] != wifVersion {
		return nil, ErrInvalidBase58
	}
	sum := doubleSHA256(raw[:33])
	if !bytes.Equal(sum[:4], raw[33:]) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrInvalidBase58)
	}
	return secp256k1.PrivKeyFromBytes(raw[1:33]), nil
}

func doubleSHA256(b []byte) []byte {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return second[:]
}
