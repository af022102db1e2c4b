package hive

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// customJSONOpNum is the graphene operation number of custom_json.
const customJSONOpNum = 18

// txExpiry is how far in the future a transaction expires, measured from
// the head block time so local clock skew cannot invalidate it.
const txExpiry = 60 * time.Second

// CustomJSONOp is the one operation kind this writer ever broadcasts.
type CustomJSONOp struct {
	RequiredAuths        []string `json:"required_auths"`
	RequiredPostingAuths []string `json:"required_posting_auths"`
	ID                   string   `json:"id"`
	JSON                 string   `json:"json"`
}

// Transaction is a single-operation Hive transaction.
type Transaction struct {
	RefBlockNum    uint16
	RefBlockPrefix uint32
	Expiration     time.Time
	Op             CustomJSONOp
	Signatures     []string
}

// timeFormat is the chain's expiration timestamp layout (UTC, no zone).
const timeFormat = "2006-01-02T15:04:05"

// MarshalJSON renders the condenser_api broadcast shape, with the
// operation as a ["custom_json", {...}] pair.
func (t *Transaction) MarshalJSON() ([]byte, error) {
	sigs := t.Signatures
	if sigs == nil {
		sigs = []string{}
	}
	return json.Marshal(struct {
		RefBlockNum    uint16   `json:"ref_block_num"`
		RefBlockPrefix uint32   `json:"ref_block_prefix"`
		Expiration     string   `json:"expiration"`
		Operations     [][2]any `json:"operations"`
		Extensions     []any    `json:"extensions"`
		Signatures     []string `json:"signatures"`
	}{
		RefBlockNum:    t.RefBlockNum,
		RefBlockPrefix: t.RefBlockPrefix,
		Expiration:     t.Expiration.UTC().Format(timeFormat),
		Operations:     [][2]any{{"custom_json", t.Op}},
		Extensions:     []any{},
		Signatures:     sigs,
	})
}

// Serialize produces the canonical graphene binary encoding of the
// transaction body (the part that is signed, without signatures).
func (t *Transaction) Serialize() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, t.RefBlockNum)
	binary.Write(&buf, binary.LittleEndian, t.RefBlockPrefix)
	binary.Write(&buf, binary.LittleEndian, uint32(t.Expiration.UTC().Unix()))

	writeVarint(&buf, 1) // operation count
	writeVarint(&buf, customJSONOpNum)
	writeVarint(&buf, uint64(len(t.Op.RequiredAuths)))
	for _, a := range t.Op.RequiredAuths {
		writeString(&buf, a)
	}
	writeVarint(&buf, uint64(len(t.Op.RequiredPostingAuths)))
	for _, a := range t.Op.RequiredPostingAuths {
		writeString(&buf, a)
	}
	writeString(&buf, t.Op.ID)
	writeString(&buf, t.Op.JSON)
	writeVarint(&buf, 0) // extensions

	return buf.Bytes()
}

// Digest returns the signing digest: sha256(chainID || serialized body).
func (t *Transaction) Digest(chainID []byte) [32]byte {
	h := sha256.New()
	h.Write(chainID)
	h.Write(t.Serialize())
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Sign appends a canonical compact signature over the transaction digest.
// Graphene nodes reject non-canonical signatures, so the expiration is
// nudged forward a second at a time until the deterministic signature
// comes out canonical.
func (t *Transaction) Sign(key *secp256k1.PrivateKey, chainID []byte) error {
	for attempt := 0; attempt < 32; attempt++ {
		digest := t.Digest(chainID)
		sig := ecdsa.SignCompact(key, digest[:], true)
		if isCanonicalSignature(sig) {
			t.Signatures = append(t.Signatures, hex.EncodeToString(sig))
			return nil
		}
		t.Expiration = t.Expiration.Add(time.Second)
	}
	return fmt.Errorf("could not produce canonical signature after 32 attempts")
}

// isCanonicalSignature applies the graphene canonicality rule to a
// 65-byte compact signature (1-byte recovery header, 32-byte R, 32-byte S).
func isCanonicalSignature(sig []byte) bool {
	if len(sig) != 65 {
		return false
	}
	return sig[1]&0x80 == 0 &&
		!(sig[1] == 0 && sig[2]&0x80 == 0) &&
		sig[33]&0x80 == 0 &&
		!(sig[33] == 0 && sig[34]&0x80 == 0)
}

// writeVarint encodes n as a LEB128 unsigned varint.
func writeVarint(buf *bytes.Buffer, n uint64) {
	for n >= 0x80 {
		buf.WriteByte(byte(n) | 0x80)
		n >>= 7
	}
	buf.WriteByte(byte(n))
}

// writeString encodes a varint length prefix followed by the raw bytes.
func writeString(buf *bytes.Buffer, s string) {
	writeVarint(buf, uint64(len(s)))
	buf.WriteString(s)
}
