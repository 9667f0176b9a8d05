// Package signature implements the canonical signature payload and Ed25519
// sign/verify contract for SignedCredential (spec §3, §6).
//
// The canonical payload is UTF-8 JSON with keys in the fixed order
// {"id","commitment","createdAt","issuer","issuedAt"}, no whitespace. Binding issuer and
// issuedAt into the signed bytes prevents issuer-substitution attacks (spec §8 property 2).
package signature

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zkidlabs/verifier/pkg/credential"
)

// ErrSignatureInvalid is returned when Verify fails cryptographically.
var ErrSignatureInvalid = errors.New("signature: invalid")

// SignedCredential pairs a Credential with an issuer's Ed25519 signature over the
// canonical payload, per spec §3.
type SignedCredential struct {
	Credential credential.Credential `json:"credential"`
	Issuer     string                `json:"issuer"`
	Signature  string                `json:"signature"` // base64 standard, with padding
	IssuedAt   time.Time             `json:"issued_at"`
}

// CanonicalPayload builds the exact byte sequence that is signed: fixed key order, no
// whitespace, per spec §6.
func CanonicalPayload(id, commitment, createdAt, issuer, issuedAt string) []byte {
	var buf bytes.Buffer
	buf.WriteString(`{"id":`)
	writeJSONString(&buf, id)
	buf.WriteString(`,"commitment":`)
	writeJSONString(&buf, commitment)
	buf.WriteString(`,"createdAt":`)
	writeJSONString(&buf, createdAt)
	buf.WriteString(`,"issuer":`)
	writeJSONString(&buf, issuer)
	buf.WriteString(`,"issuedAt":`)
	writeJSONString(&buf, issuedAt)
	buf.WriteString(`}`)
	return buf.Bytes()
}

func writeJSONString(buf *bytes.Buffer, s string) {
	// json.Marshal on a plain string produces a quoted, escaped JSON string literal with
	// no extraneous whitespace -- exactly the canonical fragment we need.
	b, _ := json.Marshal(s)
	buf.Write(b)
}

// payloadFor derives the canonical payload bytes for a given credential/issuer/issuedAt.
func payloadFor(c credential.Credential, issuer string, issuedAt time.Time) []byte {
	return CanonicalPayload(
		c.ID,
		c.Commitment,
		c.CreatedAt.Format(time.RFC3339Nano),
		issuer,
		issuedAt.Format(time.RFC3339Nano),
	)
}

// Sign produces a SignedCredential for c, issued by issuer and signed with priv.
func Sign(c credential.Credential, issuer string, priv ed25519.PrivateKey, issuedAt time.Time) (SignedCredential, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return SignedCredential{}, fmt.Errorf("signature: private key must be %d bytes", ed25519.PrivateKeySize)
	}
	payload := payloadFor(c, issuer, issuedAt)
	sig := ed25519.Sign(priv, payload)
	return SignedCredential{
		Credential: c,
		Issuer:     issuer,
		Signature:  base64.StdEncoding.EncodeToString(sig),
		IssuedAt:   issuedAt,
	}, nil
}

// Verify checks sc's signature against pub, re-deriving the canonical payload from sc's
// own fields. Substituting issuer or issued_at (spec §8 property 2) changes the payload
// bytes and therefore fails verification.
func Verify(sc SignedCredential, pub ed25519.PublicKey) error {
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: public key must be %d bytes", ErrSignatureInvalid, ed25519.PublicKeySize)
	}
	sig, err := base64.StdEncoding.DecodeString(sc.Signature)
	if err != nil {
		return fmt.Errorf("%w: signature is not valid base64: %v", ErrSignatureInvalid, err)
	}
	payload := payloadFor(sc.Credential, sc.Issuer, sc.IssuedAt)
	if !ed25519.Verify(pub, payload, sig) {
		return ErrSignatureInvalid
	}
	return nil
}
