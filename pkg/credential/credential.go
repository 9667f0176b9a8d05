// Package credential implements the credential and commitment model of spec §4.1.
//
// A Credential binds a birth year and an ISO-3166-1 numeric nationality code to a
// Poseidon commitment over a random salt. Credentials are immutable once created; only
// wallet storage destroys them.
package credential

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/zkidlabs/verifier/pkg/field"
	"github.com/zkidlabs/verifier/pkg/poseidon"
)

// ErrInvalidFormat is returned by Validate when any credential constraint is violated.
var ErrInvalidFormat = errors.New("credential: invalid format")

const (
	minBirthYear    = 1900
	minNationality  = 1
	maxNationality  = 999
	saltBytesLength = 32
)

// Credential is the internal (wallet-held) representation described in spec §3.
type Credential struct {
	ID          string    `json:"id"`
	BirthYear   uint16    `json:"birth_year"`
	Nationality uint16    `json:"nationality"`
	Salt        string    `json:"salt"` // lowercase hex
	Commitment  string    `json:"commitment"`
	CreatedAt   time.Time `json:"created_at"`
}

// External is the interchange format: it strips the salt and adds the issuing DID,
// per spec §4.1 ("External credential format... strips salt and adds issuer_did").
type External struct {
	ID          string    `json:"id"`
	BirthYear   uint16    `json:"birth_year"`
	Nationality uint16    `json:"nationality"`
	Commitment  string    `json:"commitment"`
	CreatedAt   time.Time `json:"created_at"`
	IssuerDID   string    `json:"issuer_did"`
}

// Create builds a new credential with a freshly-generated salt and derived commitment.
// birthYear and nationality must satisfy Validate's constraints once assembled.
func Create(birthYear, nationality uint16) (Credential, error) {
	saltBytes := make([]byte, saltBytesLength)
	if _, err := rand.Read(saltBytes); err != nil {
		return Credential{}, fmt.Errorf("credential: generate salt: %w", err)
	}
	salt := hex.EncodeToString(saltBytes)

	c := Credential{
		ID:          newID(),
		BirthYear:   birthYear,
		Nationality: nationality,
		Salt:        salt,
		CreatedAt:   time.Now().UTC(),
	}

	commitment, err := computeCommitment(birthYear, nationality, salt)
	if err != nil {
		return Credential{}, err
	}
	c.Commitment = commitment

	if err := Validate(c); err != nil {
		return Credential{}, err
	}
	return c, nil
}

// Validate enforces spec §4.1's constraints: birth_year in [1900, current_year],
// nationality in [1,999], salt parseable as hex, and commitment = poseidon_hash(...).
// Returns ErrInvalidFormat (wrapped with detail) for the first violation found, checked in
// the order above; later violations are not reported.
func Validate(c Credential) error {
	currentYear := uint16(time.Now().UTC().Year())
	if c.BirthYear < minBirthYear || c.BirthYear > currentYear {
		return fmt.Errorf("%w: birth_year %d out of range [%d,%d]", ErrInvalidFormat, c.BirthYear, minBirthYear, currentYear)
	}
	if c.Nationality < minNationality || c.Nationality > maxNationality {
		return fmt.Errorf("%w: nationality %d out of range [%d,%d]", ErrInvalidFormat, c.Nationality, minNationality, maxNationality)
	}
	saltBytes, err := hex.DecodeString(c.Salt)
	if err != nil || len(saltBytes) == 0 {
		return fmt.Errorf("%w: salt is not valid hex", ErrInvalidFormat)
	}

	expected, err := computeCommitment(c.BirthYear, c.Nationality, c.Salt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if expected != c.Commitment {
		return fmt.Errorf("%w: commitment does not match poseidon_hash(birth_year, nationality, salt)", ErrInvalidFormat)
	}
	return nil
}

// Commitment recomputes and returns the field-element commitment for c, independent of
// whatever value is currently stored in c.Commitment.
func Commitment(c Credential) (string, error) {
	return computeCommitment(c.BirthYear, c.Nationality, c.Salt)
}

func computeCommitment(birthYear, nationality uint16, saltHex string) (string, error) {
	saltBytes, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("%w: salt is not valid hex: %v", ErrInvalidFormat, err)
	}
	salt := field.FromBytes(saltBytes)
	h := poseidon.Hash(field.FromUint64(uint64(birthYear)), field.FromUint64(uint64(nationality)), salt)
	return h.String(), nil
}

// ToExternal strips the salt from c and attaches issuerDID, for interchange.
func ToExternal(c Credential, issuerDID string) External {
	return External{
		ID:          c.ID,
		BirthYear:   c.BirthYear,
		Nationality: c.Nationality,
		Commitment:  c.Commitment,
		CreatedAt:   c.CreatedAt,
		IssuerDID:   issuerDID,
	}
}

// FromExternal reconstructs the internal form from an External record plus the salt that
// was held out-of-band by the wallet. It fails if the reconstructed commitment does not
// match ext.Commitment, per spec §4.1.
func FromExternal(ext External, credentialID, saltHex string, createdAt time.Time) (Credential, error) {
	c := Credential{
		ID:          credentialID,
		BirthYear:   ext.BirthYear,
		Nationality: ext.Nationality,
		Salt:        saltHex,
		CreatedAt:   createdAt,
	}
	commitment, err := computeCommitment(c.BirthYear, c.Nationality, c.Salt)
	if err != nil {
		return Credential{}, err
	}
	if commitment != ext.Commitment {
		return Credential{}, fmt.Errorf("%w: re-derived commitment does not match external commitment", ErrInvalidFormat)
	}
	c.Commitment = commitment
	return c, nil
}

// newID mints a stable credential identifier. Kept internal (not uuid.New directly) so
// callers never need to reason about the id format, matching spec's "id: stable string".
func newID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return "cred_" + hex.EncodeToString(b)
}
