// Package scenario implements the multi-claim and named-scenario layer of spec §4.6.
//
// A MultiClaimRequest bundles several ClaimSpecs under one shared nonce/timestamp;
// expansion produces one PerClaimRequest per claim, verification of each is delegated to
// the caller (pkg/verifier), and aggregation folds the per-claim results back into one
// bundle-level outcome. Grounded on
// certenIO-certen-validator/pkg/verification/unified_verifier.go's
// config->per-level-check->VerificationResult shape, generalized from "4 fixed proof
// levels" to an arbitrary, caller-defined claim list.
package scenario

import (
	"errors"
	"fmt"
)

// ErrEmptyClaims is returned when a MultiClaimRequest carries no claims.
var ErrEmptyClaims = errors.New("scenario: claim list must be non-empty")

// ErrDuplicateLabel is returned when two claims in the same request share a label.
var ErrDuplicateLabel = errors.New("scenario: claim labels must be unique")

// ErrEmptyLabel is returned when a claim's label is blank.
var ErrEmptyLabel = errors.New("scenario: claim label must be non-empty")

// ErrBundleInconsistent is returned by NewMultiClaimRequest when a claim's configured
// attributes are incompatible with its claim type (spec §4.6).
var ErrBundleInconsistent = errors.New("scenario: BUNDLE_INCONSISTENT")

// ClaimType mirrors the proof-variant vocabulary relevant to a claim request.
type ClaimType string

const (
	ClaimTypeAge            ClaimType = "age"
	ClaimTypeAgeRevocable   ClaimType = "age-revocable"
	ClaimTypeNationality    ClaimType = "nationality"
)

const (
	minAgeBound = 0
	maxAgeBound = 150
	minNationalityBound = 1
	maxNationalityBound = 999
)

// ClaimSpec is one labeled claim within a bundle (spec §4.6).
type ClaimSpec struct {
	Label             string
	ClaimType         ClaimType
	MinAge            *int
	TargetNationality *int
}

func (c ClaimSpec) validate() error {
	if c.Label == "" {
		return ErrEmptyLabel
	}
	switch c.ClaimType {
	case ClaimTypeAge, ClaimTypeAgeRevocable:
		if c.MinAge == nil {
			return fmt.Errorf("%w: claim %q of type %q requires min_age", ErrBundleInconsistent, c.Label, c.ClaimType)
		}
		if *c.MinAge < minAgeBound || *c.MinAge > maxAgeBound {
			return fmt.Errorf("%w: claim %q min_age %d out of range [%d,%d]", ErrBundleInconsistent, c.Label, *c.MinAge, minAgeBound, maxAgeBound)
		}
	case ClaimTypeNationality:
		if c.TargetNationality == nil {
			return fmt.Errorf("%w: claim %q of type %q requires target_nationality", ErrBundleInconsistent, c.Label, c.ClaimType)
		}
		if *c.TargetNationality < minNationalityBound || *c.TargetNationality > maxNationalityBound {
			return fmt.Errorf("%w: claim %q target_nationality %d out of range [%d,%d]", ErrBundleInconsistent, c.Label, *c.TargetNationality, minNationalityBound, maxNationalityBound)
		}
	default:
		return fmt.Errorf("%w: claim %q has unknown claim_type %q", ErrBundleInconsistent, c.Label, c.ClaimType)
	}
	return nil
}

// MultiClaimRequest bundles claims under one shared nonce and timestamp (spec §4.6).
type MultiClaimRequest struct {
	Nonce              string
	RequestTimestampMs int64
	Claims             []ClaimSpec
}

// NewMultiClaimRequest validates and constructs a MultiClaimRequest: the claim list must be
// non-empty, labels must be non-empty and unique, and each claim's attributes must match
// its claim_type's required fields and ranges.
func NewMultiClaimRequest(nonce string, requestTimestampMs int64, claims []ClaimSpec) (MultiClaimRequest, error) {
	if len(claims) == 0 {
		return MultiClaimRequest{}, ErrEmptyClaims
	}
	seen := make(map[string]bool, len(claims))
	for _, c := range claims {
		if err := c.validate(); err != nil {
			return MultiClaimRequest{}, err
		}
		if seen[c.Label] {
			return MultiClaimRequest{}, fmt.Errorf("%w: %q", ErrDuplicateLabel, c.Label)
		}
		seen[c.Label] = true
	}
	return MultiClaimRequest{Nonce: nonce, RequestTimestampMs: requestTimestampMs, Claims: claims}, nil
}

// PerClaimRequest is one expanded proof request sharing the bundle's nonce/timestamp.
type PerClaimRequest struct {
	Label              string
	ClaimType          ClaimType
	MinAge             *int
	TargetNationality  *int
	Nonce              string
	RequestTimestampMs int64
}

// Expand produces one PerClaimRequest per claim, each carrying the bundle's shared
// nonce/timestamp (spec §4.6).
func Expand(req MultiClaimRequest) []PerClaimRequest {
	out := make([]PerClaimRequest, len(req.Claims))
	for i, c := range req.Claims {
		out[i] = PerClaimRequest{
			Label:              c.Label,
			ClaimType:          c.ClaimType,
			MinAge:             c.MinAge,
			TargetNationality:  c.TargetNationality,
			Nonce:              req.Nonce,
			RequestTimestampMs: req.RequestTimestampMs,
		}
	}
	return out
}

// ClaimResult is the verification outcome of a single expanded claim.
type ClaimResult struct {
	Label    string
	Verified bool
	Error    string
}

// AggregateResult folds per-claim results into a bundle-level outcome (spec §4.6).
type AggregateResult struct {
	AllVerified   bool
	VerifiedCount int
	TotalCount    int
	Results       []ClaimResult
}

// Aggregate folds claim results into the bundle-level summary: all_verified iff every
// claim verified.
func Aggregate(results []ClaimResult) AggregateResult {
	verified := 0
	for _, r := range results {
		if r.Verified {
			verified++
		}
	}
	return AggregateResult{
		AllVerified:   verified == len(results),
		VerifiedCount: verified,
		TotalCount:    len(results),
		Results:       results,
	}
}

// Scenario is a named, reusable claim bundle (spec §4.6, e.g. VOTING_ELIGIBILITY_US).
type Scenario struct {
	ID          string
	Name        string
	Description string
	Claims      []ClaimSpec
}

// ScenarioResult is the outcome of verifying a named scenario.
type ScenarioResult struct {
	Satisfied    bool
	FailedClaims []string
	Aggregate    AggregateResult
}

// VerifyScenario composes expand -> gather per-claim results (via verifyClaim, supplied by
// the caller, typically pkg/verifier.VerifyProof) -> aggregate. satisfied iff all_verified;
// failed claim labels are surfaced verbatim, per spec §4.6.
func VerifyScenario(s Scenario, nonce string, requestTimestampMs int64, verifyClaim func(PerClaimRequest) ClaimResult) (ScenarioResult, error) {
	req, err := NewMultiClaimRequest(nonce, requestTimestampMs, s.Claims)
	if err != nil {
		return ScenarioResult{}, err
	}
	expanded := Expand(req)

	results := make([]ClaimResult, len(expanded))
	var failed []string
	for i, pc := range expanded {
		r := verifyClaim(pc)
		results[i] = r
		if !r.Verified {
			failed = append(failed, r.Label)
		}
	}

	agg := Aggregate(results)
	return ScenarioResult{
		Satisfied:    agg.AllVerified,
		FailedClaims: failed,
		Aggregate:    agg,
	}, nil
}
