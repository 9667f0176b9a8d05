// Package server exposes the verifier over HTTP, following
// certenIO-certen-validator/pkg/server/proof_handlers.go's idiom: a handler struct holding
// its collaborators and a *log.Logger, stdlib net/http with a plain ServeMux over fixed paths (no router
// dependency -- the teacher never imports one either), and writeJSON/writeError helpers for
// uniform response shaping.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/zkidlabs/verifier/pkg/field"
	"github.com/zkidlabs/verifier/pkg/proof"
	"github.com/zkidlabs/verifier/pkg/signature"
	"github.com/zkidlabs/verifier/pkg/store"
	"github.com/zkidlabs/verifier/pkg/verifier"
)

// ProtocolVersionHeader is the header carrying the protocol version string on both the
// request and the response, per spec §6.
const ProtocolVersionHeader = "X-ZkId-Protocol-Version"

// RevocationService is the capability the root/witness endpoints need. Both revocation
// backends (pkg/revocation/smt, pkg/revocation/indexed) are adapted to this shape so the
// HTTP layer doesn't care which one a deployment chose, mirroring pkg/verifier's own
// RevocationChecker split.
type RevocationService interface {
	RootInfo(ctx context.Context) (RootInfo, error)
	Witness(ctx context.Context, commitment field.Element) (Witness, bool, error)
}

// RootInfo is the JSON shape of spec §3's "Revocation root info".
type RootInfo struct {
	Root      string    `json:"root"`
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Witness is the JSON shape of a Merkle membership/non-membership witness (spec §3).
type Witness struct {
	Root        string   `json:"root"`
	PathIndices []int    `json:"path_indices"`
	Siblings    []string `json:"siblings"`
}

// Handlers wires a *verifier.Verifier and the challenge/revocation surfaces into the five
// endpoints named in spec §6.
type Handlers struct {
	Verifier          *verifier.Verifier
	ChallengeStore    *store.ChallengeStore
	Revocation        RevocationService // nil: /revocation/* answers 503
	ServerProtocolVer string

	logger *log.Logger
}

// NewHandlers constructs Handlers. logger defaults to a "[zkid]"-prefixed stdlib logger
// when nil, matching the teacher's NewProofHandlers default.
func NewHandlers(v *verifier.Verifier, challenges *store.ChallengeStore, revocation RevocationService, serverProtocolVersion string, logger *log.Logger) *Handlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[zkid] ", log.LstdFlags)
	}
	return &Handlers{
		Verifier:          v,
		ChallengeStore:    challenges,
		Revocation:        revocation,
		ServerProtocolVer: serverProtocolVersion,
		logger:            logger,
	}
}

// Mux builds the http.ServeMux routing spec §6's fixed endpoint set. Every path here is
// static (no path parameters), unlike the teacher's /api/v1/proofs/tx/{hash} routes, so a
// plain ServeMux entry per endpoint is enough.
func (h *Handlers) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/verify", h.handleVerify)
	mux.HandleFunc("/verify/scenario", h.handleVerifyScenario)
	mux.HandleFunc("/revocation/root", h.handleRevocationRoot)
	mux.HandleFunc("/revocation/witness", h.handleRevocationWitness)
	mux.HandleFunc("/challenge", h.handleChallenge)
	return mux
}

// verifyRequestBody is the wire shape of a ProofResponse submitted to /verify.
type verifyRequestBody struct {
	Variant            proof.Variant                `json:"variant"`
	Envelope           proof.Envelope                `json:"envelope"`
	SignedCredential   *signature.SignedCredential   `json:"signed_credential,omitempty"`
	CredentialID       string                        `json:"credential_id,omitempty"`
	IssuerName         string                        `json:"issuer_name,omitempty"`
	Nonce              string                        `json:"nonce"`
	RequestTimestampMs int64                         `json:"request_timestamp_ms"`
	Signed             bool                          `json:"signed"` // true -> VerifySignedProof
}

func (b verifyRequestBody) toProofResponse() verifier.ProofResponse {
	return verifier.ProofResponse{
		Variant:            b.Variant,
		Envelope:           b.Envelope,
		SignedCredential:   b.SignedCredential,
		CredentialID:       b.CredentialID,
		IssuerName:         b.IssuerName,
		Nonce:              b.Nonce,
		RequestTimestampMs: b.RequestTimestampMs,
	}
}

// verifyResponseBody is spec §6's documented /verify response shape:
// {verified, claim_type?, min_age?, target_nationality?, error?}.
type verifyResponseBody struct {
	Verified          bool    `json:"verified"`
	ClaimType         string  `json:"claim_type,omitempty"`
	MinAge            *int64  `json:"min_age,omitempty"`
	TargetNationality *int64  `json:"target_nationality,omitempty"`
	Error             *wireError `json:"error,omitempty"`
}

type wireError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func clientIDFor(r *http.Request) string {
	if id := r.Header.Get("X-ZkId-Client-Id"); id != "" {
		return id
	}
	return r.RemoteAddr
}

func (h *Handlers) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is supported")
		return
	}

	var body verifyRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "MALFORMED_REQUEST", err.Error())
		return
	}

	protocolVersion := r.Header.Get(ProtocolVersionHeader)
	clientID := clientIDFor(r)
	resp := body.toProofResponse()

	var (
		result verifier.Result
		err    error
	)
	if body.Signed {
		result, err = h.Verifier.VerifySignedProof(r.Context(), resp, clientID, protocolVersion)
	} else {
		result, err = h.Verifier.VerifyProof(r.Context(), resp, clientID, protocolVersion)
	}

	w.Header().Set(ProtocolVersionHeader, h.ServerProtocolVer)

	if err != nil {
		h.writeVerifyError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, verifyResponseBody{
		Verified:          result.Verified,
		ClaimType:         result.ClaimType,
		MinAge:            result.MinAge,
		TargetNationality: result.TargetNationality,
	})
}

// writeVerifyError maps a gate rejection to spec §6's {verified:false, error} body. A
// GateError always carries a Kind; any other error (malformed envelope, decode failure
// inside extractSignals) is reported as a generic validation failure with its message, not
// its Go error type name, per spec §7's "kind, not type-name" taxonomy.
func (h *Handlers) writeVerifyError(w http.ResponseWriter, err error) {
	var gateErr *verifier.GateError
	kind := "VALIDATION_ERROR"
	if errors.As(err, &gateErr) {
		kind = string(gateErr.Kind)
	}
	h.writeJSON(w, http.StatusOK, verifyResponseBody{
		Verified: false,
		Error:    &wireError{Kind: kind, Message: err.Error()},
	})
}

// scenarioBundleItem pairs a bundle label with its submitted proof response.
type scenarioBundleItem struct {
	Label    string            `json:"label"`
	Response verifyRequestBody `json:"response"`
}

type scenarioRequestBody struct {
	ScenarioID string               `json:"scenario_id"`
	Responses  []scenarioBundleItem `json:"responses"`
}

type scenarioResponseBody struct {
	AllVerified   bool                  `json:"all_verified"`
	VerifiedCount int                   `json:"verified_count"`
	TotalCount    int                   `json:"total_count"`
	Results       []scenarioClaimResult `json:"results"`
	Error         *wireError            `json:"error,omitempty"`
}

type scenarioClaimResult struct {
	Label    string `json:"label"`
	Verified bool   `json:"verified"`
	Error    string `json:"error,omitempty"`
}

func (h *Handlers) handleVerifyScenario(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is supported")
		return
	}

	var body scenarioRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "MALFORMED_REQUEST", err.Error())
		return
	}
	if len(body.Responses) == 0 {
		h.writeError(w, http.StatusBadRequest, "BUNDLE_INCONSISTENT", "responses must be non-empty")
		return
	}

	items := make([]verifier.BundleItem, len(body.Responses))
	for i, it := range body.Responses {
		items[i] = verifier.BundleItem{Label: it.Label, Response: it.Response.toProofResponse()}
	}

	protocolVersion := r.Header.Get(ProtocolVersionHeader)
	clientID := clientIDFor(r)

	agg, err := h.Verifier.VerifyScenarioBundle(r.Context(), items, clientID, protocolVersion)
	w.Header().Set(ProtocolVersionHeader, h.ServerProtocolVer)
	if err != nil {
		var gateErr *verifier.GateError
		kind := "VALIDATION_ERROR"
		if errors.As(err, &gateErr) {
			kind = string(gateErr.Kind)
		}
		h.writeJSON(w, http.StatusOK, scenarioResponseBody{
			Error: &wireError{Kind: kind, Message: err.Error()},
		})
		return
	}

	results := make([]scenarioClaimResult, len(agg.Results))
	for i, r := range agg.Results {
		results[i] = scenarioClaimResult{Label: r.Label, Verified: r.Verified, Error: r.Error}
	}
	h.writeJSON(w, http.StatusOK, scenarioResponseBody{
		AllVerified:   agg.AllVerified,
		VerifiedCount: agg.VerifiedCount,
		TotalCount:    agg.TotalCount,
		Results:       results,
	})
}

func (h *Handlers) handleRevocationRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only GET is supported")
		return
	}
	if h.Revocation == nil {
		h.writeError(w, http.StatusServiceUnavailable, "CONFIG_ERROR", "revocation tree is not configured")
		return
	}
	info, err := h.Revocation.RootInfo(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "REVOCATION_ERROR", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

func (h *Handlers) handleRevocationWitness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only GET is supported")
		return
	}
	if h.Revocation == nil {
		h.writeError(w, http.StatusServiceUnavailable, "CONFIG_ERROR", "revocation tree is not configured")
		return
	}
	commitmentStr := r.URL.Query().Get("commitment")
	if commitmentStr == "" {
		h.writeError(w, http.StatusBadRequest, "MALFORMED_REQUEST", "commitment query parameter is required")
		return
	}
	commitment, err := field.FromDecimalString(commitmentStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "MALFORMED_REQUEST", "commitment must be a decimal field element")
		return
	}
	witness, ok, err := h.Revocation.Witness(r.Context(), commitment)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "REVOCATION_ERROR", err.Error())
		return
	}
	if !ok {
		h.writeError(w, http.StatusNotFound, "WITNESS_NOT_FOUND", "no witness for commitment")
		return
	}
	h.writeJSON(w, http.StatusOK, witness)
}

type challengeResponseBody struct {
	Nonce              string `json:"nonce"`
	RequestTimestampMs int64  `json:"request_timestamp"`
}

func (h *Handlers) handleChallenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is supported")
		return
	}
	c, err := h.ChallengeStore.Issue(time.Now().UnixMilli())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "CHALLENGE_ERROR", err.Error())
		return
	}
	h.writeJSON(w, http.StatusCreated, challengeResponseBody{
		Nonce:              c.Nonce,
		RequestTimestampMs: c.RequestTimestampMs,
	})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Printf("error encoding response: %v", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
