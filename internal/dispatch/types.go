// Package dispatch exposes the memory engine over a JSON-line protocol.
// Each request is one JSON object per line; each response is one JSON
// object per line. Callers embed wingmem as a subprocess and speak this
// protocol over stdio, or route single calls programmatically.
package dispatch

import (
	"encoding/json"

	"wingmem/internal/memory"
)

// Method names accepted on the wire.
const (
	MethodStore         = "store"
	MethodBatchStore    = "batch_store"
	MethodAddReference  = "add_reference"
	MethodGetAtom       = "get_atom"
	MethodCreateContext = "create_context"
	MethodAdjust        = "adjust"
	MethodCreateChain   = "create_chain"
	MethodValidate      = "validate"
	MethodRefactor      = "refactor"
	MethodQuery         = "query"
	MethodStats         = "stats"
)

// Error codes surfaced to callers. Every engine failure maps to exactly
// one of these.
const (
	CodeValidation = "validation_error"
	CodeNotFound   = "not_found"
	CodeStorage    = "storage_error"
	CodeBadRequest = "bad_request"
)

// Request is one decoded wire call.
type Request struct {
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is one wire reply. Exactly one of Result or Error is set.
type Response struct {
	ID     string      `json:"id,omitempty"`
	OK     bool        `json:"ok"`
	Result interface{} `json:"result,omitempty"`
	Error  *WireError  `json:"error,omitempty"`
}

// WireError carries a stable code plus a human-readable message.
type WireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StoreParams stores a single atom.
type StoreParams struct {
	memory.AtomInput
}

// StoreResult returns the stored (or deduplicated) atom id.
type StoreResult struct {
	AtomID string `json:"atom_id"`
}

// BatchStoreParams stores many atoms in one transaction.
type BatchStoreParams struct {
	Atoms []memory.AtomInput `json:"atoms"`
}

// BatchStoreResult returns ids positionally matching the input.
type BatchStoreResult struct {
	AtomIDs []string `json:"atom_ids"`
}

// AddReferenceParams upserts a relationship edge.
type AddReferenceParams struct {
	AtomID   string  `json:"atom_id"`
	RefType  string  `json:"ref_type"`
	Target   string  `json:"target"`
	Strength float64 `json:"strength"`
}

// GetAtomParams fetches one atom by id.
type GetAtomParams struct {
	AtomID string `json:"atom_id"`
}

// AtomView is the wire shape of an atom.
type AtomView struct {
	ID          string   `json:"id"`
	ContentHash string   `json:"content_hash"`
	Type        string   `json:"type"`
	WingPath    []string `json:"wing_path"`
	Weight      float64  `json:"weight"`
	Tags        []string `json:"tags"`
	CreatedAt   string   `json:"created_at"`
}

// CreateContextParams attaches a confidence overlay to an atom.
type CreateContextParams struct {
	AtomID        string  `json:"atom_id"`
	ContextType   string  `json:"context_type"`
	InitialWeight float64 `json:"initial_weight"`
}

// CreateContextResult returns the new annotation's id.
type CreateContextResult struct {
	ContextID string `json:"context_id"`
}

// AdjustParams applies a multiplicative weight adjustment with an audit
// reason.
type AdjustParams struct {
	ContextID      string  `json:"context_id"`
	AdjustmentType string  `json:"adjustment_type"`
	Value          float64 `json:"value"`
	Reason         string  `json:"reason,omitempty"`
}

// CreateChainParams declares an ordered pattern over existing atoms.
type CreateChainParams struct {
	Name      string   `json:"name"`
	ChainType string   `json:"chain_type"`
	MemberIDs []string `json:"member_ids"`
}

// CreateChainResult returns the new chain's id.
type CreateChainResult struct {
	ChainID string `json:"chain_id"`
}

// ValidateParams scores a chain.
type ValidateParams struct {
	ChainID string `json:"chain_id"`
}

// ValidateResult is the persisted validation breakdown.
type ValidateResult struct {
	ChainID      string  `json:"chain_id"`
	Score        float64 `json:"score"`
	Coherence    float64 `json:"coherence"`
	Completeness float64 `json:"completeness"`
	Accuracy     float64 `json:"accuracy"`
	MemberCount  int     `json:"member_count"`
}

// RefactorParams rewrites a chain's membership.
type RefactorParams struct {
	ChainID string `json:"chain_id"`
	Kind    string `json:"kind"`
}

// RefactorResult reports the membership change and the re-validated
// improvement delta.
type RefactorResult struct {
	ChainID      string  `json:"chain_id"`
	Kind         string  `json:"kind"`
	MembersAfter int     `json:"members_after"`
	ScoreBefore  float64 `json:"score_before"`
	ScoreAfter   float64 `json:"score_after"`
	Improvement  float64 `json:"improvement"`
}

// QueryParams runs a cross-layer retrieval.
type QueryParams struct {
	Text   string   `json:"text"`
	Layers []string `json:"layers,omitempty"`
	Limit  int      `json:"limit,omitempty"`
}

// ContextView is the wire shape of a context annotation.
type ContextView struct {
	ID             string  `json:"id"`
	ContextType    string  `json:"context_type"`
	AdjustedWeight float64 `json:"adjusted_weight"`
	Confidence     float64 `json:"confidence"`
	AccessCount    int64   `json:"access_count"`
}

// MembershipView is the wire shape of a validated chain membership.
type MembershipView struct {
	ChainID         string  `json:"chain_id"`
	ChainName       string  `json:"chain_name"`
	ChainType       string  `json:"chain_type"`
	ValidationScore float64 `json:"validation_score"`
	Position        int     `json:"position"`
	Role            string  `json:"role"`
}

// QueryResultView is one matched atom with its requested overlays.
type QueryResultView struct {
	Atom        AtomView         `json:"atom"`
	Contexts    []ContextView    `json:"contexts,omitempty"`
	Memberships []MembershipView `json:"memberships,omitempty"`
}

// QueryResponse wraps the result list with its count.
type QueryResponse struct {
	Results []QueryResultView `json:"results"`
	Count   int               `json:"count"`
}
