package rpc

import (
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"otpwallet/native/tokens"
	"otpwallet/observability/eventlog"
	"otpwallet/observability/logging"
)

func walletAddress(r *http.Request) (common.Address, error) {
	raw := chi.URLParam(r, "address")
	if !common.IsHexAddress(raw) {
		return common.Address{}, badRequest("invalid wallet address %q", raw)
	}
	return common.HexToAddress(raw), nil
}

// Health reports liveness.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "wallets": len(s.engine.Addresses())})
}

// CreateWallet registers a new wallet.
func (s *Server) CreateWallet(w http.ResponseWriter, r *http.Request) {
	var req CreateWalletRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	params, err := req.params()
	if err != nil {
		s.writeError(w, r, &requestError{err: err})
		return
	}
	if err := s.engine.Create(r.Context(), params); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"address": params.Address.Hex()})
}

// Commit records a commitment.
func (s *Server) Commit(w http.ResponseWriter, r *http.Request) {
	addr, err := walletAddress(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req CommitRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.Commit(r.Context(), addr, req.Hash); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"hash": req.Hash.Hex()})
}

// Reveal authenticates and applies an operation.
func (s *Server) Reveal(w http.ResponseWriter, r *http.Request) {
	addr, err := walletAddress(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body RevealRequest
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	req, err := body.request()
	if err != nil {
		s.writeError(w, r, &requestError{err: err})
		return
	}
	s.logger.DebugContext(r.Context(), "reveal received",
		"wallet", addr.Hex(),
		"kind", req.Operation.Kind.String(),
		logging.MaskField("eotp", req.Proof.EOTP.Hex()))
	if err := s.engine.Reveal(r.Context(), addr, req); err != nil {
		s.writeError(w, r, err)
		return
	}
	nonce, err := s.engine.Nonce(addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"kind": req.Operation.Kind.String(), "nonce": nonce})
}

// RecoverSelected sweeps chosen tokens out of a disabled wallet. The caller
// is the address that signed RecoverSelectedDigest, not a body field.
func (s *Server) RecoverSelected(w http.ResponseWriter, r *http.Request) {
	addr, err := walletAddress(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req RecoverSelectedRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	keys := make([]tokens.Key, 0, len(req.Tokens))
	for i, raw := range req.Tokens {
		key, err := raw.key()
		if err != nil {
			s.writeError(w, r, badRequest("tokens[%d]: %v", i, err))
			return
		}
		keys = append(keys, key)
	}
	caller, err := s.authorizeRecoverSelected(addr, req, keys)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.RecoverSelectedTokens(r.Context(), addr, caller, keys); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"requested": len(keys)})
}

// InboundToken is the host hook for received tokens. Only tokens the wallet
// holds are tracked.
func (s *Server) InboundToken(w http.ResponseWriter, r *http.Request) {
	addr, err := walletAddress(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req TokenKeyJSON
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	key, err := req.key()
	if err != nil {
		s.writeError(w, r, &requestError{err: err})
		return
	}
	tracked := s.engine.OnTokenReceived(r.Context(), addr, key)
	writeJSON(w, http.StatusOK, map[string]bool{"tracked": tracked})
}

// GetWallet returns a summary of the wallet state.
func (s *Server) GetWallet(w http.ResponseWriter, r *http.Request) {
	addr, err := walletAddress(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	wal, err := s.engine.Wallet(addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := map[string]any{
		"address":           wal.Address,
		"root":              wal.Active.Root,
		"nonce":             wal.Nonce,
		"recoveryAddress":   wal.RecoveryAddress,
		"forwardAddress":    wal.ForwardAddress,
		"backlinks":         wal.Backlinks,
		"disabled":          wal.Disabled,
		"invalidAttempts":   wal.InvalidAttempts,
		"lastOperationTime": wal.LastOperationTime,
		"hasStandby":        !wal.Standby.IsZero(),
	}
	if leaf, ok := wal.NextLeaf(s.engine.Now()); ok {
		resp["nextLeaf"] = leaf
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetNonce returns the wallet nonce.
func (s *Server) GetNonce(w http.ResponseWriter, r *http.Request) {
	addr, err := walletAddress(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	nonce, err := s.engine.Nonce(addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"nonce": nonce})
}

// GetCommits lists retained commitments.
func (s *Server) GetCommits(w http.ResponseWriter, r *http.Request) {
	addr, err := walletAddress(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	commits, err := s.engine.AllCommits(addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]CommitJSON, 0, len(commits))
	for _, c := range commits {
		out = append(out, newCommitJSON(c))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetTokens lists tracked tokens.
func (s *Server) GetTokens(w http.ResponseWriter, r *http.Request) {
	addr, err := walletAddress(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	keys, err := s.engine.TrackedTokens(addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]TokenKeyJSON, 0, len(keys))
	for _, k := range keys {
		out = append(out, newTokenKeyJSON(k))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetSpending returns the spending window.
func (s *Server) GetSpending(w http.ResponseWriter, r *http.Request) {
	addr, err := walletAddress(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	state, err := s.engine.SpendingState(addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSpendingJSON(state, s.engine.Now()))
}

// GetBalance reads a balance. Without a type query parameter it returns the
// native balance.
func (s *Server) GetBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := walletAddress(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	key := tokens.Key{Type: tokens.NONE}
	if raw := q.Get("type"); raw != "" {
		k, err := TokenKeyJSON{Type: raw, Contract: common.HexToAddress(q.Get("contract")), TokenID: q.Get("id")}.key()
		if err != nil {
			s.writeError(w, r, &requestError{err: err})
			return
		}
		key = k
	}
	balance, err := s.engine.Balance(addr, key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": balance.Dec()})
}

// GetLastOperationTime returns the timestamp of the last applied operation.
func (s *Server) GetLastOperationTime(w http.ResponseWriter, r *http.Request) {
	addr, err := walletAddress(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ts, err := s.engine.LastOperationTime(addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"lastOperationTime": ts})
}

// GetSignature checks a SIGN record. The signature is passed hex encoded in
// the sig query parameter.
func (s *Server) GetSignature(w http.ResponseWriter, r *http.Request) {
	addr, err := walletAddress(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	hash := common.HexToHash(chi.URLParam(r, "hash"))
	sig := common.FromHex(r.URL.Query().Get("sig"))
	writeJSON(w, http.StatusOK, map[string]bool{"valid": s.engine.IsValidSignature(addr, hash, sig)})
}

// GetEvents pages through the event journal for the wallet.
func (s *Server) GetEvents(w http.ResponseWriter, r *http.Request) {
	addr, err := walletAddress(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.events == nil {
		writeJSON(w, http.StatusNotImplemented, ErrorResponse{Error: "event journal disabled"})
		return
	}
	q := eventlog.Query{Wallet: addr.Hex(), Type: r.URL.Query().Get("type")}
	if raw := r.URL.Query().Get("after"); raw != "" {
		if q.After, err = strconv.ParseUint(raw, 10, 64); err != nil {
			s.writeError(w, r, badRequest("after: %v", err))
			return
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if q.Limit, err = strconv.Atoi(raw); err != nil {
			s.writeError(w, r, badRequest("limit: %v", err))
			return
		}
	}
	records, err := s.events.List(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]EventJSON, 0, len(records))
	for _, rec := range records {
		evt, err := rec.Event()
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		out = append(out, EventJSON{
			ID:         rec.ID.String(),
			Sequence:   rec.Sequence,
			Type:       evt.Type,
			Attributes: evt.Attributes,
			RecordedAt: rec.RecordedAt.Unix(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}
