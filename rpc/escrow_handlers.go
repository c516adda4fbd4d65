package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"escrowd/crypto"
	"escrowd/escrow"
)

const (
	codeEscrowInvalidParams     = -32021
	codeEscrowNotFound          = -32022
	codeEscrowUnauthorized      = -32023
	codeEscrowInvalidState      = -32024
	codeEscrowDeadline          = -32025
	codeEscrowPaused            = -32026
	codeEscrowInsufficientFunds = -32027
	codeEscrowInternal          = -32028
)

type depositParams struct {
	Caller     string `json:"caller"`
	Freelancer string `json:"freelancer"`
	Amount     string `json:"amount"`
	Duration   int64  `json:"duration"`
}

type jobActionParams struct {
	Caller string `json:"caller"`
	ID     uint64 `json:"id"`
}

type jobQueryParams struct {
	ID uint64 `json:"id"`
}

type setPausedParams struct {
	Caller string `json:"caller"`
	Paused bool   `json:"paused"`
}

type transferOwnershipParams struct {
	Caller   string `json:"caller"`
	NewAdmin string `json:"newAdmin"`
}

type balanceParams struct {
	Address string `json:"address"`
}

type depositResult struct {
	ID uint64 `json:"id"`
}

type jobJSON struct {
	ID         uint64 `json:"id"`
	Client     string `json:"client"`
	Freelancer string `json:"freelancer"`
	Amount     string `json:"amount"`
	CreatedAt  int64  `json:"createdAt"`
	Deadline   int64  `json:"deadline"`
	Status     string `json:"status"`
}

type balanceResult struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

func jobToJSON(job *escrow.Job) jobJSON {
	amount := "0"
	if job.Amount != nil {
		amount = job.Amount.String()
	}
	return jobJSON{
		ID:         job.ID,
		Client:     crypto.MustNewAddress(crypto.EscrowPrefix, job.Client[:]).String(),
		Freelancer: crypto.MustNewAddress(crypto.EscrowPrefix, job.Freelancer[:]).String(),
		Amount:     amount,
		CreatedAt:  job.CreatedAt,
		Deadline:   job.Deadline,
		Status:     job.Status.String(),
	}
}

func parseAddressParam(value, field string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return [20]byte{}, fmt.Errorf("%s: %w", field, err)
	}
	if addr.Prefix() != crypto.EscrowPrefix {
		return [20]byte{}, fmt.Errorf("%s must use the %q prefix", field, crypto.EscrowPrefix)
	}
	return addr.Array(), nil
}

func parsePositiveBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

// writeEscrowError maps the engine's failure taxonomy onto the module's
// JSON-RPC error-code block.
func writeEscrowError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, escrow.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, id, codeEscrowInvalidParams, "invalid_input", err.Error())
	case errors.Is(err, escrow.ErrNotFound):
		writeError(w, http.StatusNotFound, id, codeEscrowNotFound, "not_found", err.Error())
	case errors.Is(err, escrow.ErrUnauthorized):
		writeError(w, http.StatusForbidden, id, codeEscrowUnauthorized, "unauthorized", err.Error())
	case errors.Is(err, escrow.ErrInvalidState):
		writeError(w, http.StatusConflict, id, codeEscrowInvalidState, "invalid_state", err.Error())
	case errors.Is(err, escrow.ErrDeadlinePassed), errors.Is(err, escrow.ErrDeadlineNotReached):
		writeError(w, http.StatusConflict, id, codeEscrowDeadline, "deadline", err.Error())
	case errors.Is(err, escrow.ErrPaused):
		writeError(w, http.StatusConflict, id, codeEscrowPaused, "paused", err.Error())
	case errors.Is(err, escrow.ErrInsufficientFunds):
		writeError(w, http.StatusConflict, id, codeEscrowInsufficientFunds, "insufficient_funds", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, id, codeEscrowInternal, "internal_error", err.Error())
	}
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params depositParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddressParam(params.Caller, "caller")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	freelancer, err := parseAddressParam(params.Freelancer, "freelancer")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := s.engine.Deposit(caller, freelancer, amount, params.Duration)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, depositResult{ID: id})
}

func (s *Server) handleJobAction(w http.ResponseWriter, r *http.Request, req *RPCRequest, action func(caller [20]byte, id uint64) error) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params jobActionParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddressParam(params.Caller, "caller")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := action(caller, params.ID); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleJobAction(w, r, req, s.engine.Release)
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleJobAction(w, r, req, s.engine.Refund)
}

func (s *Server) handleAutoRelease(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleJobAction(w, r, req, s.engine.AutoRelease)
}

func (s *Server) handleEmergencyRefund(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleJobAction(w, r, req, s.engine.EmergencyRefund)
}

func (s *Server) handleSetPaused(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params setPausedParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddressParam(params.Caller, "caller")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.SetPaused(caller, params.Paused); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params transferOwnershipParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddressParam(params.Caller, "caller")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	newAdmin, err := parseAddressParam(params.NewAdmin, "newAdmin")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.TransferOwnership(caller, newAdmin); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleGetJob(w http.ResponseWriter, req *RPCRequest) {
	var params jobQueryParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	job, err := s.engine.GetJob(params.ID)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, jobToJSON(job))
}

func (s *Server) handleGetActiveJobs(w http.ResponseWriter, req *RPCRequest) {
	ids, err := s.engine.ActiveJobs()
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	writeResult(w, req.ID, ids)
}

func (s *Server) handleGetTotalJobs(w http.ResponseWriter, req *RPCRequest) {
	count, err := s.engine.TotalJobs()
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, count)
}

func (s *Server) handleIsPaused(w http.ResponseWriter, req *RPCRequest) {
	paused, err := s.engine.IsPaused()
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, paused)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, req *RPCRequest) {
	var params balanceParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseAddressParam(params.Address, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.engine.Balance(addr)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, balanceResult{Address: strings.TrimSpace(params.Address), Balance: balance.String()})
}
