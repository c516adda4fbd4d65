package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"escrowd/core/events"
	"escrowd/core/types"
	"escrowd/crypto"
	"escrowd/escrow"
	"escrowd/state"
	"escrowd/storage"
)

const testToken = "secret-token"

type testHarness struct {
	server *httptest.Server
	clock  *int64

	admin      crypto.Address
	client     crypto.Address
	freelancer crypto.Address
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	t.Setenv(AuthTokenEnv, testToken)

	manager := state.NewManager(storage.NewMemDB())
	ledger := escrow.NewLedger(manager)
	access := escrow.NewAccessController(manager)

	admin := mustAddr(t, 0xAD)
	client := mustAddr(t, 0x01)
	freelancer := mustAddr(t, 0x02)

	if err := access.Initialize(admin.Array()); err != nil {
		t.Fatalf("initialise access controller: %v", err)
	}
	if err := manager.PutAccount(client.Array(), &types.Account{Balance: big.NewInt(1_000_000), Nonce: 0}); err != nil {
		t.Fatalf("fund client: %v", err)
	}

	now := int64(1_700_000_000)
	eventLog := events.NewLog()
	engine := escrow.NewEngine(ledger, access, manager)
	engine.SetEmitter(eventLog)
	engine.SetNowFunc(func() int64 { return now })

	srv := httptest.NewServer(NewServer(engine, eventLog).Handler())
	t.Cleanup(srv.Close)

	return &testHarness{
		server:     srv,
		clock:      &now,
		admin:      admin,
		client:     client,
		freelancer: freelancer,
	}
}

func mustAddr(t *testing.T, fill byte) crypto.Address {
	t.Helper()
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = fill
	}
	addr, err := crypto.NewAddress(crypto.EscrowPrefix, raw)
	if err != nil {
		t.Fatalf("build address: %v", err)
	}
	return addr
}

func (h *testHarness) call(t *testing.T, token, method string, params interface{}) (*http.Response, RPCResponse) {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	body, err := json.Marshal(RPCRequest{
		JSONRPC: jsonRPCVersion,
		Method:  method,
		Params:  []json.RawMessage{raw},
		ID:      1,
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, h.server.URL, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := h.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s: %v", method, err)
	}
	defer resp.Body.Close()

	var decoded RPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode %s response: %v", method, err)
	}
	return resp, decoded
}

func (h *testHarness) deposit(t *testing.T, duration int64) uint64 {
	t.Helper()
	resp, decoded := h.call(t, testToken, "escrow_deposit", depositParams{
		Caller:     h.client.String(),
		Freelancer: h.freelancer.String(),
		Amount:     "1000",
		Duration:   duration,
	})
	if resp.StatusCode != http.StatusOK || decoded.Error != nil {
		t.Fatalf("deposit failed: status=%d err=%+v", resp.StatusCode, decoded.Error)
	}
	result, ok := decoded.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected deposit result %T", decoded.Result)
	}
	id, ok := result["id"].(float64)
	if !ok {
		t.Fatalf("deposit result missing id: %v", result)
	}
	return uint64(id)
}

func TestDepositReleaseFlow(t *testing.T) {
	h := newHarness(t)

	id := h.deposit(t, 7*24*3600)
	if id != 1 {
		t.Fatalf("expected first job id 1, got %d", id)
	}

	_, decoded := h.call(t, "", "escrow_getJob", jobQueryParams{ID: id})
	if decoded.Error != nil {
		t.Fatalf("getJob: %+v", decoded.Error)
	}
	job, ok := decoded.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected getJob result %T", decoded.Result)
	}
	if job["status"] != "pending" || job["amount"] != "1000" {
		t.Fatalf("unexpected job %v", job)
	}
	if job["client"] != h.client.String() || job["freelancer"] != h.freelancer.String() {
		t.Fatalf("addresses must render in bech32: %v", job)
	}

	resp, decoded := h.call(t, testToken, "escrow_release", jobActionParams{Caller: h.client.String(), ID: id})
	if resp.StatusCode != http.StatusOK || decoded.Error != nil {
		t.Fatalf("release failed: status=%d err=%+v", resp.StatusCode, decoded.Error)
	}

	_, decoded = h.call(t, "", "escrow_getJob", jobQueryParams{ID: id})
	job = decoded.Result.(map[string]interface{})
	if job["status"] != "released" {
		t.Fatalf("expected released job, got %v", job)
	}

	_, decoded = h.call(t, "", "escrow_getBalance", balanceParams{Address: h.freelancer.String()})
	balance := decoded.Result.(map[string]interface{})
	if balance["balance"] != "1000" {
		t.Fatalf("freelancer must hold the released amount: %v", balance)
	}
}

func TestMutatingMethodsRequireAuth(t *testing.T) {
	h := newHarness(t)

	params := depositParams{
		Caller:     h.client.String(),
		Freelancer: h.freelancer.String(),
		Amount:     "1000",
		Duration:   3600,
	}

	resp, decoded := h.call(t, "", "escrow_deposit", params)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", resp.StatusCode)
	}
	if decoded.Error == nil || decoded.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized error, got %+v", decoded.Error)
	}

	resp, decoded = h.call(t, "wrong-token", "escrow_deposit", params)
	if resp.StatusCode != http.StatusUnauthorized || decoded.Error == nil {
		t.Fatalf("expected 401 with a bad token, got %d %+v", resp.StatusCode, decoded.Error)
	}

	// Queries stay open.
	resp, decoded = h.call(t, "", "escrow_isPaused", struct{}{})
	if resp.StatusCode != http.StatusOK || decoded.Error != nil {
		t.Fatalf("queries must not require auth: %d %+v", resp.StatusCode, decoded.Error)
	}
}

func TestErrorCodeMapping(t *testing.T) {
	h := newHarness(t)
	id := h.deposit(t, 3600)

	// Unknown job.
	resp, decoded := h.call(t, "", "escrow_getJob", jobQueryParams{ID: 999})
	if resp.StatusCode != http.StatusNotFound || decoded.Error == nil || decoded.Error.Code != codeEscrowNotFound {
		t.Fatalf("expected not_found mapping, got %d %+v", resp.StatusCode, decoded.Error)
	}

	// Freelancer may not release.
	resp, decoded = h.call(t, testToken, "escrow_release", jobActionParams{Caller: h.freelancer.String(), ID: id})
	if resp.StatusCode != http.StatusForbidden || decoded.Error == nil || decoded.Error.Code != codeEscrowUnauthorized {
		t.Fatalf("expected unauthorized mapping, got %d %+v", resp.StatusCode, decoded.Error)
	}

	// Refund after the deadline.
	*h.clock += 7200
	resp, decoded = h.call(t, testToken, "escrow_refund", jobActionParams{Caller: h.client.String(), ID: id})
	if resp.StatusCode != http.StatusConflict || decoded.Error == nil || decoded.Error.Code != codeEscrowDeadline {
		t.Fatalf("expected deadline mapping, got %d %+v", resp.StatusCode, decoded.Error)
	}

	// Settle, then settle again.
	resp, decoded = h.call(t, testToken, "escrow_autoRelease", jobActionParams{Caller: h.freelancer.String(), ID: id})
	if resp.StatusCode != http.StatusOK || decoded.Error != nil {
		t.Fatalf("autoRelease failed: %d %+v", resp.StatusCode, decoded.Error)
	}
	resp, decoded = h.call(t, testToken, "escrow_release", jobActionParams{Caller: h.client.String(), ID: id})
	if resp.StatusCode != http.StatusConflict || decoded.Error == nil || decoded.Error.Code != codeEscrowInvalidState {
		t.Fatalf("expected invalid_state mapping, got %d %+v", resp.StatusCode, decoded.Error)
	}

	// Underfunded deposit.
	resp, decoded = h.call(t, testToken, "escrow_deposit", depositParams{
		Caller:     h.client.String(),
		Freelancer: h.freelancer.String(),
		Amount:     "99999999999",
		Duration:   3600,
	})
	if resp.StatusCode != http.StatusConflict || decoded.Error == nil || decoded.Error.Code != codeEscrowInsufficientFunds {
		t.Fatalf("expected insufficient_funds mapping, got %d %+v", resp.StatusCode, decoded.Error)
	}

	// Malformed address.
	resp, decoded = h.call(t, testToken, "escrow_release", map[string]interface{}{"caller": "not-bech32", "id": id})
	if resp.StatusCode != http.StatusBadRequest || decoded.Error == nil || decoded.Error.Code != codeEscrowInvalidParams {
		t.Fatalf("expected invalid_params mapping, got %d %+v", resp.StatusCode, decoded.Error)
	}
}

func TestPauseGate(t *testing.T) {
	h := newHarness(t)

	resp, decoded := h.call(t, testToken, "escrow_setPaused", setPausedParams{Caller: h.admin.String(), Paused: true})
	if resp.StatusCode != http.StatusOK || decoded.Error != nil {
		t.Fatalf("setPaused failed: %d %+v", resp.StatusCode, decoded.Error)
	}

	resp, decoded = h.call(t, testToken, "escrow_deposit", depositParams{
		Caller:     h.client.String(),
		Freelancer: h.freelancer.String(),
		Amount:     "1000",
		Duration:   3600,
	})
	if resp.StatusCode != http.StatusConflict || decoded.Error == nil || decoded.Error.Code != codeEscrowPaused {
		t.Fatalf("expected paused mapping, got %d %+v", resp.StatusCode, decoded.Error)
	}

	_, decoded = h.call(t, "", "escrow_isPaused", struct{}{})
	if paused, ok := decoded.Result.(bool); !ok || !paused {
		t.Fatalf("isPaused must report true, got %v", decoded.Result)
	}
}

func TestEmergencyRefundWhilePaused(t *testing.T) {
	h := newHarness(t)
	id := h.deposit(t, 3600)

	if _, decoded := h.call(t, testToken, "escrow_setPaused", setPausedParams{Caller: h.admin.String(), Paused: true}); decoded.Error != nil {
		t.Fatalf("setPaused: %+v", decoded.Error)
	}

	resp, decoded := h.call(t, testToken, "escrow_emergencyRefund", jobActionParams{Caller: h.admin.String(), ID: id})
	if resp.StatusCode != http.StatusOK || decoded.Error != nil {
		t.Fatalf("emergency refund must bypass the pause gate: %d %+v", resp.StatusCode, decoded.Error)
	}

	_, decoded = h.call(t, "", "escrow_getJob", jobQueryParams{ID: id})
	job := decoded.Result.(map[string]interface{})
	if job["status"] != "emergency_refunded" {
		t.Fatalf("expected emergency refunded job, got %v", job)
	}

	_, decoded = h.call(t, "", "escrow_getBalance", balanceParams{Address: h.client.String()})
	balance := decoded.Result.(map[string]interface{})
	if balance["balance"] != "1000000" {
		t.Fatalf("client must be made whole: %v", balance)
	}
}

func TestMethodNotFound(t *testing.T) {
	h := newHarness(t)
	resp, decoded := h.call(t, "", "escrow_bogus", struct{}{})
	if resp.StatusCode != http.StatusNotFound || decoded.Error == nil || decoded.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method_not_found, got %d %+v", resp.StatusCode, decoded.Error)
	}
}

func TestActiveAndTotalCounters(t *testing.T) {
	h := newHarness(t)
	first := h.deposit(t, 3600)
	second := h.deposit(t, 3600)

	_, decoded := h.call(t, "", "escrow_getActiveJobs", struct{}{})
	active, ok := decoded.Result.([]interface{})
	if !ok || len(active) != 2 {
		t.Fatalf("expected two active jobs, got %v", decoded.Result)
	}

	if _, decoded := h.call(t, testToken, "escrow_release", jobActionParams{Caller: h.client.String(), ID: first}); decoded.Error != nil {
		t.Fatalf("release: %+v", decoded.Error)
	}

	_, decoded = h.call(t, "", "escrow_getActiveJobs", struct{}{})
	active = decoded.Result.([]interface{})
	if len(active) != 1 || uint64(active[0].(float64)) != second {
		t.Fatalf("expected only the second job active, got %v", decoded.Result)
	}

	_, decoded = h.call(t, "", "escrow_getTotalJobs", struct{}{})
	if total, ok := decoded.Result.(float64); !ok || uint64(total) != 2 {
		t.Fatalf("total jobs must count settled jobs too, got %v", decoded.Result)
	}
}
