package escrow

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"escrowd/core/events"
	"escrowd/core/types"
)

// BankState is the host-ledger surface the engine moves value through. The
// engine never mutates balances except via transfers between two accounts, so
// value is conserved across every operation.
type BankState interface {
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// VaultAddress returns the custody account. It is derived deterministically so
// every deployment holds escrowed value at the same well-known address, the
// way module vaults are derived elsewhere rather than configured.
func VaultAddress() [20]byte {
	var addr [20]byte
	hash := ethcrypto.Keccak256([]byte("escrowd/vault"))
	copy(addr[:], hash[12:])
	return addr
}

// Engine orchestrates client and freelancer actions against the ledger,
// enforcing authorization, timing and custody rules. Every public operation
// runs to completion under a single mutex: callers race, operations do not
// interleave, and the ledger's compare-and-set decides which racing terminal
// call wins.
//
// Ordering contract: a terminal status is always committed to the ledger
// strictly before the corresponding value transfer is issued, so a reentrant
// or secondary call can never observe a still-Pending job whose payout is
// already in flight.
type Engine struct {
	mu      sync.Mutex
	ledger  *Ledger
	access  *AccessController
	bank    BankState
	vault   [20]byte
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine(ledger *Ledger, access *AccessController, bank BankState) *Engine {
	return &Engine{
		ledger:  ledger,
		access:  access,
		bank:    bank,
		vault:   VaultAddress(),
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return types.NewAccount()
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

// transfer moves amount between two accounts through the host ledger.
func (e *Engine) transfer(from, to [20]byte, amount *big.Int) error {
	if e == nil || e.bank == nil {
		return fmt.Errorf("escrow: bank state not configured")
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: transfer amount must be positive", ErrInvalidInput)
	}
	fromAcc, err := e.bank.GetAccount(from)
	if err != nil {
		return err
	}
	toAcc, err := e.bank.GetAccount(to)
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	if fromAcc.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: balance %s, need %s", ErrInsufficientFunds, fromAcc.Balance, amount)
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	if err := e.bank.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return e.bank.PutAccount(to, toAcc)
}

func (e *Engine) requireNotPaused() error {
	paused, err := e.access.IsPaused()
	if err != nil {
		return err
	}
	if paused {
		return ErrPaused
	}
	return nil
}

// Deposit takes custody of amount on behalf of freelancer and creates a
// Pending job whose deadline is duration seconds from now. The caller is the
// client; the value moves from the caller's account into the vault before the
// job record exists, mirroring payable call semantics.
func (e *Engine) Deposit(caller, freelancer [20]byte, amount *big.Int, duration int64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireNotPaused(); err != nil {
		return 0, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("%w: duration must be positive", ErrInvalidInput)
	}
	if freelancer == ([20]byte{}) {
		return 0, fmt.Errorf("%w: freelancer address must not be zero", ErrInvalidInput)
	}
	if freelancer == caller {
		return 0, fmt.Errorf("%w: freelancer must differ from client", ErrInvalidInput)
	}
	if err := e.transfer(caller, e.vault, amount); err != nil {
		return 0, err
	}
	now := e.now()
	job, err := e.ledger.Create(caller, freelancer, amount, now, now+duration)
	if err != nil {
		return 0, err
	}
	e.emit(NewDepositedEvent(job))
	return job.ID, nil
}

// Release settles the job in favour of the freelancer. Only the client may
// release, and only while the job is Pending.
func (e *Engine) Release(caller [20]byte, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireNotPaused(); err != nil {
		return err
	}
	job, err := e.ledger.Get(id)
	if err != nil {
		return err
	}
	if caller != job.Client {
		return fmt.Errorf("%w: only client may release", ErrUnauthorized)
	}
	job, err = e.ledger.Transition(id, StatusPending, StatusReleased)
	if err != nil {
		return err
	}
	if err := e.transfer(e.vault, job.Freelancer, job.Amount); err != nil {
		return err
	}
	e.emit(NewReleasedEvent(job))
	return nil
}

// Refund returns custody to the client. Only the client may refund, only
// while the job is Pending, and only strictly before the deadline.
func (e *Engine) Refund(caller [20]byte, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireNotPaused(); err != nil {
		return err
	}
	job, err := e.ledger.Get(id)
	if err != nil {
		return err
	}
	if caller != job.Client {
		return fmt.Errorf("%w: only client may refund", ErrUnauthorized)
	}
	if job.Status != StatusPending {
		return fmt.Errorf("%w: id %d is %s", ErrInvalidState, id, job.Status)
	}
	if e.now() >= job.Deadline {
		return ErrDeadlinePassed
	}
	job, err = e.ledger.Transition(id, StatusPending, StatusRefunded)
	if err != nil {
		return err
	}
	if err := e.transfer(e.vault, job.Client, job.Amount); err != nil {
		return err
	}
	e.emit(NewRefundedEvent(job))
	return nil
}

// AutoRelease lets the freelancer claim custody once the deadline has been
// reached, so the freelancer is never left uncompensated indefinitely. The
// refund and auto-release windows meet exactly at the deadline: refund
// requires strictly before, auto-release at or after.
func (e *Engine) AutoRelease(caller [20]byte, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireNotPaused(); err != nil {
		return err
	}
	job, err := e.ledger.Get(id)
	if err != nil {
		return err
	}
	if caller != job.Freelancer {
		return fmt.Errorf("%w: only freelancer may claim", ErrUnauthorized)
	}
	if job.Status != StatusPending {
		return fmt.Errorf("%w: id %d is %s", ErrInvalidState, id, job.Status)
	}
	if e.now() < job.Deadline {
		return ErrDeadlineNotReached
	}
	job, err = e.ledger.Transition(id, StatusPending, StatusAutoReleased)
	if err != nil {
		return err
	}
	if err := e.transfer(e.vault, job.Freelancer, job.Amount); err != nil {
		return err
	}
	e.emit(NewAutoReleasedEvent(job))
	return nil
}

// EmergencyRefund is the administrator incident-response override: it returns
// custody to the client regardless of deadline and regardless of the pause
// flag, requiring only that the job is still Pending.
func (e *Engine) EmergencyRefund(caller [20]byte, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	admin, err := e.access.Admin()
	if err != nil {
		return err
	}
	if caller != admin {
		return fmt.Errorf("%w: only admin may emergency refund", ErrUnauthorized)
	}
	job, err := e.ledger.Get(id)
	if err != nil {
		return err
	}
	job, err = e.ledger.Transition(job.ID, StatusPending, StatusEmergencyRefunded)
	if err != nil {
		return err
	}
	if err := e.transfer(e.vault, job.Client, job.Amount); err != nil {
		return err
	}
	e.emit(NewEmergencyRefundedEvent(job, admin))
	return nil
}

// SetPaused flips the pause flag. Administrative operations stay available
// while paused.
func (e *Engine) SetPaused(caller [20]byte, paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.access.SetPaused(caller, paused); err != nil {
		return err
	}
	e.emit(NewPauseToggledEvent(paused))
	return nil
}

// TransferOwnership rotates the administrator identity.
func (e *Engine) TransferOwnership(caller, newAdmin [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	oldAdmin, err := e.access.TransferOwnership(caller, newAdmin)
	if err != nil {
		return err
	}
	e.emit(NewOwnershipTransferredEvent(oldAdmin, newAdmin))
	return nil
}

// GetJob returns the stored job or ErrNotFound.
func (e *Engine) GetJob(id uint64) (*Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Get(id)
}

// ActiveJobs returns the Pending job identifiers in insertion order.
func (e *Engine) ActiveJobs() ([]uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.ListActive()
}

// TotalJobs returns the number of jobs ever created.
func (e *Engine) TotalJobs() (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Count()
}

// IsPaused reports the pause flag.
func (e *Engine) IsPaused() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.access.IsPaused()
}

// Admin returns the current administrator identity.
func (e *Engine) Admin() ([20]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.access.Admin()
}

// Balance returns the host-ledger balance of an account. The vault address
// balance is the value currently in custody.
func (e *Engine) Balance(addr [20]byte) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	acc, err := e.bank.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	acc = ensureAccount(acc)
	return new(big.Int).Set(acc.Balance), nil
}

// Vault returns the custody account address.
func (e *Engine) Vault() [20]byte {
	return e.vault
}
