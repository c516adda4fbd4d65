package escrow

import (
	"fmt"
	"math/big"
)

// LedgerState is the durable storage surface the ledger operates against.
// Implementations must persist writes before returning.
type LedgerState interface {
	JobPut(*Job) error
	JobGet(id uint64) (*Job, bool, error)
	JobCount() (uint64, error)
	SetJobCount(uint64) error
	ActiveAppend(id uint64) error
	ActiveRemove(id uint64) error
	ActiveList() ([]uint64, error)
}

// Ledger owns the job collection: it assigns identifiers, stores records and
// performs guarded status transitions. Identifiers are unique and strictly
// increasing in assignment order, starting at 1.
type Ledger struct {
	state LedgerState
}

func NewLedger(state LedgerState) *Ledger {
	return &Ledger{state: state}
}

// Create allocates the next identifier and persists a Pending job. The amount
// must be positive and the deadline strictly later than the creation time.
func (l *Ledger) Create(client, freelancer [20]byte, amount *big.Int, createdAt, deadline int64) (*Job, error) {
	if l == nil || l.state == nil {
		return nil, fmt.Errorf("escrow: ledger state not configured")
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if deadline <= createdAt {
		return nil, fmt.Errorf("%w: deadline must be later than creation time", ErrInvalidInput)
	}
	count, err := l.state.JobCount()
	if err != nil {
		return nil, err
	}
	job := &Job{
		ID:         count + 1,
		Client:     client,
		Freelancer: freelancer,
		Amount:     new(big.Int).Set(amount),
		CreatedAt:  createdAt,
		Deadline:   deadline,
		Status:     StatusPending,
	}
	if err := l.state.JobPut(job); err != nil {
		return nil, err
	}
	if err := l.state.SetJobCount(job.ID); err != nil {
		return nil, err
	}
	if err := l.state.ActiveAppend(job.ID); err != nil {
		return nil, err
	}
	return job.Clone(), nil
}

// Get returns the stored job or ErrNotFound.
func (l *Ledger) Get(id uint64) (*Job, error) {
	if l == nil || l.state == nil {
		return nil, fmt.Errorf("escrow: ledger state not configured")
	}
	job, ok, err := l.state.JobGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return job.Clone(), nil
}

// Transition performs a compare-and-set on the job status: it succeeds only
// if the stored status equals expected, then atomically persists next and
// removes the id from the active set when next is terminal. This is what
// guarantees at most one terminal transition per job under racing callers;
// every later attempt observes a non-Pending status and fails ErrInvalidState.
func (l *Ledger) Transition(id uint64, expected, next JobStatus) (*Job, error) {
	if l == nil || l.state == nil {
		return nil, fmt.Errorf("escrow: ledger state not configured")
	}
	if !next.Valid() {
		return nil, fmt.Errorf("%w: status %d", ErrInvalidInput, next)
	}
	if expected.Terminal() {
		return nil, fmt.Errorf("%w: cannot transition out of %s", ErrInvalidState, expected)
	}
	job, ok, err := l.state.JobGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if job.Status != expected {
		return nil, fmt.Errorf("%w: id %d is %s", ErrInvalidState, id, job.Status)
	}
	job.Status = next
	if err := l.state.JobPut(job); err != nil {
		return nil, err
	}
	if next.Terminal() {
		if err := l.state.ActiveRemove(id); err != nil {
			return nil, err
		}
	}
	return job.Clone(), nil
}

// ListActive returns the identifiers of Pending jobs in insertion order.
func (l *Ledger) ListActive() ([]uint64, error) {
	if l == nil || l.state == nil {
		return nil, fmt.Errorf("escrow: ledger state not configured")
	}
	return l.state.ActiveList()
}

// Count returns the total number of jobs ever created.
func (l *Ledger) Count() (uint64, error) {
	if l == nil || l.state == nil {
		return 0, fmt.Errorf("escrow: ledger state not configured")
	}
	return l.state.JobCount()
}
