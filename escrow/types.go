package escrow

import (
	"fmt"
	"math/big"
)

// JobStatus represents the lifecycle states of an escrowed job. Pending is
// the only non-terminal status; every other status is terminal and admits no
// further transition.
type JobStatus uint8

const (
	StatusPending JobStatus = iota
	StatusReleased
	StatusRefunded
	StatusAutoReleased
	StatusEmergencyRefunded
)

// Valid reports whether the status value is within the supported range.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusReleased, StatusRefunded, StatusAutoReleased, StatusEmergencyRefunded:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transition.
func (s JobStatus) Terminal() bool {
	return s.Valid() && s != StatusPending
}

func (s JobStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReleased:
		return "released"
	case StatusRefunded:
		return "refunded"
	case StatusAutoReleased:
		return "auto_released"
	case StatusEmergencyRefunded:
		return "emergency_refunded"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Job captures one escrowed payment: the client funding it, the freelancer it
// is held for, the amount in custody and the deadline splitting the refund
// window from the auto-release window. Jobs are created only by a successful
// deposit and are never deleted, only marked terminal.
type Job struct {
	ID         uint64
	Client     [20]byte
	Freelancer [20]byte
	Amount     *big.Int
	CreatedAt  int64
	Deadline   int64
	Status     JobStatus
}

// Clone returns a deep copy of the job so callers can safely mutate the copy
// without affecting the stored instance.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	clone := *j
	if j.Amount != nil {
		clone.Amount = new(big.Int).Set(j.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// SanitizeJob validates the supplied job record, returning a cloned instance
// with a non-nil amount field. The function does not mutate the original.
func SanitizeJob(j *Job) (*Job, error) {
	if j == nil {
		return nil, fmt.Errorf("nil job")
	}
	clone := j.Clone()
	if clone.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("job amount must be positive")
	}
	if clone.Deadline <= clone.CreatedAt {
		return nil, fmt.Errorf("job deadline must be later than creation time")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid job status: %d", clone.Status)
	}
	return clone, nil
}
