package escrow

import (
	"math/big"
	"testing"
)

func TestJobStatusValid(t *testing.T) {
	valid := []JobStatus{StatusPending, StatusReleased, StatusRefunded, StatusAutoReleased, StatusEmergencyRefunded}
	for _, status := range valid {
		if !status.Valid() {
			t.Fatalf("expected %s to be valid", status)
		}
	}
	if JobStatus(99).Valid() {
		t.Fatalf("expected status 99 to be invalid")
	}
}

func TestJobStatusTerminal(t *testing.T) {
	if StatusPending.Terminal() {
		t.Fatalf("pending must not be terminal")
	}
	for _, status := range []JobStatus{StatusReleased, StatusRefunded, StatusAutoReleased, StatusEmergencyRefunded} {
		if !status.Terminal() {
			t.Fatalf("expected %s to be terminal", status)
		}
	}
	if JobStatus(99).Terminal() {
		t.Fatalf("invalid status must not report terminal")
	}
}

func TestJobClone(t *testing.T) {
	job := &Job{ID: 1, Amount: big.NewInt(10), CreatedAt: 1, Deadline: 2}
	clone := job.Clone()
	clone.Amount.SetInt64(99)
	if job.Amount.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("clone must not share the amount, got %s", job.Amount)
	}
	var nilJob *Job
	if nilJob.Clone() != nil {
		t.Fatalf("nil clone must stay nil")
	}
}

func TestSanitizeJob(t *testing.T) {
	base := &Job{
		ID:         1,
		Client:     newTestAddress(0x01),
		Freelancer: newTestAddress(0x02),
		Amount:     big.NewInt(10),
		CreatedAt:  100,
		Deadline:   200,
		Status:     StatusPending,
	}
	if _, err := SanitizeJob(base); err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if _, err := SanitizeJob(nil); err == nil {
		t.Fatalf("nil job must fail")
	}

	zeroAmount := base.Clone()
	zeroAmount.Amount = big.NewInt(0)
	if _, err := SanitizeJob(zeroAmount); err == nil {
		t.Fatalf("zero amount must fail")
	}

	badDeadline := base.Clone()
	badDeadline.Deadline = base.CreatedAt
	if _, err := SanitizeJob(badDeadline); err == nil {
		t.Fatalf("deadline at creation time must fail")
	}

	badStatus := base.Clone()
	badStatus.Status = JobStatus(42)
	if _, err := SanitizeJob(badStatus); err == nil {
		t.Fatalf("invalid status must fail")
	}
}
