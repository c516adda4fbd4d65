package escrow

import "fmt"

// AccessState persists the administrator identity and the pause flag.
type AccessState interface {
	AdminGet() ([20]byte, bool, error)
	AdminPut([20]byte) error
	PausedGet() (bool, error)
	PausedPut(bool) error
}

// AccessController owns the administrator identity and the pause flag and
// gates every mutation of them. No other component writes this state.
type AccessController struct {
	state AccessState
}

func NewAccessController(state AccessState) *AccessController {
	return &AccessController{state: state}
}

// Initialize records the administrator on first boot. A previously stored
// administrator always wins so a config edit cannot silently rotate ownership;
// rotation goes through TransferOwnership.
func (a *AccessController) Initialize(admin [20]byte) error {
	if a == nil || a.state == nil {
		return fmt.Errorf("escrow: access state not configured")
	}
	if admin == ([20]byte{}) {
		return fmt.Errorf("%w: admin address must not be zero", ErrInvalidInput)
	}
	if _, ok, err := a.state.AdminGet(); err != nil {
		return err
	} else if ok {
		return nil
	}
	return a.state.AdminPut(admin)
}

// Admin returns the current administrator identity.
func (a *AccessController) Admin() ([20]byte, error) {
	if a == nil || a.state == nil {
		return [20]byte{}, fmt.Errorf("escrow: access state not configured")
	}
	admin, ok, err := a.state.AdminGet()
	if err != nil {
		return [20]byte{}, err
	}
	if !ok {
		return [20]byte{}, fmt.Errorf("escrow: administrator not initialised")
	}
	return admin, nil
}

// IsPaused reports whether mutating operations are currently blocked.
func (a *AccessController) IsPaused() (bool, error) {
	if a == nil || a.state == nil {
		return false, fmt.Errorf("escrow: access state not configured")
	}
	return a.state.PausedGet()
}

// SetPaused flips the pause flag. Only the administrator may call it.
func (a *AccessController) SetPaused(caller [20]byte, paused bool) error {
	admin, err := a.Admin()
	if err != nil {
		return err
	}
	if caller != admin {
		return fmt.Errorf("%w: only admin may pause", ErrUnauthorized)
	}
	return a.state.PausedPut(paused)
}

// TransferOwnership rotates the administrator identity and returns the
// previous one. The new administrator must be a non-zero address.
func (a *AccessController) TransferOwnership(caller, newAdmin [20]byte) ([20]byte, error) {
	admin, err := a.Admin()
	if err != nil {
		return [20]byte{}, err
	}
	if caller != admin {
		return [20]byte{}, fmt.Errorf("%w: only admin may transfer ownership", ErrUnauthorized)
	}
	if newAdmin == ([20]byte{}) {
		return [20]byte{}, fmt.Errorf("%w: new admin address must not be zero", ErrInvalidInput)
	}
	if err := a.state.AdminPut(newAdmin); err != nil {
		return [20]byte{}, err
	}
	return admin, nil
}
