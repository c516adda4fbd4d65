package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"escrowd/core/types"
	"escrowd/escrow"
	"escrowd/storage"
)

var (
	keyJobCount = []byte("escrow/jobcount")
	keyActive   = []byte("escrow/active")
	keyAdmin    = []byte("escrow/admin")
	keyPaused   = []byte("escrow/paused")

	jobPrefix     = []byte("escrow/job/")
	accountPrefix = []byte("escrow/account/")
)

// storedJob is the RLP wire form of a job record. Timestamps are persisted as
// unsigned seconds because RLP has no signed integer encoding.
type storedJob struct {
	ID         uint64
	Client     [20]byte
	Freelancer [20]byte
	Amount     *big.Int
	CreatedAt  uint64
	Deadline   uint64
	Status     uint8
}

type storedAccount struct {
	Balance *big.Int
	Nonce   uint64
}

// Manager persists the whole contract aggregate — jobs, counters, the active
// set, administrator identity, pause flag and account balances — through a
// keyed storage backend. It implements escrow.LedgerState, escrow.AccessState
// and escrow.BankState. Serialization is the engine's responsibility; the
// manager performs no locking of its own.
type Manager struct {
	db storage.Database
}

func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func jobKey(id uint64) []byte {
	key := make([]byte, len(jobPrefix)+8)
	copy(key, jobPrefix)
	binary.BigEndian.PutUint64(key[len(jobPrefix):], id)
	return key
}

func accountKey(addr [20]byte) []byte {
	key := make([]byte, len(accountPrefix)+20)
	copy(key, accountPrefix)
	copy(key[len(accountPrefix):], addr[:])
	return key
}

// --- escrow.LedgerState ---

func (m *Manager) JobPut(job *escrow.Job) error {
	sanitized, err := escrow.SanitizeJob(job)
	if err != nil {
		return err
	}
	if sanitized.CreatedAt < 0 || sanitized.Deadline < 0 {
		return fmt.Errorf("state: job timestamps must not be negative")
	}
	encoded, err := rlp.EncodeToBytes(&storedJob{
		ID:         sanitized.ID,
		Client:     sanitized.Client,
		Freelancer: sanitized.Freelancer,
		Amount:     sanitized.Amount,
		CreatedAt:  uint64(sanitized.CreatedAt),
		Deadline:   uint64(sanitized.Deadline),
		Status:     uint8(sanitized.Status),
	})
	if err != nil {
		return err
	}
	return m.db.Put(jobKey(sanitized.ID), encoded)
}

func (m *Manager) JobGet(id uint64) (*escrow.Job, bool, error) {
	raw, err := m.db.Get(jobKey(id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var stored storedJob
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false, fmt.Errorf("state: decode job %d: %w", id, err)
	}
	return &escrow.Job{
		ID:         stored.ID,
		Client:     stored.Client,
		Freelancer: stored.Freelancer,
		Amount:     stored.Amount,
		CreatedAt:  int64(stored.CreatedAt),
		Deadline:   int64(stored.Deadline),
		Status:     escrow.JobStatus(stored.Status),
	}, true, nil
}

func (m *Manager) JobCount() (uint64, error) {
	raw, err := m.db.Get(keyJobCount)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("state: malformed job counter")
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (m *Manager) SetJobCount(count uint64) error {
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, count)
	return m.db.Put(keyJobCount, raw)
}

func (m *Manager) ActiveList() ([]uint64, error) {
	raw, err := m.db.Get(keyActive)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []uint64
	if err := rlp.DecodeBytes(raw, &ids); err != nil {
		return nil, fmt.Errorf("state: decode active set: %w", err)
	}
	return ids, nil
}

func (m *Manager) putActive(ids []uint64) error {
	encoded, err := rlp.EncodeToBytes(ids)
	if err != nil {
		return err
	}
	return m.db.Put(keyActive, encoded)
}

func (m *Manager) ActiveAppend(id uint64) error {
	ids, err := m.ActiveList()
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	return m.putActive(append(ids, id))
}

func (m *Manager) ActiveRemove(id uint64) error {
	ids, err := m.ActiveList()
	if err != nil {
		return err
	}
	filtered := ids[:0]
	for _, existing := range ids {
		if existing != id {
			filtered = append(filtered, existing)
		}
	}
	return m.putActive(filtered)
}

// --- escrow.AccessState ---

func (m *Manager) AdminGet() ([20]byte, bool, error) {
	raw, err := m.db.Get(keyAdmin)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return [20]byte{}, false, nil
	}
	if err != nil {
		return [20]byte{}, false, err
	}
	if len(raw) != 20 {
		return [20]byte{}, false, fmt.Errorf("state: malformed admin address")
	}
	var admin [20]byte
	copy(admin[:], raw)
	return admin, true, nil
}

func (m *Manager) AdminPut(admin [20]byte) error {
	return m.db.Put(keyAdmin, admin[:])
}

func (m *Manager) PausedGet() (bool, error) {
	raw, err := m.db.Get(keyPaused)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(raw) == 1 && raw[0] == 1, nil
}

func (m *Manager) PausedPut(paused bool) error {
	value := []byte{0}
	if paused {
		value[0] = 1
	}
	return m.db.Put(keyPaused, value)
}

// --- escrow.BankState ---

func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	raw, err := m.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return types.NewAccount(), nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedAccount
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	balance := stored.Balance
	if balance == nil {
		balance = big.NewInt(0)
	}
	return &types.Account{Balance: balance, Nonce: stored.Nonce}, nil
}

func (m *Manager) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		account = types.NewAccount()
	}
	balance := account.Balance
	if balance == nil {
		balance = big.NewInt(0)
	}
	if balance.Sign() < 0 {
		return fmt.Errorf("state: account balance must not be negative")
	}
	encoded, err := rlp.EncodeToBytes(&storedAccount{Balance: balance, Nonce: account.Nonce})
	if err != nil {
		return err
	}
	return m.db.Put(accountKey(addr), encoded)
}
