package state

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"gemfarm/core/types"
	"gemfarm/crypto"
	"gemfarm/native/farm"
	"gemfarm/storage"
)

const (
	farmKeyPrefix    = "gemfarm/farm/"
	farmerKeyPrefix  = "gemfarm/farmer/"
	vaultKeyPrefix   = "gemfarm/vault/"
	accountKeyPrefix = "gemfarm/account/"
)

var errInsufficientBalance = errors.New("state: insufficient balance")

// Manager persists farm ledger records into a key-value store and moves token
// balances between accounts. It implements farm.State.
type Manager struct {
	db storage.Database
	mu sync.RWMutex
}

// NewManager constructs a state manager backed by the supplied store.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// appendAddr appends the address prefix alongside its payload so that
// addresses sharing a payload under different prefixes never alias a key.
func appendAddr(key []byte, addr crypto.Address) []byte {
	key = append(key, string(addr.Prefix())...)
	key = append(key, '/')
	return append(key, addr.Bytes()...)
}

func farmKey(addr crypto.Address) []byte {
	return appendAddr([]byte(farmKeyPrefix), addr)
}

func farmerKey(farmAddr, owner crypto.Address) []byte {
	return appendAddr(appendAddr([]byte(farmerKeyPrefix), farmAddr), owner)
}

func vaultKey(addr crypto.Address) []byte {
	return appendAddr([]byte(vaultKeyPrefix), addr)
}

func accountKey(addr crypto.Address) []byte {
	return appendAddr([]byte(accountKeyPrefix), addr)
}

func (m *Manager) get(key []byte) ([]byte, error) {
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return raw, err
}

// GetFarm loads a farm record, returning (nil, nil) when absent.
func (m *Manager) GetFarm(addr crypto.Address) (*farm.Farm, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, err := m.get(farmKey(addr))
	if err != nil || raw == nil {
		return nil, err
	}
	var stored storedFarm
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("decode farm: %w", err)
	}
	return stored.toFarm()
}

// PutFarm persists a farm record.
func (m *Manager) PutFarm(f *farm.Farm) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := rlp.EncodeToBytes(newStoredFarm(f))
	if err != nil {
		return fmt.Errorf("encode farm: %w", err)
	}
	return m.db.Put(farmKey(f.Address), raw)
}

// GetFarmer loads a farmer record keyed by (farm, owner), (nil, nil) when absent.
func (m *Manager) GetFarmer(farmAddr, owner crypto.Address) (*farm.Farmer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, err := m.get(farmerKey(farmAddr, owner))
	if err != nil || raw == nil {
		return nil, err
	}
	var stored storedFarmer
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("decode farmer: %w", err)
	}
	return stored.toFarmer()
}

// PutFarmer persists a farmer record.
func (m *Manager) PutFarmer(f *farm.Farmer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := rlp.EncodeToBytes(newStoredFarmer(f))
	if err != nil {
		return fmt.Errorf("encode farmer: %w", err)
	}
	return m.db.Put(farmerKey(f.Farm, f.Owner), raw)
}

// GetVault loads a vault record, (nil, nil) when absent.
func (m *Manager) GetVault(addr crypto.Address) (*farm.Vault, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, err := m.get(vaultKey(addr))
	if err != nil || raw == nil {
		return nil, err
	}
	var stored storedVault
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("decode vault: %w", err)
	}
	return stored.toVault()
}

// PutVault persists a vault record.
func (m *Manager) PutVault(v *farm.Vault) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := rlp.EncodeToBytes(newStoredVault(v))
	if err != nil {
		return fmt.Errorf("encode vault: %w", err)
	}
	return m.db.Put(vaultKey(v.Address), raw)
}

func (m *Manager) getAccount(addr crypto.Address) (*types.Account, error) {
	raw, err := m.get(accountKey(addr))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return types.NewAccount(), nil
	}
	var stored storedAccount
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	return stored.toAccount(), nil
}

func (m *Manager) putAccount(addr crypto.Address, account *types.Account) error {
	raw, err := rlp.EncodeToBytes(newStoredAccount(account))
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}
	return m.db.Put(accountKey(addr), raw)
}

// GetAccount loads the token balances held at addr. Missing accounts read as
// empty, never as an error.
func (m *Manager) GetAccount(addr crypto.Address) (*types.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAccount(addr)
}

// BalanceOf returns the balance of token held at addr.
func (m *Manager) BalanceOf(token string, addr crypto.Address) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	account, err := m.getAccount(addr)
	if err != nil {
		return nil, err
	}
	return account.Balance(token), nil
}

// Transfer moves amount of token from one account to another. It fails
// without mutation when the source balance cannot cover the amount.
func (m *Manager) Transfer(token string, from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: invalid transfer amount")
	}
	if amount.Sign() == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	source, err := m.getAccount(from)
	if err != nil {
		return err
	}
	balance := source.Balance(token)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s %s, needs %s", errInsufficientBalance, from.String(), balance, token, amount)
	}
	// A self-transfer must not load the account twice; the second write would
	// clobber the debit and mint the amount out of nothing.
	if bytes.Equal(accountKey(from), accountKey(to)) {
		return nil
	}
	dest, err := m.getAccount(to)
	if err != nil {
		return err
	}
	source.SetBalance(token, new(big.Int).Sub(balance, amount))
	dest.SetBalance(token, new(big.Int).Add(dest.Balance(token), amount))
	if err := m.putAccount(from, source); err != nil {
		return err
	}
	return m.putAccount(to, dest)
}

// Mint credits freshly issued tokens to an account. It exists for genesis
// seeding and test fixtures; ledger operations only ever move existing
// balances.
func (m *Manager) Mint(token string, addr crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("state: invalid mint amount")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	account, err := m.getAccount(addr)
	if err != nil {
		return err
	}
	account.SetBalance(token, new(big.Int).Add(account.Balance(token), amount))
	return m.putAccount(addr, account)
}
