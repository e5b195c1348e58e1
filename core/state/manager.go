package state

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"barrio/core/types"
	"barrio/native/market"
	"barrio/storage"
)

const (
	accountPrefix = "account/"
	listingPrefix = "market/listing/"
	escrowPrefix  = "market/escrow/"
	kvPrefix      = "kv/"
	listingIndex  = "market/listings"
	vaultSeed     = "market/vault"
)

// Manager provides typed access to the underlying key-value database. It
// serves as the single state backend for the bank ledger, the marketplace
// engine and the reputation ledger.
type Manager struct {
	db storage.Database
	mu sync.Mutex
}

// NewManager wraps a database in a typed state manager.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) getJSON(key []byte, out interface{}) (bool, error) {
	raw, err := m.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

func (m *Manager) putJSON(key []byte, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	return m.db.Put(key, raw)
}

func accountKey(addr [20]byte) []byte {
	return []byte(accountPrefix + hex.EncodeToString(addr[:]))
}

// listingKey hashes the opaque listing identifier so arbitrary content-hash
// strings map onto fixed-width database keys.
func listingKey(id string) []byte {
	digest := gethcrypto.Keccak256([]byte(id))
	return []byte(listingPrefix + hex.EncodeToString(digest))
}

func escrowKey(id string) []byte {
	digest := gethcrypto.Keccak256([]byte(id))
	return []byte(escrowPrefix + hex.EncodeToString(digest))
}

// GetAccount loads the account stored for addr. Unknown addresses yield a
// fresh zero-balance account.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	var acc types.Account
	ok, err := m.getJSON(accountKey(addr), &acc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return types.EnsureAccount(nil), nil
	}
	return types.EnsureAccount(&acc), nil
}

// PutAccount persists the account record for addr.
func (m *Manager) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	return m.putJSON(accountKey(addr), types.EnsureAccount(account))
}

// MarketListingPut validates and persists a listing, registering new
// identifiers in the creation-ordered index.
func (m *Manager) MarketListingPut(l *market.Listing) error {
	sanitized, err := market.SanitizeListing(l)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := listingKey(sanitized.ID)
	exists, err := m.db.Has(key)
	if err != nil {
		return err
	}
	if err := m.putJSON(key, sanitized); err != nil {
		return err
	}
	if !exists {
		return m.indexAdd(sanitized.ID)
	}
	return nil
}

// MarketListingGet loads a listing by identifier. Absence and failure are
// distinct: a corrupt or unreadable record reports its error instead of
// masquerading as a missing listing.
func (m *Manager) MarketListingGet(id string) (*market.Listing, bool, error) {
	var listing market.Listing
	ok, err := m.getJSON(listingKey(id), &listing)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &listing, true, nil
}

// MarketListingDelete removes a listing record and its index entry.
func (m *Manager) MarketListingDelete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.db.Delete(listingKey(id)); err != nil {
		return err
	}
	return m.indexRemove(id)
}

// MarketListingIDs returns every stored listing identifier in creation order.
func (m *Manager) MarketListingIDs() ([]string, error) {
	var ids []string
	if _, err := m.getJSON([]byte(listingIndex), &ids); err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (m *Manager) indexAdd(id string) error {
	var ids []string
	if _, err := m.getJSON([]byte(listingIndex), &ids); err != nil {
		return err
	}
	ids = append(ids, id)
	return m.putJSON([]byte(listingIndex), ids)
}

func (m *Manager) indexRemove(id string) error {
	var ids []string
	if _, err := m.getJSON([]byte(listingIndex), &ids); err != nil {
		return err
	}
	filtered := ids[:0]
	for _, existing := range ids {
		if existing != id {
			filtered = append(filtered, existing)
		}
	}
	return m.putJSON([]byte(listingIndex), filtered)
}

// MarketEscrowBalance returns the escrow custody balance for a listing.
func (m *Manager) MarketEscrowBalance(id string) (*big.Int, error) {
	var encoded string
	ok, err := m.getJSON(escrowKey(id), &encoded)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	balance, valid := new(big.Int).SetString(encoded, 10)
	if !valid {
		return nil, fmt.Errorf("state: corrupt escrow balance for %s", id)
	}
	return balance, nil
}

// MarketEscrowCredit increases the escrow custody balance for a listing.
func (m *Manager) MarketEscrowCredit(id string, amount *big.Int) error {
	return m.escrowAdjust(id, amount, false)
}

// MarketEscrowDebit decreases the escrow custody balance for a listing. The
// balance can never go negative; an over-debit indicates corrupted state and
// is rejected.
func (m *Manager) MarketEscrowDebit(id string, amount *big.Int) error {
	return m.escrowAdjust(id, amount, true)
}

func (m *Manager) escrowAdjust(id string, amount *big.Int, debit bool) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: escrow amount must be non-negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, err := m.MarketEscrowBalance(id)
	if err != nil {
		return err
	}
	if debit {
		if balance.Cmp(amount) < 0 {
			return fmt.Errorf("state: escrow debit exceeds balance for %s", id)
		}
		balance.Sub(balance, amount)
	} else {
		balance.Add(balance, amount)
	}
	if balance.Sign() == 0 {
		return m.db.Delete(escrowKey(id))
	}
	return m.putJSON(escrowKey(id), balance.String())
}

// MarketVaultAddress derives the module-owned custody address holding all
// escrowed claim funds. No key exists for this address, so funds can only
// leave it through the settlement paths.
func (m *Manager) MarketVaultAddress() [20]byte {
	digest := gethcrypto.Keccak256([]byte(vaultSeed))
	var addr [20]byte
	copy(addr[:], digest[len(digest)-20:])
	return addr
}

// KVGet loads an arbitrary JSON-encoded value from the generic namespace.
// The boolean reports whether the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	return m.getJSON(append([]byte(kvPrefix), key...), out)
}

// KVPut stores an arbitrary JSON-encoded value in the generic namespace.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	return m.putJSON(append([]byte(kvPrefix), key...), value)
}
