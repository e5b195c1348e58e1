package state

import (
	"math/big"
	"testing"

	"barrio/native/market"
	"barrio/storage"
)

func addr(b byte) [20]byte {
	var out [20]byte
	out[0] = b
	return out
}

func newTestManager() *Manager {
	return NewManager(storage.NewMemDB())
}

func TestAccountRoundTrip(t *testing.T) {
	manager := newTestManager()
	alice := addr(1)

	acc, err := manager.GetAccount(alice)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acc.Balance.Sign() != 0 {
		t.Fatalf("expected zero balance for fresh account, got %s", acc.Balance)
	}

	acc.Balance = big.NewInt(123)
	acc.Nonce = 7
	if err := manager.PutAccount(alice, acc); err != nil {
		t.Fatalf("put: %v", err)
	}

	loaded, err := manager.GetAccount(alice)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Balance.Cmp(big.NewInt(123)) != 0 || loaded.Nonce != 7 {
		t.Fatalf("unexpected account after round trip: %+v", loaded)
	}

	if err := manager.PutAccount(alice, nil); err == nil {
		t.Fatalf("expected nil account rejection")
	}
}

func TestListingRoundTripAndIndex(t *testing.T) {
	manager := newTestManager()

	ids, err := manager.MarketListingIDs()
	if err != nil {
		t.Fatalf("ids: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected empty index, got %v", ids)
	}

	for i, id := range []string{"QmA", "QmB", "QmC"} {
		listing := &market.Listing{
			ID:        id,
			Seller:    addr(1),
			Payee:     addr(1),
			BasePrice: big.NewInt(int64(100 + i)),
			CreatedAt: int64(i),
		}
		if err := manager.MarketListingPut(listing); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}

	ids, err = manager.MarketListingIDs()
	if err != nil {
		t.Fatalf("ids: %v", err)
	}
	if len(ids) != 3 || ids[0] != "QmA" || ids[1] != "QmB" || ids[2] != "QmC" {
		t.Fatalf("expected creation order, got %v", ids)
	}

	// Updating an existing listing must not duplicate its index entry.
	listing, ok, err := manager.MarketListingGet("QmB")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatalf("expected QmB present")
	}
	listing.Settled = true
	if err := manager.MarketListingPut(listing); err != nil {
		t.Fatalf("update: %v", err)
	}
	ids, err = manager.MarketListingIDs()
	if err != nil {
		t.Fatalf("ids: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected index unchanged on update, got %v", ids)
	}

	if err := manager.MarketListingDelete("QmB"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, err := manager.MarketListingGet("QmB"); err != nil || ok {
		t.Fatalf("expected QmB removed, got ok=%v err=%v", ok, err)
	}
	ids, err = manager.MarketListingIDs()
	if err != nil {
		t.Fatalf("ids: %v", err)
	}
	if len(ids) != 2 || ids[0] != "QmA" || ids[1] != "QmC" {
		t.Fatalf("expected [QmA QmC], got %v", ids)
	}
}

func TestListingGetReportsCorruptRecords(t *testing.T) {
	db := storage.NewMemDB()
	manager := NewManager(db)

	if err := db.Put(listingKey("QmA"), []byte("{not json")); err != nil {
		t.Fatalf("put: %v", err)
	}
	listing, ok, err := manager.MarketListingGet("QmA")
	if err == nil {
		t.Fatalf("expected decode error for corrupt record, got ok=%v listing=%+v", ok, listing)
	}
	if ok || listing != nil {
		t.Fatalf("expected no listing alongside the error")
	}
}

func TestListingPutValidates(t *testing.T) {
	manager := newTestManager()
	if err := manager.MarketListingPut(&market.Listing{ID: "QmA", BasePrice: big.NewInt(0)}); err == nil {
		t.Fatalf("expected invalid base price rejection")
	}
	if err := manager.MarketListingPut(nil); err == nil {
		t.Fatalf("expected nil listing rejection")
	}
}

func TestEscrowBalance(t *testing.T) {
	manager := newTestManager()
	const id = "QmA"

	balance, err := manager.MarketEscrowBalance(id)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("expected zero balance, got %s", balance)
	}

	if err := manager.MarketEscrowCredit(id, big.NewInt(150)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := manager.MarketEscrowCredit(id, big.NewInt(50)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	balance, err = manager.MarketEscrowBalance(id)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("expected 200, got %s", balance)
	}

	if err := manager.MarketEscrowDebit(id, big.NewInt(300)); err == nil {
		t.Fatalf("expected over-debit rejection")
	}
	if err := manager.MarketEscrowDebit(id, big.NewInt(200)); err != nil {
		t.Fatalf("debit: %v", err)
	}
	balance, err = manager.MarketEscrowBalance(id)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("expected drained balance, got %s", balance)
	}
}

func TestVaultAddressIsStable(t *testing.T) {
	a := newTestManager().MarketVaultAddress()
	b := newTestManager().MarketVaultAddress()
	if a != b {
		t.Fatalf("expected deterministic vault address")
	}
	if a == ([20]byte{}) {
		t.Fatalf("expected non-zero vault address")
	}
}

func TestKVRoundTrip(t *testing.T) {
	manager := newTestManager()

	var missing string
	ok, err := manager.KVGet([]byte("missing"), &missing)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatalf("expected missing key")
	}

	if err := manager.KVPut([]byte("greeting"), "hello"); err != nil {
		t.Fatalf("put: %v", err)
	}
	var loaded string
	ok, err = manager.KVGet([]byte("greeting"), &loaded)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || loaded != "hello" {
		t.Fatalf("expected round-tripped value, got %q (ok=%v)", loaded, ok)
	}
}
