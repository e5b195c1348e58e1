package bank

import (
	"errors"
	"math/big"
	"sync"
	"testing"

	"barrio/core/types"
)

type mockState struct {
	accounts map[[20]byte]*types.Account
}

func newMockState() *mockState {
	return &mockState{accounts: make(map[[20]byte]*types.Account)}
}

func (m *mockState) GetAccount(addr [20]byte) (*types.Account, error) {
	if acc, ok := m.accounts[addr]; ok {
		return acc.Clone(), nil
	}
	return nil, nil
}

func (m *mockState) PutAccount(addr [20]byte, account *types.Account) error {
	m.accounts[addr] = account.Clone()
	return nil
}

func addr(b byte) [20]byte {
	var out [20]byte
	out[0] = b
	return out
}

func TestTransfer(t *testing.T) {
	state := newMockState()
	ledger := NewLedger(state)
	ledger.SetNowFunc(func() int64 { return 42 })

	alice := addr(1)
	bob := addr(2)

	if _, err := ledger.Mint(alice, big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	receipt, err := ledger.Transfer(alice, bob, big.NewInt(200))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if receipt.ID == "" {
		t.Fatalf("expected receipt id")
	}
	if receipt.CreatedAt != 42 {
		t.Fatalf("expected receipt timestamp 42, got %d", receipt.CreatedAt)
	}

	balance, err := ledger.BalanceOf(alice)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("expected alice balance 300, got %s", balance)
	}
	balance, err = ledger.BalanceOf(bob)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("expected bob balance 200, got %s", balance)
	}
}

func TestTransferValidation(t *testing.T) {
	state := newMockState()
	ledger := NewLedger(state)

	alice := addr(1)
	bob := addr(2)
	if _, err := ledger.Mint(alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if _, err := ledger.Transfer(alice, bob, big.NewInt(101)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if _, err := ledger.Transfer(alice, bob, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for zero, got %v", err)
	}
	if _, err := ledger.Transfer(alice, bob, big.NewInt(-5)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for negative, got %v", err)
	}
	if _, err := ledger.Transfer(alice, bob, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for nil, got %v", err)
	}
	if _, err := ledger.Transfer(alice, alice, big.NewInt(10)); err == nil {
		t.Fatalf("expected self-transfer rejection")
	}

	// The failed attempts left both balances untouched.
	balance, err := ledger.BalanceOf(alice)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected alice balance preserved at 100, got %s", balance)
	}
}

func TestConcurrentTransfersToSharedAccount(t *testing.T) {
	state := newMockState()
	ledger := NewLedger(state)

	const (
		senders   = 64
		transfers = 20
	)
	sink := addr(255)
	for i := 0; i < senders; i++ {
		if _, err := ledger.Mint(addr(byte(i)), big.NewInt(transfers)); err != nil {
			t.Fatalf("mint: %v", err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		from := addr(byte(i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < transfers; j++ {
				if _, err := ledger.Transfer(from, sink, big.NewInt(1)); err != nil {
					t.Errorf("transfer: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	balance, err := ledger.BalanceOf(sink)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	want := big.NewInt(senders * transfers)
	if balance.Cmp(want) != 0 {
		t.Fatalf("shared account lost credits: want %s, got %s", want, balance)
	}
	for i := 0; i < senders; i++ {
		balance, err := ledger.BalanceOf(addr(byte(i)))
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		if balance.Sign() != 0 {
			t.Fatalf("expected sender %d drained, got %s", i, balance)
		}
	}
}

func TestMintValidation(t *testing.T) {
	ledger := NewLedger(newMockState())
	if _, err := ledger.Mint(addr(1), big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := ledger.Mint(addr(1), nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for nil, got %v", err)
	}
}
