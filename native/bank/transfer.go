package bank

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"barrio/core/types"
)

var (
	errNilState = errors.New("bank: state not configured")
	// ErrInsufficientFunds marks transfers exceeding the sender's balance.
	ErrInsufficientFunds = errors.New("bank: insufficient balance")
	// ErrInvalidAmount rejects nil, zero or negative transfer amounts.
	ErrInvalidAmount = errors.New("bank: amount must be positive")
)

// State abstracts the account persistence required by the ledger.
type State interface {
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

// Receipt is the durable record of a completed value movement. A transfer
// either fully completes and yields a receipt, or has no effect.
type Receipt struct {
	ID        string   `json:"id"`
	From      [20]byte `json:"from"`
	To        [20]byte `json:"to"`
	Amount    *big.Int `json:"amount"`
	CreatedAt int64    `json:"createdAt"`
}

// Ledger executes atomic, all-or-nothing balance movements between accounts.
// A single mutex serializes every read-modify-write of account state: callers
// hold locks of their own (per-listing striping in the marketplace engine),
// but shared accounts such as the escrow vault are touched from many of those
// locks at once.
type Ledger struct {
	mu    sync.Mutex
	state State
	nowFn func() int64
}

// NewLedger constructs a ledger bound to the provided account state.
func NewLedger(state State) *Ledger {
	return &Ledger{
		state: state,
		nowFn: func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the wall clock, primarily used in tests.
func (l *Ledger) SetNowFunc(now func() int64) {
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

func (l *Ledger) now() int64 {
	if l == nil || l.nowFn == nil {
		return time.Now().Unix()
	}
	return l.nowFn()
}

// Transfer moves amount from one account to the other. The debit and credit
// are validated before any write so a failure leaves both accounts untouched.
func (l *Ledger) Transfer(from, to [20]byte, amount *big.Int) (*Receipt, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if from == to {
		return nil, fmt.Errorf("bank: self transfer")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fromAcc, err := l.state.GetAccount(from)
	if err != nil {
		return nil, err
	}
	toAcc, err := l.state.GetAccount(to)
	if err != nil {
		return nil, err
	}
	fromAcc = types.EnsureAccount(fromAcc)
	toAcc = types.EnsureAccount(toAcc)
	if fromAcc.Balance.Cmp(amount) < 0 {
		return nil, ErrInsufficientFunds
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	if err := l.state.PutAccount(from, fromAcc); err != nil {
		return nil, err
	}
	if err := l.state.PutAccount(to, toAcc); err != nil {
		return nil, err
	}
	return l.receipt(from, to, amount), nil
}

// Mint credits freshly issued funds to an account. Exposed for genesis
// allocations and the development faucet only.
func (l *Ledger) Mint(to [20]byte, amount *big.Int) (*Receipt, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	toAcc, err := l.state.GetAccount(to)
	if err != nil {
		return nil, err
	}
	toAcc = types.EnsureAccount(toAcc)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	if err := l.state.PutAccount(to, toAcc); err != nil {
		return nil, err
	}
	return l.receipt([20]byte{}, to, amount), nil
}

// BalanceOf returns the spendable balance for an address.
func (l *Ledger) BalanceOf(addr [20]byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, err := l.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return types.EnsureAccount(acc).Balance, nil
}

func (l *Ledger) receipt(from, to [20]byte, amount *big.Int) *Receipt {
	return &Receipt{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Amount:    new(big.Int).Set(amount),
		CreatedAt: l.now(),
	}
}
