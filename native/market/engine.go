package market

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"barrio/core/events"
	"barrio/core/types"
	"barrio/native/bank"
	nativecommon "barrio/native/common"
)

var errNilState = errors.New("market: state not configured")

const moduleName = "market"

// DefaultClaimWindow is how long a listing accepts claims before the keeper
// may expire it: seven days, in seconds.
const DefaultClaimWindow int64 = 7 * 24 * 60 * 60

// State abstracts the subset of state manager functionality required by the
// engine. Every mutation of a listing record goes through this interface and
// is serialized by the engine's per-listing lock.
type State interface {
	MarketListingPut(*Listing) error
	MarketListingGet(id string) (*Listing, bool, error)
	MarketListingDelete(id string) error
	MarketListingIDs() ([]string, error)
	MarketEscrowCredit(id string, amount *big.Int) error
	MarketEscrowDebit(id string, amount *big.Int) error
	MarketEscrowBalance(id string) (*big.Int, error)
	MarketVaultAddress() [20]byte
}

// TransferLedger is the value-movement primitive the engine settles through.
// Implementations must be atomic: a transfer either fully completes and
// returns a durable receipt, or has no effect.
type TransferLedger interface {
	Transfer(from, to [20]byte, amount *big.Int) (*bank.Receipt, error)
}

// RatingSink receives consumed rating scores keyed by subject.
type RatingSink interface {
	Append(subject [20]byte, score uint8) error
}

// Refund records a scheduled outflow back to a non-winning claimant.
type Refund struct {
	Claimant [20]byte      `json:"claimant"`
	Amount   *big.Int      `json:"amount"`
	Transfer *bank.Receipt `json:"transfer,omitempty"`
}

// SettlementReceipt is the durable record of the single irreversible
// settlement transition for a listing.
type SettlementReceipt struct {
	ListingID string        `json:"listingId"`
	Outcome   string        `json:"outcome"` // "confirmed" or "expired"
	Winner    *[20]byte     `json:"winner,omitempty"`
	Payee     [20]byte      `json:"payee"`
	Paid      *big.Int      `json:"paid"`
	Payout    *bank.Receipt `json:"payout,omitempty"`
	Refunds   []Refund      `json:"refunds"`
	SettledAt int64         `json:"settledAt"`
}

// RefundedTotal sums the refund legs of the settlement.
func (r *SettlementReceipt) RefundedTotal() *big.Int {
	total := big.NewInt(0)
	if r == nil {
		return total
	}
	for i := range r.Refunds {
		if r.Refunds[i].Amount != nil {
			total.Add(total, r.Refunds[i].Amount)
		}
	}
	return total
}

// RatingReceipt is the durable record of a consumed rating eligibility.
type RatingReceipt struct {
	ListingID string   `json:"listingId"`
	Subject   [20]byte `json:"subject"`
	Score     uint8    `json:"score"`
	RatedAt   int64    `json:"ratedAt"`
}

// Engine owns the listing lifecycle: creation, claim admission, auction
// acceptance, settlement and expiry, plus the rating eligibility gate. All
// state-mutating operations on one listing are applied under that listing's
// lock, so no partial transition is observable by a concurrent caller.
type Engine struct {
	state       State
	transfers   TransferLedger
	ratings     RatingSink
	emitter     events.Emitter
	pauses      nativecommon.PauseView
	nowFn       func() int64
	claimWindow int64

	locks sync.Map // listing id -> *sync.Mutex
}

// NewEngine creates a marketplace engine with a no-op emitter and the
// default claim window. Callers wire state, transfers and ratings before use.
func NewEngine() *Engine {
	return &Engine{
		emitter:     events.NoopEmitter{},
		nowFn:       func() int64 { return time.Now().Unix() },
		claimWindow: DefaultClaimWindow,
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state State) { e.state = state }

// SetTransfers configures the value-transfer primitive.
func (e *Engine) SetTransfers(t TransferLedger) { e.transfers = t }

// SetRatings configures the rating sink consuming eligibility flags.
func (e *Engine) SetRatings(r RatingSink) { e.ratings = r }

// SetPauses configures the administrative pause view.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetClaimWindow overrides the expiry window in seconds. Non-positive values
// reset the default.
func (e *Engine) SetClaimWindow(secs int64) {
	if secs <= 0 {
		e.claimWindow = DefaultClaimWindow
		return
	}
	e.claimWindow = secs
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(marketEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// lockListing serializes mutations for one listing id. Listings are
// independent units of state, so cross-listing operations never contend.
func (e *Engine) lockListing(id string) func() {
	v, _ := e.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (e *Engine) loadListing(id string) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	listing, ok, err := e.state.MarketListingGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return listing, nil
}

// CreateListing stores a new listing keyed by its content hash. The payee
// receives the winning payout and defaults to the seller when no third party
// is designated; it is fixed at creation and never changes.
func (e *Engine) CreateListing(id string, seller [20]byte, basePrice *big.Int, isAuction bool, payee *[20]byte) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	normalized, err := NormalizeListingID(id)
	if err != nil {
		return nil, err
	}
	if basePrice == nil || basePrice.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	unlock := e.lockListing(normalized)
	defer unlock()
	_, exists, err := e.state.MarketListingGet(normalized)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateListing
	}
	resolvedPayee := seller
	if payee != nil {
		resolvedPayee = *payee
	}
	listing := &Listing{
		ID:        normalized,
		Seller:    seller,
		Payee:     resolvedPayee,
		BasePrice: new(big.Int).Set(basePrice),
		IsAuction: isAuction,
		CreatedAt: e.now(),
	}
	if err := e.state.MarketListingPut(listing); err != nil {
		return nil, err
	}
	e.emit(NewListingCreatedEvent(listing))
	return listing.Clone(), nil
}

// Claim admits a buyer's offer, moving the offered amount into escrow
// custody. Fixed-price listings require the exact base price and at most one
// live claim per claimant; auction listings require each bid to be at least
// the base price, strictly above the claimant's own previous bid, and
// strictly above the current highest bid (ties rejected). On an auction
// re-bid the previous amount is returned to the claimant so escrow custody
// always equals the sum of live claims.
func (e *Engine) Claim(id string, claimant [20]byte, amount *big.Int) (*Claim, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.transfers == nil {
		return nil, fmt.Errorf("market: transfer ledger not configured")
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	normalized, err := NormalizeListingID(id)
	if err != nil {
		return nil, err
	}
	unlock := e.lockListing(normalized)
	defer unlock()
	listing, err := e.loadListing(normalized)
	if err != nil {
		return nil, err
	}
	if listing.Settled {
		return nil, ErrAlreadySettled
	}
	if claimant == listing.Seller {
		return nil, ErrSelfClaim
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrBidTooLow
	}
	previous, hasPrevious := listing.ClaimFor(claimant)
	if listing.IsAuction {
		if amount.Cmp(listing.BasePrice) < 0 {
			return nil, ErrBidTooLow
		}
		if hasPrevious && amount.Cmp(previous.Amount) <= 0 {
			return nil, ErrBidTooLow
		}
		if highest, ok := listing.HighestClaim(); ok && amount.Cmp(highest.Amount) <= 0 {
			return nil, ErrBidTooLow
		}
	} else {
		if hasPrevious {
			return nil, ErrDuplicateClaim
		}
		if amount.Cmp(listing.BasePrice) != 0 {
			return nil, ErrBidTooLow
		}
	}

	vault := e.state.MarketVaultAddress()
	if _, err := e.transfers.Transfer(claimant, vault, amount); err != nil {
		return nil, err
	}
	// The incoming transfer is returned whole if the claim record cannot be
	// committed, so a persist failure never strands buyer funds in the vault.
	credit := new(big.Int).Set(amount)
	if hasPrevious {
		credit.Sub(credit, previous.Amount)
	}
	if err := e.state.MarketEscrowCredit(normalized, credit); err != nil {
		_, _ = e.transfers.Transfer(vault, claimant, amount)
		return nil, err
	}

	claim := Claim{Claimant: claimant, Amount: new(big.Int).Set(amount), CreatedAt: e.now()}
	if hasPrevious {
		for i := range listing.Claims {
			if listing.Claims[i].Claimant == claimant {
				listing.Claims[i] = claim
				break
			}
		}
	} else {
		listing.Claims = append(listing.Claims, claim)
	}
	if err := e.state.MarketListingPut(listing); err != nil {
		_ = e.state.MarketEscrowDebit(normalized, credit)
		_, _ = e.transfers.Transfer(vault, claimant, amount)
		return nil, err
	}
	if hasPrevious {
		// The superseded bid is returned only once the replacement is durable.
		if _, err := e.transfers.Transfer(vault, claimant, previous.Amount); err != nil {
			return nil, err
		}
	}
	e.emit(NewClaimAdmittedEvent(listing, &claim))
	return claim.Clone(), nil
}

// AcceptOffer records the seller's one-shot selection of an auction claim.
func (e *Engine) AcceptOffer(id string, claimant, actor [20]byte) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	normalized, err := NormalizeListingID(id)
	if err != nil {
		return nil, err
	}
	unlock := e.lockListing(normalized)
	defer unlock()
	listing, err := e.loadListing(normalized)
	if err != nil {
		return nil, err
	}
	if listing.Settled {
		return nil, ErrAlreadySettled
	}
	if actor != listing.Seller {
		return nil, ErrUnauthorized
	}
	if !listing.IsAuction {
		return nil, ErrNotAuction
	}
	if listing.Accepted {
		return nil, ErrAlreadyAccepted
	}
	if _, ok := listing.ClaimFor(claimant); !ok {
		return nil, ErrNoSuchClaim
	}
	listing.Accepted = true
	listing.AcceptedClaimant = claimant
	if err := e.state.MarketListingPut(listing); err != nil {
		return nil, err
	}
	e.emit(NewOfferAcceptedEvent(listing))
	return listing.Clone(), nil
}

// Confirm executes the winning settlement path. On fixed-price listings any
// live claimant may confirm and becomes the winner; on auctions only the
// accepted claimant may confirm. The winner's escrowed amount is paid to the
// listing's payee and every other live claim is refunded in full.
func (e *Engine) Confirm(id string, actor [20]byte) (*SettlementReceipt, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	normalized, err := NormalizeListingID(id)
	if err != nil {
		return nil, err
	}
	unlock := e.lockListing(normalized)
	defer unlock()
	listing, err := e.loadListing(normalized)
	if err != nil {
		return nil, err
	}
	if listing.Settled {
		return nil, ErrAlreadySettled
	}
	if listing.IsAuction {
		if !listing.Accepted {
			return nil, ErrNotAccepted
		}
		if actor != listing.AcceptedClaimant {
			return nil, ErrUnauthorized
		}
	} else if _, ok := listing.ClaimFor(actor); !ok {
		return nil, ErrUnauthorized
	}

	winner := actor
	receipt, err := e.releaseAll(listing, &winner)
	if err != nil {
		return nil, err
	}
	e.emit(NewListingSettledEvent(receipt))
	return receipt, nil
}

// ExpireAndRefund drives an expired listing through the refund-all
// settlement path: every live claim is returned in full, nobody is paid and
// no rating ever becomes possible. Invoking it on an already-settled listing
// is a silent no-op so keeper sweeps stay safe to retry.
func (e *Engine) ExpireAndRefund(id string, now int64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	normalized, err := NormalizeListingID(id)
	if err != nil {
		return err
	}
	unlock := e.lockListing(normalized)
	defer unlock()
	listing, err := e.loadListing(normalized)
	if err != nil {
		return err
	}
	if listing.Settled {
		return nil
	}
	if now-listing.CreatedAt <= e.claimWindow {
		return ErrNotExpired
	}
	receipt, err := e.releaseAll(listing, nil)
	if err != nil {
		return err
	}
	// Storage reclamation: the record has served its purpose once refunded.
	if err := e.state.MarketListingDelete(normalized); err != nil {
		return err
	}
	e.emit(NewListingExpiredEvent(receipt))
	return nil
}

// releaseAll performs the single irreversible settlement transition. The
// caller must hold the listing lock. State is committed before any outbound
// transfer: the listing is marked settled with its claims cleared, the
// escrow balance is debited, and only then are payouts and refunds issued
// from one consistent snapshot of the live claims.
func (e *Engine) releaseAll(listing *Listing, winner *[20]byte) (*SettlementReceipt, error) {
	if listing == nil {
		return nil, fmt.Errorf("market: nil listing")
	}
	if listing.Settled {
		return nil, ErrAlreadySettled
	}
	snapshot := make([]Claim, len(listing.Claims))
	for i := range listing.Claims {
		snapshot[i] = *listing.Claims[i].Clone()
	}
	total := listing.EscrowTotal()
	held, err := e.state.MarketEscrowBalance(listing.ID)
	if err != nil {
		return nil, err
	}
	if held.Cmp(total) != 0 {
		return nil, fmt.Errorf("market: escrow imbalance for %s: held %s, claims %s", listing.ID, held, total)
	}

	listing.Settled = true
	listing.Claims = nil
	if winner != nil {
		listing.Winner = *winner
		listing.SellerRatable = true
		listing.BuyerRatable = true
	}
	if err := e.state.MarketListingPut(listing); err != nil {
		return nil, err
	}
	if total.Sign() > 0 {
		if err := e.state.MarketEscrowDebit(listing.ID, total); err != nil {
			return nil, err
		}
	}

	receipt := &SettlementReceipt{
		ListingID: listing.ID,
		Outcome:   "expired",
		Winner:    winner,
		Payee:     listing.Payee,
		Paid:      big.NewInt(0),
		SettledAt: e.now(),
	}
	vault := e.state.MarketVaultAddress()
	for i := range snapshot {
		claim := snapshot[i]
		if winner != nil && claim.Claimant == *winner {
			payout, err := e.transfers.Transfer(vault, listing.Payee, claim.Amount)
			if err != nil {
				return nil, err
			}
			receipt.Outcome = "confirmed"
			receipt.Paid = new(big.Int).Set(claim.Amount)
			receipt.Payout = payout
			continue
		}
		refund, err := e.transfers.Transfer(vault, claim.Claimant, claim.Amount)
		if err != nil {
			return nil, err
		}
		receipt.Refunds = append(receipt.Refunds, Refund{
			Claimant: claim.Claimant,
			Amount:   new(big.Int).Set(claim.Amount),
			Transfer: refund,
		})
	}
	if winner != nil && receipt.Payout == nil {
		return nil, fmt.Errorf("market: winner %x held no claim at settlement", *winner)
	}
	return receipt, nil
}

// RateSeller consumes the buyer-side eligibility flag, recording the score
// under the listing's payee so third-party payees accumulate their own
// reputation.
func (e *Engine) RateSeller(id string, score uint8, actor [20]byte) (*RatingReceipt, error) {
	return e.rate(id, score, actor, true)
}

// RateBuyer consumes the seller-side eligibility flag, recording the score
// under the winning claimant.
func (e *Engine) RateBuyer(id string, score uint8, actor [20]byte) (*RatingReceipt, error) {
	return e.rate(id, score, actor, false)
}

func (e *Engine) rate(id string, score uint8, actor [20]byte, sellerSide bool) (*RatingReceipt, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.ratings == nil {
		return nil, fmt.Errorf("market: rating sink not configured")
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	normalized, err := NormalizeListingID(id)
	if err != nil {
		return nil, err
	}
	unlock := e.lockListing(normalized)
	defer unlock()
	listing, err := e.loadListing(normalized)
	if err != nil {
		return nil, err
	}
	var subject [20]byte
	if sellerSide {
		if !listing.SellerRatable || actor != listing.Winner {
			return nil, ErrNotEligible
		}
		subject = listing.Payee
	} else {
		if !listing.BuyerRatable || actor != listing.Seller {
			return nil, ErrNotEligible
		}
		subject = listing.Winner
	}
	if score < 1 || score > 5 {
		return nil, ErrScoreOutOfRange
	}
	if err := e.ratings.Append(subject, score); err != nil {
		return nil, err
	}
	if sellerSide {
		listing.SellerRatable = false
	} else {
		listing.BuyerRatable = false
	}
	if err := e.state.MarketListingPut(listing); err != nil {
		return nil, err
	}
	receipt := &RatingReceipt{ListingID: normalized, Subject: subject, Score: score, RatedAt: e.now()}
	if sellerSide {
		e.emit(NewSellerRatedEvent(receipt))
	} else {
		e.emit(NewBuyerRatedEvent(receipt))
	}
	return receipt, nil
}

// GetListing returns a copy of the stored listing.
func (e *Engine) GetListing(id string) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	normalized, err := NormalizeListingID(id)
	if err != nil {
		return nil, err
	}
	return e.loadListing(normalized)
}

// ListingIDs returns every stored listing identifier in creation order.
func (e *Engine) ListingIDs() ([]string, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.MarketListingIDs()
}

// Claims returns the live claims on a listing in admission order.
func (e *Engine) Claims(id string) ([]Claim, error) {
	listing, err := e.GetListing(id)
	if err != nil {
		return nil, err
	}
	return listing.Claims, nil
}

// ClaimInAuction returns the claimant's live auction bid.
func (e *Engine) ClaimInAuction(id string, claimant [20]byte) (*Claim, error) {
	listing, err := e.GetListing(id)
	if err != nil {
		return nil, err
	}
	if !listing.IsAuction {
		return nil, ErrNotAuction
	}
	claim, ok := listing.ClaimFor(claimant)
	if !ok {
		return nil, ErrNoSuchClaim
	}
	return claim, nil
}

// HighestBid returns the highest live claim from a single read, so the
// claimant and amount always belong to the same bid.
func (e *Engine) HighestBid(id string) (*Claim, error) {
	listing, err := e.GetListing(id)
	if err != nil {
		return nil, err
	}
	highest, ok := listing.HighestClaim()
	if !ok {
		return nil, ErrNoBids
	}
	return highest.Clone(), nil
}

// HighestBidder returns the claimant currently holding the highest claim.
func (e *Engine) HighestBidder(id string) ([20]byte, error) {
	highest, err := e.HighestBid(id)
	if err != nil {
		return [20]byte{}, err
	}
	return highest.Claimant, nil
}

// HighestAmount returns the current highest claim amount.
func (e *Engine) HighestAmount(id string) (*big.Int, error) {
	highest, err := e.HighestBid(id)
	if err != nil {
		return nil, err
	}
	return highest.Amount, nil
}

// IsRatable reports both one-shot eligibility flags for a listing.
func (e *Engine) IsRatable(id string) (sellerRatable, buyerRatable bool, err error) {
	listing, err := e.GetListing(id)
	if err != nil {
		return false, false, err
	}
	return listing.SellerRatable, listing.BuyerRatable, nil
}
