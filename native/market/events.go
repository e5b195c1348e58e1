package market

import (
	"encoding/hex"
	"math/big"

	"barrio/core/types"
)

const (
	// TypeListingCreated is emitted when a listing is stored.
	TypeListingCreated = "market.listing_created"
	// TypeClaimAdmitted is emitted when a claim passes admission and its funds
	// enter escrow custody.
	TypeClaimAdmitted = "market.claim_admitted"
	// TypeOfferAccepted is emitted when the seller selects an auction claim.
	TypeOfferAccepted = "market.offer_accepted"
	// TypeListingSettled is emitted on the winning settlement path.
	TypeListingSettled = "market.listing_settled"
	// TypeListingExpired is emitted when the keeper refunds an expired listing.
	TypeListingExpired = "market.listing_expired"
	// TypeSellerRated is emitted when the winning buyer rates the payee.
	TypeSellerRated = "market.seller_rated"
	// TypeBuyerRated is emitted when the seller rates the winning buyer.
	TypeBuyerRated = "market.buyer_rated"
)

type marketEvent struct {
	evt *types.Event
}

func (e marketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketEvent) Event() *types.Event { return e.evt }

func addressHex(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// NewListingCreatedEvent describes a freshly stored listing.
func NewListingCreatedEvent(l *Listing) *types.Event {
	if l == nil {
		return nil
	}
	attrs := map[string]string{
		"id":        l.ID,
		"seller":    addressHex(l.Seller),
		"payee":     addressHex(l.Payee),
		"basePrice": amountString(l.BasePrice),
	}
	if l.IsAuction {
		attrs["auction"] = "true"
	}
	return &types.Event{Type: TypeListingCreated, Attributes: attrs}
}

// NewClaimAdmittedEvent describes an admitted (or replaced) claim.
func NewClaimAdmittedEvent(l *Listing, c *Claim) *types.Event {
	if l == nil || c == nil {
		return nil
	}
	return &types.Event{Type: TypeClaimAdmitted, Attributes: map[string]string{
		"id":       l.ID,
		"claimant": addressHex(c.Claimant),
		"amount":   amountString(c.Amount),
	}}
}

// NewOfferAcceptedEvent describes the seller's auction selection.
func NewOfferAcceptedEvent(l *Listing) *types.Event {
	if l == nil {
		return nil
	}
	return &types.Event{Type: TypeOfferAccepted, Attributes: map[string]string{
		"id":       l.ID,
		"claimant": addressHex(l.AcceptedClaimant),
	}}
}

// NewListingSettledEvent describes a winning settlement.
func NewListingSettledEvent(r *SettlementReceipt) *types.Event {
	if r == nil {
		return nil
	}
	attrs := map[string]string{
		"id":      r.ListingID,
		"outcome": r.Outcome,
		"payee":   addressHex(r.Payee),
		"paid":    amountString(r.Paid),
	}
	if r.Winner != nil {
		attrs["winner"] = addressHex(*r.Winner)
	}
	return &types.Event{Type: TypeListingSettled, Attributes: attrs}
}

// NewListingExpiredEvent describes a keeper-driven refund-all settlement.
func NewListingExpiredEvent(r *SettlementReceipt) *types.Event {
	if r == nil {
		return nil
	}
	return &types.Event{Type: TypeListingExpired, Attributes: map[string]string{
		"id":       r.ListingID,
		"refunded": amountString(r.RefundedTotal()),
	}}
}

// NewSellerRatedEvent describes a consumed seller-side rating.
func NewSellerRatedEvent(r *RatingReceipt) *types.Event {
	return newRatingEvent(TypeSellerRated, r)
}

// NewBuyerRatedEvent describes a consumed buyer-side rating.
func NewBuyerRatedEvent(r *RatingReceipt) *types.Event {
	return newRatingEvent(TypeBuyerRated, r)
}

func newRatingEvent(eventType string, r *RatingReceipt) *types.Event {
	if r == nil {
		return nil
	}
	return &types.Event{Type: eventType, Attributes: map[string]string{
		"id":      r.ListingID,
		"subject": addressHex(r.Subject),
		"score":   amountString(big.NewInt(int64(r.Score))),
	}}
}
