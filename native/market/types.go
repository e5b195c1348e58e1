package market

import (
	"fmt"
	"math/big"
	"strings"
)

// Claim captures a buyer's escrowed offer against a listing. At most one
// claim exists per claimant; on auction listings a replacement overwrites
// the previous amount.
type Claim struct {
	Claimant  [20]byte `json:"claimant"`
	Amount    *big.Int `json:"amount"`
	CreatedAt int64    `json:"createdAt"`
}

// Clone returns a deep copy of the claim.
func (c *Claim) Clone() *Claim {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Amount != nil {
		clone.Amount = new(big.Int).Set(c.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// Listing captures the immutable metadata and runtime status of a single
// marketplace listing. The identifier is the content hash of the listing's
// off-chain data and is supplied by the metadata store; the engine treats it
// as opaque.
type Listing struct {
	ID               string   `json:"id"`
	Seller           [20]byte `json:"seller"`
	Payee            [20]byte `json:"payee"`
	BasePrice        *big.Int `json:"basePrice"`
	IsAuction        bool     `json:"isAuction"`
	CreatedAt        int64    `json:"createdAt"`
	Settled          bool     `json:"settled"`
	Accepted         bool     `json:"accepted"`
	AcceptedClaimant [20]byte `json:"acceptedClaimant"`
	Winner           [20]byte `json:"winner"`
	SellerRatable    bool     `json:"sellerRatable"`
	BuyerRatable     bool     `json:"buyerRatable"`
	Claims           []Claim  `json:"claims"`
}

// Clone returns a deep copy of the listing so callers can safely mutate the
// copy without affecting the stored instance.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	if l.BasePrice != nil {
		clone.BasePrice = new(big.Int).Set(l.BasePrice)
	} else {
		clone.BasePrice = big.NewInt(0)
	}
	clone.Claims = make([]Claim, len(l.Claims))
	for i := range l.Claims {
		clone.Claims[i] = *l.Claims[i].Clone()
	}
	return &clone
}

// IsThirdParty reports whether a payee other than the seller receives the
// winning payout.
func (l *Listing) IsThirdParty() bool {
	if l == nil {
		return false
	}
	return l.Payee != l.Seller
}

// ClaimFor returns the live claim held by claimant, if any.
func (l *Listing) ClaimFor(claimant [20]byte) (*Claim, bool) {
	if l == nil {
		return nil, false
	}
	for i := range l.Claims {
		if l.Claims[i].Claimant == claimant {
			return l.Claims[i].Clone(), true
		}
	}
	return nil, false
}

// HighestClaim returns the live claim with the greatest amount. The second
// return value is false when the listing has no live claims.
func (l *Listing) HighestClaim() (*Claim, bool) {
	if l == nil || len(l.Claims) == 0 {
		return nil, false
	}
	best := 0
	for i := 1; i < len(l.Claims); i++ {
		if l.Claims[i].Amount.Cmp(l.Claims[best].Amount) > 0 {
			best = i
		}
	}
	return l.Claims[best].Clone(), true
}

// EscrowTotal returns the sum of all live claim amounts.
func (l *Listing) EscrowTotal() *big.Int {
	total := big.NewInt(0)
	if l == nil {
		return total
	}
	for i := range l.Claims {
		if l.Claims[i].Amount != nil {
			total.Add(total, l.Claims[i].Amount)
		}
	}
	return total
}

// NormalizeListingID trims the supplied identifier and rejects empty values.
func NormalizeListingID(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return "", fmt.Errorf("market: listing id required")
	}
	return trimmed, nil
}

// SanitizeListing validates and normalises the supplied listing, returning a
// cloned instance with a canonical identifier and non-nil amount fields. The
// function does not mutate the original value.
func SanitizeListing(l *Listing) (*Listing, error) {
	if l == nil {
		return nil, fmt.Errorf("market: nil listing")
	}
	clone := l.Clone()
	id, err := NormalizeListingID(clone.ID)
	if err != nil {
		return nil, err
	}
	clone.ID = id
	if clone.BasePrice == nil || clone.BasePrice.Sign() <= 0 {
		return nil, fmt.Errorf("market: base price must be positive")
	}
	seen := make(map[[20]byte]struct{}, len(clone.Claims))
	for i := range clone.Claims {
		if clone.Claims[i].Amount == nil || clone.Claims[i].Amount.Sign() <= 0 {
			return nil, fmt.Errorf("market: claim amount must be positive")
		}
		if clone.Claims[i].Claimant == clone.Seller {
			return nil, fmt.Errorf("market: seller cannot hold a claim")
		}
		if _, dup := seen[clone.Claims[i].Claimant]; dup {
			return nil, fmt.Errorf("market: duplicate claimant in claim set")
		}
		seen[clone.Claims[i].Claimant] = struct{}{}
	}
	return clone, nil
}
