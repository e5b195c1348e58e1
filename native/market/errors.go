package market

import "errors"

var (
	// ErrNotFound marks a missing listing record.
	ErrNotFound = errors.New("market: listing not found")
	// ErrDuplicateListing is returned when a listing identifier already exists.
	ErrDuplicateListing = errors.New("market: listing already exists")
	// ErrInvalidPrice rejects listings created with a zero base price.
	ErrInvalidPrice = errors.New("market: base price must be positive")
	// ErrSelfClaim rejects claims from the listing's own seller.
	ErrSelfClaim = errors.New("market: seller cannot claim own listing")
	// ErrDuplicateClaim rejects a repeat claim on a fixed-price listing.
	ErrDuplicateClaim = errors.New("market: claimant already holds a claim")
	// ErrNotAuction marks auction-only operations invoked on a fixed-price listing.
	ErrNotAuction = errors.New("market: listing is not an auction")
	// ErrBidTooLow covers mispriced fixed-price claims and non-increasing or
	// tied auction bids.
	ErrBidTooLow = errors.New("market: bid below required amount")
	// ErrUnauthorized marks callers lacking the required role for an operation.
	ErrUnauthorized = errors.New("market: unauthorized caller")
	// ErrNoSuchClaim marks operations against a claimant with no live claim.
	ErrNoSuchClaim = errors.New("market: no claim for claimant")
	// ErrAlreadyAccepted is returned when an auction acceptance already exists.
	ErrAlreadyAccepted = errors.New("market: offer already accepted")
	// ErrNotAccepted is returned when an auction confirmation arrives before
	// the seller has accepted any offer.
	ErrNotAccepted = errors.New("market: no accepted offer")
	// ErrAlreadySettled marks mutations against a settled listing.
	ErrAlreadySettled = errors.New("market: listing already settled")
	// ErrNoBids marks highest-bid queries on listings with zero live claims.
	ErrNoBids = errors.New("market: listing has no bids")
	// ErrNotEligible marks rating attempts without a consumable eligibility flag.
	ErrNotEligible = errors.New("market: not eligible to rate")
	// ErrScoreOutOfRange rejects rating scores outside the closed [1,5] range.
	ErrScoreOutOfRange = errors.New("market: score out of range")
	// ErrNotExpired marks expiry attempts before the claim window has elapsed.
	ErrNotExpired = errors.New("market: claim window not elapsed")
)
