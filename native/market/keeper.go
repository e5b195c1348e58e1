package market

import (
	"errors"
	"time"
)

// Keeper drives expiry processing for the marketplace. It owns no state of
// its own: scanning is a pure read over listing records and sweeping funnels
// every expiry through the engine's settlement path, so a keeper crash or a
// concurrent settlement never corrupts a listing.
type Keeper struct {
	engine *Engine
	nowFn  func() int64
}

// NewKeeper binds a keeper to the marketplace engine.
func NewKeeper(engine *Engine) *Keeper {
	return &Keeper{
		engine: engine,
		nowFn:  func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the keeper clock, primarily used in tests.
func (k *Keeper) SetNowFunc(now func() int64) {
	if now == nil {
		k.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	k.nowFn = now
}

func (k *Keeper) now() int64 {
	if k == nil || k.nowFn == nil {
		return time.Now().Unix()
	}
	return k.nowFn()
}

// ScanExpired filters the supplied listing ids down to those that are past
// the claim window and not yet settled, preserving the input order. Missing
// listings are skipped: a listing settled or swept between enumeration and
// inspection is simply no longer expirable.
func (k *Keeper) ScanExpired(ids []string) ([]string, error) {
	if k == nil || k.engine == nil {
		return nil, errNilState
	}
	now := k.now()
	expired := make([]string, 0, len(ids))
	for _, id := range ids {
		listing, err := k.engine.GetListing(id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if listing.Settled {
			continue
		}
		if now-listing.CreatedAt > k.engine.claimWindow {
			expired = append(expired, id)
		}
	}
	return expired, nil
}

// ScanAll scans every stored listing for expiry candidates.
func (k *Keeper) ScanAll() ([]string, error) {
	if k == nil || k.engine == nil {
		return nil, errNilState
	}
	ids, err := k.engine.ListingIDs()
	if err != nil {
		return nil, err
	}
	return k.ScanExpired(ids)
}

// Sweep expires and refunds every supplied listing. The sweep is idempotent
// and tolerant of races: listings that vanished or settled since the scan
// are skipped, while genuine failures are collected so one bad listing does
// not block the rest of the batch. The returned count covers listings
// actually expired by this call.
func (k *Keeper) Sweep(ids []string) (int, error) {
	if k == nil || k.engine == nil {
		return 0, errNilState
	}
	now := k.now()
	swept := 0
	var errs []error
	for _, id := range ids {
		err := k.engine.ExpireAndRefund(id, now)
		switch {
		case err == nil:
			swept++
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrNotExpired):
			// Lost the race to a settlement or an earlier sweep.
		default:
			errs = append(errs, err)
		}
	}
	return swept, errors.Join(errs...)
}
