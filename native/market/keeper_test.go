package market

import (
	"errors"
	"math/big"
	"testing"
)

func seedAuction(t *testing.T, env *testEnv, id string, seller, bidder [20]byte) {
	t.Helper()
	if _, err := env.engine.CreateListing(id, seller, big.NewInt(100), true, nil); err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
	if _, err := env.engine.Claim(id, bidder, big.NewInt(100)); err != nil {
		t.Fatalf("claim %s: %v", id, err)
	}
}

func TestKeeperScanExpired(t *testing.T) {
	env := newTestEnv(t)
	seller := addr(1)
	bidder := addr(2)
	env.transfers.fund(bidder, 10_000)

	seedAuction(t, env, "QmA", seller, bidder)
	env.now += 10
	seedAuction(t, env, "QmB", seller, bidder)
	env.now += 10
	seedAuction(t, env, "QmC", seller, bidder)

	keeper := NewKeeper(env.engine)
	keeper.SetNowFunc(func() int64 { return env.now })

	expired, err := keeper.ScanAll()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(expired) != 0 {
		t.Fatalf("expected nothing expired inside the window, got %v", expired)
	}

	// Advance past the window for the first two listings only.
	env.now = 1_000_000 + DefaultClaimWindow + 15
	expired, err = keeper.ScanAll()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(expired) != 2 || expired[0] != "QmA" || expired[1] != "QmB" {
		t.Fatalf("expected [QmA QmB] in creation order, got %v", expired)
	}

	// Settled listings drop out of the scan.
	if _, err := env.engine.Confirm("QmA", bidder); err == nil {
		t.Fatalf("expected auction confirm without acceptance to fail")
	}
	if _, err := env.engine.AcceptOffer("QmA", bidder, seller); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := env.engine.Confirm("QmA", bidder); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	expired, err = keeper.ScanAll()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(expired) != 1 || expired[0] != "QmB" {
		t.Fatalf("expected only QmB after settlement, got %v", expired)
	}

	// Missing ids are skipped rather than failing the scan.
	expired, err = keeper.ScanExpired([]string{"QmMissing", "QmB"})
	if err != nil {
		t.Fatalf("scan with missing id: %v", err)
	}
	if len(expired) != 1 || expired[0] != "QmB" {
		t.Fatalf("expected missing id skipped, got %v", expired)
	}
}

func TestKeeperSweep(t *testing.T) {
	env := newTestEnv(t)
	seller := addr(1)
	bidder := addr(2)
	env.transfers.fund(bidder, 10_000)

	seedAuction(t, env, "QmA", seller, bidder)
	seedAuction(t, env, "QmB", seller, bidder)

	keeper := NewKeeper(env.engine)
	keeper.SetNowFunc(func() int64 { return env.now })

	env.now += DefaultClaimWindow + 1
	expired, err := keeper.ScanAll()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	swept, err := keeper.Sweep(expired)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 2 {
		t.Fatalf("expected 2 swept, got %d", swept)
	}
	if got := env.transfers.balance(bidder); got.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("expected bidder fully refunded, got %s", got)
	}

	// Repeating the sweep is harmless.
	swept, err = keeper.Sweep(expired)
	if err != nil {
		t.Fatalf("repeat sweep: %v", err)
	}
	if swept != 0 {
		t.Fatalf("expected 0 swept on repeat, got %d", swept)
	}

	ids, err := env.engine.ListingIDs()
	if err != nil {
		t.Fatalf("listing ids: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected expired listings removed, got %v", ids)
	}
	if _, err := env.engine.GetListing("QmA"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after sweep, got %v", err)
	}
}
