package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"barrio/core/events"
	"barrio/core/state"
	"barrio/native/bank"
	"barrio/native/market"
	"barrio/native/reputation"
	"barrio/storage"
)

const (
	testToken  = "test-token"
	sellerAddr = "0x0101010101010101010101010101010101010101"
	buyerAddr  = "0x0202020202020202020202020202020202020202"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	t.Setenv("BARRIO_RPC_TOKEN", testToken)

	manager := state.NewManager(storage.NewMemDB())
	ledger := bank.NewLedger(manager)
	ratings := reputation.NewLedger(manager)
	recorder := events.NewRecorder(128)

	engine := market.NewEngine()
	engine.SetState(manager)
	engine.SetTransfers(ledger)
	engine.SetRatings(ratings)
	engine.SetEmitter(recorder)

	keeper := market.NewKeeper(engine)

	server := NewServer(engine, keeper, ledger, ratings, recorder, nil)
	server.EnableDevFaucet()

	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return ts
}

func rpcCall(t *testing.T, ts *httptest.Server, authed bool, method string, params interface{}) (*http.Response, RPCResponse) {
	t.Helper()
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded RPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func requireResult(t *testing.T, ts *httptest.Server, authed bool, method string, params, out interface{}) {
	t.Helper()
	resp, decoded := rpcCall(t, ts, authed, method, params)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, decoded.Error, "unexpected rpc error: %+v", decoded.Error)
	if out != nil {
		raw, err := json.Marshal(decoded.Result)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, out))
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp, err := ts.Client().Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMethodNotFound(t *testing.T) {
	ts := newTestServer(t)
	resp, decoded := rpcCall(t, ts, false, "market_unknown", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NotNil(t, decoded.Error)
	require.Equal(t, codeMethodNotFound, decoded.Error.Code)
}

func TestMutatingMethodsRequireAuth(t *testing.T) {
	ts := newTestServer(t)
	resp, decoded := rpcCall(t, ts, false, "market_createListing", marketCreateListingParams{
		ID:        "QmTest",
		Seller:    sellerAddr,
		BasePrice: "100",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.NotNil(t, decoded.Error)
	require.Equal(t, codeUnauthorized, decoded.Error.Code)
}

func TestFixedPriceLifecycle(t *testing.T) {
	ts := newTestServer(t)

	requireResult(t, ts, true, "bank_mint", mintParams{Address: buyerAddr, Amount: "500"}, nil)

	var created listingJSON
	requireResult(t, ts, true, "market_createListing", marketCreateListingParams{
		ID:        "QmTest",
		Seller:    sellerAddr,
		BasePrice: "100",
	}, &created)
	require.Equal(t, "QmTest", created.ID)
	require.Equal(t, sellerAddr, created.Seller)
	require.False(t, created.Auction)

	var claim claimJSON
	requireResult(t, ts, true, "market_claim", marketClaimParams{
		ID:       "QmTest",
		Claimant: buyerAddr,
		Amount:   "100",
	}, &claim)
	require.Equal(t, buyerAddr, claim.Claimant)
	require.Equal(t, "100", claim.Amount)

	// Wrong amount is rejected with a conflict.
	resp, decoded := rpcCall(t, ts, true, "market_claim", marketClaimParams{
		ID:       "QmTest",
		Claimant: buyerAddr,
		Amount:   "150",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, codeMarketConflict, decoded.Error.Code)

	var settlement settlementJSON
	requireResult(t, ts, true, "market_confirm", marketActorParams{
		ID:     "QmTest",
		Caller: buyerAddr,
	}, &settlement)
	require.Equal(t, "confirmed", settlement.Outcome)
	require.Equal(t, "100", settlement.Paid)
	require.Equal(t, sellerAddr, settlement.Payee)

	var balance balanceJSON
	requireResult(t, ts, false, "bank_getBalance", addressParams{Address: sellerAddr}, &balance)
	require.Equal(t, "100", balance.Balance)

	var listing listingJSON
	requireResult(t, ts, false, "market_getListing", marketIDParams{ID: "QmTest"}, &listing)
	require.True(t, listing.Settled)
	require.Equal(t, buyerAddr, listing.Winner)
	require.True(t, listing.SellerRatable)

	requireResult(t, ts, true, "market_rateSeller", marketRateParams{
		ID:     "QmTest",
		Caller: buyerAddr,
		Score:  5,
	}, nil)

	var ratings ratingsJSON
	requireResult(t, ts, false, "reputation_ratingsFor", addressParams{Address: sellerAddr}, &ratings)
	require.Equal(t, []int{5}, ratings.Scores)
	require.Equal(t, int64(500), ratings.Average)

	var ids []string
	requireResult(t, ts, false, "market_listListings", nil, &ids)
	require.Equal(t, []string{"QmTest"}, ids)

	var recorded []eventJSON
	requireResult(t, ts, false, "events_list", nil, &recorded)
	require.NotEmpty(t, recorded)
	require.Equal(t, market.TypeListingCreated, recorded[0].Type)
}

func TestGetListingNotFound(t *testing.T) {
	ts := newTestServer(t)
	resp, decoded := rpcCall(t, ts, false, "market_getListing", marketIDParams{ID: "QmMissing"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, codeMarketNotFound, decoded.Error.Code)
}

func TestSweepIsOpenAndIdempotent(t *testing.T) {
	ts := newTestServer(t)
	var result sweepResultJSON
	requireResult(t, ts, false, "market_sweep", nil, &result)
	require.Zero(t, result.Swept)
}

func TestInvalidAddressRejected(t *testing.T) {
	ts := newTestServer(t)
	resp, decoded := rpcCall(t, ts, false, "bank_getBalance", addressParams{Address: "nonsense"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, codeMarketInvalidParams, decoded.Error.Code)
}
