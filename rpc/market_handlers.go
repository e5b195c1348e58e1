package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"barrio/native/bank"
	"barrio/native/common"
	"barrio/native/market"
)

const (
	codeMarketInvalidParams = -32021
	codeMarketNotFound      = -32022
	codeMarketForbidden     = -32023
	codeMarketConflict      = -32024
	codeMarketInternal      = -32025
)

type marketCreateListingParams struct {
	ID        string `json:"id"`
	Seller    string `json:"seller"`
	BasePrice string `json:"basePrice"`
	Auction   bool   `json:"auction"`
	Payee     string `json:"payee,omitempty"`
}

type marketClaimParams struct {
	ID       string `json:"id"`
	Claimant string `json:"claimant"`
	Amount   string `json:"amount"`
}

type marketAcceptParams struct {
	ID       string `json:"id"`
	Claimant string `json:"claimant"`
	Caller   string `json:"caller"`
}

type marketActorParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
}

type marketRateParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
	Score  uint8  `json:"score"`
}

type marketIDParams struct {
	ID string `json:"id"`
}

type marketClaimantParams struct {
	ID       string `json:"id"`
	Claimant string `json:"claimant"`
}

type marketSweepParams struct {
	IDs []string `json:"ids,omitempty"`
}

type claimJSON struct {
	Claimant  string `json:"claimant"`
	Amount    string `json:"amount"`
	CreatedAt int64  `json:"createdAt"`
}

type listingJSON struct {
	ID               string      `json:"id"`
	Seller           string      `json:"seller"`
	Payee            string      `json:"payee"`
	ThirdParty       bool        `json:"thirdParty"`
	BasePrice        string      `json:"basePrice"`
	Auction          bool        `json:"auction"`
	CreatedAt        int64       `json:"createdAt"`
	Settled          bool        `json:"settled"`
	Accepted         bool        `json:"accepted"`
	AcceptedClaimant string      `json:"acceptedClaimant,omitempty"`
	Winner           string      `json:"winner,omitempty"`
	SellerRatable    bool        `json:"sellerRatable"`
	BuyerRatable     bool        `json:"buyerRatable"`
	Claims           []claimJSON `json:"claims"`
}

type refundJSON struct {
	Claimant   string `json:"claimant"`
	Amount     string `json:"amount"`
	TransferID string `json:"transferId,omitempty"`
}

type settlementJSON struct {
	ID        string       `json:"id"`
	Outcome   string       `json:"outcome"`
	Winner    string       `json:"winner,omitempty"`
	Payee     string       `json:"payee"`
	Paid      string       `json:"paid"`
	PayoutID  string       `json:"payoutId,omitempty"`
	Refunds   []refundJSON `json:"refunds"`
	SettledAt int64        `json:"settledAt"`
}

type ratingReceiptJSON struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Score   uint8  `json:"score"`
	RatedAt int64  `json:"ratedAt"`
}

type highestBidJSON struct {
	ID       string `json:"id"`
	Claimant string `json:"claimant"`
	Amount   string `json:"amount"`
}

type ratableJSON struct {
	ID            string `json:"id"`
	SellerRatable bool   `json:"sellerRatable"`
	BuyerRatable  bool   `json:"buyerRatable"`
}

type sweepResultJSON struct {
	Scanned []string `json:"scanned"`
	Swept   int      `json:"swept"`
}

func formatAddress(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func parseAddress(value string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return out, fmt.Errorf("address required")
	}
	cleaned := strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if len(cleaned) != 40 {
		return out, fmt.Errorf("address must be 20 bytes")
	}
	raw, err := hex.DecodeString(cleaned)
	if err != nil {
		return out, err
	}
	copy(out[:], raw)
	return out, nil
}

func parsePositiveBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func amountJSON(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func claimToJSON(c *market.Claim) claimJSON {
	return claimJSON{
		Claimant:  formatAddress(c.Claimant),
		Amount:    amountJSON(c.Amount),
		CreatedAt: c.CreatedAt,
	}
}

func listingToJSON(l *market.Listing) *listingJSON {
	if l == nil {
		return nil
	}
	out := &listingJSON{
		ID:            l.ID,
		Seller:        formatAddress(l.Seller),
		Payee:         formatAddress(l.Payee),
		ThirdParty:    l.IsThirdParty(),
		BasePrice:     amountJSON(l.BasePrice),
		Auction:       l.IsAuction,
		CreatedAt:     l.CreatedAt,
		Settled:       l.Settled,
		Accepted:      l.Accepted,
		SellerRatable: l.SellerRatable,
		BuyerRatable:  l.BuyerRatable,
		Claims:        make([]claimJSON, 0, len(l.Claims)),
	}
	if l.Accepted {
		out.AcceptedClaimant = formatAddress(l.AcceptedClaimant)
	}
	if l.Settled && l.Winner != ([20]byte{}) {
		out.Winner = formatAddress(l.Winner)
	}
	for i := range l.Claims {
		out.Claims = append(out.Claims, claimToJSON(&l.Claims[i]))
	}
	return out
}

func settlementToJSON(r *market.SettlementReceipt) *settlementJSON {
	if r == nil {
		return nil
	}
	out := &settlementJSON{
		ID:        r.ListingID,
		Outcome:   r.Outcome,
		Payee:     formatAddress(r.Payee),
		Paid:      amountJSON(r.Paid),
		Refunds:   make([]refundJSON, 0, len(r.Refunds)),
		SettledAt: r.SettledAt,
	}
	if r.Winner != nil {
		out.Winner = formatAddress(*r.Winner)
	}
	if r.Payout != nil {
		out.PayoutID = r.Payout.ID
	}
	for i := range r.Refunds {
		refund := refundJSON{
			Claimant: formatAddress(r.Refunds[i].Claimant),
			Amount:   amountJSON(r.Refunds[i].Amount),
		}
		if r.Refunds[i].Transfer != nil {
			refund.TransferID = r.Refunds[i].Transfer.ID
		}
		out.Refunds = append(out.Refunds, refund)
	}
	return out
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func (s *Server) handleMarketCreateListing(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params marketCreateListingParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	seller, err := parseAddress(params.Seller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	basePrice, err := parsePositiveBigInt(params.BasePrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	var payeePtr *[20]byte
	if strings.TrimSpace(params.Payee) != "" {
		payee, parseErr := parseAddress(params.Payee)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", parseErr.Error())
			return
		}
		payeeCopy := payee
		payeePtr = &payeeCopy
	}
	listing, err := s.engine.CreateListing(params.ID, seller, basePrice, params.Auction, payeePtr)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, listingToJSON(listing))
}

func (s *Server) handleMarketClaim(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params marketClaimParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	claimant, err := parseAddress(params.Claimant)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	claim, err := s.engine.Claim(params.ID, claimant, amount)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, claimToJSON(claim))
}

func (s *Server) handleMarketAcceptClaim(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params marketAcceptParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	claimant, err := parseAddress(params.Claimant)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	listing, err := s.engine.AcceptOffer(params.ID, claimant, caller)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, listingToJSON(listing))
}

func (s *Server) handleMarketConfirm(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params marketActorParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	receipt, err := s.engine.Confirm(params.ID, caller)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, settlementToJSON(receipt))
}

func (s *Server) handleMarketRateSeller(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleMarketRate(w, r, req, s.engine.RateSeller)
}

func (s *Server) handleMarketRateBuyer(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleMarketRate(w, r, req, s.engine.RateBuyer)
}

func (s *Server) handleMarketRate(w http.ResponseWriter, _ *http.Request, req *RPCRequest, rate func(string, uint8, [20]byte) (*market.RatingReceipt, error)) {
	var params marketRateParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	receipt, err := rate(params.ID, params.Score, caller)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ratingReceiptJSON{
		ID:      receipt.ListingID,
		Subject: formatAddress(receipt.Subject),
		Score:   receipt.Score,
		RatedAt: receipt.RatedAt,
	})
}

func (s *Server) handleMarketGetListing(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params marketIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	listing, err := s.engine.GetListing(params.ID)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, listingToJSON(listing))
}

func (s *Server) handleMarketListListings(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	ids, err := s.engine.ListingIDs()
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ids)
}

func (s *Server) handleMarketGetClaims(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params marketIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	claims, err := s.engine.Claims(params.ID)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	out := make([]claimJSON, 0, len(claims))
	for i := range claims {
		out = append(out, claimToJSON(&claims[i]))
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleMarketGetClaim(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params marketClaimantParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	claimant, err := parseAddress(params.Claimant)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	claim, err := s.engine.ClaimInAuction(params.ID, claimant)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, claimToJSON(claim))
}

func (s *Server) handleMarketHighestBid(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params marketIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	highest, err := s.engine.HighestBid(params.ID)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, highestBidJSON{
		ID:       strings.TrimSpace(params.ID),
		Claimant: formatAddress(highest.Claimant),
		Amount:   amountJSON(highest.Amount),
	})
}

func (s *Server) handleMarketIsRatable(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params marketIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	sellerRatable, buyerRatable, err := s.engine.IsRatable(params.ID)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ratableJSON{
		ID:            strings.TrimSpace(params.ID),
		SellerRatable: sellerRatable,
		BuyerRatable:  buyerRatable,
	})
}

func (s *Server) handleMarketScanExpired(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params marketSweepParams
	if len(req.Params) > 0 {
		if err := decodeSingleParam(req, &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
			return
		}
	}
	var (
		expired []string
		err     error
	)
	if len(params.IDs) > 0 {
		expired, err = s.keeper.ScanExpired(params.IDs)
	} else {
		expired, err = s.keeper.ScanAll()
	}
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, expired)
}

func (s *Server) handleMarketSweep(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params marketSweepParams
	if len(req.Params) > 0 {
		if err := decodeSingleParam(req, &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
			return
		}
	}
	ids := params.IDs
	var err error
	if len(ids) == 0 {
		ids, err = s.keeper.ScanAll()
		if err != nil {
			writeMarketError(w, req.ID, err)
			return
		}
	}
	swept, err := s.keeper.Sweep(ids)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, sweepResultJSON{Scanned: ids, Swept: swept})
}

func writeMarketError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeMarketInternal
	message := "internal_error"
	data := err.Error()
	switch {
	case errors.Is(err, market.ErrNotFound), errors.Is(err, market.ErrNoSuchClaim), errors.Is(err, market.ErrNoBids):
		status = http.StatusNotFound
		code = codeMarketNotFound
		message = "not_found"
	case errors.Is(err, market.ErrUnauthorized), errors.Is(err, market.ErrSelfClaim), errors.Is(err, market.ErrNotEligible):
		status = http.StatusForbidden
		code = codeMarketForbidden
		message = "forbidden"
	case errors.Is(err, market.ErrDuplicateListing), errors.Is(err, market.ErrDuplicateClaim),
		errors.Is(err, market.ErrAlreadyAccepted), errors.Is(err, market.ErrNotAccepted),
		errors.Is(err, market.ErrAlreadySettled), errors.Is(err, market.ErrNotExpired),
		errors.Is(err, market.ErrBidTooLow), errors.Is(err, market.ErrNotAuction):
		status = http.StatusConflict
		code = codeMarketConflict
		message = "conflict"
	case errors.Is(err, bank.ErrInsufficientFunds), errors.Is(err, common.ErrModulePaused):
		status = http.StatusConflict
		code = codeMarketConflict
		message = "conflict"
	case errors.Is(err, market.ErrInvalidPrice), errors.Is(err, market.ErrScoreOutOfRange), errors.Is(err, bank.ErrInvalidAmount):
		status = http.StatusBadRequest
		code = codeMarketInvalidParams
		message = "invalid_params"
	}
	writeError(w, status, id, code, message, data)
}
