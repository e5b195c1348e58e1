package rpc

import (
	"net/http"

	"barrio/core/types"
)

type addressParams struct {
	Address string `json:"address"`
}

type balanceJSON struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

type mintParams struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type ratingsJSON struct {
	Address string `json:"address"`
	Scores  []int  `json:"scores"`
	Average int64  `json:"averageScaled"`
	Count   int    `json:"count"`
}

type eventsListParams struct {
	Limit int `json:"limit,omitempty"`
}

type eventJSON struct {
	Sequence   int64             `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func (s *Server) handleBankGetBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params addressParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.ledger.BalanceOf(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "internal_error", err.Error())
		return
	}
	writeResult(w, req.ID, balanceJSON{Address: formatAddress(addr), Balance: amountJSON(balance)})
}

func (s *Server) handleBankMint(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !s.devFaucet {
		writeError(w, http.StatusForbidden, req.ID, codeMarketForbidden, "forbidden", "development faucet disabled")
		return
	}
	var params mintParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	receipt, err := s.ledger.Mint(addr, amount)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "internal_error", err.Error())
		return
	}
	writeResult(w, req.ID, receipt)
}

func (s *Server) handleReputationRatingsFor(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params addressParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
		return
	}
	scores, err := s.ratings.Ratings(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "internal_error", err.Error())
		return
	}
	average, count, err := s.ratings.Average(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "internal_error", err.Error())
		return
	}
	out := ratingsJSON{Address: formatAddress(addr), Scores: make([]int, 0, len(scores)), Average: average, Count: count}
	for _, score := range scores {
		out.Scores = append(out.Scores, int(score))
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleEventsList(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if s.recorder == nil {
		writeResult(w, req.ID, []eventJSON{})
		return
	}
	var params eventsListParams
	if len(req.Params) > 0 {
		if err := decodeSingleParam(req, &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid_params", err.Error())
			return
		}
	}
	recorded := s.recorder.List(params.Limit)
	out := make([]eventJSON, 0, len(recorded))
	for _, entry := range recorded {
		item := eventJSON{Sequence: entry.Sequence, Type: entry.Event.EventType()}
		if carrier, ok := entry.Event.(interface{ Event() *types.Event }); ok {
			if evt := carrier.Event(); evt != nil {
				item.Attributes = evt.Attributes
			}
		}
		out = append(out, item)
	}
	writeResult(w, req.ID, out)
}
