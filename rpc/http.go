package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"barrio/core/events"
	"barrio/native/bank"
	"barrio/native/market"
	"barrio/native/reputation"
	"barrio/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	// Mutating requests per source per second, with a small burst.
	mutationRate  = rate.Limit(5)
	mutationBurst = 10
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// Server exposes the marketplace modules over JSON-RPC 2.0.
type Server struct {
	engine    *market.Engine
	keeper    *market.Keeper
	ledger    *bank.Ledger
	ratings   *reputation.Ledger
	recorder  *events.Recorder
	logger    *slog.Logger
	authToken string
	devFaucet bool

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewServer assembles the RPC surface. The bearer token is read from the
// BARRIO_RPC_TOKEN environment variable; when unset every authenticated
// method is rejected.
func NewServer(engine *market.Engine, keeper *market.Keeper, ledger *bank.Ledger, ratings *reputation.Ledger, recorder *events.Recorder, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:    engine,
		keeper:    keeper,
		ledger:    ledger,
		ratings:   ratings,
		recorder:  recorder,
		logger:    logger,
		authToken: strings.TrimSpace(os.Getenv("BARRIO_RPC_TOKEN")),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// EnableDevFaucet switches on the development-only mint endpoint.
func (s *Server) EnableDevFaucet() { s.devFaucet = true }

// Router builds the HTTP routing table: the JSON-RPC endpoint plus health
// and metrics surfaces.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Post("/", s.handle)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// Start serves the router until the listener fails.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", "addr", addr)
	return http.ListenAndServe(addr, s.Router())
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// statusRecorder captures the final status code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	start := time.Now()
	s.dispatch(recorder, r, req)
	observability.ModuleMetrics().Observe(methodModule(req.Method), req.Method, recorder.status, time.Since(start))
}

func methodModule(method string) string {
	if idx := strings.Index(method, "_"); idx > 0 {
		return method[:idx]
	}
	return method
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	switch req.Method {
	case "market_createListing":
		s.mutating(w, r, req, s.handleMarketCreateListing)
	case "market_claim":
		s.mutating(w, r, req, s.handleMarketClaim)
	case "market_acceptClaim":
		s.mutating(w, r, req, s.handleMarketAcceptClaim)
	case "market_confirm":
		s.mutating(w, r, req, s.handleMarketConfirm)
	case "market_rateSeller":
		s.mutating(w, r, req, s.handleMarketRateSeller)
	case "market_rateBuyer":
		s.mutating(w, r, req, s.handleMarketRateBuyer)
	case "market_getListing":
		s.handleMarketGetListing(w, r, req)
	case "market_listListings":
		s.handleMarketListListings(w, r, req)
	case "market_getClaims":
		s.handleMarketGetClaims(w, r, req)
	case "market_getClaim":
		s.handleMarketGetClaim(w, r, req)
	case "market_highestBid":
		s.handleMarketHighestBid(w, r, req)
	case "market_isRatable":
		s.handleMarketIsRatable(w, r, req)
	case "market_scanExpired":
		s.handleMarketScanExpired(w, r, req)
	case "market_sweep":
		// Sweeps are idempotent and only drive overdue refunds, so any
		// caller may trigger one.
		s.handleMarketSweep(w, r, req)
	case "reputation_ratingsFor":
		s.handleReputationRatingsFor(w, r, req)
	case "bank_getBalance":
		s.handleBankGetBalance(w, r, req)
	case "bank_mint":
		s.mutating(w, r, req, s.handleBankMint)
	case "events_list":
		s.handleEventsList(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
	}
}

type handlerFunc func(http.ResponseWriter, *http.Request, *RPCRequest)

// mutating wraps state-changing handlers with bearer authentication and
// per-source rate limiting.
func (s *Server) mutating(w http.ResponseWriter, r *http.Request, req *RPCRequest, next handlerFunc) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	if !s.allowSource(requestSource(r)) {
		observability.ModuleMetrics().RecordThrottle(methodModule(req.Method), "rate_limit")
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", nil)
		return
	}
	next(w, r, req)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func requestSource(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) allowSource(source string) bool {
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	limiter, ok := s.limiters[source]
	if !ok {
		limiter = rate.NewLimiter(mutationRate, mutationBurst)
		s.limiters[source] = limiter
	}
	s.mu.Unlock()
	return limiter.Allow()
}
