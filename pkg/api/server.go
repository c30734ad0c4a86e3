package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/crossledger/pkg/app/core/order"
	"github.com/uhyunpark/crossledger/pkg/app/core/policy"
	"github.com/uhyunpark/crossledger/pkg/app/ledger"
)

// Config wires the server to one ledger instance.
type Config struct {
	Ledger *ledger.Ledger
	Policy *policy.Static
	// Faucet enables POST /api/v1/faucet. Leave off outside devnets; the
	// ledger's asset backend must be able to mint.
	Faucet bool
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
	Logger         *zap.Logger
}

// Server handles REST API and WebSocket connections
type Server struct {
	ledger   *ledger.Ledger
	policy   *policy.Static
	faucet   bool
	router   *mux.Router
	hub      *Hub
	validate *validator.Validate
	origins  []string
	log      *zap.Logger
}

// NewServer creates a new API server and subscribes its WebSocket hub to
// ledger events.
func NewServer(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("api")

	s := &Server{
		ledger:   cfg.Ledger,
		policy:   cfg.Policy,
		faucet:   cfg.Faucet,
		router:   mux.NewRouter(),
		hub:      NewHub(log),
		validate: validator.New(),
		origins:  cfg.AllowedOrigins,
		log:      log,
	}
	if len(s.origins) == 0 {
		s.origins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	cfg.Ledger.AddSink(s.hub)

	s.setupRoutes(cfg.Gatherer)
	return s
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.router.Use(s.requestID)

	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/ledger", s.handleGetLedger).Methods("GET")

	// Origin role
	api.HandleFunc("/deposits", s.handleDeposit).Methods("POST")
	api.HandleFunc("/cancel", s.handleCancel).Methods("POST")
	api.HandleFunc("/withdrawals", s.handleWithdraw).Methods("POST")

	// Destination role
	api.HandleFunc("/fills", s.handleFill).Methods("POST")
	api.HandleFunc("/cancel-dest", s.handleCancelDest).Methods("POST")
	api.HandleFunc("/cancel-dest/quote", s.handleQuoteCancel).Methods("POST")
	api.HandleFunc("/settle", s.handleSettle).Methods("POST")
	api.HandleFunc("/settle/quote", s.handleQuoteSettle).Methods("GET")
	api.HandleFunc("/fills/{origin}/{filler}", s.handleGetPendingFills).Methods("GET")

	// Queries
	api.HandleFunc("/orders/id", s.handleOrderID).Methods("POST")
	api.HandleFunc("/orders/typed-data", s.handleTypedData).Methods("POST")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/balances/{account}/{asset}", s.handleGetBalance).Methods("GET")

	// Administration
	api.HandleFunc("/admin/pause", s.handlePause).Methods("POST")
	api.HandleFunc("/admin/emergency-cancel", s.handleEmergencyCancel).Methods("POST")
	if s.faucet {
		api.HandleFunc("/faucet", s.handleFaucet).Methods("POST")
	}

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	if gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// requestID tags every request with an X-Request-ID, generating one when the
// client did not send it.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("server starting", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetLedger(w http.ResponseWriter, r *http.Request) {
	domain := s.ledger.Signer().Domain()
	info := LedgerInfo{
		ID:                uint32(s.ledger.ID()),
		Custody:           s.ledger.Custody(),
		MaxFillsPerSettle: s.ledger.MaxFillsPerSettle(),
		VerifyingContract: domain.VerifyingContract,
		Paused:            s.policy.IsPaused(),
	}
	if domain.ChainID != nil {
		info.ChainID = domain.ChainID.String()
	}
	respondJSON(w, info)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if !s.decode(w, r, &req) {
		return
	}
	o, err := req.Order.toOrder()
	if err != nil {
		respondBadRequest(w, err)
		return
	}
	src, err := req.SrcHook.toHook()
	if err != nil {
		respondBadRequest(w, err)
		return
	}

	id, err := s.ledger.Deposit(r.Context(), ledger.DepositRequest{
		Caller:    req.Caller,
		Order:     o,
		Signature: req.Signature,
		SrcHook:   src,
	})
	if err != nil {
		s.respondLedgerError(w, "deposit", err)
		return
	}
	respondJSON(w, OrderResponse{OrderID: id.Hex()})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if !s.decode(w, r, &req) {
		return
	}
	o, err := req.Order.toOrder()
	if err != nil {
		respondBadRequest(w, err)
		return
	}
	if err := s.ledger.Cancel(r.Context(), req.Caller, o); err != nil {
		s.respondLedgerError(w, "cancel", err)
		return
	}
	respondJSON(w, OrderResponse{OrderID: o.ID().Hex()})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		respondBadRequest(w, err)
		return
	}
	if err := s.ledger.Withdraw(r.Context(), req.Account, req.Asset, &amount); err != nil {
		s.respondLedgerError(w, "withdraw", err)
		return
	}
	s.respondBalance(w, r, req.Account, req.Asset)
}

func (s *Server) handleFill(w http.ResponseWriter, r *http.Request) {
	var req FillRequest
	if !s.decode(w, r, &req) {
		return
	}
	o, err := req.Order.toOrder()
	if err != nil {
		respondBadRequest(w, err)
		return
	}
	dst, err := req.DstHook.toHook()
	if err != nil {
		respondBadRequest(w, err)
		return
	}
	if err := s.ledger.Fill(r.Context(), ledger.FillRequest{Filler: req.Filler, Order: o, DstHook: dst}); err != nil {
		s.respondLedgerError(w, "fill", err)
		return
	}
	respondJSON(w, OrderResponse{OrderID: o.ID().Hex()})
}

func (s *Server) handleCancelDest(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if !s.decode(w, r, &req) {
		return
	}
	o, err := req.Order.toOrder()
	if err != nil {
		respondBadRequest(w, err)
		return
	}
	opts, err := req.Options.toOptions()
	if err != nil {
		respondBadRequest(w, err)
		return
	}
	rcpt, err := s.ledger.CancelDest(r.Context(), req.Caller, o, opts)
	if err != nil {
		s.respondLedgerError(w, "cancel_dest", err)
		return
	}
	respondJSON(w, fromReceipt(rcpt))
}

func (s *Server) handleQuoteCancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if !s.decode(w, r, &req) {
		return
	}
	o, err := req.Order.toOrder()
	if err != nil {
		respondBadRequest(w, err)
		return
	}
	opts, err := req.Options.toOptions()
	if err != nil {
		respondBadRequest(w, err)
		return
	}
	fee, err := s.ledger.QuoteCancel(&o, opts)
	if err != nil {
		s.respondLedgerError(w, "quote_cancel", err)
		return
	}
	respondJSON(w, FeeQuote{Fee: fee.Native.Dec()})
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if !s.decode(w, r, &req) {
		return
	}
	opts, err := req.Options.toOptions()
	if err != nil {
		respondBadRequest(w, err)
		return
	}
	res, err := s.ledger.Settle(r.Context(), req.Filler, order.LedgerID(req.Origin), opts)
	if err != nil {
		s.respondLedgerError(w, "settle", err)
		return
	}
	respondJSON(w, SettleResponse{Receipt: fromReceipt(res.Receipt), OrderIDs: res.IDs})
}

// handleQuoteSettle: GET /api/v1/settle/quote?filler=0x..&origin=2[&gasLimit=..]
func (s *Server) handleQuoteSettle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filler, err := parseAddress(q.Get("filler"))
	if err != nil {
		respondBadRequest(w, err)
		return
	}
	origin, err := parseLedger(q.Get("origin"))
	if err != nil {
		respondBadRequest(w, err)
		return
	}
	opts := DeliveryOptions{NativeDrop: q.Get("nativeDrop"), MaxFee: q.Get("maxFee")}
	if g := q.Get("gasLimit"); g != "" {
		if opts.GasLimit, err = strconv.ParseUint(g, 10, 64); err != nil {
			respondBadRequest(w, fmt.Errorf("gasLimit: %w", err))
			return
		}
	}
	bopts, err := opts.toOptions()
	if err != nil {
		respondBadRequest(w, err)
		return
	}
	fee, err := s.ledger.QuoteSettle(r.Context(), filler, origin, bopts)
	if err != nil {
		s.respondLedgerError(w, "quote_settle", err)
		return
	}
	respondJSON(w, FeeQuote{Fee: fee.Native.Dec()})
}

func (s *Server) handleGetPendingFills(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	origin, err := parseLedger(vars["origin"])
	if err != nil {
		respondBadRequest(w, err)
		return
	}
	filler, err := parseAddress(vars["filler"])
	if err != nil {
		respondBadRequest(w, err)
		return
	}
	ids, err := s.ledger.PendingFills(r.Context(), origin, filler)
	if err != nil {
		s.respondLedgerError(w, "pending_fills", err)
		return
	}
	if ids == nil {
		ids = []order.ID{}
	}
	respondJSON(w, PendingFills{Origin: uint32(origin), Filler: filler, OrderIDs: ids})
}

func (s *Server) handleOrderID(w http.ResponseWriter, r *http.Request) {
	var req Order
	if !s.decode(w, r, &req) {
		return
	}
	o, err := req.toOrder()
	if err != nil {
		respondBadRequest(w, err)
		return
	}
	respondJSON(w, OrderResponse{OrderID: o.ID().Hex()})
}

// handleTypedData returns the EIP-712 payload a wallet signs for the order.
func (s *Server) handleTypedData(w http.ResponseWriter, r *http.Request) {
	var req Order
	if !s.decode(w, r, &req) {
		return
	}
	o, err := req.toOrder()
	if err != nil {
		respondBadRequest(w, err)
		return
	}
	typed, err := s.ledger.Signer().OrderToJSON(&o)
	if err != nil {
		s.respondLedgerError(w, "typed_data", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(typed))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := order.HexToID(mux.Vars(r)["id"])
	if err != nil {
		respondBadRequest(w, err)
		return
	}
	v, err := s.ledger.OrderState(r.Context(), id)
	if err != nil {
		s.respondLedgerError(w, "order_state", err)
		return
	}
	if v.Order == nil && v.OriginStatus == order.Unknown && v.DestStatus == order.Unknown {
		respondError(w, http.StatusNotFound, "not_found", "order not known to this ledger")
		return
	}
	respondJSON(w, fromView(v))
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	account, err := parseAddress(vars["account"])
	if err != nil {
		respondBadRequest(w, err)
		return
	}
	assetAddr, err := parseAddress(vars["asset"])
	if err != nil {
		respondBadRequest(w, err)
		return
	}
	s.respondBalance(w, r, account, assetAddr)
}

func (s *Server) respondBalance(w http.ResponseWriter, r *http.Request, account, assetAddr common.Address) {
	b, err := s.ledger.Balance(r.Context(), account, assetAddr)
	if err != nil {
		s.respondLedgerError(w, "balance", err)
		return
	}
	respondJSON(w, BalanceInfo{
		Account:  account,
		Asset:    assetAddr,
		Locked:   b.Locked.Dec(),
		Unlocked: b.Unlocked.Dec(),
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req PauseRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !s.policy.IsAdmin(req.Admin) {
		respondError(w, http.StatusForbidden, order.ClassNeverValid.String(), order.ErrNotPermitted.Error())
		return
	}
	s.policy.SetPaused(req.Paused)
	s.log.Warn("pause switch flipped", zap.Bool("paused", req.Paused), zap.String("admin", req.Admin.Hex()))
	respondJSON(w, map[string]bool{"paused": req.Paused})
}

func (s *Server) handleEmergencyCancel(w http.ResponseWriter, r *http.Request) {
	var req EmergencyCancelRequest
	if !s.decode(w, r, &req) {
		return
	}
	o, err := req.Order.toOrder()
	if err != nil {
		respondBadRequest(w, err)
		return
	}
	if err := s.ledger.EmergencyCancel(r.Context(), req.Admin, o); err != nil {
		s.respondLedgerError(w, "emergency_cancel", err)
		return
	}
	respondJSON(w, OrderResponse{OrderID: o.ID().Hex()})
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		respondBadRequest(w, err)
		return
	}
	bal, err := s.ledger.Mint(r.Context(), req.Asset, req.To, &amount)
	if err != nil {
		s.respondLedgerError(w, "faucet", err)
		return
	}
	respondJSON(w, map[string]string{"balance": bal.Dec()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

// statusFor maps a rejection class to an HTTP status.
func statusFor(class order.Class) int {
	switch class {
	case order.ClassNeverValid:
		return http.StatusUnprocessableEntity
	case order.ClassConsumed:
		return http.StatusConflict
	case order.ClassRetryLater:
		return http.StatusTooEarly
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondLedgerError(w http.ResponseWriter, op string, err error) {
	class := ledger.Classify(err)
	if class == order.ClassInternal {
		s.log.Error("request failed",
			zap.String("op", op),
			zap.String("request_id", w.Header().Get("X-Request-ID")),
			zap.Error(err))
	}
	respondError(w, statusFor(class), class.String(), err.Error())
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondBadRequest(w, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		respondBadRequest(w, err)
		return false
	}
	return true
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseLedger(s string) (order.LedgerID, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid ledger id %q", s)
	}
	return order.LedgerID(n), nil
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func respondBadRequest(w http.ResponseWriter, err error) {
	respondError(w, http.StatusBadRequest, "bad_request", err.Error())
}

func respondError(w http.ResponseWriter, status int, class string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   class,
		Message: message,
	})
}
