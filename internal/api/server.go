package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/ismaiel54/trading-ledger-engine/internal/gateway"
	"github.com/ismaiel54/trading-ledger-engine/internal/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// UserHeader carries the caller's identity
const UserHeader = "X-User-Id"

const defaultFlowLimit = 100

// OrderService is the order ledger surface exposed over HTTP
type OrderService interface {
	SubmitOrder(ctx context.Context, userID string, req model.OrderRequest) (model.Order, error)
	CancelOrder(ctx context.Context, userID, orderID string) error
	ListOrders(userID, symbol string) ([]model.Order, error)
	ListTrades(userID, orderID string) ([]model.Trade, error)
}

// AssetService is the asset ledger surface exposed over HTTP
type AssetService interface {
	GetBalance(userID, asset string) (model.Balance, error)
	GetAllBalances(userID string) ([]model.Balance, error)
	GetFlows(userID, asset string, limit int) ([]model.AssetFlow, error)
	Deposit(userID, asset string, amount decimal.Decimal, relatedID string) (model.Balance, error)
	Withdraw(userID, asset string, amount decimal.Decimal, relatedID string) (model.Balance, error)
}

// SymbolService resolves instrument metadata
type SymbolService interface {
	GetSymbolInfo(symbol string) (model.SymbolInfo, bool)
	List() []model.SymbolInfo
}

// Response is the envelope of every API reply
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// TransferRequest is the body of deposit and withdraw calls
type TransferRequest struct {
	Asset     string          `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
	RelatedID string          `json:"relatedId,omitempty"`
}

// Server serves the REST API
type Server struct {
	orders  OrderService
	assets  AssetService
	symbols SymbolService
	router  *mux.Router
	logger  *zap.Logger
	http    *http.Server
}

// NewServer creates the API server and registers its routes
func NewServer(orders OrderService, assets AssetService, symbols SymbolService, logger *zap.Logger) *Server {
	s := &Server{
		orders:  orders,
		assets:  assets,
		symbols: symbols,
		router:  mux.NewRouter(),
		logger:  logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.logRequests)

	api.HandleFunc("/order/submit", s.handleSubmitOrder).Methods(http.MethodPost)
	api.HandleFunc("/order/cancel/{orderId}", s.handleCancelOrder).Methods(http.MethodPost)
	api.HandleFunc("/order/list", s.handleListOrders).Methods(http.MethodGet)
	api.HandleFunc("/order/trades/{orderId}", s.handleListTrades).Methods(http.MethodGet)

	api.HandleFunc("/asset/balance", s.handleGetBalance).Methods(http.MethodGet)
	api.HandleFunc("/asset/balances", s.handleGetBalances).Methods(http.MethodGet)
	api.HandleFunc("/asset/flow", s.handleGetFlows).Methods(http.MethodGet)
	api.HandleFunc("/asset/deposit", s.handleDeposit).Methods(http.MethodPost)
	api.HandleFunc("/asset/withdraw", s.handleWithdraw).Methods(http.MethodPost)

	// list is registered first so it is not captured by {symbol}
	api.HandleFunc("/symbol/list", s.handleListSymbols).Methods(http.MethodGet)
	api.HandleFunc("/symbol/{symbol}", s.handleGetSymbol).Methods(http.MethodGet)
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API on addr until Shutdown
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("starting API server", zap.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown stops the API server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("api request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)),
		)
	})
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req model.OrderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	order, err := s.orders.SubmitOrder(r.Context(), userID, req)
	if err != nil {
		s.logger.Warn("failed to submit order", zap.String("user_id", userID), zap.Error(err))
		if order.OrderID != "" {
			// the order exists but did not reach the gateway
			respond(w, statusFor(err), Response{Code: statusFor(err), Message: err.Error(), Data: order})
			return
		}
		respondError(w, err)
		return
	}
	respondOK(w, order)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	orderID := mux.Vars(r)["orderId"]
	if err := s.orders.CancelOrder(r.Context(), userID, orderID); err != nil {
		s.logger.Warn("failed to cancel order", zap.String("order_id", orderID), zap.Error(err))
		respondError(w, err)
		return
	}
	respondOK(w, "Order cancel request submitted")
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	orders, err := s.orders.ListOrders(userID, r.URL.Query().Get("symbol"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, orders)
}

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	trades, err := s.orders.ListTrades(userID, mux.Vars(r)["orderId"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, trades)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	asset := r.URL.Query().Get("asset")
	if asset == "" {
		respondError(w, fmt.Errorf("%w: asset is required", model.ErrValidation))
		return
	}
	balance, err := s.assets.GetBalance(userID, asset)
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, balance)
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	balances, err := s.assets.GetAllBalances(userID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, balances)
}

func (s *Server) handleGetFlows(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	limit := defaultFlowLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, fmt.Errorf("%w: invalid limit %q", model.ErrValidation, v))
			return
		}
		limit = n
	}
	flows, err := s.assets.GetFlows(userID, r.URL.Query().Get("asset"), limit)
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, flows)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleTransfer(w, r, s.assets.Deposit)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleTransfer(w, r, s.assets.Withdraw)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request,
	apply func(userID, asset string, amount decimal.Decimal, relatedID string) (model.Balance, error)) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req TransferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Asset == "" {
		respondError(w, fmt.Errorf("%w: asset is required", model.ErrValidation))
		return
	}
	balance, err := apply(userID, req.Asset, req.Amount, req.RelatedID)
	if err != nil {
		s.logger.Warn("transfer failed",
			zap.String("user_id", userID),
			zap.String("asset", req.Asset),
			zap.Error(err),
		)
		respondError(w, err)
		return
	}
	respondOK(w, balance)
}

func (s *Server) handleGetSymbol(w http.ResponseWriter, r *http.Request) {
	info, ok := s.symbols.GetSymbolInfo(mux.Vars(r)["symbol"])
	if !ok {
		respond(w, http.StatusNotFound, Response{Code: http.StatusNotFound, Message: "Symbol not found"})
		return
	}
	respondOK(w, info)
}

func (s *Server) handleListSymbols(w http.ResponseWriter, r *http.Request) {
	respondOK(w, s.symbols.List())
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get(UserHeader)
	if userID == "" {
		respond(w, http.StatusBadRequest, Response{Code: http.StatusBadRequest, Message: "missing " + UserHeader + " header"})
		return "", false
	}
	return userID, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respond(w, http.StatusBadRequest, Response{Code: http.StatusBadRequest, Message: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrInsufficientBalance):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, model.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, model.ErrUnsupportedOperation):
		return http.StatusNotImplemented
	case errors.Is(err, gateway.ErrConnectionUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondOK(w http.ResponseWriter, data any) {
	respond(w, http.StatusOK, Response{Code: http.StatusOK, Message: "success", Data: data})
}

func respondError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	respond(w, status, Response{Code: status, Message: err.Error()})
}

func respond(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
