// Package trade provides the HTTP handlers for accounts, ledger operations,
// the market catalog and the assistant.
//
// All monetary values use shopspring/decimal, never float64 for money.
package trade

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/stockflow/market-sim/internal/assistant"
	"github.com/stockflow/market-sim/internal/events"
	"github.com/stockflow/market-sim/internal/feed"
	"github.com/stockflow/market-sim/internal/ledger"
	"github.com/stockflow/market-sim/internal/model"
	"github.com/stockflow/market-sim/internal/session"
	"github.com/stockflow/market-sim/internal/store"
	"github.com/stockflow/market-sim/internal/symbol"
)

// Service serves the StockFlow API. Ledger operations are serialized with a
// mutex (single instance); the account version guards writes from other
// instances and from clients that PUT directly.
type Service struct {
	store     store.Store
	catalog   *feed.Catalog
	engine    *ledger.Engine
	publisher events.Publisher
	assistant assistant.Assistant
	wsHub     *WSHub // optional WebSocket hub for tick broadcasts
	logger    *slog.Logger
	mu        sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithEngine overrides the ledger engine (clock and id generation).
func WithEngine(e *ledger.Engine) Option {
	return func(s *Service) { s.engine = e }
}

// WithPublisher sets the event publisher. Defaults to events.Nop.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithAssistant sets the AI collaborator. Defaults to assistant.Unavailable.
func WithAssistant(a assistant.Assistant) Option {
	return func(s *Service) { s.assistant = a }
}

// WithHub attaches the WebSocket hub served at /ws.
func WithHub(h *WSHub) Option {
	return func(s *Service) { s.wsHub = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a new API service over the account store and the
// live instrument catalog.
func NewService(st store.Store, catalog *feed.Catalog, opts ...Option) *Service {
	s := &Service{
		store:     st,
		catalog:   catalog,
		engine:    ledger.NewEngine(),
		publisher: events.Nop{},
		assistant: assistant.Unavailable{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.assistant == nil {
		s.assistant = assistant.Unavailable{}
	}
	if s.publisher == nil {
		s.publisher = events.Nop{}
	}
	return s
}

// Mount registers the API routes on r. The caller decides the prefix.
func (s *Service) Mount(r chi.Router) {
	r.Route("/user/{username}", func(r chi.Router) {
		r.Get("/", s.GetUser)
		r.Post("/", s.CreateUser)
		r.Put("/", s.UpdateUser)
		r.Get("/portfolio", s.GetPortfolio)
		r.Post("/deposit", s.Deposit)
		r.Post("/buy", s.Buy)
		r.Post("/sell", s.Sell)
		r.Put("/watchlist/{ticker}", s.Watch)
		r.Delete("/watchlist/{ticker}", s.Unwatch)
	})
	r.Post("/feedback", s.SubmitFeedback)

	r.Get("/market", s.ListMarket)
	r.Get("/market/{ticker}", s.GetInstrument)

	r.Post("/assistant", s.Ask)
	r.Post("/avatar", s.GenerateAvatar)

	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}
}

// --- Request/Response types ---

// UpdateResponse is the body returned from PUT /user/{username}.
type UpdateResponse struct {
	Message string `json:"message"`
	Version int64  `json:"version"`
}

// DepositRequest is the JSON body for POST /user/{username}/deposit.
type DepositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// OrderRequest is the JSON body for buy and sell. Orders fill at the live
// catalog price.
type OrderRequest struct {
	Ticker   string `json:"ticker"`
	Quantity int64  `json:"quantity"`
}

// LedgerResponse is the body returned from deposit, buy and sell.
type LedgerResponse struct {
	Account     model.Account      `json:"account"`
	Transaction *model.Transaction `json:"transaction"`
}

// FeedbackRequest is the JSON body for POST /feedback.
type FeedbackRequest struct {
	Username string `json:"username"`
	Subject  string `json:"subject"`
	Message  string `json:"message"`
}

// --- Account handlers ---

// GetUser handles GET /user/{username}
func (s *Service) GetUser(w http.ResponseWriter, r *http.Request) {
	acct, err := s.store.GetAccount(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// CreateUser handles POST /user/{username}
// Seeds a new account with the starting balance.
func (s *Service) CreateUser(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(chi.URLParam(r, "username"))
	if username == "" {
		writeError(w, "username is required", http.StatusBadRequest)
		return
	}

	acct, err := s.store.CreateAccount(r.Context(), username)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.logger.Info("account created", "user", acct.User.Name)
	ev := events.New(events.AccountCreated, acct.User.Name)
	ev.Version = acct.Version
	s.publish(r.Context(), ev)

	writeJSON(w, http.StatusCreated, acct)
}

// UpdateUser handles PUT /user/{username}
// Shallow-merges the body into the stored record. An If-Match header makes
// the write conditional on the account version.
func (s *Service) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var patch model.AccountPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	version, err := ifMatch(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	patch.IfVersion = version

	acct, err := s.store.UpdateAccount(r.Context(), chi.URLParam(r, "username"), patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if patch.User != nil {
		ev := events.New(events.AvatarUpdated, acct.User.Name)
		ev.Version = acct.Version
		s.publish(r.Context(), ev)
	}

	w.Header().Set("ETag", strconv.FormatInt(acct.Version, 10))
	writeJSON(w, http.StatusOK, UpdateResponse{Message: "User updated successfully", Version: acct.Version})
}

// GetPortfolio handles GET /user/{username}/portfolio
// Values every holding at the live catalog price.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	acct, err := s.store.GetAccount(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ledger.Value(*acct, s.catalog.Prices()))
}

// Deposit handles POST /user/{username}/deposit
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.execute(w, r, func(ctx context.Context, sess *session.Session) (ledger.Change, error) {
		return sess.Deposit(ctx, req.Amount)
	})
}

// Buy handles POST /user/{username}/buy
func (s *Service) Buy(w http.ResponseWriter, r *http.Request) {
	s.order(w, r, (*session.Session).Buy)
}

// Sell handles POST /user/{username}/sell
func (s *Service) Sell(w http.ResponseWriter, r *http.Request) {
	s.order(w, r, (*session.Session).Sell)
}

type orderFunc func(*session.Session, context.Context, string, int64, decimal.Decimal) (ledger.Change, error)

func (s *Service) order(w http.ResponseWriter, r *http.Request, fill orderFunc) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	inst, ok := s.lookup(w, req.Ticker)
	if !ok {
		return
	}

	s.execute(w, r, func(ctx context.Context, sess *session.Session) (ledger.Change, error) {
		return fill(sess, ctx, inst.Ticker, req.Quantity, inst.Price)
	})
}

// execute runs one ledger operation for the path user and writes the
// result through. Events go out after the ledger lock is released.
func (s *Service) execute(w http.ResponseWriter, r *http.Request, op func(context.Context, *session.Session) (ledger.Change, error)) {
	ctx := r.Context()

	ch, err := s.locked(ctx, chi.URLParam(r, "username"), func(sess *session.Session) (ledger.Change, error) {
		return op(ctx, sess)
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	tx := ch.Transaction
	s.logger.Info("ledger operation",
		"user", ch.Account.User.Name,
		"type", tx.Type,
		"ticker", tx.Ticker,
		"qty", tx.Quantity,
		"amount", tx.Amount.String(),
		"wallet", ch.Account.Wallet.String(),
	)

	ev := events.New(events.ForTransaction(tx.Type), ch.Account.User.Name)
	ev.Ticker = tx.Ticker
	ev.Transaction = tx
	ev.Version = ch.Account.Version
	s.publish(ctx, ev)

	writeJSON(w, http.StatusOK, LedgerResponse{Account: ch.Account, Transaction: tx})
}

// locked signs username in and runs fn while holding the ledger lock.
func (s *Service) locked(ctx context.Context, username string, fn func(*session.Session) (ledger.Change, error)) (ledger.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := session.New(s.store, s.engine, s.logger)
	if _, err := sess.SignIn(ctx, username); err != nil {
		return ledger.Change{}, err
	}
	return fn(sess)
}

// Watch handles PUT /user/{username}/watchlist/{ticker}
func (s *Service) Watch(w http.ResponseWriter, r *http.Request) {
	s.watchlist(w, r, events.WatchlistAdded, (*session.Session).AddToWatchlist)
}

// Unwatch handles DELETE /user/{username}/watchlist/{ticker}
func (s *Service) Unwatch(w http.ResponseWriter, r *http.Request) {
	s.watchlist(w, r, events.WatchlistRemoved, (*session.Session).RemoveFromWatchlist)
}

type watchFunc func(*session.Session, context.Context, string) (ledger.Change, bool, error)

func (s *Service) watchlist(w http.ResponseWriter, r *http.Request, evType events.Type, toggle watchFunc) {
	inst, ok := s.lookup(w, chi.URLParam(r, "ticker"))
	if !ok {
		return
	}
	ctx := r.Context()

	changed := false
	ch, err := s.locked(ctx, chi.URLParam(r, "username"), func(sess *session.Session) (ledger.Change, error) {
		before, _ := sess.Account()
		ch, ok, err := toggle(sess, ctx, inst.Ticker)
		if err != nil {
			return ledger.Change{}, err
		}
		if !ok {
			return ledger.Change{Account: before}, nil
		}
		changed = true
		return ch, nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !changed {
		writeJSON(w, http.StatusOK, ch.Account)
		return
	}

	ev := events.New(evType, ch.Account.User.Name)
	ev.Ticker = inst.Ticker
	ev.Version = ch.Account.Version
	s.publish(ctx, ev)

	writeJSON(w, http.StatusOK, ch.Account)
}

// SubmitFeedback handles POST /feedback
func (s *Service) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Username) == "" || strings.TrimSpace(req.Subject) == "" || strings.TrimSpace(req.Message) == "" {
		writeError(w, "Missing required fields (username, subject, message).", http.StatusBadRequest)
		return
	}

	fb := &model.Feedback{
		ID:       model.NewTransactionID(),
		Username: req.Username,
		Subject:  req.Subject,
		Message:  req.Message,
		Date:     s.engine.Now(),
	}
	if err := s.store.InsertFeedback(r.Context(), fb); err != nil {
		s.fail(w, r, err)
		return
	}

	s.publish(r.Context(), events.New(events.FeedbackSubmitted, req.Username))
	writeJSON(w, http.StatusCreated, map[string]string{"message": "Feedback submitted successfully"})
}

// --- Helpers ---

// lookup resolves a ticker against the live catalog, writing 400 for a
// malformed symbol and 404 for an unknown one.
func (s *Service) lookup(w http.ResponseWriter, ticker string) (model.Instrument, bool) {
	sym, err := symbol.Parse(ticker)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return model.Instrument{}, false
	}
	inst, ok := s.catalog.Get(sym)
	if !ok {
		writeError(w, "unknown ticker: "+sym, http.StatusNotFound)
		return model.Instrument{}, false
	}
	return inst, true
}

// publish delivers events; failures are logged and never fail the request.
func (s *Service) publish(ctx context.Context, evs ...events.Event) {
	if err := s.publisher.Publish(ctx, evs...); err != nil {
		s.logger.Warn("event publish failed", "type", evs[0].Type, "err", err)
	}
}

// fail maps a domain error to its status and writes it.
func (s *Service) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "err", err)
	}
	writeError(w, msg, status)
}

// statusFor maps sentinel errors to HTTP statuses.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrValidation), errors.Is(err, model.ErrInvalidPatch),
		errors.Is(err, assistant.ErrEmptyPrompt):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusPaymentRequired, err.Error()
	case errors.Is(err, ledger.ErrNoSuchPosition), errors.Is(err, ledger.ErrInsufficientQuantity):
		return http.StatusConflict, err.Error()
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "User not found"
	case errors.Is(err, store.ErrAlreadyExists):
		return http.StatusConflict, "User already exists"
	case errors.Is(err, store.ErrVersionConflict):
		return http.StatusConflict, "account was modified concurrently, reload and retry"
	case errors.Is(err, assistant.ErrUnavailable):
		return http.StatusServiceUnavailable, assistant.FallbackReply
	case errors.Is(err, assistant.ErrUpstream):
		return http.StatusBadGateway, assistant.FallbackReply
	default:
		return http.StatusInternalServerError, "Internal Server Error"
	}
}

// ifMatch parses the optional If-Match version header. Quotes are allowed.
func ifMatch(r *http.Request) (int64, error) {
	raw := strings.Trim(strings.TrimSpace(r.Header.Get("If-Match")), `"`)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, errors.New("If-Match must be a positive account version")
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"message": msg})
}
