// Package client talks to the StockFlow API over HTTP. Client implements
// store.Store, so a session can run ledger operations locally and write the
// changed fields through the server's update endpoint.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"resty.dev/v3"

	"github.com/stockflow/market-sim/internal/assistant"
	"github.com/stockflow/market-sim/internal/model"
	"github.com/stockflow/market-sim/internal/store"
)

const (
	_userURL       = "/api/user/{username}"
	_portfolioURL  = "/api/user/{username}/portfolio"
	_feedbackURL   = "/api/feedback"
	_marketURL     = "/api/market"
	_instrumentURL = "/api/market/{ticker}"
	_assistantURL  = "/api/assistant"
	_avatarURL     = "/api/avatar"

	_defaultTimeout = 30 * time.Second
)

// ErrUnknownTicker is returned by Instrument for a ticker not in the catalog.
var ErrUnknownTicker = errors.New("client: unknown ticker")

// APIError is a non-2xx response. It unwraps to the matching domain
// sentinel when there is one.
type APIError struct {
	StatusCode int
	Message    string
	kind       error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.kind }

type errorBody struct {
	Message string `json:"message"`
}

// Client is a StockFlow API client.
type Client struct {
	c *resty.Client
}

var _ store.Store = (*Client)(nil)

// New creates a client for the server at baseURL.
func New(baseURL string) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(_defaultTimeout).
		SetHeader("Accept", "application/json")
	return &Client{c: c}
}

// Close releases the underlying HTTP resources.
func (c *Client) Close() error {
	return c.c.Close()
}

// --- store.Store ---

func (c *Client) GetAccount(ctx context.Context, username string) (*model.Account, error) {
	var a model.Account
	resp, err := c.c.R().
		SetContext(ctx).
		SetPathParam("username", username).
		SetResult(&a).
		SetError(&errorBody{}).
		Get(_userURL)
	if err := check(resp, err, kinds{http.StatusNotFound: store.ErrNotFound}); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) CreateAccount(ctx context.Context, username string) (*model.Account, error) {
	var a model.Account
	resp, err := c.c.R().
		SetContext(ctx).
		SetPathParam("username", username).
		SetResult(&a).
		SetError(&errorBody{}).
		Post(_userURL)
	if err := check(resp, err, kinds{http.StatusConflict: store.ErrAlreadyExists}); err != nil {
		return nil, err
	}
	return &a, nil
}

// UpdateAccount sends the patch, conditioned on IfVersion when set, then
// reads the merged record back.
func (c *Client) UpdateAccount(ctx context.Context, username string, patch model.AccountPatch) (*model.Account, error) {
	req := c.c.R().
		SetContext(ctx).
		SetPathParam("username", username).
		SetBody(patch).
		SetError(&errorBody{})
	if patch.IfVersion > 0 {
		req.SetHeader("If-Match", strconv.FormatInt(patch.IfVersion, 10))
	}

	resp, err := req.Put(_userURL)
	if err := check(resp, err, kinds{
		http.StatusNotFound:   store.ErrNotFound,
		http.StatusConflict:   store.ErrVersionConflict,
		http.StatusBadRequest: model.ErrInvalidPatch,
	}); err != nil {
		return nil, err
	}
	return c.GetAccount(ctx, username)
}

func (c *Client) InsertFeedback(ctx context.Context, fb *model.Feedback) error {
	resp, err := c.c.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"username": fb.Username,
			"subject":  fb.Subject,
			"message":  fb.Message,
		}).
		SetError(&errorBody{}).
		Post(_feedbackURL)
	return check(resp, err, nil)
}

// --- Market ---

// Instruments lists the catalog, optionally filtered by kind and category.
func (c *Client) Instruments(ctx context.Context, kind model.InstrumentKind, category string) ([]model.Instrument, error) {
	var items []model.Instrument
	req := c.c.R().
		SetContext(ctx).
		SetResult(&items).
		SetError(&errorBody{})
	if kind != "" {
		req.SetQueryParam("type", string(kind))
	}
	if category != "" {
		req.SetQueryParam("category", category)
	}
	resp, err := req.Get(_marketURL)
	if err := check(resp, err, nil); err != nil {
		return nil, err
	}
	return items, nil
}

// Instrument returns one catalog entry with its live price.
func (c *Client) Instrument(ctx context.Context, ticker string) (model.Instrument, error) {
	var inst model.Instrument
	resp, err := c.c.R().
		SetContext(ctx).
		SetPathParam("ticker", ticker).
		SetResult(&inst).
		SetError(&errorBody{}).
		Get(_instrumentURL)
	if err := check(resp, err, kinds{http.StatusNotFound: ErrUnknownTicker}); err != nil {
		return model.Instrument{}, err
	}
	return inst, nil
}

// Portfolio returns the account valued at live prices.
func (c *Client) Portfolio(ctx context.Context, username string) (model.Portfolio, error) {
	var p model.Portfolio
	resp, err := c.c.R().
		SetContext(ctx).
		SetPathParam("username", username).
		SetResult(&p).
		SetError(&errorBody{}).
		Get(_portfolioURL)
	if err := check(resp, err, kinds{http.StatusNotFound: store.ErrNotFound}); err != nil {
		return model.Portfolio{}, err
	}
	return p, nil
}

// --- Assistant ---

// Ask sends a support question with the prior conversation.
func (c *Client) Ask(ctx context.Context, query string, history []assistant.Message) (string, error) {
	var out struct {
		Reply string `json:"reply"`
	}
	resp, err := c.c.R().
		SetContext(ctx).
		SetBody(map[string]any{"query": query, "history": history}).
		SetResult(&out).
		SetError(&errorBody{}).
		Post(_assistantURL)
	if err := check(resp, err, nil); err != nil {
		return "", err
	}
	return out.Reply, nil
}

// Avatar generates an avatar and returns its data URI. It does not save it.
func (c *Client) Avatar(ctx context.Context, prompt string) (string, error) {
	var out struct {
		AvatarDataURI string `json:"avatarDataUri"`
	}
	resp, err := c.c.R().
		SetContext(ctx).
		SetBody(map[string]string{"prompt": prompt}).
		SetResult(&out).
		SetError(&errorBody{}).
		Post(_avatarURL)
	if err := check(resp, err, nil); err != nil {
		return "", err
	}
	return out.AvatarDataURI, nil
}

// kinds maps response statuses to the domain sentinel an APIError unwraps to.
type kinds map[int]error

var _assistantKinds = kinds{
	http.StatusBadGateway:         assistant.ErrUpstream,
	http.StatusServiceUnavailable: assistant.ErrUnavailable,
}

// check turns a transport error or non-2xx response into an error.
func check(resp *resty.Response, err error, k kinds) error {
	if err != nil {
		return fmt.Errorf("api request: %w", err)
	}
	if !resp.IsError() {
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode(), Message: resp.Status()}
	if body, ok := resp.Error().(*errorBody); ok && body.Message != "" {
		apiErr.Message = body.Message
	}
	if kind, ok := k[resp.StatusCode()]; ok {
		apiErr.kind = kind
	} else {
		apiErr.kind = _assistantKinds[resp.StatusCode()]
	}
	return apiErr
}
