package crm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/valyala/fasthttp"

	"amoreport/internal/models"
)

const (
	DefaultHost               = "amocrm.ru"
	DefaultTimeout            = 15 * time.Second
	DefaultBreakerMaxFailures = 3
	DefaultBreakerOpenTimeout = 5 * time.Minute

	leadsPath = "/api/v4/leads"
)

type BreakerOptions struct {
	MaxFailures uint32
	OpenTimeout time.Duration
}

type Options struct {
	AccountID string
	Token     string
	// Host is the CRM domain the account lives on; BaseURL, when set,
	// replaces the whole https://{account}.{host} origin.
	Host       string
	BaseURL    string
	Timeout    time.Duration
	Breaker    BreakerOptions
	HTTPClient *fasthttp.Client
	Logger     *slog.Logger
}

// Client fetches the lead list of one amoCRM account.
type Client struct {
	url        string
	authHeader string
	timeout    time.Duration
	http       *fasthttp.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
	secrets    []string
}

func NewClient(opts Options) (*Client, error) {
	accountID := strings.TrimSpace(opts.AccountID)
	if accountID == "" {
		return nil, errors.New("crm: account id must be set")
	}
	token := strings.TrimSpace(opts.Token)
	if token == "" {
		return nil, errors.New("crm: token must be set")
	}

	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		host := strings.TrimSpace(opts.Host)
		if host == "" {
			host = DefaultHost
		}
		base = fmt.Sprintf("https://%s.%s", accountID, host)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &fasthttp.Client{
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	authHeader := "Bearer " + token
	c := &Client{
		url:        base + leadsPath,
		authHeader: authHeader,
		timeout:    timeout,
		http:       httpClient,
		logger:     logger,
		secrets:    []string{authHeader, token},
	}
	c.breaker = newBreaker(opts.Breaker, logger)
	return c, nil
}

func newBreaker(opts BreakerOptions, logger *slog.Logger) *gobreaker.CircuitBreaker {
	maxFailures := opts.MaxFailures
	if maxFailures == 0 {
		maxFailures = DefaultBreakerMaxFailures
	}
	openTimeout := opts.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = DefaultBreakerOpenTimeout
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "amocrm",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return !tripsBreaker(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("[crm][breaker] state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// FetchDeals performs one GET of the lead list. Every failure is a *Error.
func (c *Client) FetchDeals(ctx context.Context) ([]models.Deal, error) {
	c.logger.Info("[crm][fetch] start", "url", c.url)

	out, err := c.breaker.Execute(func() (any, error) {
		return c.fetch(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = &Error{Kind: KindCircuitOpen, Message: "crm circuit breaker is open", Err: err}
		}
		var crmErr *Error
		if errors.As(err, &crmErr) {
			c.logger.Error("[crm][fetch] failed", "kind", string(crmErr.Kind), "status", crmErr.StatusCode, "error", crmErr.Error())
		}
		return nil, err
	}

	deals := out.([]models.Deal)
	c.logger.Info("[crm][fetch] finished", "deals", len(deals))
	return deals, nil
}

func (c *Client) fetch(ctx context.Context) ([]models.Deal, error) {
	if err := ctx.Err(); err != nil {
		return nil, c.transportError(err)
	}
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.SetRequestURI(c.url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set(fasthttp.HeaderAuthorization, c.authHeader)
	req.Header.SetContentType("application/json")

	if err := c.http.DoTimeout(req, resp, timeout); err != nil {
		return nil, c.transportError(err)
	}

	status := resp.StatusCode()
	switch {
	case status == fasthttp.StatusNoContent:
		// amoCRM answers 204 when the account has no leads at all.
		return []models.Deal{}, nil
	case status != fasthttp.StatusOK:
		return nil, &Error{
			Kind:       KindBadStatus,
			StatusCode: status,
			Message:    fmt.Sprintf("crm returned status %d", status),
			secrets:    c.secrets,
		}
	}

	deals, err := decodeLeads(resp.Body())
	if err != nil {
		return nil, &Error{
			Kind:       KindMalformedResponse,
			StatusCode: status,
			Message:    "crm response is not a lead list",
			Err:        err,
			secrets:    c.secrets,
		}
	}
	return deals, nil
}

func (c *Client) transportError(err error) *Error {
	kind := KindNetwork
	var netErr net.Error
	switch {
	case errors.Is(err, fasthttp.ErrTimeout),
		errors.Is(err, fasthttp.ErrDialTimeout),
		errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	}
	return &Error{
		Kind:    kind,
		Message: "crm request failed",
		Err:     err,
		secrets: c.secrets,
	}
}

// Malformed bodies and 4xx answers are the CRM telling us something
// definite; only transport trouble and 5xx/429 count against the breaker.
func tripsBreaker(err error) bool {
	if err == nil {
		return false
	}
	var crmErr *Error
	if !errors.As(err, &crmErr) {
		return true
	}
	switch crmErr.Kind {
	case KindNetwork, KindTimeout:
		return true
	case KindBadStatus:
		return crmErr.StatusCode >= 500 || crmErr.StatusCode == fasthttp.StatusTooManyRequests
	default:
		return false
	}
}
