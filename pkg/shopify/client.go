package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/angelmondragon/brandpulse/pkg/config"
	pkgerrors "github.com/angelmondragon/brandpulse/pkg/errors"
	"github.com/angelmondragon/brandpulse/pkg/logger"
)

const (
	defaultAPIVersion = "2024-01"
	defaultTimeout    = 15 * time.Second
	defaultPageLimit  = 250
	maxPageLimit      = 250
	accessTokenHeader = "X-Shopify-Access-Token"
	maxBodyBytes      = 10 << 20
)

var errLoggerRequired = errors.New("shopify logger is required")

// Options tune the client beyond the environment config.
type Options struct {
	HTTPClient *http.Client
	// BaseURL overrides the per-shop admin URL; used by tests.
	BaseURL func(domain string) string
}

// Client calls the Shopify Admin REST API behind a circuit breaker.
type Client struct {
	http       *http.Client
	apiVersion string
	baseURL    func(domain string) string
	breaker    *gobreaker.CircuitBreaker[*response]
	logger     *logger.Logger
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// NewClient initializes the Shopify wrapper.
func NewClient(cfg config.ShopifyConfig, logg *logger.Logger, opts Options) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	version := strings.TrimSpace(cfg.APIVersion)
	if version == "" {
		version = defaultAPIVersion
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := opts.BaseURL
	if baseURL == nil {
		baseURL = func(domain string) string {
			return "https://" + domain
		}
	}
	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	c := &Client{
		http:       httpClient,
		apiVersion: version,
		baseURL:    baseURL,
		logger:     logg,
	}
	c.breaker = gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:        "shopify-admin-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !pkgerrors.IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			ctx := logg.WithFields(context.Background(), map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			logg.Warn(ctx, "shopify circuit breaker state changed")
		},
	})
	return c, nil
}

// FetchOrder loads a single order by id.
func (c *Client) FetchOrder(ctx context.Context, shop Shop, orderID string) (*Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	endpoint, err := c.endpoint(shop, "orders/"+url.PathEscape(orderID)+".json", url.Values{"status": {"any"}})
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, shop, endpoint, "fetch order")
	if err != nil {
		return nil, err
	}
	var envelope orderEnvelope
	if err := json.Unmarshal(resp.body, &envelope); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode shopify order")
	}
	return &envelope.Order, nil
}

// ListOrders returns one page of orders. Pass Page.NextPageInfo back as
// ListParams.PageInfo to continue; an empty cursor marks the last page.
func (c *Client) ListOrders(ctx context.Context, shop Shop, params ListParams) (*Page, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	query := url.Values{"limit": {strconv.Itoa(limit)}}
	if params.PageInfo != "" {
		// Shopify rejects filters alongside a page cursor.
		query.Set("page_info", params.PageInfo)
	} else {
		query.Set("status", "any")
		if params.CreatedAtMin != nil {
			query.Set("created_at_min", params.CreatedAtMin.UTC().Format(time.RFC3339))
		}
		if params.CreatedAtMax != nil {
			query.Set("created_at_max", params.CreatedAtMax.UTC().Format(time.RFC3339))
		}
	}
	endpoint, err := c.endpoint(shop, "orders.json", query)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, shop, endpoint, "list orders")
	if err != nil {
		return nil, err
	}
	var envelope ordersEnvelope
	if err := json.Unmarshal(resp.body, &envelope); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode shopify orders")
	}
	return &Page{
		Orders:       envelope.Orders,
		NextPageInfo: nextPageInfo(resp.header.Get("Link")),
	}, nil
}

func (c *Client) endpoint(shop Shop, resource string, query url.Values) (string, error) {
	domain := strings.TrimSpace(shop.Domain)
	if domain == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "shop domain is required")
	}
	u := fmt.Sprintf("%s/admin/api/%s/%s", strings.TrimRight(c.baseURL(domain), "/"), c.apiVersion, resource)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u, nil
}

func (c *Client) do(ctx context.Context, shop Shop, endpoint, op string) (*response, error) {
	resp, err := c.breaker.Execute(func() (*response, error) {
		return c.roundTrip(ctx, shop, endpoint, op)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("shopify %s rejected by circuit breaker", op))
	}
	return resp, err
}

func (c *Client) roundTrip(ctx context.Context, shop Shop, endpoint, op string) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build shopify request")
	}
	req.Header.Set(accessTokenHeader, shop.AccessToken)
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("shopify %s failed", op))
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("read shopify %s response", op))
	}
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return &response{status: res.StatusCode, header: res.Header, body: body}, nil
	}
	return nil, mapStatus(res, op)
}

func mapStatus(res *http.Response, op string) error {
	code := domainCodeForStatus(res.StatusCode)
	typed := pkgerrors.New(code, fmt.Sprintf("shopify %s returned %d", op, res.StatusCode))
	if res.StatusCode == http.StatusTooManyRequests {
		if retryAfter := res.Header.Get("Retry-After"); retryAfter != "" {
			typed.WithDetails(map[string]any{"retry_after": retryAfter})
		}
	}
	return typed
}

func domainCodeForStatus(status int) pkgerrors.Code {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return pkgerrors.CodeUnauthorized
	case status == http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case status == http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	case status == http.StatusUnprocessableEntity || status == http.StatusBadRequest:
		return pkgerrors.CodeValidation
	default:
		return pkgerrors.CodeDependency
	}
}

// nextPageInfo extracts the page_info cursor of the rel="next" link.
func nextPageInfo(link string) string {
	for _, part := range strings.Split(link, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}
		isNext := false
		for _, attr := range segments[1:] {
			if strings.TrimSpace(attr) == `rel="next"` {
				isNext = true
			}
		}
		if !isNext {
			continue
		}
		raw := strings.Trim(strings.TrimSpace(segments[0]), "<>")
		u, err := url.Parse(raw)
		if err != nil {
			return ""
		}
		return u.Query().Get("page_info")
	}
	return ""
}
