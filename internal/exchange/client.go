// Package exchange implements the gateway to the wagering venue's REST
// betting API. It owns session and credential lifecycle; callers see only the
// narrow domain.ExchangeGateway contract, with connectivity problems mapped
// to domain.ErrExchangeUnavailable.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/mvrosca/stakepilot/internal/domain"
)

const (
	// DefaultIdentityURL is the venue's certificate login endpoint.
	DefaultIdentityURL = "https://identitysso-cert.betfair.com/api/certlogin"
	// DefaultKeepAliveURL extends an existing session.
	DefaultKeepAliveURL = "https://identitysso.betfair.com/api/keepAlive"
	// DefaultAPIURL is the betting API root.
	DefaultAPIURL = "https://api.betfair.com/exchange/betting/rest/v1.0"

	// footballEventTypeID selects association football in venue filters.
	footballEventTypeID = "1"
	// matchOddsMarketType is the 1X2 market the bot wagers on.
	matchOddsMarketType = "MATCH_ODDS"
)

// Config holds the gateway's endpoints. Zero values fall back to the public
// production endpoints.
type Config struct {
	IdentityURL  string
	KeepAliveURL string
	APIURL       string
	Timeout      time.Duration
}

// Gateway implements domain.ExchangeGateway against the venue's REST API.
type Gateway struct {
	apiURL     string
	httpClient *http.Client
	sessions   *sessionManager
	logger     *slog.Logger
}

// NewGateway creates a Gateway resolving credentials through creds.
func NewGateway(cfg Config, creds CredentialSource, logger *slog.Logger) *Gateway {
	if cfg.IdentityURL == "" {
		cfg.IdentityURL = DefaultIdentityURL
	}
	if cfg.KeepAliveURL == "" {
		cfg.KeepAliveURL = DefaultKeepAliveURL
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Gateway{
		apiURL:     strings.TrimSuffix(cfg.APIURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		sessions:   newSessionManager(cfg.IdentityURL, cfg.KeepAliveURL, creds),
		logger:     logger.With(slog.String("component", "exchange")),
	}
}

var _ domain.ExchangeGateway = (*Gateway)(nil)

// errSessionExpired marks a venue response that means the cached session died.
// It never leaves the package; apiRequest re-logs-in and retries once.
var errSessionExpired = errors.New("exchange: session expired")

func isSessionError(err error) bool {
	return errors.Is(err, errSessionExpired)
}

// KeepAlive extends the cached session for one credential handle.
func (g *Gateway) KeepAlive(ctx context.Context, credentialRef string) error {
	return g.sessions.KeepAlive(ctx, credentialRef)
}

// ListEvents searches upcoming events matching the text query. The window
// reaches three hours back so an in-play fixture is still discoverable, and a
// week forward.
func (g *Gateway) ListEvents(ctx context.Context, credentialRef, textQuery string) ([]domain.ExchangeEvent, error) {
	now := time.Now().UTC()
	params := map[string]any{
		"filter": map[string]any{
			"eventTypeIds": []string{footballEventTypeID},
			"textQuery":    textQuery,
			"marketStartTime": map[string]string{
				"from": now.Add(-3 * time.Hour).Format(time.RFC3339),
				"to":   now.Add(7 * 24 * time.Hour).Format(time.RFC3339),
			},
		},
	}

	body, err := g.apiRequest(ctx, credentialRef, "listEvents", params)
	if err != nil {
		return nil, fmt.Errorf("exchange: list events %q: %w", textQuery, err)
	}

	var wrappers []eventWrapper
	if err := json.Unmarshal(body, &wrappers); err != nil {
		return nil, fmt.Errorf("exchange: decode events: %w", err)
	}

	events := make([]domain.ExchangeEvent, 0, len(wrappers))
	for _, w := range wrappers {
		events = append(events, domain.ExchangeEvent{
			EventID:         w.Event.ID,
			Name:            w.Event.Name,
			CompetitionName: w.Competition.Name,
			OpenDate:        w.Event.OpenDate,
		})
	}
	return events, nil
}

// ListMarketCatalogue returns the event's match-odds market with priced
// runners, or a zero catalogue if the event has none.
func (g *Gateway) ListMarketCatalogue(ctx context.Context, credentialRef, eventID string) (domain.MarketCatalogue, error) {
	entries, err := g.fetchCatalogue(ctx, credentialRef, map[string]any{"eventIds": []string{eventID}})
	if err != nil {
		return domain.MarketCatalogue{}, fmt.Errorf("exchange: catalogue for event %s: %w", eventID, err)
	}
	if len(entries) == 0 {
		return domain.MarketCatalogue{}, nil
	}
	return g.catalogueWithPrices(ctx, credentialRef, entries[0])
}

// GetQuote returns the current priced selections of one market.
func (g *Gateway) GetQuote(ctx context.Context, credentialRef, marketID string) ([]domain.Selection, error) {
	entries, err := g.fetchCatalogue(ctx, credentialRef, map[string]any{"marketIds": []string{marketID}})
	if err != nil {
		return nil, fmt.Errorf("exchange: catalogue for market %s: %w", marketID, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("exchange: market %s: %w", marketID, domain.ErrNotFound)
	}
	catalogue, err := g.catalogueWithPrices(ctx, credentialRef, entries[0])
	if err != nil {
		return nil, err
	}
	return catalogue.Runners, nil
}

// PlaceOrder submits a single back order at a fixed price. A venue refusal
// comes back as an OrderAck with a RejectionCode, not an error; errors mean
// the placement outcome is unknown or the venue was unreachable.
func (g *Gateway) PlaceOrder(ctx context.Context, credentialRef string, o domain.OrderRequest) (domain.OrderAck, error) {
	req := placeOrdersRequest{
		MarketID:    o.MarketID,
		CustomerRef: o.Reference,
		Instructions: []placeInstruction{{
			SelectionID: o.SelectionID,
			Handicap:    "0",
			Side:        "BACK",
			OrderType:   "LIMIT",
			LimitOrder: limitOrder{
				Size:            strconv.FormatFloat(o.Stake, 'f', 2, 64),
				Price:           strconv.FormatFloat(o.Price, 'f', -1, 64),
				PersistenceType: "LAPSE",
			},
		}},
	}

	body, err := g.apiRequest(ctx, credentialRef, "placeOrders", req)
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("exchange: place order: %w", err)
	}

	var resp placeOrdersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderAck{}, fmt.Errorf("exchange: decode place response: %w", err)
	}

	if resp.Status != "SUCCESS" || len(resp.InstructionReports) == 0 {
		code := resp.ErrorCode
		if len(resp.InstructionReports) > 0 && resp.InstructionReports[0].ErrorCode != "" {
			code = resp.InstructionReports[0].ErrorCode
		}
		if code == "" {
			code = "UNKNOWN"
		}
		return domain.OrderAck{RejectionCode: code}, nil
	}

	report := resp.InstructionReports[0]
	return domain.OrderAck{
		OrderID: report.BetID,
		Matched: report.SizeMatched > 0,
	}, nil
}

// ListSettledOrders returns the venue's settled orders since the cutoff.
func (g *Gateway) ListSettledOrders(ctx context.Context, credentialRef string, since time.Time) ([]domain.SettledOrder, error) {
	params := map[string]any{
		"betStatus": "SETTLED",
		"settledDateRange": map[string]string{
			"from": since.UTC().Format(time.RFC3339),
			"to":   time.Now().UTC().Format(time.RFC3339),
		},
	}

	body, err := g.apiRequest(ctx, credentialRef, "listClearedOrders", params)
	if err != nil {
		return nil, fmt.Errorf("exchange: list settled orders: %w", err)
	}

	var resp clearedOrdersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("exchange: decode cleared orders: %w", err)
	}

	orders := make([]domain.SettledOrder, 0, len(resp.ClearedOrders))
	for _, o := range resp.ClearedOrders {
		orders = append(orders, domain.SettledOrder{
			OrderID:   o.BetID,
			Payoff:    o.Profit,
			SettledAt: o.SettledDate,
		})
	}
	return orders, nil
}

func (g *Gateway) fetchCatalogue(ctx context.Context, credentialRef string, filter map[string]any) ([]marketCatalogueEntry, error) {
	filter["marketTypeCodes"] = []string{matchOddsMarketType}
	params := map[string]any{
		"filter":     filter,
		"maxResults": "1",
		"marketProjection": []string{
			"RUNNER_DESCRIPTION", "MARKET_START_TIME",
		},
	}

	body, err := g.apiRequest(ctx, credentialRef, "listMarketCatalogue", params)
	if err != nil {
		return nil, err
	}

	var entries []marketCatalogueEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode catalogue: %w", err)
	}
	return entries, nil
}

// catalogueWithPrices joins the catalogue's runner names with the market
// book's best available back prices. Runners without an offered price keep a
// zero price; the caller decides whether that is acceptable.
func (g *Gateway) catalogueWithPrices(ctx context.Context, credentialRef string, entry marketCatalogueEntry) (domain.MarketCatalogue, error) {
	params := map[string]any{
		"marketIds": []string{entry.MarketID},
		"priceProjection": map[string]any{
			"priceData":  []string{"EX_BEST_OFFERS"},
			"virtualise": true,
		},
	}

	body, err := g.apiRequest(ctx, credentialRef, "listMarketBook", params)
	if err != nil {
		return domain.MarketCatalogue{}, fmt.Errorf("exchange: market book %s: %w", entry.MarketID, err)
	}

	var books []marketBook
	if err := json.Unmarshal(body, &books); err != nil {
		return domain.MarketCatalogue{}, fmt.Errorf("exchange: decode market book: %w", err)
	}

	prices := make(map[int64]float64)
	if len(books) > 0 {
		for _, r := range books[0].Runners {
			if len(r.Ex.AvailableToBack) > 0 {
				prices[r.SelectionID] = r.Ex.AvailableToBack[0].Price
			}
		}
	}

	catalogue := domain.MarketCatalogue{
		MarketID:  entry.MarketID,
		StartTime: entry.MarketStartTime,
	}
	for _, r := range entry.Runners {
		catalogue.Runners = append(catalogue.Runners, domain.Selection{
			SelectionID: strconv.FormatInt(r.SelectionID, 10),
			RunnerName:  r.RunnerName,
			Price:       prices[r.SelectionID],
		})
	}
	return catalogue, nil
}

// apiRequest posts one betting API call. An expired session is retried once
// after a fresh login; transient transport failures get one backed-off retry.
func (g *Gateway) apiRequest(ctx context.Context, credentialRef, endpoint string, params any) ([]byte, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal %s params: %w", endpoint, err)
	}

	backoffCfg := backoff.NewExponentialBackOff()
	relogged := false
	for attempt := 0; ; attempt++ {
		body, retryable, err := g.doOnce(ctx, credentialRef, endpoint, payload)
		if err == nil {
			return body, nil
		}

		if isSessionError(err) && !relogged {
			g.sessions.invalidate(credentialRef)
			relogged = true
			continue
		}
		if !retryable || attempt >= 1 {
			return nil, err
		}

		sleep := backoffCfg.NextBackOff()
		g.logger.WarnContext(ctx, "venue request failed, retrying",
			slog.String("endpoint", endpoint),
			slog.Duration("sleep", sleep),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w", endpoint, ctx.Err())
		case <-time.After(sleep):
		}
	}
}

func (g *Gateway) doOnce(ctx context.Context, credentialRef, endpoint string, payload []byte) (body []byte, retryable bool, err error) {
	token, creds, err := g.sessions.get(ctx, credentialRef)
	if err != nil {
		return nil, false, err
	}

	url := g.apiURL + "/" + endpoint + "/"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, false, fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("X-Application", creds.AppKey)
	req.Header.Set("X-Authentication", token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("%s: %w: %v", endpoint, domain.ErrExchangeUnavailable, err)
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("%s: read response: %w", endpoint, err)
	}

	if resp.StatusCode == http.StatusOK {
		return body, false, nil
	}

	var ae apiError
	_ = json.Unmarshal(body, &ae)
	code := ae.Detail.APINGException.ErrorCode

	switch {
	case resp.StatusCode == http.StatusUnauthorized,
		code == "INVALID_SESSION_INFORMATION",
		code == "NO_SESSION":
		return nil, false, fmt.Errorf("%s: session invalid (%s): %w", endpoint, code, errSessionExpired)
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, fmt.Errorf("%s: HTTP %d (%s): %w", endpoint, resp.StatusCode, code, domain.ErrExchangeUnavailable)
	default:
		return nil, false, fmt.Errorf("%s: HTTP %d (%s)", endpoint, resp.StatusCode, code)
	}
}
