// Package mirror implements the best-effort human-readable mirror of
// accounts and wagers as a client of a sheet-proxy service. The mirror is
// display parity only: it may lag the authoritative store and is never
// consulted for correctness decisions.
package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mvrosca/stakepilot/internal/domain"
)

// Config holds the sheet-proxy endpoint and its bearer token.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client implements domain.MirrorStore against the sheet-proxy REST API. The
// proxy owns spreadsheet authentication and row addressing; this client only
// speaks rows.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a mirror Client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

var _ domain.MirrorStore = (*Client)(nil)

type accountRow struct {
	AccountID       string  `json:"account_id"`
	EntityName      string  `json:"entity_name"`
	Competition     string  `json:"competition"`
	InitialStake    float64 `json:"initial_stake"`
	CumulativeLoss  float64 `json:"cumulative_loss"`
	ProgressionStep int     `json:"progression_step"`
	LastStake       float64 `json:"last_stake"`
	Status          string  `json:"status"`
}

type wagerRow struct {
	WagerID   string  `json:"wager_id"`
	AccountID string  `json:"account_id"`
	OrderID   string  `json:"order_id"`
	EventName string  `json:"event_name"`
	Selection string  `json:"selection"`
	Price     float64 `json:"price"`
	Stake     float64 `json:"stake"`
	Status    string  `json:"status"`
	Result    float64 `json:"result"`
}

// UpsertAccountRow writes the account's current progression row.
func (c *Client) UpsertAccountRow(ctx context.Context, docID string, a domain.StakingAccount) error {
	row := accountRow{
		AccountID:       a.ID,
		EntityName:      a.EntityName,
		Competition:     a.Competition,
		InitialStake:    a.InitialStake,
		CumulativeLoss:  a.CumulativeLoss,
		ProgressionStep: a.ProgressionStep,
		LastStake:       a.LastStake,
		Status:          string(a.Status),
	}
	if err := c.put(ctx, docID, "accounts", row.AccountID, row); err != nil {
		return fmt.Errorf("mirror: upsert account row %s: %w", a.ID, err)
	}
	return nil
}

// AppendOrUpdateWagerRow writes or rewrites the wager's display row.
func (c *Client) AppendOrUpdateWagerRow(ctx context.Context, docID string, w domain.Wager) error {
	row := wagerRow{
		WagerID:   w.ID,
		AccountID: w.AccountID,
		OrderID:   w.OrderID,
		EventName: w.EventName,
		Selection: w.RunnerName,
		Price:     w.Price,
		Stake:     w.Stake,
		Status:    string(w.State),
		Result:    w.Result,
	}
	if err := c.put(ctx, docID, "wagers", row.WagerID, row); err != nil {
		return fmt.Errorf("mirror: upsert wager row %s: %w", w.ID, err)
	}
	return nil
}

// ReadPendingRows returns the wager rows the document currently shows as
// pending, for display-parity checks.
func (c *Client) ReadPendingRows(ctx context.Context, docID string) ([]domain.MirrorWagerRow, error) {
	endpoint := fmt.Sprintf("%s/docs/%s/wagers?status=pending", c.baseURL, url.PathEscape(docID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("mirror: build read request: %w", err)
	}
	c.auth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mirror: read pending rows: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("mirror: read pending rows: HTTP %d: %s", resp.StatusCode, body)
	}

	var rows []wagerRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("mirror: decode pending rows: %w", err)
	}

	out := make([]domain.MirrorWagerRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.MirrorWagerRow{
			AccountID: r.AccountID,
			WagerID:   r.WagerID,
			OrderID:   r.OrderID,
			EventName: r.EventName,
			Stake:     r.Stake,
			Status:    r.Status,
		})
	}
	return out, nil
}

func (c *Client) put(ctx context.Context, docID, sheet, rowKey string, row any) error {
	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal row: %w", err)
	}

	endpoint := fmt.Sprintf("%s/docs/%s/%s/%s",
		c.baseURL, url.PathEscape(docID), sheet, url.PathEscape(rowKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.auth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
	}
	return nil
}

func (c *Client) auth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
