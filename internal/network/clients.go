// Package network holds the HTTP clients for the execution network's
// own services: the treasury transfer endpoint, the minting authority,
// and the per-instance cycle balance query. All three sit behind
// circuit breakers; their failure semantics belong to the saga.
package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/terminal-bench/cyclemint/internal/saga"
	"github.com/terminal-bench/cyclemint/pkg/circuit"
	"github.com/terminal-bench/cyclemint/pkg/cycles"
)

// Config holds the network client configuration.
type Config struct {
	TreasuryURL string
	MinterURL   string
	BalanceURL  string

	HTTPClient *http.Client
	Breakers   *circuit.Group
}

// Client talks to the execution network.
type Client struct {
	treasuryURL string
	minterURL   string
	balanceURL  string

	http     *http.Client
	breakers *circuit.Group
}

// NewClient creates a network client.
func NewClient(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Breakers == nil {
		cfg.Breakers = circuit.NewGroup(circuit.Config{
			MaxFailures: 5,
			CoolDown:    30 * time.Second,
			HalfOpenMax: 2,
		})
	}
	return &Client{
		treasuryURL: cfg.TreasuryURL,
		minterURL:   cfg.MinterURL,
		balanceURL:  cfg.BalanceURL,
		http:        cfg.HTTPClient,
		breakers:    cfg.Breakers,
	}
}

// Transfer submits a treasury-to-instance token transfer and returns
// the block reference receipt.
func (c *Client) Transfer(ctx context.Context, destinationID string, amount cycles.Subunits) (saga.Receipt, error) {
	body := map[string]interface{}{
		"destination_id": destinationID,
		"token_subunits": amount.Int64(),
	}

	var receipt saga.Receipt
	err := c.breakers.Do(ctx, "treasury", func() error {
		var resp struct {
			BlockReference string `json:"block_reference"`
		}
		if err := c.postJSON(ctx, c.treasuryURL+"/v1/transfers", body, &resp); err != nil {
			return err
		}
		if resp.BlockReference == "" {
			return fmt.Errorf("treasury returned no block reference")
		}
		receipt = saga.Receipt{BlockReference: resp.BlockReference, SubmittedAt: time.Now()}
		return nil
	})
	if err != nil {
		return saga.Receipt{}, fmt.Errorf("failed to transfer: %w", err)
	}
	return receipt, nil
}

// NotifyArrival informs the minting authority about a confirmed
// transfer so it mints cycles onto the destination.
func (c *Client) NotifyArrival(ctx context.Context, receipt saga.Receipt, destinationID string) error {
	body := map[string]interface{}{
		"block_reference": receipt.BlockReference,
		"destination_id":  destinationID,
	}

	err := c.breakers.Do(ctx, "minter", func() error {
		return c.postJSON(ctx, c.minterURL+"/v1/notify-arrival", body, nil)
	})
	if err != nil {
		return fmt.Errorf("failed to notify minting authority: %w", err)
	}
	return nil
}

// CycleBalance reads the destination instance's current cycle balance.
func (c *Client) CycleBalance(ctx context.Context, destinationID string) (cycles.Amount, error) {
	var balance cycles.Amount
	err := c.breakers.Do(ctx, "balance", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("%s/v1/instances/%s/cycles", c.balanceURL, destinationID), nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("balance query returned %d", resp.StatusCode)
		}

		var payload struct {
			Cycles int64 `json:"cycles"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&payload); err != nil {
			return fmt.Errorf("failed to decode balance: %w", err)
		}
		balance = cycles.Amount(payload.Cycles)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to query cycle balance: %w", err)
	}
	return balance, nil
}

func (c *Client) postJSON(ctx context.Context, url string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return fmt.Errorf("upstream returned %d: %s", resp.StatusCode, msg)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
