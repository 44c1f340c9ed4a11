package network

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/cyclemint/internal/saga"
	"github.com/terminal-bench/cyclemint/pkg/circuit"
)

func receiptWith(ref string) saga.Receipt {
	return saga.Receipt{BlockReference: ref, SubmittedAt: time.Now()}
}

func TestTransfer(t *testing.T) {
	t.Run("should post the transfer and return the receipt", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/transfers", r.URL.Path)

			var body struct {
				DestinationID string `json:"destination_id"`
				TokenSubunits int64  `json:"token_subunits"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "inst-1", body.DestinationID)
			assert.Equal(t, int64(55_000_000), body.TokenSubunits)

			fmt.Fprint(w, `{"block_reference": "block-777"}`)
		}))
		defer srv.Close()

		c := NewClient(Config{TreasuryURL: srv.URL})
		receipt, err := c.Transfer(context.Background(), "inst-1", 55_000_000)
		require.NoError(t, err)

		assert.Equal(t, "block-777", receipt.BlockReference)
		assert.WithinDuration(t, time.Now(), receipt.SubmittedAt, time.Second)
	})

	t.Run("should fail on an empty block reference", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{}`)
		}))
		defer srv.Close()

		c := NewClient(Config{TreasuryURL: srv.URL})
		_, err := c.Transfer(context.Background(), "inst-1", 55_000_000)
		assert.ErrorContains(t, err, "no block reference")
	})

	t.Run("should surface upstream rejections", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "treasury exhausted", http.StatusConflict)
		}))
		defer srv.Close()

		c := NewClient(Config{TreasuryURL: srv.URL})
		_, err := c.Transfer(context.Background(), "inst-1", 55_000_000)
		assert.ErrorContains(t, err, "409")
	})

	t.Run("should open the treasury breaker after repeated failures", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		breakers := circuit.NewGroup(circuit.Config{MaxFailures: 2, CoolDown: time.Hour})
		c := NewClient(Config{TreasuryURL: srv.URL, Breakers: breakers})

		for i := 0; i < 2; i++ {
			_, err := c.Transfer(context.Background(), "inst-1", 1)
			require.Error(t, err)
		}
		_, err := c.Transfer(context.Background(), "inst-1", 1)
		assert.ErrorIs(t, err, circuit.ErrOpen)
	})
}

func TestNotifyArrival(t *testing.T) {
	t.Run("should post the block reference", func(t *testing.T) {
		var got map[string]interface{}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/notify-arrival", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusAccepted)
		}))
		defer srv.Close()

		c := NewClient(Config{MinterURL: srv.URL})
		err := c.NotifyArrival(context.Background(), receiptWith("block-777"), "inst-1")
		require.NoError(t, err)

		assert.Equal(t, "block-777", got["block_reference"])
		assert.Equal(t, "inst-1", got["destination_id"])
	})

	t.Run("should surface failures", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		c := NewClient(Config{MinterURL: srv.URL})
		err := c.NotifyArrival(context.Background(), receiptWith("block-777"), "inst-1")
		assert.ErrorContains(t, err, "failed to notify minting authority")
	})
}

func TestCycleBalance(t *testing.T) {
	t.Run("should query the instance balance", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/instances/inst-1/cycles", r.URL.Path)
			fmt.Fprint(w, `{"cycles": 3300000000000}`)
		}))
		defer srv.Close()

		c := NewClient(Config{BalanceURL: srv.URL})
		balance, err := c.CycleBalance(context.Background(), "inst-1")
		require.NoError(t, err)
		assert.Equal(t, int64(3_300_000_000_000), balance.Int64())
	})

	t.Run("should surface non-200 responses", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		c := NewClient(Config{BalanceURL: srv.URL})
		_, err := c.CycleBalance(context.Background(), "inst-1")
		assert.ErrorContains(t, err, "404")
	})
}
