// Package telemetry records provisioning efficiency metrics to
// InfluxDB for the operational dashboards: requested versus received
// cycles, price used, and elapsed time per terminal outcome.
package telemetry

import (
	"context"
	"log"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/terminal-bench/cyclemint/internal/saga"
)

// Recorder writes one point per terminal saga outcome.
type Recorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// NewRecorder connects to InfluxDB.
func NewRecorder(url, token, org, bucket string) *Recorder {
	client := influxdb2.NewClient(url, token)
	return &Recorder{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
	}
}

// OnTransition implements saga.Observer. Intermediate transitions are
// skipped; the record store already has the full history.
func (r *Recorder) OnTransition(ctx context.Context, tx saga.Transaction) {
	if !tx.State.Terminal() {
		return
	}

	expected := tx.Plan.ExpectedCycles.Int64()
	actual := tx.ActualCyclesReceived.Int64()
	efficiency := 0.0
	if expected > 0 {
		efficiency = float64(actual) / float64(expected)
	}

	p := influxdb2.NewPoint(
		"provisioning_outcome",
		map[string]string{
			"state":          string(tx.State),
			"reconciliation": boolTag(tx.State.NeedsReconciliation()),
		},
		map[string]interface{}{
			"expected_cycles": expected,
			"actual_cycles":   actual,
			"efficiency":      efficiency,
			"token_subunits":  tx.Plan.TokenSubunits.Int64(),
			"elapsed_ms":      tx.UpdatedAt.Sub(tx.CreatedAt).Milliseconds(),
		},
		time.Now(),
	)

	if err := r.writeAPI.WritePoint(ctx, p); err != nil {
		log.Printf("failed to write outcome point for %s: %v", tx.ID, err)
	}
}

// Close releases the underlying client.
func (r *Recorder) Close() {
	r.client.Close()
}

func boolTag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
