package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/danielpatrickdp/trustgate/internal/audit"
	"github.com/danielpatrickdp/trustgate/internal/gate"
	"github.com/danielpatrickdp/trustgate/internal/store"
	"github.com/danielpatrickdp/trustgate/internal/telemetry"
	"github.com/danielpatrickdp/trustgate/internal/trust"
)

// #region main

func main() {
	dbPath := pflag.String("db", "trustgate-audit.db", "audit database: SQLite path or postgres:// DSN")
	samplesPath := pflag.String("samples", "", "sample database; with --actor prints the live breakdown")
	id := pflag.String("id", "", "show one decision in detail")
	actor := pflag.String("actor", "", "filter by actor")
	since := pflag.Duration("since", 0, "only decisions newer than this, e.g. 1h")
	limit := pflag.Int("limit", 20, "number of most recent decisions to list")
	asJSON := pflag.Bool("json", false, "output JSON instead of a table")
	pflag.Parse()

	ctx := context.Background()
	var err error
	switch {
	case *samplesPath != "":
		if *actor == "" {
			fmt.Fprintln(os.Stderr, "usage: inspect --samples path/to/trustgate.db --actor ID [--since 1h]")
			os.Exit(2)
		}
		err = runSamples(ctx, *samplesPath, *actor, *since, *asJSON)
	case *id != "":
		err = runDetail(ctx, *dbPath, *id, *asJSON)
	default:
		err = runList(ctx, *dbPath, *actor, *since, *limit, *asJSON)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

func runList(ctx context.Context, dsn, actor string, since time.Duration, limit int, asJSON bool) error {
	sink, err := openAudit(ctx, dsn)
	if err != nil {
		return err
	}
	defer sink.Close()

	f := audit.Filter{ActorID: actor}
	if since > 0 {
		f.Since = time.Now().Add(-since)
	}
	decisions, err := sink.List(ctx, f)
	if err != nil {
		return err
	}
	if limit > 0 && len(decisions) > limit {
		decisions = decisions[len(decisions)-limit:]
	}
	if asJSON {
		return printJSON(decisions)
	}

	if len(decisions) == 0 {
		fmt.Println("no decisions")
		return nil
	}
	fmt.Printf("%-10s %-20s %-16s %-8s %-7s %-7s %s\n", "ID", "Time", "Actor", "State", "Trust", "Thresh", "Reason")
	for _, d := range decisions {
		fmt.Printf("%-10s %-20s %-16s %-8s %-7.4f %-7.4f %s\n",
			shortID(d.ID),
			d.Timestamp.Format("2006-01-02 15:04:05"),
			truncate(d.ActorID, 16),
			d.State,
			d.Trust,
			d.Threshold,
			d.Reason,
		)
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

func runDetail(ctx context.Context, dsn, id string, asJSON bool) error {
	sink, err := openAudit(ctx, dsn)
	if err != nil {
		return err
	}
	defer sink.Close()

	d, err := sink.Get(ctx, id)
	if errors.Is(err, audit.ErrNotFound) {
		return fmt.Errorf("decision %s not found", id)
	}
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(d)
	}

	fmt.Printf("Decision:   %s\n", d.ID)
	fmt.Printf("Actor:      %s\n", d.ActorID)
	fmt.Printf("Action:     %s %s\n", d.Action.Kind, d.Action.Target)
	fmt.Printf("Time:       %s\n", d.Timestamp.Format(time.RFC3339Nano))
	fmt.Printf("State:      %s\n", d.State)
	fmt.Printf("Trust:      %.6f (threshold %.4f)\n", d.Trust, d.Threshold)
	fmt.Printf("Covenant:   %v %v\n", d.InCovenant, d.MatchedDenyTags)
	fmt.Printf("Tags:       %s\n", strings.Join(d.Tags, ","))
	fmt.Printf("Samples:    %d\n", d.SampleCount)
	fmt.Printf("Reason:     %s\n", d.Reason)
	printBreakdown(d.Breakdown, d.Weights)

	if !strings.HasPrefix(d.Reason, gate.ReasonInvalidInput) {
		recomputed := trust.Score(d.Breakdown, d.Weights)
		fmt.Printf("\nRecomputed: %.6f (match=%v)\n", recomputed, recomputed == d.Trust)
	}
	return nil
}

// #endregion detail-mode

// #region samples-mode

type liveScore struct {
	ActorID   string              `json:"actor_id"`
	Samples   int                 `json:"samples"`
	Breakdown telemetry.Breakdown `json:"breakdown"`
	Weights   trust.Weights       `json:"weights"`
	Trust     float64             `json:"trust"`
}

func runSamples(ctx context.Context, path, actor string, since time.Duration, asJSON bool) error {
	s, err := store.NewSampleStore(path)
	if err != nil {
		return err
	}
	defer s.Close()

	var from time.Time
	if since > 0 {
		from = time.Now().Add(-since)
	}
	samples, err := s.Window(ctx, actor, from)
	if err != nil {
		return err
	}
	b, err := telemetry.Aggregate(samples)
	if err != nil {
		return err
	}
	out := liveScore{
		ActorID:   actor,
		Samples:   len(samples),
		Breakdown: b,
		Weights:   trust.DefaultWeights(),
	}
	out.Trust = trust.Score(b, out.Weights)
	if asJSON {
		return printJSON(out)
	}

	fmt.Printf("Actor:      %s\n", out.ActorID)
	fmt.Printf("Samples:    %d\n", out.Samples)
	fmt.Printf("Trust:      %.6f (default weights)\n", out.Trust)
	printBreakdown(out.Breakdown, out.Weights)
	return nil
}

// #endregion samples-mode

// #region output

func openAudit(ctx context.Context, dsn string) (*audit.SQLSink, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return audit.NewPostgresSink(ctx, dsn)
	}
	if _, err := os.Stat(dsn); err != nil {
		return nil, err
	}
	return audit.NewSQLiteSink(dsn)
}

func printBreakdown(b telemetry.Breakdown, w trust.Weights) {
	fmt.Printf("\nBreakdown:\n")
	fmt.Printf("  %-12s %.4f  x %.2f\n", "compliance", b.Compliance, w.Compliance)
	fmt.Printf("  %-12s %.4f  x %.2f\n", "attestation", b.Attestation, w.Attestation)
	fmt.Printf("  %-12s %.4f  x -%.2f\n", "entropy", b.Entropy, w.Entropy)
	fmt.Printf("  %-12s %.4f\n", "logit", trust.Logit(b, w))
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-1] + "~"
	}
	return s
}

// #endregion output
