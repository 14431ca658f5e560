package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/danielpatrickdp/trustgate/internal/audit"
	"github.com/danielpatrickdp/trustgate/internal/covenant"
	"github.com/danielpatrickdp/trustgate/internal/gate"
	"github.com/danielpatrickdp/trustgate/internal/replay"
	"github.com/danielpatrickdp/trustgate/internal/store"
	"github.com/danielpatrickdp/trustgate/internal/telemetry"
)

// #region main

func main() {
	dbPath := pflag.String("db", "", "audit database: SQLite path or postgres:// DSN")
	samplesPath := pflag.String("samples", "", "sample database the decisions were scored from")
	actor := pflag.String("actor", "", "only export decisions for this actor")
	window := pflag.Duration("window", 0, "sample window used at evaluation time; 0 means cumulative")
	last := pflag.Int("last", 4, "number of most recent decisions to export")
	denyTags := pflag.String("deny-tags", "", "comma-separated deny set; defaults to the tags the decisions matched")
	outPath := pflag.String("out", "", "output fixture JSON path")
	pflag.Parse()

	if *dbPath == "" || *samplesPath == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: fixture-export --db audit.db --samples trustgate.db --out fixture.json [--actor ID] [--window 1h] [--last N]")
		os.Exit(2)
	}

	opts := exportOptions{
		actor:  *actor,
		window: *window,
		last:   *last,
	}
	if *denyTags != "" {
		opts.denyTags = covenant.ParseTags(*denyTags)
	}
	if err := run(context.Background(), *dbPath, *samplesPath, *outPath, opts); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region extract

type exportOptions struct {
	actor    string
	window   time.Duration
	last     int
	denyTags []string
}

func run(ctx context.Context, dbPath, samplesPath, outPath string, opts exportOptions) error {
	sink, err := openAudit(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("open audit: %w", err)
	}
	defer sink.Close()

	samples, err := store.NewSampleStore(samplesPath)
	if err != nil {
		return fmt.Errorf("open samples: %w", err)
	}
	defer samples.Close()

	decisions, err := sink.List(ctx, audit.Filter{ActorID: opts.actor})
	if err != nil {
		return err
	}
	if opts.last > 0 && len(decisions) > opts.last {
		decisions = decisions[len(decisions)-opts.last:]
	}
	if len(decisions) == 0 {
		return fmt.Errorf("no decisions to export")
	}

	f, err := buildFixture(ctx, samples, decisions, opts)
	if err != nil {
		return err
	}
	if len(f.Cases) == 0 {
		return fmt.Errorf("no replayable decisions to export")
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	// Never write a fixture LoadFixture would reject.
	if err := replay.ValidateFixture(data); err != nil {
		return err
	}
	if err := os.WriteFile(outPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write fixture: %w", err)
	}

	fmt.Printf("Exported %d cases to %s\n", len(f.Cases), outPath)
	for _, c := range f.Cases {
		fmt.Printf("  %-24s samples=%d allowed=%v\n", c.Name, len(c.Samples), c.Expected.Allowed)
	}
	return nil
}

// buildFixture pairs each decision with the samples that were in its window
// when it was made. Weights and threshold are pinned per case so the fixture
// replays under any default configuration.
func buildFixture(ctx context.Context, samples *store.SampleStore, decisions []gate.EmitDecision, opts exportOptions) (*replay.Fixture, error) {
	f := &replay.Fixture{
		Description: fmt.Sprintf("Exported from %d recorded decisions", len(decisions)),
		Config:      gate.DefaultConfig(),
		Cases:       make([]replay.FixtureCase, 0, len(decisions)),
	}
	f.Config.DenyTags = opts.denyTags
	if f.Config.DenyTags == nil {
		f.Config.DenyTags = matchedTags(decisions)
	}

	for _, d := range decisions {
		// The rejected override value is not recorded, so the case cannot
		// be rebuilt.
		if strings.Contains(d.Reason, "override: ") {
			fmt.Fprintf(os.Stderr, "skipping %s: rejected per-call override\n", d.ID)
			continue
		}
		from := time.Unix(0, 0)
		if opts.window > 0 {
			from = d.Timestamp.Add(-opts.window)
		}
		window, err := samples.Between(ctx, d.ActorID, from, d.Timestamp.Add(time.Nanosecond))
		if err != nil {
			return nil, fmt.Errorf("samples for %s: %w", d.ID, err)
		}
		if window == nil {
			window = []telemetry.Sample{}
		}
		weights := d.Weights
		threshold := d.Threshold
		trustScore := d.Trust
		inCovenant := d.InCovenant

		c := replay.FixtureCase{
			Name:      d.ID,
			ActorID:   d.ActorID,
			Action:    d.Action,
			Tags:      d.Tags,
			Samples:   window,
			Weights:   &weights,
			Threshold: &threshold,
			Expected: replay.Expectation{
				Allowed:    d.Allowed,
				State:      d.State,
				InCovenant: &inCovenant,
			},
		}
		if c.Action.Kind == "" {
			c.Action.Kind = "emit"
		}
		if strings.HasPrefix(d.Reason, gate.ReasonInvalidInput) {
			c.Expected.Invalid = true
			c.Expected.InCovenant = nil
		} else {
			c.Expected.Trust = &trustScore
		}
		f.Cases = append(f.Cases, c)
	}
	return f, nil
}

func matchedTags(decisions []gate.EmitDecision) []string {
	seen := make(map[string]struct{})
	for _, d := range decisions {
		for _, t := range d.MatchedDenyTags {
			seen[t] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func openAudit(ctx context.Context, dsn string) (*audit.SQLSink, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return audit.NewPostgresSink(ctx, dsn)
	}
	if _, err := os.Stat(dsn); err != nil {
		return nil, err
	}
	return audit.NewSQLiteSink(dsn)
}

// #endregion extract
