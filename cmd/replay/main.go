package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/danielpatrickdp/trustgate/internal/audit"
	"github.com/danielpatrickdp/trustgate/internal/gate"
	"github.com/danielpatrickdp/trustgate/internal/replay"
)

// #region main

func main() {
	dbPath := pflag.String("db", "", "audit database: SQLite path or postgres:// DSN (verify mode)")
	jsonlPath := pflag.String("jsonl", "", "JSONL audit log (verify mode)")
	fixturePath := pflag.String("fixture", "", "path to fixture JSON (fixture mode)")
	actor := pflag.String("actor", "", "only verify decisions for this actor")
	pflag.Parse()

	set := 0
	for _, v := range []string{*dbPath, *jsonlPath, *fixturePath} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		fmt.Fprintln(os.Stderr, "usage: replay --fixture path/to/fixture.json")
		fmt.Fprintln(os.Stderr, "       replay --db path/to/trustgate-audit.db [--actor ID]")
		fmt.Fprintln(os.Stderr, "       replay --jsonl path/to/audit.jsonl [--actor ID]")
		os.Exit(2)
	}

	var exitCode int
	switch {
	case *fixturePath != "":
		exitCode = runFixtureMode(*fixturePath)
	case *jsonlPath != "":
		exitCode = runJSONLMode(*jsonlPath, *actor)
	default:
		exitCode = runDBMode(*dbPath, *actor)
	}
	os.Exit(exitCode)
}

// #endregion main

// #region verify-mode

func runDBMode(dsn, actor string) int {
	ctx := context.Background()
	sink, err := openAudit(ctx, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open audit: %v\n", err)
		return 2
	}
	defer sink.Close()

	decisions, err := sink.List(ctx, audit.Filter{ActorID: actor})
	if err != nil {
		fmt.Fprintf(os.Stderr, "list decisions: %v\n", err)
		return 2
	}
	return printVerification(decisions)
}

func runJSONLMode(path, actor string) int {
	decisions, err := audit.ReadJSONL(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read jsonl: %v\n", err)
		return 2
	}
	if actor != "" {
		kept := decisions[:0]
		for _, d := range decisions {
			if d.ActorID == actor {
				kept = append(kept, d)
			}
		}
		decisions = kept
	}
	return printVerification(decisions)
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

// printVerification recomputes every recorded decision and returns 1 when
// any diverges.
func printVerification(decisions []gate.EmitDecision) int {
	if len(decisions) == 0 {
		fmt.Fprintln(os.Stderr, "no decisions found")
		return 2
	}
	divergences := replay.Verify(decisions)
	byID := make(map[string]string, len(divergences))
	for _, d := range divergences {
		byID[d.ID] = d.Reason
	}

	fmt.Printf("%-10s| %-14s| %-8s| %-8s| %s\n", "Decision", "Actor", "State", "Trust", "Match")
	fmt.Printf("%-10s+%-15s+%-9s+%-9s+%s\n",
		"----------", "---------------", "---------", "---------", "------")
	for _, d := range decisions {
		match := "OK"
		if reason, ok := byID[d.ID]; ok {
			match = "DIFF " + reason
		}
		fmt.Printf("%-10s| %-14s| %-8s| %-8.4f| %s\n", shortID(d.ID), truncate(d.ActorID, 14), d.State, d.Trust, match)
	}

	fmt.Printf("\n%d/%d decisions reproduced\n", len(decisions)-len(divergences), len(decisions))
	if len(divergences) > 0 {
		return 1
	}
	return 0
}

// #endregion verify-mode

// #region fixture-mode

func runFixtureMode(path string) int {
	f, err := replay.LoadFixture(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		return 2
	}

	results, err := replay.Run(context.Background(), f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		return 2
	}

	fmt.Printf("%-28s| %-9s| %-8s| %s\n", "Case", "State", "Trust", "Match")
	fmt.Printf("%-28s+%-10s+%-9s+%s\n",
		"----------------------------", "----------", "---------", "------")
	for _, r := range results {
		match := "OK"
		if !r.Passed() {
			match = "DIFF " + strings.Join(r.Mismatches, "; ")
		}
		fmt.Printf("%-28s| %-9s| %-8.4f| %s\n", truncate(r.Name, 28), r.Decision.State, r.Decision.Trust, match)
	}

	s := replay.Summarize(results)
	fmt.Printf("\nSummary: %d/%d passed (allowed=%d denied=%d covenant=%d invalid=%d)\n",
		s.Passed, s.Total, s.Allowed, s.Denied, s.CovenantDenied, s.Invalid)
	if s.Failed > 0 {
		return 1
	}
	return 0
}

// #endregion fixture-mode

// #region helpers

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

// #endregion helpers
