// Command capcheck runs CAP XML files through the same filter and conversion
// as the ingest service and reports the decision for each one. It is used to
// check why a captured alert was or was not delivered.
//
// Usage:
//
//	go run ./cmd/capcheck -now 2026-03-04T16:00:00Z -jurisdictions QC,CA alerts/*.xml
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/naad-alert-ingest/internal/domain"
)

// result is one output line.
type result struct {
	File       string              `json:"file"`
	Identifier string              `json:"identifier,omitempty"`
	Accepted   bool                `json:"accepted"`
	Stage      domain.Stage        `json:"stage,omitempty"`
	Reason     string              `json:"reason,omitempty"`
	Heartbeat  bool                `json:"heartbeat,omitempty"`
	Record     *domain.AlertRecord `json:"record,omitempty"`
	Error      string              `json:"error,omitempty"`
}

func main() {
	nowFlag := flag.String("now", "", "evaluation time (RFC3339); defaults to the current time")
	lang := flag.String("lang", "en", "preferred info language")
	jurisdictions := flag.String("jurisdictions", "QC,CA", "comma-separated allowed jurisdictions; empty allows all")
	areas := flag.String("areas", "", "comma-separated area filters")
	maxAge := flag.Int("max-age", 0, "maximum alert age in hours; 0 disables")
	includeTests := flag.Bool("include-tests", false, "accept status=Test alerts")
	highRisk := flag.Bool("high-risk", false, "accept only high-risk alerts")
	excludeWeather := flag.Bool("exclude-weather", false, "reject Met alerts")
	marker := flag.String("marker", domain.DefaultHeartbeatMarker, "heartbeat sender")
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	now := time.Now().UTC()
	if *nowFlag != "" {
		t, err := time.Parse(time.RFC3339, *nowFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -now: %v\n", err)
			os.Exit(2)
		}
		now = t
	}
	domain.SetClock(clockwork.NewFakeClockAt(now))

	cfg := domain.FilterConfig{
		IncludeTests:   *includeTests,
		MaxAgeHours:    *maxAge,
		Language:       *lang,
		AreaFilters:    sharedcfg.ParseBrokers(*areas),
		Jurisdictions:  sharedcfg.ParseBrokers(*jurisdictions),
		HighRiskOnly:   *highRisk,
		ExcludeWeather: *excludeWeather,
	}

	failed := check(os.Stdout, flag.Args(), cfg, *marker, now)
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d file(s) could not be parsed\n", failed)
		os.Exit(1)
	}
}

// check writes one JSON result per file and returns how many failed to read or parse.
func check(w io.Writer, files []string, cfg domain.FilterConfig, marker string, now time.Time) int {
	enc := json.NewEncoder(w)
	failed := 0
	for _, f := range files {
		res := evaluateFile(f, cfg, marker, now)
		if res.Error != "" {
			failed++
		}
		_ = enc.Encode(res)
	}
	return failed
}

func evaluateFile(path string, cfg domain.FilterConfig, marker string, now time.Time) result {
	res := result{File: path}
	data, err := os.ReadFile(path)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	a, err := domain.ParseAlert(data)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Identifier = a.Identifier
	if domain.IsHeartbeat(a.Sender, marker) {
		res.Heartbeat = true
		return res
	}

	d := domain.Evaluate(a, cfg, now)
	res.Accepted = d.Accepted
	res.Stage = d.Stage
	res.Reason = d.Reason
	if d.Accepted {
		rec := domain.ToRecord(a, d, domain.SourceStream)
		res.Record = &rec
	}
	return res
}
