package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/naad-alert-ingest/internal/domain"
	"github.com/couchcryptid/naad-alert-ingest/internal/observability"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMetrics() *observability.Metrics {
	return observability.NewMetricsForTesting()
}

var testNow = time.Date(2026, time.March, 4, 16, 0, 0, 0, time.UTC)

// capAlert renders a CAP document with the Montréal police scenario. The
// category and identifier vary per test.
func capAlert(id, category string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<alert xmlns="urn:oasis:names:tc:emergency:cap:1.2">
  <identifier>%s</identifier>
  <sender>sq@surete.qc.ca</sender>
  <sent>2026-03-04T10:50:00-05:00</sent>
  <status>Actual</status>
  <msgType>Alert</msgType>
  <scope>Public</scope>
  <info>
    <language>en-CA</language>
    <category>%s</category>
    <event>police</event>
    <urgency>Immediate</urgency>
    <severity>Severe</severity>
    <certainty>Observed</certainty>
    <senderName>Sûreté du Québec</senderName>
    <headline>Police alert</headline>
    <description>Ongoing situation.</description>
    <area>
      <areaDesc>Région métropolitaine de Montréal</areaDesc>
      <geocode><valueName>profile:CAP-CP:Location:0.3</valueName><value>2466023</value></geocode>
    </area>
  </info>
</alert>`, id, category)
}

func heartbeatDoc(id, references string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<alert xmlns="urn:oasis:names:tc:emergency:cap:1.2">
  <identifier>` + id + `</identifier>
  <sender>NAADS-Heartbeat</sender>
  <sent>2026-03-04T15:52:38-00:00</sent>
  <status>System</status>
  <msgType>Alert</msgType>
  <scope>Public</scope>
  <references>` + references + `</references>
</alert>`
}

func strictFilter() domain.FilterConfig {
	return domain.FilterConfig{
		Language:       "en",
		Jurisdictions:  []string{"QC", "CA"},
		HighRiskOnly:   true,
		ExcludeWeather: true,
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(e domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) Kinds() []domain.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventKind, len(p.events))
	for i, e := range p.events {
		out[i] = e.Kind
	}
	return out
}

func (p *recordingPublisher) Events() []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Event(nil), p.events...)
}

// fakeFetcher serves backfill documents by identifier and feed bodies by URL.
type fakeFetcher struct {
	mu    sync.Mutex
	docs  map[string]string
	feeds map[string]string
	refs  []string
	block chan struct{}
}

func (f *fakeFetcher) FetchReference(ctx context.Context, ref domain.Reference) ([]byte, error) {
	f.mu.Lock()
	f.refs = append(f.refs, ref.Identifier)
	doc, ok := f.docs[ref.Identifier]
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return nil, errors.New("not found on any mirror")
	}
	return []byte(doc), nil
}

func (f *fakeFetcher) FetchFeed(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.feeds[url]
	if !ok {
		return nil, errors.New("unexpected status 503")
	}
	return []byte(body), nil
}

func (f *fakeFetcher) Requested() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.refs...)
}

func atomFeed(entries ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><feed xmlns="http://www.w3.org/2005/Atom"><title>NAAD</title>`)
	for _, e := range entries {
		// Strip the XML declaration so the alert nests inside the entry.
		e = e[strings.Index(e, "<alert"):]
		b.WriteString("<entry><content type=\"text/xml\">" + e + "</content></entry>")
	}
	b.WriteString("</feed>")
	return b.String()
}
