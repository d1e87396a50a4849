// Package domain models Common Alerting Protocol, Canadian Profile (CAP-CP)
// alerts as broadcast by the National Alert Aggregation & Dissemination (NAAD)
// system, and the rules that turn them into AlertRecords.
//
// # Data Source
//
// NAAD pushes complete CAP 1.2 XML documents back-to-back over a long-lived
// TCP connection (streaming1/streaming2.naad-adna.pelmorex.com:8080). There is
// no length prefix: a document ends at its closing </alert> tag. Every minute
// the feed also emits a heartbeat document whose sender is "NAADS-Heartbeat"
// and whose <references> lists recently issued alerts.
//
// # Heartbeat References
//
// References are whitespace-separated triples:
//
//	sender,identifier,sent
//	e.g. "cap-pac@canada.ca,urn:oid:2.49.0.1.124.1209341387.2026,2026-01-01T00:00:00-00:00"
//
// An identifier not seen on the stream is downloaded from an archive mirror:
//
//	{mirror}/{YYYY-MM-DD}/{sent}I{identifier}.xml
//
// where both sent and identifier have "-" and ":" replaced by "_" and "+"
// replaced by "p". See [BackfillPath].
//
// # Filtering
//
// [Evaluate] applies a fixed, short-circuiting sequence of stages (status,
// message type, scope, age, language selection, expiry, weather category,
// high-risk gate, area resolution, jurisdiction, free-text area filter). The
// first rejecting stage is reported in [Decision.Stage] so callers can count
// rejections by cause.
//
// # Jurisdictions
//
// Jurisdictions are two-letter codes. "QC" (Québec) and "CA" (Canada) carry
// known name variants in English and French; CAP-CP location geocodes use
// Statistics Canada Standard Geographical Classification (SGC) codes, where
// Québec codes start with "24". See [MatchJurisdiction].
//
// # Severity Colour
//
// AlertRecords carry a three-bucket colour derived from CAP severity:
//
//	Extreme, Severe  → Red
//	Moderate, Minor  → Yellow
//	anything else    → Gray
package domain
