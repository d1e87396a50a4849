package domain

import (
	"strings"
	"time"
)

// SeverityColor is the three-bucket classification shown to consumers.
type SeverityColor string

const (
	SeverityRed    SeverityColor = "Red"
	SeverityYellow SeverityColor = "Yellow"
	SeverityGray   SeverityColor = "Gray"
)

// Source records which path delivered an alert.
type Source string

const (
	SourceStream   Source = "stream"
	SourceBackfill Source = "backfill"
	SourceFeed     Source = "feed"
)

// Fallback labels used when the alert omits a field.
const (
	FallbackLocation = "Unknown area"
	FallbackType     = "Alert"
	FallbackTitle    = "Emergency alert"
	FallbackSummary  = "No details provided."
)

// AlertRecord is the normalized alert handed to consumers. It is a value type
// and is never mutated after ToRecord returns it.
type AlertRecord struct {
	Location      string        `json:"location"`
	Type          string        `json:"type"`
	Title         string        `json:"title"`
	Summary       string        `json:"summary"`
	SeverityColor SeverityColor `json:"severity_color"`

	Identifier string    `json:"identifier,omitempty"`
	Sender     string    `json:"sender,omitempty"`
	Sent       string    `json:"sent,omitempty"`
	Expires    string    `json:"expires,omitempty"`
	Source     Source    `json:"source"`
	ReceivedAt time.Time `json:"received_at"`
}

// DedupKey is the composite content key used to merge stream and feed results.
func (r AlertRecord) DedupKey() string {
	return r.Location + "\x1f" + r.Title + "\x1f" + r.Summary
}

// ToRecord converts an accepted alert. d must come from Evaluate with Accepted set.
func ToRecord(a *Alert, d Decision, source Source) AlertRecord {
	in := d.Info
	if in == nil {
		in = &Info{}
	}

	return AlertRecord{
		Location:      firstNonEmpty(d.AreaDesc, FallbackLocation),
		Type:          firstNonEmpty(in.Event, in.Severity, FallbackType),
		Title:         firstNonEmpty(in.Headline, in.Event, FallbackTitle),
		Summary:       buildSummary(in),
		SeverityColor: ColorForSeverity(in.Severity),
		Identifier:    a.Identifier,
		Sender:        firstNonEmpty(d.SenderName, a.Sender),
		Sent:          a.Sent,
		Expires:       in.Expires,
		Source:        source,
		ReceivedAt:    clock.Now().UTC(),
	}
}

func buildSummary(in *Info) string {
	var parts []string
	if in.Description != "" {
		parts = append(parts, in.Description)
	}
	if in.Instruction != "" {
		parts = append(parts, in.Instruction)
	}
	if in.Certainty != "" {
		parts = append(parts, "Certainty: "+in.Certainty+".")
	}
	if in.Urgency != "" {
		parts = append(parts, "Urgency: "+in.Urgency+".")
	}
	if len(parts) == 0 {
		return FallbackSummary
	}
	return strings.Join(parts, "  ")
}

// ColorForSeverity maps a CAP severity to its display colour.
func ColorForSeverity(severity string) SeverityColor {
	switch strings.ToLower(strings.TrimSpace(severity)) {
	case "extreme", "severe":
		return SeverityRed
	case "moderate", "minor":
		return SeverityYellow
	default:
		return SeverityGray
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
