package domain

import (
	"strings"
	"time"
)

// FilterConfig is an immutable snapshot of operator filtering policy.
type FilterConfig struct {
	IncludeTests   bool
	MaxAgeHours    int // 0 = unlimited
	Language       string
	AreaFilters    []string
	Jurisdictions  []string
	HighRiskOnly   bool
	ExcludeWeather bool
}

// WithAreaFilters returns a copy whose area filters are the receiver's plus extra,
// skipping blanks and case-insensitive duplicates.
func (c FilterConfig) WithAreaFilters(extra ...string) FilterConfig {
	merged := make([]string, 0, len(c.AreaFilters)+len(extra))
	seen := make(map[string]struct{}, cap(merged))
	for _, f := range append(append([]string{}, c.AreaFilters...), extra...) {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		key := fold(f)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, f)
	}
	c.AreaFilters = merged
	c.Jurisdictions = append([]string(nil), c.Jurisdictions...)
	return c
}

// Stage names the filter step that rejected a document.
type Stage string

const (
	StageStatus       Stage = "status"
	StageMsgType      Stage = "msg_type"
	StageScope        Stage = "scope"
	StageAge          Stage = "age"
	StageInfo         Stage = "info"
	StageExpired      Stage = "expired"
	StageWeather      Stage = "weather"
	StageRisk         Stage = "risk"
	StageJurisdiction Stage = "jurisdiction"
	StageAreaFilter   Stage = "area_filter"
)

// Decision is the outcome of Evaluate. When Accepted is false, Stage and Reason
// describe the first rejecting step and the remaining fields may be empty.
type Decision struct {
	Accepted   bool
	Stage      Stage
	Reason     string
	Info       *Info
	AreaDesc   string
	SenderName string
}

func reject(stage Stage, reason string) Decision {
	return Decision{Stage: stage, Reason: reason}
}

// Evaluate runs the filter pipeline over a parsed alert. It is pure: now is
// supplied by the caller and nothing outside the returned Decision is touched.
func Evaluate(a *Alert, cfg FilterConfig, now time.Time) Decision {
	switch {
	case strings.EqualFold(a.Status, "Actual"):
	case strings.EqualFold(a.Status, "Test"):
		if !cfg.IncludeTests {
			return reject(StageStatus, "test alerts excluded")
		}
	default:
		return reject(StageStatus, "status "+a.Status)
	}

	if strings.EqualFold(a.MsgType, "Cancel") {
		return reject(StageMsgType, "cancel message")
	}

	if !strings.EqualFold(a.Scope, "Public") {
		return reject(StageScope, "scope "+a.Scope)
	}

	if cfg.MaxAgeHours > 0 {
		if sent, ok := ParseCAPTime(a.Sent); ok {
			if now.Sub(sent) > time.Duration(cfg.MaxAgeHours)*time.Hour {
				return reject(StageAge, "older than max age")
			}
		}
	}

	info := selectInfo(a.Infos, cfg.Language)
	if info == nil {
		return reject(StageInfo, "no info block")
	}

	if expires, ok := ParseCAPTime(info.Expires); ok && expires.Before(now) {
		return reject(StageExpired, "expired "+info.Expires)
	}

	if cfg.ExcludeWeather && info.HasCategory("Met") {
		return reject(StageWeather, "weather category excluded")
	}

	if cfg.HighRiskOnly && !isHighRisk(info) {
		return reject(StageRisk, "below high-risk threshold")
	}

	areaDesc := ResolveAreaDesc(info)
	senderName := info.SenderName
	if senderName == "" {
		senderName = a.SenderName
	}

	if !MatchJurisdiction(senderName, areaDesc, info.Geocodes(), cfg.Jurisdictions) {
		return reject(StageJurisdiction, "no allowed jurisdiction matched")
	}

	if !matchAreaFilters(areaDesc, cfg.AreaFilters) {
		return reject(StageAreaFilter, "area filters did not match")
	}

	return Decision{
		Accepted:   true,
		Info:       info,
		AreaDesc:   areaDesc,
		SenderName: senderName,
	}
}

// selectInfo prefers the first info whose language starts with lang, falling
// back to the first info present.
func selectInfo(infos []Info, lang string) *Info {
	if len(infos) == 0 {
		return nil
	}
	if lang = strings.ToLower(strings.TrimSpace(lang)); lang != "" {
		for i := range infos {
			if strings.HasPrefix(strings.ToLower(infos[i].Language), lang) {
				return &infos[i]
			}
		}
	}
	return &infos[0]
}

func isHighRisk(in *Info) bool {
	return oneOf(in.Severity, "Extreme", "Severe") &&
		oneOf(in.Urgency, "Immediate", "Expected") &&
		oneOf(in.Certainty, "Observed", "Likely")
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if strings.EqualFold(v, o) {
			return true
		}
	}
	return false
}

// ResolveAreaDesc joins the non-blank areaDesc values of the info's areas.
// When every areaDesc is blank it synthesizes "valueName:value" from the first
// geocode, or the bare value when the geocode has no name.
func ResolveAreaDesc(in *Info) string {
	var descs []string
	for _, ar := range in.Areas {
		if ar.AreaDesc != "" {
			descs = append(descs, ar.AreaDesc)
		}
	}
	if len(descs) > 0 {
		return strings.Join(descs, ", ")
	}

	for _, ar := range in.Areas {
		if len(ar.Geocodes) == 0 {
			continue
		}
		g := ar.Geocodes[0]
		if g.ValueName == "" {
			return g.Value
		}
		return g.ValueName + ":" + g.Value
	}
	return ""
}

func matchAreaFilters(areaDesc string, filters []string) bool {
	active := false
	folded := fold(areaDesc)
	for _, f := range filters {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		active = true
		if strings.Contains(folded, fold(f)) {
			return true
		}
	}
	return !active
}

// ParseCAPTime parses a CAP dateTime ("2026-01-01T00:00:00-05:00").
// The "-00:00" offset CAP uses for UTC is accepted.
func ParseCAPTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if strings.HasSuffix(s, "-00:00") {
		if t, err := time.Parse(time.RFC3339, strings.TrimSuffix(s, "-00:00")+"Z"); err == nil {
			return t, true
		}
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}
