package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, time.January, 1, 12, 0, 0, 0, time.UTC)

// baseAlert returns an alert that passes every stage under baseConfig.
func baseAlert() *Alert {
	return &Alert{
		Identifier: "id-1",
		Sender:     "sq@surete.qc.ca",
		Sent:       "2026-01-01T11:00:00Z",
		Status:     "Actual",
		MsgType:    "Alert",
		Scope:      "Public",
		Infos: []Info{{
			Language:    "en-CA",
			Categories:  []string{"Safety"},
			Event:       "police",
			Urgency:     "Immediate",
			Severity:    "Severe",
			Certainty:   "Observed",
			SenderName:  "Sûreté du Québec",
			Headline:    "Police alert",
			Description: "Ongoing situation.",
			Areas: []Area{{
				AreaDesc: "Région métropolitaine de Montréal",
				Geocodes: []Geocode{{ValueName: "profile:CAP-CP:Location:0.3", Value: "2466023"}},
			}},
		}},
	}
}

func baseConfig() FilterConfig {
	return FilterConfig{Language: "en", Jurisdictions: []string{"QC", "CA"}}
}

func TestEvaluate_Accepts(t *testing.T) {
	d := Evaluate(baseAlert(), baseConfig(), testNow)
	require.True(t, d.Accepted, d.Reason)
	assert.Empty(t, d.Stage)
	assert.Equal(t, "Région métropolitaine de Montréal", d.AreaDesc)
	assert.Equal(t, "Sûreté du Québec", d.SenderName)
	assert.Equal(t, "en-CA", d.Info.Language)
}

func TestEvaluate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(a *Alert, c *FilterConfig)
		stage  Stage
	}{
		{"exercise always", func(a *Alert, c *FilterConfig) { a.Status = "Exercise"; c.IncludeTests = true }, StageStatus},
		{"test without include", func(a *Alert, _ *FilterConfig) { a.Status = "Test" }, StageStatus},
		{"system status", func(a *Alert, _ *FilterConfig) { a.Status = "System" }, StageStatus},
		{"draft status", func(a *Alert, _ *FilterConfig) { a.Status = "Draft" }, StageStatus},
		{"cancel", func(a *Alert, _ *FilterConfig) { a.MsgType = "Cancel" }, StageMsgType},
		{"restricted scope", func(a *Alert, _ *FilterConfig) { a.Scope = "Restricted" }, StageScope},
		{"missing scope", func(a *Alert, _ *FilterConfig) { a.Scope = "" }, StageScope},
		{"too old", func(a *Alert, c *FilterConfig) { c.MaxAgeHours = 1; a.Sent = "2026-01-01T10:00:00Z" }, StageAge},
		{"no info", func(a *Alert, _ *FilterConfig) { a.Infos = nil }, StageInfo},
		{"expired", func(a *Alert, _ *FilterConfig) { a.Infos[0].Expires = "2026-01-01T11:59:59Z" }, StageExpired},
		{"weather excluded", func(a *Alert, c *FilterConfig) { a.Infos[0].Categories = []string{"met"}; c.ExcludeWeather = true }, StageWeather},
		{"moderate not high risk", func(a *Alert, c *FilterConfig) { a.Infos[0].Severity = "Moderate"; c.HighRiskOnly = true }, StageRisk},
		{"possible not high risk", func(a *Alert, c *FilterConfig) { a.Infos[0].Certainty = "Possible"; c.HighRiskOnly = true }, StageRisk},
		{"future urgency not high risk", func(a *Alert, c *FilterConfig) { a.Infos[0].Urgency = "Future"; c.HighRiskOnly = true }, StageRisk},
		{"jurisdiction", func(_ *Alert, c *FilterConfig) { c.Jurisdictions = []string{"BC"} }, StageJurisdiction},
		{"area filter", func(_ *Alert, c *FilterConfig) { c.AreaFilters = []string{"Gatineau"} }, StageAreaFilter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := baseAlert()
			cfg := baseConfig()
			tt.mutate(a, &cfg)

			d := Evaluate(a, cfg, testNow)
			assert.False(t, d.Accepted)
			assert.Equal(t, tt.stage, d.Stage)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestEvaluate_TestIncluded(t *testing.T) {
	a := baseAlert()
	a.Status = "test"
	cfg := baseConfig()
	cfg.IncludeTests = true

	assert.True(t, Evaluate(a, cfg, testNow).Accepted)
}

func TestEvaluate_MaxAgeIgnoresUnparseableSent(t *testing.T) {
	a := baseAlert()
	a.Sent = "yesterday"
	cfg := baseConfig()
	cfg.MaxAgeHours = 1

	assert.True(t, Evaluate(a, cfg, testNow).Accepted)
}

func TestEvaluate_WeatherAllowedWhenNotExcluded(t *testing.T) {
	a := baseAlert()
	a.Infos[0].Categories = []string{"Met"}

	assert.True(t, Evaluate(a, baseConfig(), testNow).Accepted)
}

func TestEvaluate_HighRiskPasses(t *testing.T) {
	cfg := baseConfig()
	cfg.HighRiskOnly = true

	assert.True(t, Evaluate(baseAlert(), cfg, testNow).Accepted)
}

func TestEvaluate_PrefersLanguage(t *testing.T) {
	a := baseAlert()
	fr := a.Infos[0]
	fr.Language = "fr-CA"
	fr.Headline = "Alerte policière"
	a.Infos = []Info{a.Infos[0], fr}

	cfg := baseConfig()
	cfg.Language = "FR"
	d := Evaluate(a, cfg, testNow)
	require.True(t, d.Accepted)
	assert.Equal(t, "Alerte policière", d.Info.Headline)

	cfg.Language = "es"
	d = Evaluate(a, cfg, testNow)
	require.True(t, d.Accepted)
	assert.Equal(t, "Police alert", d.Info.Headline, "falls back to the first info")
}

func TestEvaluate_AreaFilterFoldsAccents(t *testing.T) {
	cfg := baseConfig()
	cfg.AreaFilters = []string{"  ", "MONTREAL"}

	assert.True(t, Evaluate(baseAlert(), cfg, testNow).Accepted)
}

func TestEvaluate_BlankAreaFiltersIgnored(t *testing.T) {
	cfg := baseConfig()
	cfg.AreaFilters = []string{"", " "}

	assert.True(t, Evaluate(baseAlert(), cfg, testNow).Accepted)
}

func TestResolveAreaDesc(t *testing.T) {
	in := &Info{Areas: []Area{{AreaDesc: "A"}, {AreaDesc: ""}, {AreaDesc: "B"}}}
	assert.Equal(t, "A, B", ResolveAreaDesc(in))

	in = &Info{Areas: []Area{{Geocodes: []Geocode{{ValueName: "layer:EC-MSC-SMC:1.0:CLC", Value: "032100"}}}}}
	assert.Equal(t, "layer:EC-MSC-SMC:1.0:CLC:032100", ResolveAreaDesc(in))

	in = &Info{Areas: []Area{{}, {Geocodes: []Geocode{{Value: "2466023"}}}}}
	assert.Equal(t, "2466023", ResolveAreaDesc(in))

	assert.Empty(t, ResolveAreaDesc(&Info{}))
}

func TestFilterConfig_WithAreaFilters(t *testing.T) {
	base := FilterConfig{AreaFilters: []string{"Montréal"}, Jurisdictions: []string{"QC"}}
	merged := base.WithAreaFilters("montreal", "", "Laval")

	assert.Equal(t, []string{"Montréal", "Laval"}, merged.AreaFilters)
	assert.Equal(t, []string{"Montréal"}, base.AreaFilters, "receiver is unchanged")
}

func TestParseCAPTime(t *testing.T) {
	ts, ok := ParseCAPTime("2026-01-01T10:00:00-05:00")
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 1, 15, 0, 0, 0, time.UTC), ts.UTC())

	ts, ok = ParseCAPTime("2026-01-01T10:00:00-00:00")
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC), ts.UTC())

	_, ok = ParseCAPTime("")
	assert.False(t, ok)
	_, ok = ParseCAPTime("soon")
	assert.False(t, ok)
}
