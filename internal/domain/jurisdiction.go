package domain

import (
	"strings"
	"unicode"
)

// jurisdiction holds the known name variants (already folded) and the SGC
// province prefix for a two-letter code.
type jurisdiction struct {
	names     []string
	sgcPrefix string
}

var jurisdictions = map[string]jurisdiction{
	"CA": {names: []string{"canada", "government of canada", "gouvernement du canada", "environment canada", "environnement canada"}},
	"QC": {names: []string{"quebec", "gouvernement du quebec"}, sgcPrefix: "24"},
	"NL": {names: []string{"newfoundland", "labrador", "terre-neuve"}, sgcPrefix: "10"},
	"PE": {names: []string{"prince edward island", "ile-du-prince-edouard"}, sgcPrefix: "11"},
	"NS": {names: []string{"nova scotia", "nouvelle-ecosse"}, sgcPrefix: "12"},
	"NB": {names: []string{"new brunswick", "nouveau-brunswick"}, sgcPrefix: "13"},
	"ON": {names: []string{"ontario"}, sgcPrefix: "35"},
	"MB": {names: []string{"manitoba"}, sgcPrefix: "46"},
	"SK": {names: []string{"saskatchewan"}, sgcPrefix: "47"},
	"AB": {names: []string{"alberta"}, sgcPrefix: "48"},
	"BC": {names: []string{"british columbia", "colombie-britannique"}, sgcPrefix: "59"},
	"YT": {names: []string{"yukon"}, sgcPrefix: "60"},
	"NT": {names: []string{"northwest territories", "territoires du nord-ouest"}, sgcPrefix: "61"},
	"NU": {names: []string{"nunavut"}, sgcPrefix: "62"},
}

// MatchJurisdiction reports whether any allowed code matches the sender name,
// the area description or one of the geocodes. An empty allowed list matches
// everything.
//
// For each code the checks are, in order: a known name variant in the sender
// name or area description; the code as a word of the area description (or
// "pan-canada"/"national" for CA); the code as an exact token of a geocode
// value; a CAP-CP location geocode whose SGC value carries the province prefix
// (or, for CA, whose value mentions Canada).
func MatchJurisdiction(senderName, areaDesc string, geocodes []Geocode, allowed []string) bool {
	codes := normalizeCodes(allowed)
	if len(codes) == 0 {
		return true
	}

	sender := fold(senderName)
	area := fold(areaDesc)
	areaWords := wordTokens(area)

	for _, code := range codes {
		j := jurisdictions[code]
		lower := strings.ToLower(code)

		for _, name := range j.names {
			if strings.Contains(sender, name) || strings.Contains(area, name) {
				return true
			}
		}

		for _, w := range areaWords {
			if w == lower {
				return true
			}
		}
		if code == "CA" && (strings.Contains(area, "pan-canada") || strings.Contains(area, "national")) {
			return true
		}

		for _, g := range geocodes {
			if geocodeHasToken(g.Value, code) {
				return true
			}
			if !isLocationProfile(g.ValueName) {
				continue
			}
			if j.sgcPrefix != "" && isNumeric(g.Value) && strings.HasPrefix(g.Value, j.sgcPrefix) {
				return true
			}
			if code == "CA" && strings.Contains(fold(g.Value), "canada") {
				return true
			}
		}
	}
	return false
}

func normalizeCodes(allowed []string) []string {
	out := make([]string, 0, len(allowed))
	for _, c := range allowed {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

func geocodeHasToken(value, code string) bool {
	tokens := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ';' || r == '|' || unicode.IsSpace(r)
	})
	for _, t := range tokens {
		if strings.EqualFold(t, code) {
			return true
		}
	}
	return false
}

// isLocationProfile matches valueNames such as "profile:CAP-CP:Location:0.3"
// or a Canadian location layer name.
func isLocationProfile(valueName string) bool {
	v := strings.ToLower(valueName)
	if strings.Contains(v, "cap-cp") && strings.Contains(v, "location") {
		return true
	}
	return strings.Contains(v, "canadian") && strings.Contains(v, "location")
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
