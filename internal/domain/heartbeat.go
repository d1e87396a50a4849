package domain

import (
	"fmt"
	"strings"
	"time"
)

// DefaultHeartbeatMarker is the sender the NAAD feed uses for heartbeats.
const DefaultHeartbeatMarker = "NAADS-Heartbeat"

// Reference points at an alert listed in a heartbeat's <references>.
type Reference struct {
	Sender     string
	Identifier string
	Sent       string
}

// IsHeartbeat reports whether sender contains marker, ignoring case.
func IsHeartbeat(sender, marker string) bool {
	if marker == "" {
		return false
	}
	return strings.Contains(strings.ToLower(sender), strings.ToLower(marker))
}

// ParseReferences splits a references value into sender,identifier,sent
// triples. Entries with fewer than three comma-separated parts are skipped.
func ParseReferences(s string) []Reference {
	var refs []Reference
	for _, field := range strings.Fields(s) {
		parts := strings.Split(field, ",")
		if len(parts) < 3 {
			continue
		}
		ref := Reference{
			Sender:     parts[0],
			Identifier: parts[1],
			Sent:       parts[2],
		}
		if ref.Identifier == "" {
			continue
		}
		refs = append(refs, ref)
	}
	return refs
}

var archiveReplacer = strings.NewReplacer("-", "_", ":", "_", "+", "p")

// BackfillPath returns the mirror-relative path of the archived document:
// "{YYYY-MM-DD}/{sent}I{identifier}.xml" with both sent and identifier sanitized.
func BackfillPath(ref Reference) (string, error) {
	sent := strings.TrimSpace(ref.Sent)
	if len(sent) < len("2006-01-02") {
		return "", fmt.Errorf("reference %q: sent %q too short for archive folder", ref.Identifier, ref.Sent)
	}
	folder := sent[:10]
	if _, err := time.Parse("2006-01-02", folder); err != nil {
		return "", fmt.Errorf("reference %q: sent %q has no date prefix: %w", ref.Identifier, ref.Sent, err)
	}

	name := archiveReplacer.Replace(sent) + "I" + archiveReplacer.Replace(ref.Identifier) + ".xml"
	return folder + "/" + name, nil
}
