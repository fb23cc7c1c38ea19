package progress

import (
	"encoding/json"
	"regexp"
	"strings"
)

// beaconResult distinguishes a missing beacon from a broken one so malformed
// payloads can fall through to glyph counting instead of being treated as
// progress.
type beaconResult int

const (
	beaconAbsent beaconResult = iota
	beaconMalformed
	beaconOK
)

// checkGlyph is the per-item completion marker workers print when they do
// not emit structured beacons.
const checkGlyph = "✔"

var jsonObjectPattern = regexp.MustCompile(`\{[^}]+\}`)

type beaconPayload struct {
	ItemDone *int `json:"item_done"`
}

// parseBeacon extracts the cumulative done count from a structured beacon
// embedded in line. The first JSON-looking object in the line is decoded;
// surrounding prose is ignored.
func parseBeacon(line string) (int, beaconResult) {
	candidate := jsonObjectPattern.FindString(line)
	if candidate == "" {
		return 0, beaconAbsent
	}

	var payload beaconPayload
	if err := json.Unmarshal([]byte(candidate), &payload); err != nil {
		return 0, beaconMalformed
	}
	if payload.ItemDone == nil {
		return 0, beaconMalformed
	}
	if *payload.ItemDone < 0 {
		return 0, beaconMalformed
	}
	return *payload.ItemDone, beaconOK
}

func countGlyphs(line string) int {
	return strings.Count(line, checkGlyph)
}
