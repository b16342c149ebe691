// Package parse turns raw OCR text from one voter card into a structured
// record. Parsing is pure and deterministic: the same text always yields the
// same record, unreadable fields stay Unknown/empty, and nothing here ever
// fails for a single card.
package parse

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tnroll/voterscan/internal/entity"
)

// Label anchors, in match-priority order. The alternates cover the genitive
// spellings and the common tesseract misreads of the printed Tamil markers.
var (
	nameAnchors     = []string{"பெயர்"}
	fatherAnchors   = []string{"தந்தை", "தந்தையின்"}
	husbandAnchors  = []string{"கணவர்", "கணவரின்"}
	motherAnchors   = []string{"தாய்", "தாயின்"}
	otherAnchors    = []string{"இதரர்", "இதரரின்"}
	houseAnchors    = []string{"வீட்டு", "ட்டு"} // OCR often drops the first glyph
	houseNumMarker  = "எண்"
	ageAnchor       = "வயது"
	genderAnchor    = "பாலினம்"
	genderMale      = "ஆண்"
	genderFemale    = "பெண்"
	genderThird     = []string{"திருநங்கை", "மூன்றாம்", "Third"}
)

// relationRule pairs a relation type with its label anchors. needsName guards
// against matching the voter's own name line, which also carries பெயர்.
type relationRule struct {
	relType   entity.RelationType
	anchors   []string
	needsName bool
}

var relationRules = []relationRule{
	{entity.RelationFather, fatherAnchors, true},
	{entity.RelationHusband, husbandAnchors, false},
	{entity.RelationMother, motherAnchors, true},
	{entity.RelationOther, otherAnchors, true},
}

// Voter-ID shapes, tried in order. EPIC numbers are 2-3 letters + 6-10 digits;
// the later patterns tolerate digit/letter confusions in the prefix.
var voterIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b([A-Z]{2,3}\d{6,10})\b`),
	regexp.MustCompile(`\b([A-Z0-9]{2,3}\d{6,10})\b`),
	regexp.MustCompile(`\b(\d{2}[^\d\s]{1,2}\d{6,10})\b`),
	regexp.MustCompile(`(\d{1,3}\s+[A-Z0-9]{2,3}\d{6,10})`),
}

var (
	reVoterIDTail  = regexp.MustCompile(`([A-Z0-9]{2,3}\d{6,10})$|(\d{2}[^\d\s]{1,2}\d{6,10})$`)
	reSerialAlone  = regexp.MustCompile(`^(\d{1,4})\s*$`)
	reSerialLead   = regexp.MustCompile(`^(\d{1,4})\s+\S`)
	reAge          = regexp.MustCompile(ageAnchor + `\s*:\s*(\d+)`)
	rePhotoNoise   = regexp.MustCompile(`(?i)\s*Photo\s*is\s*`)
	reAvailNoise   = regexp.MustCompile(`(?i)\s*available\s*`)
	reEdgePunct    = regexp.MustCompile(`^[\s\-–.,:]+|[\s\-–.,:]+$`)
	reMultiSpace   = regexp.MustCompile(`\s+`)
)

// Clean strips known OCR artifacts from a field value: photo-placeholder
// boilerplate, stray edge punctuation, and repeated whitespace.
func Clean(text string) string {
	if text == "" {
		return ""
	}
	text = rePhotoNoise.ReplaceAllString(text, " ")
	text = reAvailNoise.ReplaceAllString(text, " ")
	text = reEdgePunct.ReplaceAllString(text, "")
	text = reMultiSpace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Extract parses one card's OCR text. Every unparsed field stays explicitly
// Unknown/empty; a fully unparsable card yields a bare record.
func Extract(text string) entity.VoterRecord {
	rec := entity.NewVoterRecord(0)

	if id := findVoterID(text); id != "" {
		rec.SetField(entity.FieldVoterID, id, entity.ProvenanceFirstPass)
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if rec.SerialNo == "" {
			if serial := findSerial(line); serial != "" {
				rec.SetField(entity.FieldSerialNo, serial, entity.ProvenanceFirstPass)
			}
		}

		if rec.Name == "" && hasAny(line, nameAnchors) && strings.Contains(line, ":") && !isRelationLine(line) {
			if v := valueAfterColon(line); v != "" {
				rec.SetField(entity.FieldName, v, entity.ProvenanceFirstPass)
			}
		}

		if rec.RelationName == "" {
			for _, rule := range relationRules {
				if !hasAny(line, rule.anchors) || !strings.Contains(line, ":") {
					continue
				}
				if rule.needsName && !hasAny(line, nameAnchors) {
					continue
				}
				if v := valueAfterColon(line); v != "" {
					rec.SetField(entity.FieldRelationName, v, entity.ProvenanceFirstPass)
					rec.RelationType = rule.relType
				}
				break
			}
		}

		if rec.HouseNo == "" && hasAny(line, houseAnchors) && strings.Contains(line, houseNumMarker) && strings.Contains(line, ":") {
			if v := valueAfterColon(line); v != "" {
				rec.SetField(entity.FieldHouseNo, v, entity.ProvenanceFirstPass)
			}
		}

		if rec.Age == "" && strings.Contains(line, ageAnchor) {
			if m := reAge.FindStringSubmatch(line); m != nil {
				rec.SetField(entity.FieldAge, m[1], entity.ProvenanceFirstPass)
			}
		}

		if rec.Gender == entity.GenderUnknown && strings.Contains(line, genderAnchor) {
			if g := findGender(line); g != entity.GenderUnknown {
				rec.SetField(entity.FieldGender, string(g), entity.ProvenanceFirstPass)
			}
		}
	}

	return rec
}

// findVoterID walks the pattern ladder over the whole text and keeps the
// first match whose ID tail is at least 9 characters.
func findVoterID(text string) string {
	for _, pattern := range voterIDPatterns {
		for _, match := range pattern.FindAllString(text, -1) {
			m := reVoterIDTail.FindStringSubmatch(match)
			if m == nil {
				continue
			}
			id := m[1]
			if id == "" {
				id = m[2]
			}
			if len(id) >= 9 {
				return id
			}
		}
	}
	return ""
}

// findSerial matches a bare card serial at the start of a line. Values of
// 2000 and above are roll metadata (years, part totals), not serials.
func findSerial(line string) string {
	for _, re := range []*regexp.Regexp{reSerialAlone, reSerialLead} {
		if m := re.FindStringSubmatch(line); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n < 2000 {
				return m[1]
			}
		}
	}
	return ""
}

// findGender checks the male marker first, so a noisy line carrying both
// markers resolves to Male.
func findGender(line string) entity.Gender {
	if strings.Contains(line, genderMale) {
		return entity.GenderMale
	}
	if strings.Contains(line, genderFemale) {
		return entity.GenderFemale
	}
	for _, marker := range genderThird {
		if strings.Contains(line, marker) {
			return entity.GenderThird
		}
	}
	return entity.GenderUnknown
}

func isRelationLine(line string) bool {
	for _, rule := range relationRules {
		if hasAny(line, rule.anchors) {
			return true
		}
	}
	return false
}

func hasAny(line string, anchors []string) bool {
	for _, a := range anchors {
		if strings.Contains(line, a) {
			return true
		}
	}
	return false
}

// valueAfterColon returns the cleaned text after the first label separator,
// up to the end of the line.
func valueAfterColon(line string) string {
	_, after, ok := strings.Cut(line, ":")
	if !ok {
		return ""
	}
	return Clean(after)
}
