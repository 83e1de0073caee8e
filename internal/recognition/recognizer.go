package recognition

import (
	"sort"
	"strings"
	"unicode"

	"parking-service/internal/utils"
)

const (
	DefaultMinLength = 4
	MaxLength        = 12

	largePayload    = 1000
	minSectionText  = 100
	fallbackSection = 2000
)

var suspiciousPatterns = []string{"0000", "1111", "2222", "AAAA", "BBBB", "XXXX", "TEST", "00000", "11111"}

// Candidate is a normalized plate found by one rule.
type Candidate struct {
	Plate string `json:"plate"`
	Score int    `json:"score"`
	Rule  string `json:"rule"`
	Valid bool   `json:"valid"`

	order int
}

// Result is the outcome of one recognition. When Valid is false, Plate holds
// the best invalid candidate for diagnostics only.
type Result struct {
	Plate      string      `json:"plate"`
	Score      int         `json:"score"`
	Valid      bool        `json:"valid"`
	Candidates []Candidate `json:"candidates,omitempty"`
}

// Recognizer extracts license plates from vendor camera payloads. It is
// stateless and safe for concurrent use.
type Recognizer struct {
	rules     []Rule
	minLength int
}

func New(minLength int) *Recognizer {
	return NewWithRules(minLength, DefaultRules())
}

func NewWithRules(minLength int, rules []Rule) *Recognizer {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	return &Recognizer{rules: rules, minLength: minLength}
}

// Valid is the plate validity predicate used for every business decision.
func (r *Recognizer) Valid(plate string) bool {
	if len(plate) < r.minLength || len(plate) > MaxLength {
		return false
	}
	for _, s := range suspiciousPatterns {
		if strings.Contains(plate, s) {
			return false
		}
	}

	distinct := make(map[rune]struct{}, len(plate))
	hasLetters, hasDigits := false, false
	for _, c := range plate {
		distinct[c] = struct{}{}
		switch {
		case unicode.IsLetter(c):
			hasLetters = true
		case unicode.IsDigit(c):
			hasDigits = true
		}
	}
	if len(distinct) < 2 {
		return false
	}
	if hasLetters && hasDigits {
		return true
	}
	return (hasLetters || hasDigits) && len(plate) >= 6
}

// Recognize runs every rule over the payload and returns the best plate.
func (r *Recognizer) Recognize(raw string) Result {
	if raw == "" {
		return Result{}
	}
	text := analysisText(raw)

	var all []Candidate
	order := 0
	for _, rl := range r.rules {
		for _, m := range rl.Pattern.FindAllStringSubmatch(text, -1) {
			if len(m) < 2 {
				continue
			}
			match := strings.TrimSpace(m[1])
			if len(match) < r.minLength {
				continue
			}
			plate := utils.NormalizePlate(match)
			c := Candidate{Plate: plate, Score: rl.Priority, Rule: rl.Name, order: order}
			order++
			if r.Valid(plate) {
				c.Valid = true
				c.Score += FormatBonus(plate)
			}
			all = append(all, c)
		}
	}
	if len(all) == 0 {
		return Result{}
	}

	best := bestPerPlate(all, true)
	if len(best) > 0 {
		return Result{Plate: best[0].Plate, Score: best[0].Score, Valid: true, Candidates: all}
	}
	invalid := bestPerPlate(all, false)
	return Result{Plate: invalid[0].Plate, Score: invalid[0].Score, Valid: false, Candidates: all}
}

// bestPerPlate keeps the highest score per plate among candidates with the given
// validity and orders them by score, then by first appearance.
func bestPerPlate(all []Candidate, valid bool) []Candidate {
	byPlate := make(map[string]int)
	var out []Candidate
	for _, c := range all {
		if c.Valid != valid {
			continue
		}
		idx, seen := byPlate[c.Plate]
		if !seen {
			byPlate[c.Plate] = len(out)
			out = append(out, c)
			continue
		}
		if c.Score > out[idx].Score {
			first := out[idx].order
			out[idx] = c
			out[idx].order = first
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].order < out[j].order
	})
	return out
}

// analysisText narrows large payloads down to their plate-bearing sections.
func analysisText(raw string) string {
	if len(raw) <= largePayload {
		return raw
	}
	var parts []string
	parts = append(parts, xmlPlateSection.FindAllString(raw, -1)...)
	parts = append(parts, jsonPlateSection.FindAllString(raw, -1)...)

	text := strings.Join(parts, " ")
	if len(text) >= minSectionText {
		return text
	}
	// short sections are kept next to the leading slice so a plate deep in the payload survives
	head := raw
	if len(head) > fallbackSection {
		head = head[:fallbackSection]
	}
	if text == "" {
		return head
	}
	return head + " " + text
}

// EventType returns the vendor event type, "ANPR" for unlabelled ANPR payloads.
func EventType(raw string) string {
	if raw == "" {
		return ""
	}
	for _, p := range eventTypePatterns {
		if m := p.FindStringSubmatch(raw); len(m) > 1 {
			return strings.TrimSpace(m[1])
		}
	}
	if strings.Contains(strings.ToUpper(raw), "ANPR") {
		return "ANPR"
	}
	return ""
}

func PictureURL(raw string) string {
	if raw == "" {
		return ""
	}
	for _, p := range pictureURLPatterns {
		if m := p.FindStringSubmatch(raw); len(m) > 1 {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}
