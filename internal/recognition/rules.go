package recognition

import "regexp"

// Rule is one extraction pattern; group 1 of Pattern is the plate.
type Rule struct {
	Name     string
	Pattern  *regexp.Regexp
	Priority int
}

func rule(name, pattern string, priority int) Rule {
	return Rule{Name: name, Pattern: regexp.MustCompile(`(?im)` + pattern), Priority: priority}
}

// DefaultRules lists structured-field rules first, then national grammar
// heuristics, then loose fallbacks. Order is significant for tie breaking.
func DefaultRules() []Rule {
	return []Rule{
		rule("xml_plate_number", `<plateNumber[^>]*>\s*([A-Z0-9]+)\s*</plateNumber>`, 100),
		rule("xml_plate_no", `<plateNo[^>]*>\s*([A-Z0-9]+)\s*</plateNo>`, 95),
		rule("xml_license_plate", `<licensePlate[^>]*>\s*([A-Z0-9]+)\s*</licensePlate>`, 90),
		rule("xml_anpr_plate", `<anprPlate[^>]*>\s*([A-Z0-9]+)\s*</anprPlate>`, 85),

		rule("json_plate_number", `"plateNumber"\s*:\s*"([A-Z0-9]+)"`, 80),
		rule("json_plate_no", `"plateNo"\s*:\s*"([A-Z0-9]+)"`, 75),
		rule("json_plate", `"plate"\s*:\s*"([A-Z0-9]+)"`, 70),
		rule("json_license_plate", `"licensePlate"\s*:\s*"([A-Z0-9]+)"`, 65),

		rule("kg_standard", `\b([0-9]{5}[A-Z]{1,3})\b`, 90),
		rule("kg_legacy", `\b([0-9]{2}[A-Z]{3}[0-9]{2})\b`, 85),
		rule("kg_region", `\b([0-9]{2}KG[0-9]{3}[A-Z]{3})\b`, 80),
		rule("kg_transit", `\b(T[0-9]{4}[A-Z]{2})\b`, 75),
		rule("kg_diplomatic", `\b((?:CD|MO)[0-9]{3,4})\b`, 70),

		rule("generic_letter_digit", `\b([A-Z]{1,2}[0-9]{3,4}[A-Z]{1,3})\b`, 60),
		rule("generic_digit_letter", `\b([0-9]{2,3}[A-Z]{2,3}[0-9]{2,3})\b`, 55),

		rule("plate_result", `PlateResult[^>]*>([A-Z0-9]{4,10})<`, 85),
		rule("recognition_result", `RecognitionResult[^>]*>([A-Z0-9]{4,10})<`, 80),
		rule("vehicle_plate", `VehiclePlate[^>]*>([A-Z0-9]{4,10})<`, 75),
		rule("json_result", `"result"\s*:\s*"([A-Z0-9]{4,10})"`, 70),
		rule("xml_result", `<result[^>]*>([A-Z0-9]{4,10})</result>`, 75),

		rule("attr_plate", `plate[^>]*=['"]*([A-Z0-9]{5,10})['"]*`, 40),
		rule("attr_number", `number[^>]*=['"]*([A-Z0-9]{5,10})['"]*`, 35),
		rule("text_plate", `\bPlate(?:\s*[:=]\s*|\s+)([A-Z0-9]{5,10})\b`, 30),
		rule("text_license", `\bLicense(?:\s*[:=]\s*|\s+)([A-Z0-9]{5,10})\b`, 25),
	}
}

var formatBonuses = []struct {
	pattern *regexp.Regexp
	bonus   int
}{
	{regexp.MustCompile(`^[0-9]{5}[A-Z]{1,3}$`), 50},
	{regexp.MustCompile(`^[0-9]{2}[A-Z]{3}[0-9]{2}$`), 45},
	{regexp.MustCompile(`^[0-9]{2}KG[0-9]{3}[A-Z]{3}$`), 40},
	{regexp.MustCompile(`^T[0-9]{4}[A-Z]{2}$`), 35},
	{regexp.MustCompile(`^(?:CD|MO)[0-9]{3,4}$`), 30},
	{regexp.MustCompile(`^[A-Z]{1,2}[0-9]{3,4}[A-Z]{1,3}$`), 20},
}

// FormatBonus scores how closely a normalized plate follows the national grammar.
func FormatBonus(plate string) int {
	bonus := 0
	for _, f := range formatBonuses {
		if f.pattern.MatchString(plate) {
			bonus += f.bonus
			break
		}
	}

	switch n := len(plate); {
	case n >= 6 && n <= 8:
		bonus += 10
	case n == 5:
		bonus += 5
	}
	return bonus
}

var (
	eventTypePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)<eventType[^>]*>([^<]+)</eventType>`),
		regexp.MustCompile(`(?i)"eventType"\s*:\s*"([^"]+)"`),
		regexp.MustCompile(`(?i)eventType["\s]*[:=]["\s]*["']?([^"'<>\s,]+)["']?`),
	}
	pictureURLPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)<pictureURL[^>]*>([^<]+)</pictureURL>`),
		regexp.MustCompile(`(?i)"pictureURL"\s*:\s*"([^"]+)"`),
		regexp.MustCompile(`(?i)<filename[^>]*>([^<]+)</filename>`),
		regexp.MustCompile(`(?i)"filename"\s*:\s*"([^"]+)"`),
		regexp.MustCompile(`(?i)<picture[^>]*>([^<]+)</picture>`),
		regexp.MustCompile(`(?i)"picture"\s*:\s*"([^"]+)"`),
		regexp.MustCompile(`(?i)<image[^>]*>([^<]+)</image>`),
		regexp.MustCompile(`(?i)"image"\s*:\s*"([^"]+)"`),
		regexp.MustCompile(`(?i)<imageURL[^>]*>([^<]+)</imageURL>`),
		regexp.MustCompile(`(?i)"imageURL"\s*:\s*"([^"]+)"`),
		regexp.MustCompile(`(?i)<snapShotURL[^>]*>([^<]+)</snapShotURL>`),
		regexp.MustCompile(`(?i)"snapShotURL"\s*:\s*"([^"]+)"`),
	}

	xmlPlateSection  = regexp.MustCompile(`(?is)<[^>]*plate[^>]*>.*?</[^>]*>`)
	jsonPlateSection = regexp.MustCompile(`(?i)"[^"]*plate[^"]*"\s*:\s*"[^"]*"`)
)
