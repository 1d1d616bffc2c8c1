package service

import "strings"

// crisisKeywords are the sensitive topics the product surfaces help
// resources for. Matching is substring-based so inflected forms
// ("Depressionen", "suizidal") are covered too.
var crisisKeywords = []string{
	"depression",
	"depressiv",
	"suizid",
	"selbstmord",
	"umbringen",
	"selbstverletzung",
	"ritzen",
	"essstörung",
	"magersucht",
	"bulimie",
	"panikattacke",
	"hoffnungslos",
	"nicht mehr leben",
	"keinen ausweg",
}

// CrisisDetector flags safety-relevant content in either direction of a
// conversation. It is stateless; a positive match never blocks a turn.
type CrisisDetector struct{}

func NewCrisisDetector() *CrisisDetector {
	return &CrisisDetector{}
}

func (d *CrisisDetector) Scan(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range crisisKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
