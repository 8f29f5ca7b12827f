package audit

import "strings"

// Region selects which regulatory framework vocabulary the analyzer applies.
type Region string

const (
	RegionGlobal       Region = "GLOBAL"
	RegionEurope       Region = "EUROPE"
	RegionNorthAmerica Region = "NORTH_AMERICA"
	RegionAsia         Region = "ASIA"
)

func ParseRegion(raw string) (Region, bool) {
	switch normalizeEnumToken(raw) {
	case "GLOBAL", "":
		return RegionGlobal, raw != ""
	case "EUROPE", "EU":
		return RegionEurope, true
	case "NORTH_AMERICA", "NA", "NORTHAMERICA":
		return RegionNorthAmerica, true
	case "ASIA", "APAC":
		return RegionAsia, true
	default:
		return RegionGlobal, false
	}
}

// Severity is ordered: CRITICAL > HIGH > MEDIUM > LOW.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// RiskNone is the overall risk level of a report with no violations. It is
// not a valid per-violation severity.
const RiskNone = "NONE"

func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

func ParseSeverity(raw string) (Severity, bool) {
	switch normalizeEnumToken(raw) {
	case "CRITICAL":
		return SeverityCritical, true
	case "HIGH":
		return SeverityHigh, true
	case "MEDIUM", "MODERATE":
		return SeverityMedium, true
	case "LOW", "MINOR":
		return SeverityLow, true
	default:
		return SeverityMedium, false
	}
}

type Category string

const (
	CategoryMisleadingClaim   Category = "MISLEADING_CLAIM"
	CategoryMissingDisclosure Category = "MISSING_DISCLOSURE"
	CategoryRegulatoryBreach  Category = "REGULATORY_BREACH"
	CategoryBrandSafety       Category = "BRAND_SAFETY"
	CategoryOther             Category = "OTHER"
)

func ParseCategory(raw string) (Category, bool) {
	switch normalizeEnumToken(raw) {
	case "MISLEADING_CLAIM", "MISLEADING", "MISLEADING_CLAIMS":
		return CategoryMisleadingClaim, true
	case "MISSING_DISCLOSURE", "LEGAL_DISCLOSURE", "DISCLOSURE":
		return CategoryMissingDisclosure, true
	case "REGULATORY_BREACH", "REGULATORY", "GREENWASHING":
		return CategoryRegulatoryBreach, true
	case "BRAND_SAFETY", "TONALITY", "TONE":
		return CategoryBrandSafety, true
	case "OTHER":
		return CategoryOther, true
	default:
		return CategoryOther, false
	}
}

func normalizeEnumToken(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
