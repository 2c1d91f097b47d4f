package camera

import (
	"fmt"
	"strings"
)

// Quality selects one of a camera's stream profiles.
type Quality string

const (
	QualityHigh   Quality = "high"
	QualityMedium Quality = "medium"
	QualityLow    Quality = "low"
)

// ParseQuality parses a quality name. Empty input means medium.
func ParseQuality(s string) (Quality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return QualityMedium, nil
	case "high":
		return QualityHigh, nil
	case "medium":
		return QualityMedium, nil
	case "low":
		return QualityLow, nil
	default:
		return "", NewError(ErrCodeValidation, "", "quality", fmt.Sprintf("unknown quality %q", s), nil)
	}
}

// Valid reports whether q is one of the three known qualities.
func (q Quality) Valid() bool {
	return q == QualityHigh || q == QualityMedium || q == QualityLow
}

// Index maps high/medium/low to 1/2/3, the stream number most cameras use.
func (q Quality) Index() int {
	switch q {
	case QualityHigh:
		return 1
	case QualityLow:
		return 3
	default:
		return 2
	}
}
