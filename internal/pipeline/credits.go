package pipeline

import (
	"regexp"
	"strconv"
	"strings"
)

// Render credits consumed per minute of output.
const creditsPerMinute = 0.1

// EstimateCredits is the rough credit cost of rendering total seconds.
func EstimateCredits(totalSeconds float64) float64 {
	return totalSeconds / 60 * creditsPerMinute
}

// CreditErrorParser extracts credit amounts from a provider error. ok is
// false when the error is not about credits at all.
type CreditErrorParser interface {
	ParseCreditError(err error) (insufficient *InsufficientCreditsError, ok bool)
}

// TextCreditParser recognizes credit errors from free-text messages such as
// "Insufficient credits: required 0.5, available 0.1". Amounts it cannot
// find are reported as Unknown.
type TextCreditParser struct{}

var (
	creditKeywordRe   = regexp.MustCompile(`(?i)(insufficient|not enough|out of|exceeded).{0,20}credit|credit.{0,20}(limit|exhausted|insufficient)`)
	creditRequiredRe  = regexp.MustCompile(`(?i)(?:required|requires|needed|need)\D{0,10}(\d+(?:\.\d+)?)`)
	creditAvailableRe = regexp.MustCompile(`(?i)(?:available|remaining|balance|have)\D{0,10}(\d+(?:\.\d+)?)`)
)

func (TextCreditParser) ParseCreditError(err error) (*InsufficientCreditsError, bool) {
	if err == nil {
		return nil, false
	}
	msg := err.Error()
	if !creditKeywordRe.MatchString(msg) {
		return nil, false
	}

	return &InsufficientCreditsError{
		Required:  firstAmount(creditRequiredRe, msg),
		Available: firstAmount(creditAvailableRe, msg),
	}, true
}

func firstAmount(re *regexp.Regexp, msg string) float64 {
	m := re.FindStringSubmatch(msg)
	if len(m) < 2 {
		return Unknown
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(m[1]), 64)
	if err != nil {
		return Unknown
	}
	return v
}
