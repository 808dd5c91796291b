package assistant

import (
	"regexp"
	"strings"

	"github.com/medloop/patient-scheduler/internal/scheduling"
)

type Intent string

const (
	IntentBook       Intent = "book"
	IntentCancel     Intent = "cancel"
	IntentReschedule Intent = "reschedule"
	IntentSearch     Intent = "search"
)

var (
	cancelRe     = regexp.MustCompile(`cancel|drop`)
	rescheduleRe = regexp.MustCompile(`reschedule|move|change`)
	bookRe       = regexp.MustCompile(`book|schedule|appointment|see|visit`)
	searchPrefix = regexp.MustCompile(`(?i)^(find|search)\s*`)
)

// classifyIntent buckets free text into one of the four intents. Cancel and
// reschedule verbs win over booking verbs so "change my appointment" is a
// reschedule, not a booking.
func classifyIntent(text string) Intent {
	t := strings.ToLower(text)
	switch {
	case cancelRe.MatchString(t):
		return IntentCancel
	case rescheduleRe.MatchString(t):
		return IntentReschedule
	case bookRe.MatchString(t):
		return IntentBook
	default:
		return IntentSearch
	}
}

// matchProvider finds the first provider whose last name appears in the
// text. Doctor names are stored as "Dr. First Last".
func matchProvider(text string, providers []scheduling.ProviderAvailability) *scheduling.ProviderAvailability {
	t := strings.ToLower(text)
	for i := range providers {
		parts := strings.Fields(providers[i].Doctor)
		if len(parts) == 0 {
			continue
		}
		lastName := strings.ToLower(parts[len(parts)-1])
		if strings.Contains(t, lastName) {
			return &providers[i]
		}
	}
	return nil
}

// searchTerm strips a leading find/search verb from the message.
func searchTerm(text string) string {
	return strings.TrimSpace(searchPrefix.ReplaceAllString(text, ""))
}
