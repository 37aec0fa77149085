package greeting

import "strings"

// inquiryFragments are lowercase fragments that mark a line as asking how the bot is doing.
var inquiryFragments = []string{
	"how are",
	"how",
	"hows",
	"how's",
	"what's up",
	"what is up",
	"how is it going",
	"how are you",
}

// LooksLikeInquiry is a coarse lexical test for "is this asking about me".
// A line qualifies if it contains one of the inquiry fragments, or ends with
// a question mark and mentions "you". False positives are accepted.
func LooksLikeInquiry(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return false
	}
	for _, fragment := range inquiryFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return strings.HasSuffix(lower, "?") && strings.Contains(lower, "you")
}
