package router

import (
	"regexp"
	"strings"
)

// Force patterns short-circuit scoring entirely. Trivial conversational
// turns stay local; requests naming heavyweight review work go straight
// to cloud.
var forceLocalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(hi|hello|hey|yo|good (morning|afternoon|evening))[.!?]*$`),
	regexp.MustCompile(`(?i)^(thanks|thank you|thx|cheers)[.!?]*$`),
	regexp.MustCompile(`(?i)^(yes|no|yeah|yep|nope|ok|okay|sure|sounds good)[.!?]*$`),
	regexp.MustCompile(`(?i)^what can you do[.!?]*$`),
	regexp.MustCompile(`(?i)^(show|list)( me)?( the)?( available)? (commands|tools|options)[.!?]*$`),
}

var forceCloudPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)security audit`),
	regexp.MustCompile(`(?i)architecture review`),
	regexp.MustCompile(`(?i)(full|complete|entire|whole)[ -]?(codebase )?refactor`),
	regexp.MustCompile(`(?i)refactor the (entire|whole)`),
	regexp.MustCompile(`(?i)threat model`),
}

// matchForce classifies the prompt against the force pattern sets.
// Returns "local", "cloud", or "".
func matchForce(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}
	for _, re := range forceCloudPatterns {
		if re.MatchString(trimmed) {
			return "cloud"
		}
	}
	for _, re := range forceLocalPatterns {
		if re.MatchString(trimmed) {
			return "local"
		}
	}
	return ""
}
