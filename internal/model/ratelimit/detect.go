package ratelimit

import "strings"

var providerMarkers = map[string][]string{
	"openai":    {"rate_limit_error", "rate limit", "quota_exceeded"},
	"anthropic": {"rate_limit_error", "rate limit", "too_many_requests"},
	"gemini":    {"resource_exhausted", "quota", "rate limit"},
	"ollama":    {"rate limit", "too many requests"},
}

var genericMarkers = []string{"rate limit", "too many requests", "429"}

// IsRateLimitMessage matches provider-specific rate-limit wording in an error
// message, for SDK errors that carry no usable status code.
func IsRateLimitMessage(provider, message string) bool {
	text := strings.ToLower(message)
	markers, ok := providerMarkers[strings.ToLower(provider)]
	if !ok {
		markers = genericMarkers
	}
	for _, marker := range markers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// MessageClassifier classifies by message text only.
func MessageClassifier(provider string) Classifier {
	return func(err error) (Info, bool) {
		if err == nil || !IsRateLimitMessage(provider, err.Error()) {
			return Info{}, false
		}
		return Info{Provider: provider}, true
	}
}
