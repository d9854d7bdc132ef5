package keypool

import (
	"net/http"
	"strings"
)

// Failure classifies one upstream response.
type Failure int

// Failure classes.
const (
	// FailureNone means the response is usable.
	FailureNone Failure = iota
	// FailureKey means the credential is bad or throttled and must rotate.
	FailureKey
	// FailureRequest means the attempt is abandoned without rotating.
	FailureRequest
)

func (f Failure) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureKey:
		return "key"
	case FailureRequest:
		return "request"
	default:
		return "unknown"
	}
}

var keyVocabulary = []string{
	"api key",
	"apikey",
	"unauthorized",
	"rate limit",
	"ratelimit",
	"rate-limit",
	"too many requests",
}

// IsKeyMessage reports whether an error message talks about credentials or throttling.
func IsKeyMessage(message string) bool {
	msg := strings.ToLower(message)
	for _, term := range keyVocabulary {
		if strings.Contains(msg, term) {
			return true
		}
	}
	return false
}

// Classify maps an HTTP status and optional error message to a Failure.
// 401, 403 and 429 always rotate. Any other non-2xx abandons the attempt
// unless the message mentions key or rate-limit trouble.
func Classify(status int, message string) Failure {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		return FailureKey
	}
	if status >= 200 && status < 300 {
		if message != "" && IsKeyMessage(message) {
			return FailureKey
		}
		return FailureNone
	}
	if IsKeyMessage(message) {
		return FailureKey
	}
	return FailureRequest
}
