package response

const (
	ErrCodeSuccess          = 2000 // Success
	ErrCodeParamInvalid     = 4000 // Request body or params invalid
	ErrCodeUnauthorized     = 4010 // Missing or invalid token
	ErrCodeAppMismatch      = 4030 // Token issued for a different app
	ErrCodeNotPresence      = 4001 // Channel is not a presence channel
	ErrCodeRateLimited      = 4290 // Too many handshakes
	ErrCodeStoreUnavailable = 5030 // Membership store failed
)

// message
var msg = map[int]string{
	ErrCodeSuccess:          "success",
	ErrCodeParamInvalid:     "invalid request",
	ErrCodeUnauthorized:     "unauthorized",
	ErrCodeAppMismatch:      "token does not grant access to this app",
	ErrCodeNotPresence:      "only presence channels expose members",
	ErrCodeRateLimited:      "rate limit exceeded",
	ErrCodeStoreUnavailable: "membership store unavailable",
}

// Message returns the human readable text for code.
func Message(code int) string {
	if m, ok := msg[code]; ok {
		return m
	}
	return "unknown error"
}
