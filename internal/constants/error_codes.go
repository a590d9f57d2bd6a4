package constants

const (
	// Shared REST/WS transport-agnostic errors
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeAuthFailed       = "AUTH_FAILED"
	ErrCodeRateLimited      = "RATE_LIMIT_EXCEEDED"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeStoreUnavailable = "STORE_UNAVAILABLE"
	ErrCodePayloadTooLarge  = "PAYLOAD_TOO_LARGE"

	// Account verification / login
	ErrCodeDuplicateAccount     = "DUPLICATE_ACCOUNT"
	ErrCodeCodeExpired          = "CODE_EXPIRED"
	ErrCodeCodeMismatch         = "CODE_MISMATCH"
	ErrCodeAlreadyVerified      = "ALREADY_VERIFIED"
	ErrCodeVerificationRequired = "VERIFICATION_REQUIRED"
	ErrCodeInvalidCredentials   = "INVALID_CREDENTIALS"
	ErrCodeSendFailure          = "SEND_FAILURE"

	// Chat
	ErrCodeMessageTooLong   = "MESSAGE_TOO_LONG"
	ErrCodeRecipientUnknown = "RECIPIENT_UNKNOWN"
	ErrCodeRoomUnknown      = "ROOM_UNKNOWN"
)
