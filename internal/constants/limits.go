package constants

const (
	// IDRandomBytes is the amount of entropy in generated record IDs.
	IDRandomBytes = 12

	OTPLength = 6

	MessageHistoryDefaultLimit = 50
	MessageHistoryMaxLimit     = 100

	WSBroadcastBufferSize  = 256
	WSClientSendBufferSize = 256
)
