package logx

const (
	// Actor
	FieldUserID      = "user_id"
	FieldCounterpart = "counterpart_id"

	// Messaging
	FieldMessageID   = "message_id"
	FieldDestination = "destination"
	FieldClientID    = "client_id"

	// Connection
	FieldState = "state"

	// HTTP
	FieldMethod = "method"
	FieldPath   = "path"
	FieldStatus = "status"

	// Service
	FieldService = "service"
)
