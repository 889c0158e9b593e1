package domain

// Outbound webhook event names.
const (
	EventQRUpdate              = "qr_update"
	EventConnectionEstablished = "connection_established"
	EventConnectionLost        = "connection_lost"
	EventLeadProfileUpdated    = "lead_profile_updated"
	EventMessageReceived       = "message_received"
)
