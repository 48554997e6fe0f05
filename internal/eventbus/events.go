package eventbus

import "time"

// Event types pushed over the live channel.
const (
	TypeQRCode           = "qr_code"
	TypeConnectionStatus = "connection_status"
	TypeIncomingMessage  = "incoming_message"
	TypeBulkProgress     = "bulk_progress"

	// TypeConnection is the greeting sent once per websocket client on attach.
	TypeConnection = "connection"
)

type QRCodePayload struct {
	QRCode  string `json:"qrCode"`
	Message string `json:"message"`
}

type ConnectionStatusPayload struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type IncomingMessagePayload struct {
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type BulkProgressPayload struct {
	JobID     string `json:"bulkId"`
	Current   int    `json:"current"`
	Total     int    `json:"total"`
	Recipient string `json:"recipient"`
	Success   bool   `json:"success"`
}

func QRCode(artifact string) Event {
	return Event{Type: TypeQRCode, Data: QRCodePayload{
		QRCode:  artifact,
		Message: "Scan this QR code with your WhatsApp",
	}}
}

func ConnectionStatus(status, message string) Event {
	return Event{Type: TypeConnectionStatus, Data: ConnectionStatusPayload{
		Status:  status,
		Message: message,
	}}
}

func IncomingMessage(sender, content string, at time.Time) Event {
	return Event{Type: TypeIncomingMessage, Data: IncomingMessagePayload{
		Sender:    sender,
		Recipient: "me",
		Content:   content,
		Timestamp: at,
	}}
}

func BulkProgress(jobID string, current, total int, recipient string, success bool) Event {
	return Event{Type: TypeBulkProgress, Data: BulkProgressPayload{
		JobID:     jobID,
		Current:   current,
		Total:     total,
		Recipient: recipient,
		Success:   success,
	}}
}
