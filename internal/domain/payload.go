package domain

// MessagePayload describes the message to send. The engine carries it as inert
// data; only the mail transport interprets the fields.
type MessagePayload struct {
	To      string `json:"to"`
	Cc      string `json:"cc,omitempty"`
	Bcc     string `json:"bcc,omitempty"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}
