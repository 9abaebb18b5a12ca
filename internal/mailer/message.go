// Package mailer delivers rendered transactional email over SMTP and
// renders the email bodies from embedded templates.
package mailer

// Message is one outbound email. From and FromName are optional overrides
// of the sender configured on the transport.
type Message struct {
	To       string `json:"to"`
	ToName   string `json:"to_name"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
	From     string `json:"from,omitempty"`
	FromName string `json:"from_name,omitempty"`
}

// Sender delivers a message.
type Sender interface {
	Send(msg Message) error
}

// Translator maps user-facing strings to the reader's locale. The default
// implementation is a passthrough.
type Translator interface {
	Translate(s string) string
}

// NoopTranslator returns strings unchanged.
type NoopTranslator struct{}

// Translate returns s as-is.
func (NoopTranslator) Translate(s string) string { return s }

var _ Translator = NoopTranslator{}
