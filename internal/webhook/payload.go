package webhook

// Payload is the WhatsApp Cloud API webhook envelope. Only the path down to
// the first text message is modeled; everything else is ignored.
type Payload struct {
	Entry []Entry `json:"entry"`
}

type Entry struct {
	Changes []Change `json:"changes"`
}

type Change struct {
	Value Value `json:"value"`
}

type Value struct {
	Messages []Message `json:"messages"`
}

type Message struct {
	ID   string `json:"id"`
	From string `json:"from"`
	Text *Text  `json:"text"`
}

type Text struct {
	Body string `json:"body"`
}

// FirstMessage extracts the first inbound message, mirroring the
// entry[0].changes[0].value.messages[0] path of the Cloud API. The second
// return is false when the event carries no message (status updates,
// reactions, media without text).
func (p *Payload) FirstMessage() (Message, bool) {
	if len(p.Entry) == 0 || len(p.Entry[0].Changes) == 0 {
		return Message{}, false
	}

	msgs := p.Entry[0].Changes[0].Value.Messages
	if len(msgs) == 0 {
		return Message{}, false
	}

	return msgs[0], true
}

// Body returns the text body, or "" for non-text messages.
func (m Message) Body() string {
	if m.Text == nil {
		return ""
	}

	return m.Text.Body
}
