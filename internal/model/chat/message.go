package chat

import "time"

// Message is one entry of the conversation log. It is never mutated after it
// has been appended.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Text      string    `json:"text"`
	IsUser    bool      `json:"isUser"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserMessage builds the log entry for a submitted prompt.
func UserMessage(sessionID, text string) Message {
	return Message{SessionID: sessionID, Text: text, IsUser: true}
}

// ReplyMessage builds the log entry for a raw model reply.
func ReplyMessage(sessionID, text string) Message {
	return Message{SessionID: sessionID, Text: text}
}

// Speaker returns the label shown next to the message.
func (m Message) Speaker() string {
	if m.IsUser {
		return "You"
	}
	return "GPT"
}
