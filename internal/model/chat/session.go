package chat

import "time"

// Session captures one open page. It has no lifecycle beyond the process.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}
