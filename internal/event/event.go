package event

import "encoding/json"

// KindMessage is the only event kind that gets relayed; everything else
// on the stream (open, keepalive) is ignored.
const KindMessage = "message"

// Notification is one decoded record from an ntfy-style JSON stream.
type Notification struct {
	ID       string   `json:"id,omitempty"`
	Time     int64    `json:"time,omitempty"` // unix seconds
	Event    string   `json:"event"`
	Topic    string   `json:"topic,omitempty"`
	Title    string   `json:"title,omitempty"`
	Message  string   `json:"message,omitempty"`
	Priority int      `json:"priority,omitempty"` // 1 (min) .. 5 (urgent)
	Tags     []string `json:"tags,omitempty"`
	Click    string   `json:"click,omitempty"`
}

// Decode parses a single stream line. The caller is expected to have
// skipped blank lines already.
func Decode(line []byte) (Notification, error) {
	var n Notification
	err := json.Unmarshal(line, &n)
	return n, err
}

// IsMessage reports whether the record should be relayed.
func (n Notification) IsMessage() bool {
	return n.Event == KindMessage
}
