// Package relay implements the message-relay dispatcher: inbound chat
// events in, at most one reply per event out.
package relay

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"
)

// Request is one normalized inbound chat event. Immutable once built.
type Request struct {
	EventID    string
	ThreadID   string
	UserID     string
	Text       string
	ReceivedAt time.Time
}

// Reply is the single response produced for a processed Request.
type Reply struct {
	ThreadID  string
	Text      string
	InReplyTo string
}

// DeriveEventID builds a deterministic event id for transports that did not
// supply one, so a redelivered event hashes to the same id.
func DeriveEventID(threadID, userID, text string, ts time.Time) string {
	h := sha1.Sum([]byte(fmt.Sprintf("%s|%s|%s|%d", threadID, userID, text, ts.UnixNano())))
	return "drv:" + hex.EncodeToString(h[:])
}
