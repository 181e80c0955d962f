package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"
)

// TicketEvent is one entry in a ticket's append-only audit log. Entries are
// hash-chained: each hash covers the previous hash, so tampering with any
// entry invalidates the rest of the chain.
type TicketEvent struct {
	TicketID  string          `json:"ticket_id"`
	TicketSeq int             `json:"ticket_seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

func ComputeTicketEventHash(prevHash, ticketID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, ticketID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// VerifyTicketEvents walks a ticket's event chain and reports the first
// sequence number whose hash does not match, or -1 if the chain is intact.
func VerifyTicketEvents(events []TicketEvent) int {
	prev := ""
	for _, event := range events {
		if event.PrevHash != prev {
			return event.TicketSeq
		}
		if ComputeTicketEventHash(prev, event.TicketID, event.Type, event.Payload, event.CreatedAt, event.TicketSeq) != event.Hash {
			return event.TicketSeq
		}
		prev = event.Hash
	}
	return -1
}
