package store

import (
	"encoding/json"
	"testing"
	"time"
)

func chainOf(t *testing.T, ticketID string, types []string) []TicketEvent {
	t.Helper()
	events := make([]TicketEvent, 0, len(types))
	prev := ""
	base := time.Date(2025, time.March, 4, 9, 0, 0, 0, time.UTC)
	for i, eventType := range types {
		payload := json.RawMessage(`{"status":"` + eventType + `"}`)
		createdAt := base.Add(time.Duration(i) * time.Minute)
		hash := ComputeTicketEventHash(prev, ticketID, eventType, payload, createdAt, i+1)
		events = append(events, TicketEvent{
			TicketID:  ticketID,
			TicketSeq: i + 1,
			Type:      eventType,
			Payload:   payload,
			CreatedAt: createdAt,
			PrevHash:  prev,
			Hash:      hash,
		})
		prev = hash
	}
	return events
}

func TestVerifyTicketEventsIntactChain(t *testing.T) {
	events := chainOf(t, "t-1", []string{"ticket.created", "ticket.called", "ticket.completed"})
	if got := VerifyTicketEvents(events); got != -1 {
		t.Fatalf("VerifyTicketEvents = %d, want -1", got)
	}
}

func TestVerifyTicketEventsDetectsTamperedPayload(t *testing.T) {
	events := chainOf(t, "t-1", []string{"ticket.created", "ticket.called", "ticket.completed"})
	events[1].Payload = json.RawMessage(`{"status":"forged"}`)
	if got := VerifyTicketEvents(events); got != 2 {
		t.Fatalf("VerifyTicketEvents = %d, want 2", got)
	}
}

func TestVerifyTicketEventsDetectsBrokenLink(t *testing.T) {
	events := chainOf(t, "t-1", []string{"ticket.created", "ticket.called"})
	events[1].PrevHash = "0000"
	if got := VerifyTicketEvents(events); got != 2 {
		t.Fatalf("VerifyTicketEvents = %d, want 2", got)
	}
}

func TestVerifyTicketEventsEmpty(t *testing.T) {
	if got := VerifyTicketEvents(nil); got != -1 {
		t.Fatalf("VerifyTicketEvents = %d, want -1", got)
	}
}
