package hub

import (
	"encoding/json"
	"log"
	"time"

	"github.com/NorhanGamalY/Queue-Management-System-Backend/internal/models"
)

// Envelope is the outbound wire format for every domain event.
type Envelope struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	CreatedAt time.Time   `json:"created_at"`
}

// Events turns domain side effects into room broadcasts. Emission is
// fire-and-forget: an empty room is a normal outcome, not an error.
type Events struct {
	hub *Hub
}

func NewEvents(h *Hub) *Events {
	return &Events{hub: h}
}

func (e *Events) TicketCreated(ticket models.Ticket)   { e.emitTicket("ticket.created", ticket) }
func (e *Events) TicketCalled(ticket models.Ticket)    { e.emitTicket("ticket.called", ticket) }
func (e *Events) TicketUpdated(ticket models.Ticket)   { e.emitTicket("ticket.updated", ticket) }
func (e *Events) TicketCancelled(ticket models.Ticket) { e.emitTicket("ticket.cancelled", ticket) }
func (e *Events) TicketCompleted(ticket models.Ticket) { e.emitTicket("ticket.completed", ticket) }
func (e *Events) TicketSkipped(ticket models.Ticket)   { e.emitTicket("ticket.skipped", ticket) }

func (e *Events) QueueUpdated(queue models.Queue) {
	e.emit(BusinessRoom(queue.BusinessID), "queue.updated", queue)
}

func (e *Events) UserNotification(userID, message string) {
	e.emit(UserRoom(userID), "notification", map[string]string{"message": message})
}

// emitTicket notifies the owning business's room and, when the ticket has a
// registered holder, that user's room.
func (e *Events) emitTicket(eventType string, ticket models.Ticket) {
	e.emit(BusinessRoom(ticket.BusinessID), eventType, ticket)
	if ticket.UserID != nil {
		e.emit(UserRoom(*ticket.UserID), eventType, ticket)
	}
}

func (e *Events) emit(room, eventType string, payload interface{}) {
	message, err := json.Marshal(Envelope{
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Printf("hub: marshal event type=%s err=%v", eventType, err)
		return
	}
	e.hub.Broadcast(room, message)
}
