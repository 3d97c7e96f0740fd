package dashboard

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/steveyegge/wsmon/internal/events"
	"github.com/steveyegge/wsmon/internal/hub"
)

// Message types broadcast to clients. They match hub event names.
const (
	MessageConflict    = events.ConflictDetected
	MessageSuggestion  = events.CollaborationSuggestion
	MessageInsights    = events.CollaborationInsights
	MessageStatus      = events.MonitorStatus
	MessageError       = events.Error
	MessageFileChanged = events.FileChanged
)

// forwarded lists hub events broadcast to clients.
var forwarded = []string{
	MessageConflict,
	MessageSuggestion,
	MessageInsights,
	MessageStatus,
	MessageError,
	MessageFileChanged,
}

// Handler bridges hub events to dashboard broadcasts.
type Handler struct {
	server *Server
}

// NewHandler creates a handler for server.
func NewHandler(server *Server) *Handler {
	return &Handler{server: server}
}

// Subscribe registers the handler on h under the dashboard's name.
func (d *Handler) Subscribe(h *hub.Hub) {
	for _, event := range forwarded {
		h.OnFor(ServiceName, event, func(p any) error {
			return d.forward(event, p)
		})
	}
}

func (d *Handler) forward(event string, payload any) error {
	if event == MessageConflict {
		if c, ok := payload.(events.Conflict); ok {
			d.server.logger.Info("conflict", "path", c.Path, "type", c.Type, "editors", len(c.Editors))
		}
	}

	msg, err := newMessage(event, payload)
	if err != nil {
		return err
	}
	d.server.Broadcast(msg)
	return nil
}

func newMessage(event string, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	return Message{Type: event, Timestamp: time.Now(), Data: data}, nil
}
