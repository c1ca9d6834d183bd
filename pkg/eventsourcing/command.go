package eventsourcing

import (
	"context"
	"time"

	"github.com/BlackRoad-OS/blackroad-event-sourcing/internal/idgen"
)

// CommandStatus is the lifecycle state of a dispatched command (§3.4).
type CommandStatus string

const (
	CommandStatusPending CommandStatus = "pending"
	CommandStatusOK      CommandStatus = "ok"
	CommandStatusError   CommandStatus = "error"
)

// Command is the intent handed to a CommandBus handler.
type Command struct {
	ID       string
	Type     string
	Payload  map[string]any
	IssuedBy string
	IssuedAt time.Time
}

// NewCommand assigns a fresh sortable id and the current timestamp.
func NewCommand(cmdType string, payload map[string]any, issuedBy string) *Command {
	if payload == nil {
		payload = map[string]any{}
	}
	return &Command{
		ID:       idgen.NewCommandID(),
		Type:     cmdType,
		Payload:  payload,
		IssuedBy: issuedBy,
		IssuedAt: time.Now().UTC(),
	}
}

// CommandRecord is the persisted audit row for a dispatched command (§3.4, §6.1).
type CommandRecord struct {
	ID           string
	CommandType  string
	Payload      map[string]any
	IssuedBy     string
	IssuedAt     time.Time
	Status       CommandStatus
	Result       map[string]any
	ErrorMessage string
}

// CommandHandler is the signature §4.4 specifies: (Command, EventStore) -> result.
// Handlers append events to the store themselves; the bus never does it on
// their behalf. A handler returning an error causes Dispatch to record a
// HandlerFailure outcome without propagating the error to the caller.
type CommandHandler func(ctx context.Context, cmd *Command, store EventStore) (map[string]any, error)

// DispatchOutcome is the structured result Dispatch always returns (§4.4).
type DispatchOutcome struct {
	Status  CommandStatus  `json:"status"`
	Result  map[string]any `json:"result,omitempty"`
	Message string         `json:"message,omitempty"`
}
