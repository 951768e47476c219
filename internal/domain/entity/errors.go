package entity

import "errors"

var (
	// Request validation
	ErrNoMessages     = errors.New("request has no messages")
	ErrNoModel        = errors.New("request has no model")
	ErrInvalidRole    = errors.New("invalid message role")
	ErrInvalidBlock   = errors.New("invalid content block")

	// Session
	ErrInvalidSessionID = errors.New("invalid session id")
	ErrSessionNotFound  = errors.New("session not found")
)

// ValidateRequest checks the minimal payload shape the gateway accepts.
func ValidateRequest(r *MessagesRequest) error {
	if r.Model == "" {
		return ErrNoModel
	}
	if len(r.Messages) == 0 {
		return ErrNoMessages
	}
	for _, m := range r.Messages {
		switch m.Role {
		case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		default:
			return ErrInvalidRole
		}
	}
	return nil
}
