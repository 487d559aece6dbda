package objects

import (
	"encoding/json"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/datnetwork/datmind/internal/command"
	"github.com/datnetwork/datmind/internal/session"
)

// CommandParams are the params of every command method. Control names the issuing
// presentation control; it defaults to the action name.
type CommandParams struct {
	Control string `json:"control"`
	command.Args
}

// CommandResult is the JSON-RPC result of a command that reached the ledger
type CommandResult struct {
	Action     string `json:"action"`
	Control    string `json:"control"`
	OK         bool   `json:"ok"`
	CommandID  string `json:"commandId,omitempty"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

// Submit decodes params and submits action for the caller. Validation failures,
// busy controls and closed sessions are returned as errors; ledger rejections are
// returned as a result with OK false.
func Submit(c *gin.Context, sessions Sessions, action command.Name, params json.RawMessage) (interface{}, error) {
	var p CommandParams
	if err := DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Control == "" {
		p.Control = string(action)
	}

	s, err := SessionFor(c, sessions)
	if err != nil {
		return nil, err
	}

	res := s.Submit(c.Request.Context(), p.Control, action, p.Args)
	if res.Err != nil && isLocalFailure(res.Err) {
		return nil, res.Err
	}
	return CommandResult{
		Action:     string(res.Action),
		Control:    res.Control,
		OK:         res.OK,
		CommandID:  res.CommandID,
		Diagnostic: res.Diagnostic,
	}, nil
}

// isLocalFailure reports errors raised before the command reached the ledger
func isLocalFailure(err error) bool {
	return errors.Is(err, command.ErrInvalidArgument) ||
		errors.Is(err, command.ErrAlreadySubmitting) ||
		errors.Is(err, command.ErrUnknownAction) ||
		errors.Is(err, session.ErrClosed)
}
