package supervisor

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/edgeorder/labelreader/types"
)

// Sender delivers a reply over the admin channel.
type Sender interface {
	Send(payload []byte, binary bool) bool
}

// HandleAdminMessage executes an admin request and sends exactly one reply.
// Messages that are not requests are ignored.
func (s *Supervisor) HandleAdminMessage(payload []byte) {
	var req types.AdminRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.logger.Warn("ignoring malformed admin message", map[string]any{"error": err.Error()})
		return
	}
	if req.Type != types.AdminTypeRequest {
		return
	}
	s.logger.Info("admin request", map[string]any{"command": req.Command})

	resp := types.AdminResponse{
		Command: req.Command,
		Status:  s.runCommand(req.Command),
		Type:    types.AdminTypeResponse,
	}
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to encode admin response", map[string]any{"error": err.Error()})
		return
	}

	s.mu.Lock()
	admin := s.admin
	s.mu.Unlock()
	if admin == nil || !admin.Send(data, false) {
		s.logger.Warn("admin response not delivered", map[string]any{"command": req.Command})
	}
}

// runCommand reports "error" for unknown commands, failed stops and panics.
func (s *Supervisor) runCommand(command string) (status string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("admin command panicked", map[string]any{"command": command, "panic": fmt.Sprint(r)})
			status = types.AdminStatusError
		}
	}()

	var err error
	switch command {
	case types.AdminCommandStart:
		s.Start()
	case types.AdminCommandStop:
		err = s.Stop()
	case types.AdminCommandRestart:
		_, err = s.Restart()
	default:
		err = errors.New("unknown command")
	}

	if err != nil {
		s.logger.Error("admin command failed", map[string]any{"command": command, "error": err.Error()})
		return types.AdminStatusError
	}
	return types.AdminStatusSuccess
}
