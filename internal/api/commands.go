package api

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-motion-core/internal/audit"
	"github.com/nerrad567/gray-motion-core/internal/auth"
	"github.com/nerrad567/gray-motion-core/internal/broadcast"
	"github.com/nerrad567/gray-motion-core/internal/infrastructure/logging"
	"github.com/nerrad567/gray-motion-core/internal/motion"
)

// CommandHandler executes observer commands against the engine. It
// implements broadcast.CommandHandler. The caller's claims must be in ctx;
// each action needs the same permission as its REST route.
type CommandHandler struct {
	engine Engine
	audit  auditTrail
}

// CommandOption configures a CommandHandler.
type CommandOption func(*CommandHandler)

// WithAudit records stops, executions and cancellations in repo.
func WithAudit(repo audit.Repository, logger *logging.Logger) CommandOption {
	return func(c *CommandHandler) {
		c.audit = auditTrail{repo: repo, logger: logger}
	}
}

// NewCommandHandler creates a command handler over engine.
func NewCommandHandler(engine Engine, opts ...CommandOption) *CommandHandler {
	c := &CommandHandler{engine: engine}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HandleCommand runs one command.
//
// Returns:
//   - any: the motion.Admission for execute and move, nil otherwise
//   - error: auth.ErrForbidden, motion.ErrInvalidCommand for an unknown
//     action, or the engine's rejection
func (c *CommandHandler) HandleCommand(ctx context.Context, cmd broadcast.Command) (any, error) {
	perm := auth.PermMotionOperate
	if cmd.Action == broadcast.ActionStop {
		perm = auth.PermSafetyStop
	}
	claims := claimsFromContext(ctx)
	if claims == nil || !auth.HasPermission(claims.Role, perm) {
		return nil, auth.ErrForbidden
	}
	source := "ws:" + claims.Subject

	switch cmd.Action {
	case broadcast.ActionExecute:
		if cmd.Sequence == "" {
			return nil, fmt.Errorf("%w: sequence is required", motion.ErrInvalidCommand)
		}
		adm, err := c.engine.Execute(ctx, cmd.Sequence, motion.ExecuteOptions{
			Priority: cmd.Priority,
			Origin:   motion.OriginSequence,
			Source:   source,
		})
		c.record(ctx, audit.ActionExecute, cmd.Sequence, source, err)
		return adm, err

	case broadcast.ActionMove:
		if len(cmd.Targets) == 0 || cmd.DurationMS < 0 {
			return nil, fmt.Errorf("%w: targets are required", motion.ErrInvalidCommand)
		}
		return c.engine.Submit(ctx, motion.MotionCommand{
			Targets:     cmd.Targets,
			Duration:    time.Duration(cmd.DurationMS) * time.Millisecond,
			Priority:    cmd.Priority,
			Origin:      motion.OriginManual,
			Source:      source,
			SubmittedAt: time.Now(),
		})

	case broadcast.ActionCancel:
		if cmd.ExecutionID == "" {
			return nil, fmt.Errorf("%w: execution_id is required", motion.ErrInvalidCommand)
		}
		err := c.engine.Cancel(ctx, cmd.ExecutionID)
		c.record(ctx, audit.ActionCancel, cmd.ExecutionID, source, err)
		return nil, err

	case broadcast.ActionStop:
		reason := cmd.Reason
		if reason == "" {
			reason = "operator stop"
		}
		err := c.engine.EmergencyStop(ctx, reason+" ("+source+")")
		c.record(ctx, audit.ActionEmergencyStop, "", source, err)
		return nil, err

	default:
		return nil, fmt.Errorf("%w: unknown action %q", motion.ErrInvalidCommand, cmd.Action)
	}
}

func (c *CommandHandler) record(ctx context.Context, action, target, source string, err error) {
	e := callerEntry(ctx, action, target, err)
	e.Source = source
	c.audit.record(ctx, e)
}
