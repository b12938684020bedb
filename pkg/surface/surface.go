// Package surface is the control surface external UIs drive the engine
// through: logical commands in, replies and notifications out. It is
// exposed over HTTP and a websocket.
package surface

import (
	"context"
	"errors"
	"fmt"

	"github.com/entrhq/quickbar/pkg/config"
	"github.com/entrhq/quickbar/pkg/controller"
	"github.com/entrhq/quickbar/pkg/logging"
	"github.com/entrhq/quickbar/pkg/tabstate"
	"github.com/entrhq/quickbar/pkg/types"
)

var (
	// ErrUnknownCommand is returned for unrecognised command types.
	ErrUnknownCommand = errors.New("surface: unknown command")

	// ErrMissingEntry is returned for updateChat without an entry.
	ErrMissingEntry = errors.New("surface: updateChat requires an entry")
)

var log *logging.Logger

func init() {
	var err error
	log, err = logging.NewLogger("surface")
	if err != nil {
		// Logger fell back to stderr due to initialization failure
		log.Warnf("Failed to initialize surface logger, using stderr fallback: %v", err)
	}
}

// Runner controls tab runs. *controller.Controller satisfies it.
type Runner interface {
	Start(ctx context.Context, tabID int, goal string, opts types.TaskOptions) error
	Stop(ctx context.Context, tabID int) error
	EscapeStop(ctx context.Context, tabID int) error
	ContinueAuth(tabID int)
	CollectTabContext(ctx context.Context, tabID int) (*types.PageContext, error)
}

// EngineCatalog lists the configured search engines.
// *config.SearchSection satisfies it.
type EngineCatalog interface {
	GetEngines() []config.SearchEngine
	GetDefaultEngine() config.SearchEngine
}

// EngineList is the reply to getSearchEngines.
type EngineList struct {
	Engines []config.SearchEngine `json:"engines"`
	Default string                `json:"default"`
}

// Surface turns commands into engine calls.
type Surface struct {
	states  *tabstate.Manager
	runner  Runner
	engines EngineCatalog
}

// Option configures a Surface.
type Option func(*Surface)

// WithEngineCatalog sets the engine list served by getSearchEngines.
func WithEngineCatalog(engines EngineCatalog) Option {
	return func(s *Surface) {
		s.engines = engines
	}
}

// New creates a surface over states and runner.
func New(states *tabstate.Manager, runner Runner, opts ...Option) *Surface {
	s := &Surface{
		states:  states,
		runner:  runner,
		engines: config.NewSearchSection(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dispatch executes cmd and returns its reply: the requested data, or a
// *types.Reply acknowledging success or carrying the error text. Dispatch
// never fails in any other way.
func (s *Surface) Dispatch(ctx context.Context, cmd types.Command) any {
	log.Debugf("Dispatching %s for tab %d", cmd.Type, cmd.TabID)

	switch cmd.Type {
	case types.CommandGetTabState:
		state, err := s.states.Get(ctx, cmd.TabID)
		if err != nil {
			return types.NewErrorReply(err)
		}
		return state

	case types.CommandUpdateChat:
		if cmd.Entry == nil {
			return types.NewErrorReply(ErrMissingEntry)
		}
		if err := s.states.AppendChat(ctx, cmd.TabID, *cmd.Entry); err != nil {
			return types.NewErrorReply(err)
		}
		return types.NewOKReply()

	case types.CommandCollectTabContext:
		pc, err := s.runner.CollectTabContext(ctx, cmd.TabID)
		if err != nil {
			return types.NewErrorReply(err)
		}
		return pc

	case types.CommandStartTask:
		if err := s.runner.Start(ctx, cmd.TabID, cmd.UserGoal, cmd.Options); err != nil {
			return errorReply(err)
		}
		return types.NewOKReply()

	case types.CommandStopTask:
		if err := s.runner.Stop(ctx, cmd.TabID); err != nil {
			log.Warnf("Stopping tab %d: %v", cmd.TabID, err)
		}
		return types.NewOKReply()

	case types.CommandContinueAuth:
		s.runner.ContinueAuth(cmd.TabID)
		return types.NewOKReply()

	case types.CommandEscapeStop:
		if err := s.runner.EscapeStop(ctx, cmd.TabID); err != nil {
			log.Warnf("Escape-stopping tab %d: %v", cmd.TabID, err)
		}
		return types.NewOKReply()

	case types.CommandGetSearchEngines:
		return &EngineList{
			Engines: s.engines.GetEngines(),
			Default: s.engines.GetDefaultEngine().Name,
		}

	default:
		return types.NewErrorReply(fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type))
	}
}

// errorReply converts err into the reply shown to the user.
func errorReply(err error) *types.Reply {
	if errors.Is(err, controller.ErrAlreadyRunning) {
		return &types.Reply{Error: controller.MsgAlreadyRunning}
	}
	return types.NewErrorReply(err)
}
