package jsm

import (
	"context"

	"github.com/jabberd-go/jabberd/plugin"
)

// Module is a jsm feature module (presence, roster, offline, privacy,
// groups): unlike plugin.Plugin, which is initialized once per
// connection, a Module is initialized once for the whole Instance and
// wires itself into the shared event pipeline and, for new sessions,
// the per-session chains.
type Module interface {
	Name() string
	Version() string
	// Dependencies names modules that must already be initialized
	// (e.g. privacy depends on roster for group expansion).
	Dependencies() []string
	Init(ctx context.Context, inst *Instance) error
	Close() error
}

// moduleAdapter lets Instance reuse plugin.Manager's dependency-ordered
// init/close bookkeeping — the same topological sort the teacher's
// connection-scoped plugin.Manager runs — for Instance-scoped Modules,
// which take an *Instance instead of plugin.InitParams.
type moduleAdapter struct {
	m    Module
	inst *Instance
}

func (a moduleAdapter) Name() string          { return a.m.Name() }
func (a moduleAdapter) Version() string       { return a.m.Version() }
func (a moduleAdapter) Dependencies() []string { return a.m.Dependencies() }
func (a moduleAdapter) Close() error          { return a.m.Close() }

func (a moduleAdapter) Initialize(ctx context.Context, _ plugin.InitParams) error {
	return a.m.Init(ctx, a.inst)
}
