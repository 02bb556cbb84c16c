package plugin_test

import (
	"context"
	"testing"

	"github.com/jabberd-go/jabberd/internal/testutil/pluginsmoke"
	"github.com/jabberd-go/jabberd/plugin"
)

// echoPlugin is a minimal real Plugin implementation, exercised here
// through the shared pluginsmoke.Run contract check rather than
// duplicating the same Name/Version/lifecycle assertions per plugin.
type echoPlugin struct {
	initialized bool
	closed      bool
}

func (p *echoPlugin) Name() string           { return "echo" }
func (p *echoPlugin) Version() string        { return "1.0.0" }
func (p *echoPlugin) Dependencies() []string { return nil }

func (p *echoPlugin) Initialize(ctx context.Context, params plugin.InitParams) error {
	p.initialized = true
	return nil
}

func (p *echoPlugin) Close() error {
	p.closed = true
	return nil
}

func TestEchoPluginSatisfiesContract(t *testing.T) {
	t.Parallel()
	p := &echoPlugin{}
	pluginsmoke.Run(t, p)
	if !p.initialized {
		t.Fatal("pluginsmoke.Run did not call Initialize")
	}
	if !p.closed {
		t.Fatal("pluginsmoke.Run did not call Close")
	}
}

func TestManagerRegisteredPluginSatisfiesContract(t *testing.T) {
	t.Parallel()
	mgr := plugin.NewManager()
	p := &echoPlugin{}
	if err := mgr.Register(p); err != nil {
		t.Fatalf("Register: %v", err)
	}
	got, ok := mgr.Get("echo")
	if !ok {
		t.Fatal("Get returned false for a registered plugin")
	}
	pluginsmoke.Run(t, got)
}
