package runtime

import (
	"testing"

	"github.com/yanmxa/kimi/internal/agent"
	"github.com/yanmxa/kimi/internal/approval"
	"github.com/yanmxa/kimi/internal/config"
	"github.com/yanmxa/kimi/internal/dmail"
	"github.com/yanmxa/kimi/internal/wire"
)

func newTestRuntime() *Runtime {
	gate := approval.NewGate(true, nil, wire.New().SoulSide())
	return New(config.Default(), nil, nil, nil, gate, nil)
}

func TestCloneForFixedSubagentIsolates(t *testing.T) {
	parent := newTestRuntime()
	if err := parent.Labor.RegisterDynamic(&Entry{Agent: &agent.Agent{Name: "sibling"}}); err != nil {
		t.Fatal(err)
	}

	clone := parent.CloneForFixedSubagent()

	if clone.DenwaRenji == parent.DenwaRenji {
		t.Error("fixed clone shares the D-Mail buffer")
	}
	if clone.Labor == parent.Labor {
		t.Error("fixed clone shares the labor market")
	}
	if _, ok := clone.Labor.Lookup("sibling"); ok {
		t.Error("fixed clone can see its siblings")
	}
	if clone.Approval != parent.Approval {
		t.Error("approval gate must be shared")
	}
	if clone.Config != parent.Config {
		t.Error("config must be shared")
	}

	// a D-Mail in the clone does not leak into the parent
	if err := clone.DenwaRenji.Put(dmail.DMail{Message: "m", CheckpointID: 0}); err != nil {
		t.Fatal(err)
	}
	if parent.DenwaRenji.Take() != nil {
		t.Error("parent received the clone's D-Mail")
	}
}

func TestCloneForDynamicSubagentSharesMarket(t *testing.T) {
	parent := newTestRuntime()
	clone := parent.CloneForDynamicSubagent()

	if clone.DenwaRenji == parent.DenwaRenji {
		t.Error("dynamic clone shares the D-Mail buffer")
	}
	if clone.Labor != parent.Labor {
		t.Error("dynamic clone must share the labor market")
	}

	// a sub-agent registered through the clone is visible to the parent
	if err := clone.Labor.RegisterDynamic(&Entry{Agent: &agent.Agent{Name: "worker"}}); err != nil {
		t.Fatal(err)
	}
	if _, ok := parent.Labor.Lookup("worker"); !ok {
		t.Error("parent cannot see dynamically created sub-agent")
	}
}

func TestMarketDuplicateNames(t *testing.T) {
	m := NewMarket()
	if err := m.RegisterFixed(&Entry{Agent: &agent.Agent{Name: "a"}}); err != nil {
		t.Fatal(err)
	}
	if err := m.RegisterDynamic(&Entry{Agent: &agent.Agent{Name: "a"}}); err == nil {
		t.Error("expected duplicate-name error across pools")
	}
	if err := m.RegisterDynamic(&Entry{Agent: &agent.Agent{Name: "b"}}); err != nil {
		t.Fatal(err)
	}
	if err := m.RegisterDynamic(&Entry{Agent: &agent.Agent{Name: "b"}}); err == nil {
		t.Error("expected duplicate-name error within dynamic pool")
	}
	if got := m.Names(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("names = %v", got)
	}
}
