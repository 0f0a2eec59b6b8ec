package capability

import (
	"errors"
	"testing"

	"github.com/overblick/agentcore/pkg/contracts"
	"github.com/overblick/agentcore/pkg/models"
	"github.com/stretchr/testify/require"
)

type fakeCapability struct{ name string }

func (f fakeCapability) Name() string { return f.name }
func (f fakeCapability) Close() error { return nil }

func TestBuild_InstantiatesDeclaredCapabilities(t *testing.T) {
	r := NewRegistry()
	r.Register("emotional_state", func(id models.Identity) (contracts.Capability, error) {
		return fakeCapability{name: "emotional_state"}, nil
	})

	built, err := r.Build(models.Identity{Capabilities: []string{"emotional_state"}})
	require.NoError(t, err)
	require.Contains(t, built, "emotional_state")
}

func TestBuild_UnknownCapabilityListsAvailable(t *testing.T) {
	r := NewRegistry()
	r.Register("known", func(id models.Identity) (contracts.Capability, error) {
		return fakeCapability{name: "known"}, nil
	})

	_, err := r.Build(models.Identity{Capabilities: []string{"unknown"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "known")
}

func TestBuild_ConstructorErrorPropagates(t *testing.T) {
	r := NewRegistry()
	r.Register("broken", func(id models.Identity) (contracts.Capability, error) {
		return nil, errors.New("init failed")
	})

	_, err := r.Build(models.Identity{Capabilities: []string{"broken"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "init failed")
}
