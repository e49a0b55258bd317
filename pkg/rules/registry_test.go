package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
)

func noopRule() contracts.Rule {
	return contracts.RuleFunc(func(context.Context, *contracts.AnalysisContext) ([]contracts.Finding, error) {
		return nil, nil
	})
}

func TestRegistryDuplicateID(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(contracts.RuleDefinition{ID: "MD-001"}, noopRule()))

	err := r.Register(contracts.RuleDefinition{ID: "MD-001"}, noopRule())
	require.Error(t, err)
	assert.True(t, contracts.IsCode(err, contracts.CodeInvalidInput))
	assert.Equal(t, 1, r.Len())
}

func TestRegistryRejectsNilRule(t *testing.T) {
	r := NewRegistry()
	err := r.Register(contracts.RuleDefinition{ID: "MD-001"}, nil)
	assert.True(t, contracts.IsCode(err, contracts.CodeInvalidInput))
}

func TestRegistryEnabledPreservesDeclarationOrder(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"MD-003", "MD-001", "MD-002"} {
		require.NoError(t, r.Register(contracts.RuleDefinition{ID: id}, noopRule()))
	}

	// Request order must not matter; declaration order wins.
	enabled, err := r.Enabled([]string{"MD-002", "MD-003"})
	require.NoError(t, err)
	require.Len(t, enabled, 2)
	assert.Equal(t, "MD-003", enabled[0].Def.ID)
	assert.Equal(t, "MD-002", enabled[1].Def.ID)
}

func TestRegistryEnabledEmptyMeansAll(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(contracts.RuleDefinition{ID: "MD-001"}, noopRule()))
	require.NoError(t, r.Register(contracts.RuleDefinition{ID: "MD-002"}, noopRule()))

	enabled, err := r.Enabled(nil)
	require.NoError(t, err)
	assert.Len(t, enabled, 2)
}

func TestRegistryEnabledUnknownID(t *testing.T) {
	r := NewRegistry()
	_, err := r.Enabled([]string{"MD-999"})
	assert.True(t, contracts.IsCode(err, contracts.CodeInvalidInput))
}

func TestRegistryGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(contracts.RuleDefinition{ID: "MD-001", Name: "n"}, noopRule()))

	reg, ok := r.Get("MD-001")
	require.True(t, ok)
	assert.Equal(t, "n", reg.Def.Name)

	_, ok = r.Get("MD-404")
	assert.False(t, ok)
}
