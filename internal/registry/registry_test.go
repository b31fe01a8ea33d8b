package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	r := New()
	assert.Equal(t, DefaultWeight, r.Weight("ghost"))
	assert.Equal(t, DefaultExpertise, r.Expertise("ghost", "fraud"))

	p, ok := r.Profile("ghost")
	assert.False(t, ok)
	assert.Equal(t, "ghost", p.AgentID)
	assert.Equal(t, DefaultWeight, p.Weight)
}

func TestSetWeight(t *testing.T) {
	r := New()
	require.NoError(t, r.SetWeight("a", 2.5))
	assert.Equal(t, 2.5, r.Weight("a"))

	assert.Error(t, r.SetWeight("a", 0))
	assert.Error(t, r.SetWeight("a", -1))
	// Failed updates leave the stored weight intact.
	assert.Equal(t, 2.5, r.Weight("a"))
}

func TestSetExpertise(t *testing.T) {
	r := New()
	scores := map[string]float64{"fraud": 0.9, "aml": 0.4}
	require.NoError(t, r.SetExpertise("a", scores))
	assert.Equal(t, 0.9, r.Expertise("a", "fraud"))
	assert.Equal(t, 0.4, r.Expertise("a", "aml"))
	assert.Equal(t, DefaultExpertise, r.Expertise("a", "sanctions"))

	// The input map is copied, not aliased.
	scores["fraud"] = 0.1
	assert.Equal(t, 0.9, r.Expertise("a", "fraud"))
}

func TestSetExpertiseReplacesWholeMap(t *testing.T) {
	r := New()
	require.NoError(t, r.SetExpertise("a", map[string]float64{"fraud": 0.9}))
	require.NoError(t, r.SetExpertise("a", map[string]float64{"aml": 0.7}))

	// The old domain is gone, not merged.
	assert.Equal(t, DefaultExpertise, r.Expertise("a", "fraud"))
	assert.Equal(t, 0.7, r.Expertise("a", "aml"))
}

func TestSetExpertiseValidation(t *testing.T) {
	r := New()
	assert.Error(t, r.SetExpertise("a", map[string]float64{"fraud": 1.1}))
	assert.Error(t, r.SetExpertise("a", map[string]float64{"fraud": -0.1}))
}

func TestProfileSnapshot(t *testing.T) {
	r := New()
	require.NoError(t, r.SetWeight("a", 2.0))
	require.NoError(t, r.SetExpertise("a", map[string]float64{"fraud": 0.8}))

	p, ok := r.Profile("a")
	require.True(t, ok)
	assert.Equal(t, 2.0, p.Weight)
	assert.Equal(t, 0.8, p.Expertise["fraud"])

	// Mutating the snapshot must not leak back into the registry.
	p.Expertise["fraud"] = 0.0
	assert.Equal(t, 0.8, r.Expertise("a", "fraud"))
}

func TestSetWeightPreservesExpertise(t *testing.T) {
	r := New()
	require.NoError(t, r.SetExpertise("a", map[string]float64{"fraud": 0.8}))
	require.NoError(t, r.SetWeight("a", 3.0))

	assert.Equal(t, 3.0, r.Weight("a"))
	assert.Equal(t, 0.8, r.Expertise("a", "fraud"))
}
