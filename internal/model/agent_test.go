package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoleRank(t *testing.T) {
	assert.Greater(t, RoleRank(RoleAdmin), RoleRank(RoleAgent))
	assert.Greater(t, RoleRank(RoleAgent), RoleRank(RoleReader))
	assert.Greater(t, RoleRank(RoleReader), RoleRank(AgentRole("bogus")))
}

func TestRoleAtLeast(t *testing.T) {
	assert.True(t, RoleAtLeast(RoleAdmin, RoleReader))
	assert.True(t, RoleAtLeast(RoleAdmin, RoleAdmin))
	assert.True(t, RoleAtLeast(RoleAgent, RoleReader))
	assert.False(t, RoleAtLeast(RoleReader, RoleAgent))
	assert.False(t, RoleAtLeast(RoleReader, RoleAdmin))
	assert.False(t, RoleAtLeast(AgentRole("bogus"), RoleReader))
}

func TestValidRole(t *testing.T) {
	assert.True(t, ValidRole(RoleAdmin))
	assert.True(t, ValidRole(RoleAgent))
	assert.True(t, ValidRole(RoleReader))
	assert.False(t, ValidRole(""))
	assert.False(t, ValidRole(AgentRole("superuser")))
}
