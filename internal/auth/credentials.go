package auth

import (
	"errors"
	"fmt"
	"sync"

	"github.com/quorumlab/quorum/internal/model"
)

// ErrInvalidCredentials is returned for unknown agents and wrong API keys
// alike, so callers cannot distinguish the two.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// ErrAgentExists is returned when registering an agent_id that is taken.
var ErrAgentExists = errors.New("auth: agent already registered")

type credential struct {
	role    model.AgentRole
	keyHash string
}

// Credentials is an in-memory directory of agent API keys and roles.
// Keys are stored as Argon2id hashes; the plaintext is never retained.
type Credentials struct {
	mu     sync.RWMutex
	agents map[string]credential
}

// NewCredentials creates an empty credential store.
func NewCredentials() *Credentials {
	return &Credentials{agents: make(map[string]credential)}
}

// Register hashes and stores the API key for a new agent.
func (c *Credentials) Register(agentID string, role model.AgentRole, apiKey string) error {
	if apiKey == "" {
		return fmt.Errorf("auth: empty API key")
	}
	hash, err := HashAPIKey(apiKey)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.agents[agentID]; exists {
		return ErrAgentExists
	}
	c.agents[agentID] = credential{role: role, keyHash: hash}
	return nil
}

// Authenticate verifies an agent's API key and returns its role.
// Unknown agents burn a dummy hash so lookup misses take as long as
// hash mismatches.
func (c *Credentials) Authenticate(agentID, apiKey string) (model.AgentRole, error) {
	c.mu.RLock()
	cred, ok := c.agents[agentID]
	c.mu.RUnlock()

	if !ok {
		DummyVerify()
		return "", ErrInvalidCredentials
	}

	match, err := VerifyAPIKey(apiKey, cred.keyHash)
	if err != nil {
		return "", err
	}
	if !match {
		return "", ErrInvalidCredentials
	}
	return cred.role, nil
}

// Role returns the stored role for agentID without checking a key.
func (c *Credentials) Role(agentID string) (model.AgentRole, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cred, ok := c.agents[agentID]
	return cred.role, ok
}
