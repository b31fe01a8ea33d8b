package model

import "fmt"

// AgentRole represents the RBAC role assigned to an API credential.
type AgentRole string

const (
	RoleAdmin  AgentRole = "admin"
	RoleAgent  AgentRole = "agent"
	RoleReader AgentRole = "reader"
)

// RoleRank returns the numeric rank of a role (higher = more privileges).
// Only relative ordering matters; RoleAtLeast uses >= comparison.
func RoleRank(r AgentRole) int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleAgent:
		return 2
	case RoleReader:
		return 1
	default:
		return 0
	}
}

// RoleAtLeast returns true if role r has at least the privileges of minRole.
func RoleAtLeast(r, minRole AgentRole) bool {
	return RoleRank(r) >= RoleRank(minRole)
}

// ValidRole reports whether r is a known role.
func ValidRole(r AgentRole) bool {
	return RoleRank(r) > 0
}

// ValidateAgentID checks that an agent ID conforms to the allowed format.
// Agent IDs must be 1-255 ASCII characters: alphanumeric, dots, hyphens,
// underscores, and @ signs.
func ValidateAgentID(id string) error {
	if len(id) == 0 {
		return fmt.Errorf("agent_id is required")
	}
	if len(id) > 255 {
		return fmt.Errorf("agent_id must be at most 255 characters")
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') &&
			c != '.' && c != '-' && c != '_' && c != '@' {
			return fmt.Errorf("agent_id contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}

// ValidateDomain checks that an expertise domain tag conforms to the allowed
// format: lowercase alphanumeric plus hyphens and underscores, starting with
// a letter.
func ValidateDomain(domain string) error {
	if len(domain) == 0 {
		return nil // domain is optional on a request
	}
	if len(domain) > 64 {
		return fmt.Errorf("domain must be at most 64 characters")
	}
	for i := 0; i < len(domain); i++ {
		c := domain[i]
		if i == 0 {
			if c < 'a' || c > 'z' {
				return fmt.Errorf("domain must start with a lowercase letter, got %q", c)
			}
			continue
		}
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' && c != '_' {
			return fmt.Errorf("domain contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}
