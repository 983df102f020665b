// Package account defines the credit account: the owner of lots and
// journal entries. Accounts are created on first mint and never deleted.
package account

import (
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/types"
)

// EntityType identifies what kind of principal owns an account.
type EntityType string

const (
	EntityUser  EntityType = "user"
	EntityAgent EntityType = "agent"
)

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	return t == EntityUser || t == EntityAgent
}

// Account is a credit-holding principal.
type Account struct {
	types.Entity
	ID          id.AccountID `json:"id"`
	EntityType  EntityType   `json:"entity_type"`
	ExternalRef string       `json:"external_ref,omitempty"`
}
