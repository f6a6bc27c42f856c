// Package identity derives persistent resource identifiers.
//
// An identifier is a name based (version 5) UUID computed from the agent's
// service UUID and a name built from the resource kind and its unique key. The
// same physical component rediscovered by the same agent always hashes to the
// same identifier, and identical topologies behind two agents never collide
// because each agent hashes into its own namespace.
package identity

import (
	"github.com/google/uuid"
)

// Hash returns the persistent identifier for name within namespace.
func Hash(namespace uuid.UUID, name string) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte(name))
}
