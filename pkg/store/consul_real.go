//go:build consul

package store

import (
	"stepflow/pkg/consul"
)

// NewConsulStore creates a Consul-backed store (requires build tag consul).
func NewConsulStore(addr string) TaskStore {
	return consul.NewStore(addr)
}
