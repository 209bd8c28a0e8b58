//go:build !protogen

package catalog

import "github.com/liwei-chiu/slotbook/internal/engine"

// NewRemote returns the gRPC-backed catalog when built with the protogen tag.
// In this build it reports no remote catalog; callers fall back to the local
// Postgres catalog.
func NewRemote(_ string) (engine.Catalog, error) {
	return nil, nil
}
