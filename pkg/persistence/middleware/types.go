// Package middleware wraps an ArchiveStore with at-rest protections. Records
// pass through on their way to the backend; the engine's in-memory copies are
// never touched.
package middleware

import "github.com/aretw0/espalier/pkg/ports"

// Middleware allows wrapping an ArchiveStore to add behavior.
type Middleware func(ports.ArchiveStore) ports.ArchiveStore
