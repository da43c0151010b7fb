package storage

import (
	"fmt"
	"strings"
)

// Backend kinds accepted by NewStore.
const (
	KindMemory = "memory"
	KindSQLite = "sqlite"
)

// Kinds lists the supported backend tags.
func Kinds() []string {
	return []string{KindMemory, KindSQLite}
}

// NewStore builds a backend by kind. An empty kind resolves through
// DefaultStoreKind, which the build tags pick: sqlite when compiled in,
// memory otherwise. The sqlitePath is ignored by the memory backend.
func NewStore(kind, sqlitePath string) (Store, error) {
	if kind == "" {
		kind = DefaultStoreKind()
	}
	switch kind {
	case KindMemory:
		return NewMemoryStore(), nil
	case KindSQLite:
		return newSQLiteStore(sqlitePath)
	default:
		return nil, fmt.Errorf("unsupported store backend %q (have %s)", kind, strings.Join(Kinds(), ", "))
	}
}

// CloseIfSupported releases a backend's resources when it has any to
// release; the memory backend has none.
func CloseIfSupported(store Store) error {
	if closer, ok := store.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
