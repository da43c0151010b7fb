package storage

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestNewStoreMemory(t *testing.T) {
	store, err := NewStore(KindMemory, "")
	if err != nil {
		t.Fatalf("new memory store: %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
}

func TestNewStoreEmptyKindUsesDefault(t *testing.T) {
	got, err := NewStore("", filepath.Join(t.TempDir(), "a.db"))
	if err != nil {
		t.Fatalf("new default store: %v", err)
	}
	want, err := NewStore(DefaultStoreKind(), filepath.Join(t.TempDir(), "b.db"))
	if err != nil {
		t.Fatalf("new %s store: %v", DefaultStoreKind(), err)
	}
	if reflect.TypeOf(got) != reflect.TypeOf(want) {
		t.Fatalf("empty kind built %T, default kind builds %T", got, want)
	}
}

func TestNewStoreUnsupported(t *testing.T) {
	_, err := NewStore("unknown", "")
	if err == nil {
		t.Fatal("expected unsupported store error")
	}
	if !strings.Contains(err.Error(), KindMemory) || !strings.Contains(err.Error(), KindSQLite) {
		t.Fatalf("error %q does not list the supported backends", err)
	}
}

func TestCloseIfSupportedMemory(t *testing.T) {
	if err := CloseIfSupported(NewMemoryStore()); err != nil {
		t.Fatalf("close memory store: %v", err)
	}
}
