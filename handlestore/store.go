// Package handlestore persists contract handles so a process can resume
// driving a contract after a restart.
package handlestore

import (
	"errors"
	"fmt"

	"github.com/TEENet-io/covenant-go/covenant"
)

var ErrHandleNotFound = errors.New("handle not found")

type Store interface {
	Save(h *covenant.Handle) error
	Load(id string) (*covenant.Handle, error)
	// List returns every stored handle ordered by id.
	List() ([]*covenant.Handle, error)
	Close() error
}

const (
	BACKEND_SQLITE = "sqlite"
	BACKEND_BOLT   = "bolt"
)

// Open picks a backend by name.
func Open(backend, path string) (Store, error) {
	switch backend {
	case BACKEND_SQLITE, "":
		return NewSQLiteStore(path)
	case BACKEND_BOLT:
		return NewBoltStore(path)
	default:
		return nil, fmt.Errorf("unknown handle store backend %q", backend)
	}
}
