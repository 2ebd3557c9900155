// Package datastore is the transactional, path-keyed store that underlay and
// overlay topologies live in. Writers use transaction chains; readers
// register change listeners that receive every committed change under a path
// prefix, in commit order.
package datastore

import (
	"context"
	"errors"
	"strings"
)

// Type distinguishes the configuration and operational datastores.
type Type string

const (
	Config      Type = "config"
	Operational Type = "operational"
)

// ParseType maps a configuration string to a Type. The empty string means
// Operational.
func ParseType(s string) (Type, error) {
	switch s {
	case "", string(Operational):
		return Operational, nil
	case string(Config), "configuration":
		return Config, nil
	}
	return "", errors.New("unknown datastore type " + s)
}

var (
	ErrNotFound    = errors.New("path not found")
	ErrChainFailed = errors.New("transaction chain failed")
	ErrChainClosed = errors.New("transaction chain closed")
	ErrTxDone      = errors.New("transaction already submitted or cancelled")
	ErrClosed      = errors.New("datastore closed")
)

// ReadWriteTx buffers writes until Submit. Writes are applied in call order.
type ReadWriteTx interface {
	// Put stores value at path, replacing what was there.
	Put(path string, value []byte)
	// Merge merges the JSON object value into the object stored at path.
	Merge(path string, value []byte)
	// Delete removes path. Deleting a missing path is not an error.
	Delete(path string)
	// Submit commits the transaction. The returned channel receives exactly
	// one value: nil on success, or the commit error.
	Submit() <-chan error
	// Cancel discards the transaction.
	Cancel()
}

// TxChain orders the transactions created from it: each one is committed
// after every transaction submitted before it. Once a transaction in the
// chain fails, the chain is failed and every later submit fails with
// ErrChainFailed.
type TxChain interface {
	NewReadWriteTx() ReadWriteTx
	Close()
}

// ChainListener is told, asynchronously, that a chain has failed.
type ChainListener interface {
	OnChainFailed(chain TxChain, err error)
}

// ChainListenerFunc adapts a function to ChainListener.
type ChainListenerFunc func(chain TxChain, err error)

func (f ChainListenerFunc) OnChainFailed(chain TxChain, err error) { f(chain, err) }

// Change describes one committed modification. Before is nil for a created
// path and After is nil for a deleted one.
type Change struct {
	Path   string
	Before []byte
	After  []byte
}

// ChangeListener receives the changes of one commit that fall under the
// prefix it was registered for. Calls for one registration never overlap.
type ChangeListener interface {
	OnDataChanged(changes []Change)
}

// ChangeListenerFunc adapts a function to ChangeListener.
type ChangeListenerFunc func(changes []Change)

func (f ChangeListenerFunc) OnDataChanged(changes []Change) { f(changes) }

// Registration ends a change listener registration.
type Registration interface {
	Close()
}

// Store is a transactional datastore of one Type.
type Store interface {
	Type() Type
	CreateTransactionChain(listener ChainListener) TxChain
	RegisterChangeListener(prefix string, listener ChangeListener) (Registration, error)
	// RegisterChangeListenerWithSnapshot first delivers the entries already
	// under prefix as creations, then every later committed change.
	RegisterChangeListenerWithSnapshot(ctx context.Context, prefix string, listener ChangeListener) (Registration, error)
	Read(ctx context.Context, path string) ([]byte, error)
	List(ctx context.Context, prefix string) (map[string][]byte, error)
	Close() error
}

// Join builds a store path from its segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}
