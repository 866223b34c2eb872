package sluice

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/sluiceio/sluice/pkg/validate"
)

// Sentinel errors for the Client surface. Boundary codes map onto
// these so callers can branch with errors.Is.
var (
	ErrClosed      = errors.New("client is closed")
	ErrNullPointer = errors.New("nil argument")
	ErrBufferFull  = errors.New("event queue full")
	ErrFault       = errors.New("fault in engine boundary")
	ErrFormat      = errors.New("payload does not match schema")
	ErrInitFailed  = errors.New("engine initialization failed")
	ErrEmptyModule = errors.New("plugin module is empty")
)

// CodeError carries a boundary Code that has no sentinel mapping.
type CodeError struct {
	Code Code
}

func (e *CodeError) Error() string {
	return fmt.Sprintf("boundary code %d (%s)", int32(e.Code), e.Code)
}

// Err converts a Code to its sentinel error, nil for CodeOK.
func (c Code) Err() error {
	switch c {
	case CodeOK:
		return nil
	case CodeNullPointer:
		return ErrNullPointer
	case CodeBufferFull:
		return ErrBufferFull
	case CodeFault:
		return ErrFault
	case CodeFormatError:
		return ErrFormat
	case CodeInitFailed:
		return ErrInitFailed
	default:
		return &CodeError{Code: c}
	}
}

// Client is the Go-native wrapper around one engine handle. It is safe
// for concurrent use; Close is idempotent and releases the engine.
type Client struct {
	mu     sync.RWMutex
	h      Handle
	closed bool
}

// NewClient starts an engine with the given queue capacity.
func NewClient(bufferSize uint32) (*Client, error) {
	h := Init(bufferSize)
	if h == 0 {
		return nil, ErrInitFailed
	}
	return &Client{h: h}, nil
}

// NewClientWithOptions starts a fully configured engine.
func NewClientWithOptions(opts Options) (*Client, error) {
	h, err := InitWithOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Client{h: h}, nil
}

// LoadPlugin registers a wasm filter with the engine.
func (c *Client) LoadPlugin(module []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	if len(module) == 0 {
		return ErrEmptyModule
	}
	return LoadPlugin(c.h, module).Err()
}

// LoadPluginFromFile reads a wasm filter from disk and registers it.
// The path is screened for traversal and control characters first.
func (c *Client) LoadPluginFromFile(path string) error {
	if err := validate.New().ValidatePath(path); err != nil {
		return fmt.Errorf("plugin path rejected: %w", err)
	}
	module, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path validated above
	if err != nil {
		return fmt.Errorf("read plugin file: %w", err)
	}
	return c.LoadPlugin(module)
}

// Publish hands one event to the engine. Unlike the boundary function,
// the client takes ownership of arr on every path, including nil
// schema and a closed client; the caller must not use arr afterwards.
func (c *Client) Publish(arr *array.Struct, schema *arrow.Schema, sourceID uint32, seqNo uint64) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		if arr != nil {
			arr.Release()
		}
		return ErrClosed
	}
	code := Publish(c.h, arr, schema, sourceID, seqNo)
	if code == CodeNullPointer && arr != nil {
		arr.Release()
	}
	return code.Err()
}

// Stats reports the engine's counters.
func (c *Client) Stats() (Stats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return Stats{}, ErrClosed
	}
	st, ok := GetStats(c.h)
	if !ok {
		return Stats{}, ErrClosed
	}
	return st, nil
}

// AdminAddr reports the bound administration address, empty when the
// admin server is disabled.
func (c *Client) AdminAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ""
	}
	return AdminAddr(c.h)
}

// Close stops the engine and releases everything it owns. Further
// calls are no-ops.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	Free(c.h)
	c.h = 0
	return nil
}
