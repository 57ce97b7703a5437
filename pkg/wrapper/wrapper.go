// Package wrapper encapsulates one benchmark binary behind a common
// interface: metric declaration, command construction, and stdout parsing.
// Wrappers are resolved by name from a package-level registry instead of
// CRAB's original dynamic file-path loading.
package wrapper

import (
	"fmt"
	"os/exec"
	"sync"

	"github.com/SharkGamerZ/CRAB/pkg/types"
)

// Wrapper is the capability set every benchmark binary adapter implements.
type Wrapper interface {
	// Metadata returns the finite, ordered list of metrics this wrapper
	// produces. Order corresponds to the series order returned by
	// ParseOutput.
	Metadata() []types.MetricDescriptor

	// BuildCommand composes the shell-executable inner command. Returns ""
	// if the wrapper's binary cannot be found, which the supervisor treats
	// as a no-op spawn.
	BuildCommand() string

	// ParseOutput parses captured stdout into one numeric series per
	// metric, in Metadata order.
	ParseOutput(stdout string) ([][]float64, error)

	SetNodes(nodes []string)
	SetProcess(handle types.ProcessHandle)
	SetOutput(stdout, stderr string)
}

// Factory constructs a Wrapper instance for one AppInstance given its raw
// argument string.
type Factory func(args string) Wrapper

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a wrapper factory under name. Call from an init() in the
// package that defines the concrete wrapper.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// New looks up a registered wrapper by name and constructs an instance.
// An unregistered name is a fatal experiment-setup error.
func New(name, args string) (Wrapper, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("wrapper: no wrapper registered under name %q", name)
	}
	return factory(args), nil
}

// base is embedded by concrete wrappers to share the lifecycle-setter
// plumbing (nodes, process handle, captured output) every wrapper needs,
// grounded on original_source/wrappers/base.py.
type base struct {
	Args    string
	nodes   []string
	process types.ProcessHandle
	stdout  string
	stderr  string
}

func (b *base) SetNodes(nodes []string)                    { b.nodes = nodes }
func (b *base) SetProcess(handle types.ProcessHandle)       { b.process = handle }
func (b *base) SetOutput(stdout, stderr string)             { b.stdout, b.stderr = stdout, stderr }
func (b *base) NumNodes() int                               { return len(b.nodes) }

// lookPath resolves a binary name to an absolute path, returning "" (not an
// error) when it cannot be found — BuildCommand's no-op contract.
func lookPath(binary string) string {
	path, err := exec.LookPath(binary)
	if err != nil {
		return ""
	}
	return path
}
