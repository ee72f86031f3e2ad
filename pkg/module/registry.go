package module

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"sync"
)

var ErrDuplicate = errors.New("module already registered")

// Registry turns a resolved reference into a factory.
type Registry interface {
	Load(ref Reference) (Factory, error)
}

// Builtins holds the modules shipped with the node, keyed by name.
type Builtins struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewBuiltins() *Builtins {
	return &Builtins{factories: map[string]Factory{}}
}

// Register adds a built-in. Names are unique.
func (b *Builtins) Register(name string, f Factory) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.factories[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	b.factories[name] = f
	return nil
}

// Lookup returns the built-in registered under name.
func (b *Builtins) Lookup(name string) (Factory, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	f, ok := b.factories[name]
	return f, ok
}

// Names lists registered built-ins in order.
func (b *Builtins) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.factories))
	for n := range b.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// FileRegistry loads application modules by absolute path: factories
// registered in-process for a root-relative path, else a Go plugin file
// exporting Factory.
type FileRegistry struct {
	root string
	stat func(string) (fs.FileInfo, error)
	open func(string) (Factory, error)

	mu   sync.RWMutex
	apps map[string]Factory
}

func NewFileRegistry(root string) *FileRegistry {
	return &FileRegistry{
		root: path.Clean(root),
		stat: os.Stat,
		open: openPlugin,
		apps: map[string]Factory{},
	}
}

// RegisterApplication registers f for the application path rel.
func (r *FileRegistry) RegisterApplication(rel string, f Factory) error {
	p := path.Clean(r.root + "/" + rel)
	if !Contained(r.root, p) {
		return fmt.Errorf("%w: %s", ErrContainment, rel)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.apps[p]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, rel)
	}
	r.apps[p] = f
	return nil
}

// Load returns the factory for the absolute path p.
func (r *FileRegistry) Load(p string) (Factory, error) {
	r.mu.RLock()
	f, ok := r.apps[p]
	r.mu.RUnlock()
	if ok {
		return f, nil
	}
	for _, candidate := range []string{p, p + ".so"} {
		info, err := r.stat(candidate)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", candidate, err)
		}
		if info.IsDir() {
			continue
		}
		if path.Ext(candidate) != ".so" {
			return nil, fmt.Errorf("%w: %s exists but is not a plugin", ErrModuleNotFound, candidate)
		}
		return r.open(candidate)
	}
	return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, p)
}

// Loader composes built-ins and application files.
type Loader struct {
	Builtins *Builtins
	Files    *FileRegistry
}

func (l *Loader) Load(ref Reference) (Factory, error) {
	switch ref.Kind {
	case KindSystem, KindWrapped:
		if f, ok := l.Builtins.Lookup(ref.BuiltinName()); ok {
			return f, nil
		}
		return nil, fmt.Errorf("%w: built-in %s", ErrModuleNotFound, ref.BuiltinName())
	case KindApplication, KindCustom:
		return l.Files.Load(ref.Path)
	default:
		return nil, fmt.Errorf("%w: unknown kind %s", ErrModuleNotFound, ref.Kind)
	}
}
