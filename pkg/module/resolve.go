package module

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"fabric-node/pkg/model"
)

// Kind says where a module's code comes from.
type Kind int

const (
	KindSystem Kind = iota
	KindApplication
	KindWrapped
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindSystem:
		return "system"
	case KindApplication:
		return "application"
	case KindWrapped:
		return "wrapped"
	case KindCustom:
		return "custom"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// BuiltinDir is the virtual directory built-in modules resolve under.
const BuiltinDir = "/fabric/modules"

var (
	ErrContainment    = errors.New("module path escapes application root")
	ErrModuleNotFound = errors.New("module not found")
	ErrEmptyID        = errors.New("empty module identifier")
)

// Reference is a resolved module identifier.
type Reference struct {
	Identifier string
	Path       string
	Kind       Kind
	Wrapper    string
	// Tags are the config keys resolution adds (_customModule or
	// _systemModule).
	Tags map[string]any
}

// BuiltinName is the registry name of a system or wrapped reference.
func (r Reference) BuiltinName() string {
	return strings.TrimPrefix(r.Path, BuiltinDir+"/")
}

// Resolve maps identifier to a Reference without touching the filesystem.
func Resolve(root, identifier string, mc ModuleConfig, custom bool) (Reference, error) {
	if identifier == "" {
		return Reference{}, ErrEmptyID
	}
	root = path.Clean(root)
	ref := Reference{Identifier: identifier, Tags: map[string]any{}}

	if custom {
		if pathLike(identifier) && !strings.HasPrefix(identifier, "/") {
			ref.Path = builtinPath(identifier)
			ref.Kind = KindSystem
		} else {
			ref.Path = identifier
			ref.Kind = KindCustom
		}
		return ref, nil
	}

	if pathLike(identifier) {
		p := path.Clean(root + "/" + identifier)
		if !Contained(root, p) {
			return Reference{}, fmt.Errorf("%w: %s resolves to %s outside %s", ErrContainment, identifier, p, root)
		}
		ref.Path = p
		ref.Kind = KindApplication
		ref.Tags[KeyCustomModule] = p
	} else {
		ref.Path = builtinPath(identifier)
		ref.Kind = KindSystem
		ref.Tags[KeySystemModule] = identifier
	}

	if mc.Wrapper != "" {
		ref.Path = builtinPath(mc.Wrapper)
		ref.Kind = KindWrapped
		ref.Wrapper = mc.Wrapper
	}
	return ref, nil
}

// Contained reports whether p is root or lies beneath it. Both must be clean.
func Contained(root, p string) bool {
	if root == "/" {
		return strings.HasPrefix(p, "/")
	}
	return p == root || strings.HasPrefix(p, root+"/")
}

// PassConfig builds the config handed to the factory: id and endpoints,
// then caller settings, then resolution tags. The wrapper key never passes
// through, so a wrapped module compiled again is not re-wrapped.
func PassConfig(endpoints model.Endpoints, ref Reference, mc ModuleConfig) Config {
	cfg := Config{KeyID: mc.ID, KeyHQEndpoints: endpoints}
	for k, v := range mc.Settings {
		cfg[k] = v
	}
	for k, v := range ref.Tags {
		cfg[k] = v
	}
	delete(cfg, KeyWrapperModule)
	return cfg
}

func pathLike(identifier string) bool {
	return strings.ContainsAny(identifier, "/.")
}

func builtinPath(name string) string {
	return path.Clean(BuiltinDir + "/" + name)
}
