// ABOUTME: Registry mapping bundle keys to factory functions that build deployable bundles.
// ABOUTME: The source factory resolves agent code on disk and packs it for upload.

package bundle

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/2389/agent-console/internal/envfile"
)

var (
	// ErrNoFactory is returned when no factory serves a bundle key.
	ErrNoFactory = errors.New("no bundle factory registered")

	// ErrImport is wrapped when agent code cannot be resolved.
	ErrImport = errors.New("agent import failed")
)

// RequirementsFile is the archive member listing the bundle's dependencies.
const RequirementsFile = "requirements.txt"

// Bundle is everything the agent runtime needs to create or update a resource.
type Bundle struct {
	Key              string
	EntrypointModule string
	EntrypointObject string
	Requirements     []string
	EnvVars          map[string]string
	Files            []string
	Archive          []byte
}

// BuildOptions carries process-wide inputs to a factory.
type BuildOptions struct {
	BaseRequirements []string
}

// Factory builds a Bundle for a catalogue entry.
type Factory func(ctx context.Context, entry Entry, opts BuildOptions) (*Bundle, error)

// Registry resolves bundle keys to factories. Keys registered explicitly win
// over the fallback factory.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	fallback  Factory
}

// NewRegistry creates a registry. fallback may be nil, in which case every
// key must be registered.
func NewRegistry(fallback Factory) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		fallback:  fallback,
	}
}

// Register binds a factory to a key. Registering the same key twice is an error.
func (r *Registry) Register(key string, f Factory) error {
	if f == nil {
		return fmt.Errorf("registering %q: nil factory", key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[key]; exists {
		return fmt.Errorf("registering %q: already registered", key)
	}
	r.factories[key] = f
	return nil
}

// Lookup returns the factory for key.
func (r *Registry) Lookup(key string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if f, ok := r.factories[key]; ok {
		return f, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("%w for %q", ErrNoFactory, key)
}

// Build resolves the entry's factory and runs it.
func (r *Registry) Build(ctx context.Context, entry Entry, opts BuildOptions) (*Bundle, error) {
	f, err := r.Lookup(entry.Key)
	if err != nil {
		return nil, err
	}
	return f(ctx, entry, opts)
}

// SourceFactory builds bundles from agent source rooted at root.
func SourceFactory(root string) Factory {
	return func(ctx context.Context, entry Entry, opts BuildOptions) (*Bundle, error) {
		if err := entry.Validate(); err != nil {
			return nil, err
		}

		moduleFile, err := resolveModule(root, entry.ModulePath)
		if err != nil {
			return nil, err
		}
		if err := checkRootVariable(moduleFile, entry.RootVariable); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		vars := map[string]string{}
		if entry.LocalEnvFile != "" {
			vars, err = envfile.Load(filepath.Join(root, entry.LocalEnvFile))
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrImport, err)
			}
		}

		reqs := MergeRequirements(opts.BaseRequirements, entry.Requirements)

		paths := append([]string{}, entry.ExtraPackages...)
		rel, _ := filepath.Rel(root, moduleFile)
		paths = append(paths, rel)

		archive, files, err := BuildArchive(root, paths, reqs)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrImport, err)
		}

		return &Bundle{
			Key:              entry.Key,
			EntrypointModule: entry.ModulePath,
			EntrypointObject: entry.RootVariable,
			Requirements:     reqs,
			EnvVars:          vars,
			Files:            files,
			Archive:          archive,
		}, nil
	}
}

// resolveModule maps a dotted module path to a source file under root.
func resolveModule(root, modulePath string) (string, error) {
	base := filepath.Join(root, filepath.FromSlash(strings.ReplaceAll(modulePath, ".", "/")))
	for _, candidate := range []string{base + ".py", filepath.Join(base, "__init__.py")} {
		info, err := os.Stat(candidate)
		if err == nil && info.Mode().IsRegular() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: module %s not found under %s", ErrImport, modulePath, root)
}

// checkRootVariable looks for a top-level assignment to name.
func checkRootVariable(path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrImport, err)
	}
	defer f.Close()

	assign := regexp.MustCompile(`^` + regexp.QuoteMeta(name) + `\s*(:[^=]*)?=[^=]`)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if assign.MatchString(scanner.Text()) {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: reading %s: %v", ErrImport, path, err)
	}
	return fmt.Errorf("%w: %s does not define %s", ErrImport, filepath.Base(path), name)
}
