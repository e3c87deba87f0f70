package catalog

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/runnerd/internal/protocol"
)

const manifestFilename = "manifest.yaml"

// Registry holds discovered runner definitions indexed by name.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		defs: make(map[string]*Definition),
	}
}

// Get retrieves a definition by name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[name]
	return d, ok
}

// All returns the definitions sorted by name.
func (r *Registry) All() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Add registers a definition.
func (r *Registry) Add(def *Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("runner definition %q already registered", def.Name)
	}
	r.defs[def.Name] = def
	return nil
}

// Len returns the number of definitions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

// Discover scans roots for manifest.yaml files. Roots are processed in order;
// duplicate names keep the first definition found. Invalid definitions are
// logged and skipped.
func Discover(roots []string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	absRoots := make([]string, 0, len(roots))
	seenRoots := make(map[string]struct{}, len(roots))
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve runners root %q: %w", root, err)
		}
		info, err := os.Stat(absRoot)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("runners root does not exist: %s", absRoot)
			}
			return nil, fmt.Errorf("failed to stat runners root %s: %w", absRoot, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("runners root is not a directory: %s", absRoot)
		}
		if _, ok := seenRoots[absRoot]; ok {
			continue
		}
		seenRoots[absRoot] = struct{}{}
		absRoots = append(absRoots, absRoot)
	}
	if len(absRoots) == 0 {
		return nil, fmt.Errorf("at least one runners root is required")
	}

	registry := NewRegistry()
	for _, root := range absRoots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() || d.Name() != manifestFilename {
				return nil
			}

			defPath := filepath.Dir(path)
			def, err := Load(defPath, root)
			if err != nil {
				logger.Warn("failed to load runner definition", "root", root, "path", defPath, "error", err)
				return nil
			}

			if err := registry.Add(def); err != nil {
				existing, _ := registry.Get(def.Name)
				logger.Warn("duplicate runner definition ignored (keeping first discovered)",
					"definition", def.Name,
					"ignored_path", def.Path,
					"kept_path", existing.Path,
				)
				return nil
			}

			logger.Info("loaded runner definition", "definition", def.Name, "path", def.Path, "version", def.Version)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan runners root %s: %w", root, err)
		}
	}

	return registry, nil
}

// Load reads and validates the definition in defPath, which must live under root.
func Load(defPath, root string) (*Definition, error) {
	data, err := os.ReadFile(filepath.Join(defPath, manifestFilename))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}

	if err := validateManifest(&m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	entrypoint := filepath.Join(defPath, m.Entrypoint)
	if err := validateTrust(entrypoint, defPath, root); err != nil {
		return nil, fmt.Errorf("trust validation failed: %w", err)
	}

	return &Definition{
		Name:        m.Name,
		Version:     m.Version,
		Protocol:    m.Protocol,
		Path:        defPath,
		Entrypoint:  entrypoint,
		Args:        m.Args,
		Env:         m.Env,
		Timeout:     time.Duration(m.Timeout),
		KillGrace:   time.Duration(m.KillGrace),
		Events:      m.Events,
		Description: m.Description,
	}, nil
}

func validateManifest(m *Manifest) error {
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(m.Name, "/\\ ") {
		return fmt.Errorf("name %q must not contain slashes or spaces", m.Name)
	}

	if m.Protocol == 0 {
		return fmt.Errorf("protocol version is required")
	}
	if m.Protocol != protocol.Version {
		return fmt.Errorf("unsupported protocol version %d (supported: %d)", m.Protocol, protocol.Version)
	}

	if m.Entrypoint == "" {
		return fmt.Errorf("entrypoint is required")
	}
	// Check for path traversal in entrypoint
	if strings.Contains(m.Entrypoint, "..") || filepath.IsAbs(m.Entrypoint) {
		return fmt.Errorf("entrypoint must be relative to the definition directory: %s", m.Entrypoint)
	}

	if m.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if m.KillGrace < 0 {
		return fmt.Errorf("kill_grace must not be negative")
	}

	for k := range m.Env {
		if k == "" || strings.Contains(k, "=") {
			return fmt.Errorf("invalid env key %q", k)
		}
	}

	return nil
}

func validateTrust(entrypointPath, defPath, root string) error {
	resolvedEntrypoint, err := filepath.EvalSymlinks(entrypointPath)
	if err != nil {
		return fmt.Errorf("failed to resolve entrypoint symlink: %w", err)
	}
	resolvedDefPath, err := filepath.EvalSymlinks(defPath)
	if err != nil {
		return fmt.Errorf("failed to resolve definition path symlink: %w", err)
	}
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return fmt.Errorf("failed to resolve runners root symlink %s: %w", root, err)
	}

	if !strings.HasPrefix(resolvedEntrypoint, resolvedRoot+string(os.PathSeparator)) {
		return fmt.Errorf("entrypoint %s is not under runners root %s", resolvedEntrypoint, resolvedRoot)
	}
	if !strings.HasPrefix(resolvedEntrypoint, resolvedDefPath+string(os.PathSeparator)) {
		return fmt.Errorf("entrypoint %s is not under definition directory %s", resolvedEntrypoint, resolvedDefPath)
	}

	info, err := os.Stat(resolvedEntrypoint)
	if err != nil {
		return fmt.Errorf("entrypoint not found: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("entrypoint is a directory: %s", resolvedEntrypoint)
	}
	if info.Mode()&0111 == 0 {
		return fmt.Errorf("entrypoint is not executable: %s", resolvedEntrypoint)
	}

	dirInfo, err := os.Stat(resolvedDefPath)
	if err != nil {
		return fmt.Errorf("definition directory not found: %w", err)
	}
	if dirInfo.Mode().Perm()&0002 != 0 {
		return fmt.Errorf("definition directory is world-writable: %s", resolvedDefPath)
	}

	return nil
}
