package profiles

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrInvalidProfile  = errors.New("invalid profile")
)

type Loader struct {
	validator   *Validator
	searchPaths []string
}

func NewLoader(searchPaths []string) (*Loader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &Loader{
		validator:   validator,
		searchPaths: searchPaths,
	}, nil
}

// Load resolves name as name, name.yaml or name.yml under each search path.
// Names that carry a directory are not resolved, so callers cannot reach
// files outside the search paths.
func (l *Loader) Load(name string) (*Profile, error) {
	if name == "" || name == "." || name == ".." || name != filepath.Base(name) {
		return nil, fmt.Errorf("%w: %q is not a profile name", ErrProfileNotFound, name)
	}

	for _, dir := range l.searchPaths {
		for _, ext := range []string{"", ".yaml", ".yml"} {
			path := filepath.Join(dir, name+ext)
			if !isFile(path) {
				continue
			}
			return l.LoadFile(path)
		}
	}

	return nil, fmt.Errorf("%w: %s (searched in: %v)", ErrProfileNotFound, name, l.searchPaths)
}

// LoadFile reads and validates the profile at path.
func (l *Loader) LoadFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, path)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	profile, err := l.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return profile, nil
}

// Open is for operator configuration: ref is tried as a file path first,
// then as a name on the search paths.
func (l *Loader) Open(ref string) (*Profile, error) {
	if isFile(ref) {
		return l.LoadFile(ref)
	}
	return l.Load(ref)
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (l *Loader) Parse(data []byte) (*Profile, error) {
	if err := l.validator.ValidateYAML(data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProfile, err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal: %w", ErrInvalidProfile, err)
	}
	return &profile, nil
}

// Entry describes a profile file found on the search paths.
type Entry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Stations    int    `json:"stations"`
	Description string `json:"description,omitempty"`
	Error       string `json:"error,omitempty"`
}

// List returns every *.yaml / *.yml file on the search paths. Invalid files
// are listed with their error.
func (l *Loader) List() []Entry {
	entries := make([]Entry, 0)
	for _, dir := range l.searchPaths {
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, f := range files {
			ext := filepath.Ext(f.Name())
			if f.IsDir() || (ext != ".yaml" && ext != ".yml") {
				continue
			}
			path := filepath.Join(dir, f.Name())
			entry := Entry{Name: f.Name()[:len(f.Name())-len(ext)], Path: path}

			data, err := os.ReadFile(path)
			if err == nil {
				var p *Profile
				if p, err = l.Parse(data); err == nil {
					entry.Stations = len(p.Stations)
					entry.Description = p.Description
				}
			}
			if err != nil {
				entry.Error = err.Error()
			}
			entries = append(entries, entry)
		}
	}
	return entries
}
