package spec

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/KevinKickass/OpenRVCore/internal/types"
	"gopkg.in/yaml.v3"
)

var ErrNotFound = errors.New("spec catalog not found")

// Loader reads RV-C spec catalogs from disk. Parsed catalogs are cached by
// name until ClearCache.
type Loader struct {
	cache       sync.Map
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

// Load resolves name directly first, then under each search path.
func (l *Loader) Load(name string) (types.Catalog, error) {
	if cached, ok := l.cache.Load(name); ok {
		return cached.(types.Catalog), nil
	}

	data, foundPath, err := l.read(name)
	if err != nil {
		return nil, err
	}

	catalog, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", foundPath, err)
	}

	if err := l.validator.ValidateCatalog(catalog); err != nil {
		return nil, fmt.Errorf("validation failed for %s: %w", foundPath, err)
	}

	l.cache.Store(name, catalog)

	return catalog, nil
}

func (l *Loader) read(name string) ([]byte, string, error) {
	if data, err := os.ReadFile(name); err == nil {
		return data, name, nil
	}

	if !filepath.IsAbs(name) {
		for _, searchPath := range l.searchPaths {
			fullPath := filepath.Join(searchPath, name)
			data, err := os.ReadFile(fullPath)
			if err == nil {
				return data, fullPath, nil
			}
		}
	}

	return nil, "", fmt.Errorf("%w: %s (searched in: %v)", ErrNotFound, name, l.searchPaths)
}

func (l *Loader) ClearCache() {
	l.cache.Range(func(key, value interface{}) bool {
		l.cache.Delete(key)
		return true
	})
}

// Parse decodes a YAML catalog document. DGN keys are upper-cased.
func Parse(data []byte) (types.Catalog, error) {
	var raw map[string]types.MessageDefinition
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.New("catalog is empty")
	}

	catalog := make(types.Catalog, len(raw))
	for dgn, msg := range raw {
		msg.Alias = strings.ToUpper(msg.Alias)
		catalog[strings.ToUpper(dgn)] = msg
	}
	return catalog, nil
}
