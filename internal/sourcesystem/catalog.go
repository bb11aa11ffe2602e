package sourcesystem

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Catalog serves source systems from a YAML file, for installations without the settings database.
type Catalog struct {
	systems []SourceSystem
}

type catalogFile struct {
	SourceSystems []SourceSystem `yaml:"source_systems"`
}

// LoadCatalog reads and validates a YAML catalog.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sourcesystem: read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog validates catalog content.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("sourcesystem: parse catalog: %w", err)
	}
	validate := validator.New()
	seen := make(map[string]struct{}, len(file.SourceSystems))
	for i := range file.SourceSystems {
		sys := &file.SourceSystems[i]
		sys.ApplyDefaults()
		if err := validate.Struct(sys); err != nil {
			return nil, fmt.Errorf("sourcesystem: entry %d (%s): %w", i+1, sys.Code, err)
		}
		key := strings.ToUpper(sys.Code)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("sourcesystem: duplicate code %s", sys.Code)
		}
		seen[key] = struct{}{}
		if sys.ID == 0 {
			sys.ID = int64(i + 1)
		}
	}
	sort.SliceStable(file.SourceSystems, func(i, j int) bool {
		return file.SourceSystems[i].Code < file.SourceSystems[j].Code
	})
	return &Catalog{systems: file.SourceSystems}, nil
}

// ListActive returns active systems ordered by code.
func (c *Catalog) ListActive(ctx context.Context) ([]SourceSystem, error) {
	var out []SourceSystem
	for _, sys := range c.systems {
		if sys.Active {
			out = append(out, sys)
		}
	}
	return out, nil
}

// Systems returns every entry, active or not, ordered by code.
func (c *Catalog) Systems() []SourceSystem {
	return append([]SourceSystem(nil), c.systems...)
}

// FindByCode returns one system regardless of its active flag.
func (c *Catalog) FindByCode(ctx context.Context, code string) (SourceSystem, error) {
	for _, sys := range c.systems {
		if strings.EqualFold(sys.Code, strings.TrimSpace(code)) {
			return sys, nil
		}
	}
	return SourceSystem{}, ErrNotFound
}
