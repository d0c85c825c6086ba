package repository

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/spec-kit/ticket-bridge/internal/domain"
)

// ErrCategoryNotFound is returned for unknown category ids.
var ErrCategoryNotFound = errors.New("category not found")

// CategoryRepository resolves ticket categories. Categories are static
// configuration, so lookups never touch the datastore.
type CategoryRepository interface {
	Get(id string) (*domain.Category, error)
	List() []domain.Category
}

type staticCategories struct {
	byID map[string]domain.Category
}

type categoriesFile struct {
	Categories []domain.Category `yaml:"categories"`
}

// NewStaticCategories builds a repository from an explicit list.
func NewStaticCategories(categories ...domain.Category) CategoryRepository {
	byID := make(map[string]domain.Category, len(categories))
	for _, c := range categories {
		byID[c.ID] = c
	}
	return &staticCategories{byID: byID}
}

// LoadCategories reads category definitions from a YAML file:
//
//	categories:
//	  - id: billing
//	    name: Billing
//	    parent: "123456789"
//	    transcript_parent: "987654321"
func LoadCategories(path string) (CategoryRepository, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read categories %s: %w", path, err)
	}
	var file categoriesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse categories %s: %w", path, err)
	}
	seen := make(map[string]struct{}, len(file.Categories))
	for _, c := range file.Categories {
		if c.ID == "" {
			return nil, fmt.Errorf("parse categories %s: category without id", path)
		}
		if _, dup := seen[c.ID]; dup {
			return nil, fmt.Errorf("parse categories %s: duplicate id %q", path, c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return NewStaticCategories(file.Categories...), nil
}

func (s *staticCategories) Get(id string) (*domain.Category, error) {
	c, ok := s.byID[id]
	if !ok {
		return nil, ErrCategoryNotFound
	}
	return &c, nil
}

func (s *staticCategories) List() []domain.Category {
	out := make([]domain.Category, 0, len(s.byID))
	for _, c := range s.byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
