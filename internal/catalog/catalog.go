// Package catalog holds the fixed two-level taxonomy of career categories.
package catalog

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed categories.yaml
var categoriesYAML []byte

// Category is a top-level career domain and its closed subcategory list.
type Category struct {
	Name          string   `yaml:"name" json:"name"`
	Subcategories []string `yaml:"subcategories" json:"subcategories"`
}

// Catalog is an immutable, ordered set of categories.
type Catalog struct {
	categories []Category
	byName     map[string]int
}

type document struct {
	Categories []Category `yaml:"categories"`
}

// Parse builds a Catalog from YAML. Category names must be unique
// (case-insensitively) and each category needs at least one subcategory.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(doc.Categories) == 0 {
		return nil, fmt.Errorf("parse catalog: no categories")
	}

	c := &Catalog{byName: make(map[string]int, len(doc.Categories))}
	for i, cat := range doc.Categories {
		cat.Name = strings.TrimSpace(cat.Name)
		if cat.Name == "" {
			return nil, fmt.Errorf("parse catalog: category %d has no name", i)
		}
		if len(cat.Subcategories) == 0 {
			return nil, fmt.Errorf("parse catalog: category %q has no subcategories", cat.Name)
		}
		key := normalize(cat.Name)
		if _, dup := c.byName[key]; dup {
			return nil, fmt.Errorf("parse catalog: duplicate category %q", cat.Name)
		}
		c.byName[key] = i
		c.categories = append(c.categories, cat)
	}
	return c, nil
}

// Default returns the built-in catalog. It panics if the embedded asset is invalid.
func Default() *Catalog {
	c, err := Parse(categoriesYAML)
	if err != nil {
		panic(err)
	}
	return c
}

// Categories returns a copy of all categories in declaration order.
func (c *Catalog) Categories() []Category {
	out := make([]Category, len(c.categories))
	for i, cat := range c.categories {
		out[i] = Category{Name: cat.Name, Subcategories: append([]string(nil), cat.Subcategories...)}
	}
	return out
}

// Names returns the category names in declaration order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.categories))
	for i, cat := range c.categories {
		names[i] = cat.Name
	}
	return names
}

// Resolve maps a free-form category name onto its canonical spelling.
func (c *Catalog) Resolve(name string) (string, bool) {
	i, ok := c.byName[normalize(name)]
	if !ok {
		return "", false
	}
	return c.categories[i].Name, true
}

// Subcategories returns the allowed subcategories of a category, or nil.
func (c *Catalog) Subcategories(category string) []string {
	i, ok := c.byName[normalize(category)]
	if !ok {
		return nil
	}
	return append([]string(nil), c.categories[i].Subcategories...)
}

// Contains reports whether sub belongs to category.
func (c *Catalog) Contains(category, sub string) bool {
	for _, s := range c.Subcategories(category) {
		if s == sub {
			return true
		}
	}
	return false
}

func normalize(name string) string {
	name = strings.Trim(strings.TrimSpace(name), "[]*\"'.")
	return strings.ToUpper(strings.Join(strings.Fields(name), " "))
}
