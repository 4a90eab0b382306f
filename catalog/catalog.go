// Package catalog holds the static node type data of every backend.
package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

var ErrUnknownNodeType = errors.New("unknown node type")
var ErrUnknownBackend = errors.New("backend not present in catalog")

// NodeType is one SKU offered by a backend, priced per hour.
type NodeType struct {
	Name         string  `yaml:"-" json:"name"`
	InstanceType string  `yaml:"name" json:"instance_type"`
	Cores        int     `yaml:"cores" json:"cores"`
	MemoryGB     float64 `yaml:"memgb" json:"memory_gb"`
	GPU          int     `yaml:"gpu,omitempty" json:"gpu,omitempty"`
	GPUType      string  `yaml:"gpu-type,omitempty" json:"gpu_type,omitempty"`
	Price        float64 `yaml:"price" json:"price"`
	Preemptible  bool    `yaml:"preemptible,omitempty" json:"preemptible,omitempty"`
}

func (t NodeType) HasGPU() bool {
	return t.GPU > 0
}

type Vendor struct {
	Name      string              `yaml:"-"`
	Username  string              `yaml:"username"`
	Location  string              `yaml:"location"`
	Currency  string              `yaml:"currency"`
	NodeTypes map[string]NodeType `yaml:"node-types"`
}

type Catalog struct {
	vendors map[string]*Vendor
}

// PathFor returns the catalog location below a skyway root.
func PathFor(root string) string {
	return filepath.Join(root, "etc", "cloud.yaml")
}

func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	catalog, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog '%s': %w", path, err)
	}
	return catalog, nil
}

func Parse(r io.Reader) (*Catalog, error) {
	var vendors map[string]*Vendor

	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&vendors); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	for name, v := range vendors {
		if v == nil {
			return nil, fmt.Errorf("backend '%s' is empty", name)
		}
		v.Name = name
		for sku, t := range v.NodeTypes {
			t.Name = sku
			v.NodeTypes[sku] = t
		}
	}

	return New(lo.Values(vendors)...)
}

// New builds a catalog from vendors that already carry their names.
func New(vendors ...*Vendor) (*Catalog, error) {
	c := &Catalog{vendors: map[string]*Vendor{}}
	for _, v := range vendors {
		if v == nil {
			continue
		}
		c.vendors[v.Name] = v
	}
	for name, v := range c.vendors {
		if err := v.validate(); err != nil {
			return nil, fmt.Errorf("backend '%s': %w", name, err)
		}
	}
	return c, nil
}

func (v *Vendor) validate() error {
	if v.Name == "" {
		return errors.New("missing backend name")
	}
	if len(v.NodeTypes) == 0 {
		return errors.New("no node types defined")
	}
	for name, t := range v.NodeTypes {
		if t.InstanceType == "" {
			return fmt.Errorf("node type '%s' has no instance type name", name)
		}
		if t.Price < 0 {
			return fmt.Errorf("node type '%s' has a negative price", name)
		}
		if t.Cores < 0 || t.MemoryGB < 0 || t.GPU < 0 {
			return fmt.Errorf("node type '%s' has negative resources", name)
		}
	}
	return nil
}

func (c *Catalog) Backend(name string) (*Vendor, error) {
	if v, ok := c.vendors[name]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
}

func (c *Catalog) Backends() []string {
	names := lo.Keys(c.vendors)
	sort.Strings(names)
	return names
}

func (v *Vendor) Lookup(sku string) (NodeType, error) {
	if t, ok := v.NodeTypes[sku]; ok {
		return t, nil
	}
	return NodeType{}, fmt.Errorf("%w '%s' for backend '%s'", ErrUnknownNodeType, sku, v.Name)
}

// ByInstanceType finds the node type whose native name is instanceType.
// When several SKUs share a native name, the first one by logical name wins.
func (v *Vendor) ByInstanceType(instanceType string) (NodeType, bool) {
	for _, t := range v.Types() {
		if t.InstanceType == instanceType {
			return t, true
		}
	}
	return NodeType{}, false
}

func (v *Vendor) UnitPrice(sku string) (float64, error) {
	t, err := v.Lookup(sku)
	if err != nil {
		return 0, err
	}
	return t.Price, nil
}

// Types returns the node types sorted by logical name.
func (v *Vendor) Types() []NodeType {
	types := lo.Values(v.NodeTypes)
	sort.Slice(types, func(i, j int) bool {
		return types[i].Name < types[j].Name
	})
	return types
}

// CurrencySymbol returns the unit used when displaying prices.
func (v *Vendor) CurrencySymbol() string {
	return lo.Ternary(v.Currency == "", "$", v.Currency)
}
