package pipeline

import (
	"fmt"
	"sort"
	"sync"
)

// Catalog maps definition names to Definitions. It is built explicitly and
// handed to whatever constructs workflows.
type Catalog struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewCatalog creates an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{defs: make(map[string]*Definition)}
}

// Register adds d after checking it. Names must be unique.
func (c *Catalog) Register(d *Definition) error {
	if err := d.Check(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.defs[d.Name]; ok {
		return fmt.Errorf("definition %q already registered", d.Name)
	}
	c.defs[d.Name] = d
	return nil
}

// MustRegister is Register for static catalogs; it panics on error.
func (c *Catalog) MustRegister(defs ...*Definition) {
	for _, d := range defs {
		if err := c.Register(d); err != nil {
			panic(err)
		}
	}
}

// Get returns the definition registered under name.
func (c *Catalog) Get(name string) (*Definition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.defs[name]
	if !ok {
		return nil, fmt.Errorf("no definition registered for %q", name)
	}
	return d, nil
}

// Names returns all registered names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.defs))
	for name := range c.defs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Implement attaches fn to the compute definition called name. Nodes added
// afterwards pick up the implementation.
func (c *Catalog) Implement(name string, fn ComputeFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.defs[name]
	if !ok {
		return fmt.Errorf("no definition registered for %q", name)
	}
	if d.Mode != ModeCompute {
		return fmt.Errorf("definition %q is %s, not compute", name, d.Mode)
	}
	c.defs[name] = d.withCompute(fn)
	return nil
}

// Replace registers d, swapping out any definition of the same name.
// Workflows built before the call keep the old definition.
func (c *Catalog) Replace(d *Definition) error {
	if err := d.Check(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defs[d.Name] = d
	return nil
}
