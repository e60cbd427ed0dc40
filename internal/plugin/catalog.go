package plugin

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Guliveer/nutwatch/internal/models"
	"github.com/Guliveer/nutwatch/internal/schema"
)

// Deps are the shared services handed to every sink constructor.
type Deps struct {
	Logger *zap.Logger
	// Agent identifies this process in payloads that leave the host.
	Agent models.Agent
	// DispatchTimeout bounds one Accept call. Zero means unbounded.
	DispatchTimeout time.Duration
}

// Factory describes one sink type: its configuration namespace, the shape of
// that namespace and a constructor taking the validated values.
type Factory struct {
	Name      string
	Namespace string
	Model     schema.FieldModel
	New       func(cfg schema.Values, deps Deps) (Sink, error)
}

// Catalog holds the sink types this build knows about.
type Catalog struct {
	factories map[string]Factory
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// Add registers f. A later factory with the same name replaces the earlier one.
func (c *Catalog) Add(f Factory) error {
	if f.Name == "" {
		return fmt.Errorf("sink name cannot be empty")
	}
	if f.New == nil {
		return fmt.Errorf("sink %s: constructor cannot be nil", f.Name)
	}
	if f.Namespace == "" {
		f.Namespace = f.Name
	}
	c.factories[f.Name] = f
	return nil
}

// Names returns the known sink types in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.factories))
	for name := range c.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the factory for name.
func (c *Catalog) Get(name string) (Factory, bool) {
	f, ok := c.factories[name]
	return f, ok
}

// Build validates and constructs the named sinks in order. Configuration
// problems from every sink are reported together; if anything fails, sinks
// already constructed are closed and no sink is returned.
func (c *Catalog) Build(names []string, lookup func(namespace string) schema.Raw, deps Deps) ([]Sink, error) {
	seen := make(map[string]bool, len(names))
	configs := make([]schema.Values, len(names))
	var errs error

	for i, name := range names {
		f, ok := c.factories[name]
		switch {
		case !ok:
			errs = multierr.Append(errs, fmt.Errorf("unknown sink %q (known: %v)", name, c.Names()))
			continue
		case seen[name]:
			errs = multierr.Append(errs, fmt.Errorf("sink %q configured twice", name))
			continue
		}
		seen[name] = true

		values, err := schema.Validate(f.Model, lookup(f.Namespace), f.Namespace)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		configs[i] = values
	}
	if errs != nil {
		return nil, errs
	}

	sinks := make([]Sink, 0, len(names))
	for i, name := range names {
		f := c.factories[name]
		s, err := f.New(configs[i], deps)
		if err != nil {
			for j := len(sinks) - 1; j >= 0; j-- {
				if cerr := sinks[j].Close(); cerr != nil {
					err = multierr.Append(err, cerr)
				}
			}
			return nil, fmt.Errorf("failed to create sink %s: %w", name, err)
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}
