package component

import (
	"fmt"
	"sync"

	"github.com/misanthropealoupe/ch-L1mock/errors"
)

// Type is the category of a component factory.
type Type string

// Component type constants
const (
	TypeSource Type = "source"
	TypeAction Type = "action"
)

// String implements fmt.Stringer for Type
func (t Type) String() string {
	return string(t)
}

// Factory creates a component instance from raw configuration. The factory
// receives the component-specific YAML fragment, parses its own config, and
// returns an initialized-but-not-started component. Factories must not do
// I/O; all I/O belongs in Start().
type Factory func(rawConfig []byte, deps Dependencies) (LifecycleComponent, error)

// Registration holds factory and metadata for a component type
type Registration struct {
	Name        string  `json:"name"` // Factory name (e.g. "vdif", "send_header")
	Type        Type    `json:"type"` // "source" or "action"
	Description string  `json:"description"`
	Version     string  `json:"version"`
	Factory     Factory `json:"-"`
}

// RegistrationConfig provides a clean API for component registration.
// It maps 1:1 to Registration fields.
type RegistrationConfig struct {
	Name        string
	Factory     Factory
	Type        Type
	Description string
	Version     string
}

// Registry manages component factories and instances. It provides
// thread-safe registration and lookup of factories (for creation) and
// instances (for health inspection).
type Registry struct {
	factories map[string]*Registration
	instances map[string]Component
	mu        sync.RWMutex
}

// NewRegistry creates a new empty component registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]*Registration),
		instances: make(map[string]Component),
	}
}

// RegisterWithConfig registers a component factory.
func (r *Registry) RegisterWithConfig(config RegistrationConfig) error {
	if config.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterWithConfig", "factory name validation")
	}
	if config.Factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterWithConfig", "factory function validation")
	}
	if config.Type != TypeSource && config.Type != TypeAction {
		return errors.WrapInvalid(
			fmt.Errorf("invalid component type: %s", config.Type),
			"Registry", "RegisterWithConfig", "component type validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[config.Name]; exists {
		msg := fmt.Errorf("factory '%s' is already registered", config.Name)
		return errors.WrapInvalid(msg, "Registry", "RegisterWithConfig", "duplicate factory check")
	}

	r.factories[config.Name] = &Registration{
		Name:        config.Name,
		Type:        config.Type,
		Description: config.Description,
		Version:     config.Version,
		Factory:     config.Factory,
	}
	return nil
}

// Create creates and registers a component instance. The factoryName selects
// the registered factory, instanceName identifies the created instance, and
// kind guards against a config section naming a factory of the wrong type.
func (r *Registry) Create(
	instanceName, factoryName string, kind Type, rawConfig []byte, deps Dependencies,
) (LifecycleComponent, error) {
	if err := ValidateComponentName(instanceName); err != nil {
		return nil, errors.Wrap(err, "Registry", "Create", "instance name validation")
	}
	if err := ValidateComponentName(factoryName); err != nil {
		return nil, errors.Wrap(err, "Registry", "Create", "factory name validation")
	}

	r.mu.RLock()
	registration, exists := r.factories[factoryName]
	r.mu.RUnlock()

	if !exists {
		msg := fmt.Errorf("unknown component factory '%s'", factoryName)
		return nil, errors.WrapInvalid(msg, "Registry", "Create", "factory lookup")
	}

	if registration.Type != kind {
		msg := fmt.Errorf("component '%s' is type '%s', not '%s'", factoryName, registration.Type, kind)
		return nil, errors.WrapInvalid(msg, "Registry", "Create", "type validation")
	}

	comp, err := registration.Factory(rawConfig, deps)
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "Create", "factory execution")
	}

	if err := r.RegisterInstance(instanceName, comp); err != nil {
		return nil, errors.Wrap(err, "Registry", "Create", "instance registration")
	}

	return comp, nil
}

// RegisterInstance registers a component instance with the given name.
func (r *Registry) RegisterInstance(name string, comp Component) error {
	if name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterInstance", "instance name validation")
	}
	if comp == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterInstance", "component validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instances[name]; exists {
		msg := fmt.Errorf("instance '%s' is already registered", name)
		return errors.WrapInvalid(msg, "Registry", "RegisterInstance", "duplicate instance check")
	}

	r.instances[name] = comp
	return nil
}

// UnregisterInstance removes a component instance from the registry.
func (r *Registry) UnregisterInstance(name string) {
	if name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, name)
}

// Instance retrieves a component instance by name, or nil.
func (r *Registry) Instance(name string) Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instances[name]
}

// ListInstances returns all registered component instances.
func (r *Registry) ListInstances() map[string]Component {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]Component, len(r.instances))
	for name, comp := range r.instances {
		result[name] = comp
	}
	return result
}

// ListFactories returns metadata for all registered factories, without the
// factory functions.
func (r *Registry) ListFactories() map[string]Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]Registration, len(r.factories))
	for name, reg := range r.factories {
		result[name] = Registration{
			Name:        reg.Name,
			Type:        reg.Type,
			Description: reg.Description,
			Version:     reg.Version,
		}
	}
	return result
}

// HasFactory reports whether a factory with the given name and type exists.
func (r *Registry) HasFactory(name string, kind Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.factories[name]
	return ok && reg.Type == kind
}

// Validation limits
const (
	MaxNameLength = 256
	MinPort       = 1
	MaxPort       = 65535
)

// ValidateComponentName validates component/instance names.
func ValidateComponentName(name string) error {
	if name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "ValidateComponentName", "empty name")
	}
	if len(name) > MaxNameLength {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "ValidateComponentName", "name too long")
	}
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.') {
			return errors.WrapInvalid(
				errors.ErrInvalidConfig, "Registry", "ValidateComponentName", "invalid name characters")
		}
	}
	return nil
}

// ValidatePortNumber validates TCP/UDP port numbers.
func ValidatePortNumber(port int) error {
	if port < MinPort || port > MaxPort {
		msg := fmt.Errorf("port %d outside valid range %d-%d", port, MinPort, MaxPort)
		return errors.WrapInvalid(msg, "Registry", "ValidatePortNumber", "port range validation")
	}
	return nil
}
