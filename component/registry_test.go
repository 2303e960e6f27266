package component

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeComponent struct {
	name string
}

func (f *fakeComponent) Meta() Metadata {
	return Metadata{Name: f.name, Type: "source", Version: "0.1.0"}
}

func (f *fakeComponent) Health() HealthStatus {
	return HealthStatus{Healthy: true, LastCheck: time.Now()}
}

func (f *fakeComponent) Initialize() error                 { return nil }
func (f *fakeComponent) Start(_ context.Context) error     { return nil }
func (f *fakeComponent) Stop(_ time.Duration) error        { return nil }

func fakeFactory(_ []byte, _ Dependencies) (LifecycleComponent, error) {
	return &fakeComponent{name: "fake"}, nil
}

func TestRegisterWithConfig(t *testing.T) {
	r := NewRegistry()

	err := r.RegisterWithConfig(RegistrationConfig{
		Name:        "fake",
		Factory:     fakeFactory,
		Type:        TypeSource,
		Description: "fake source for tests",
		Version:     "0.1.0",
	})
	require.NoError(t, err)

	assert.True(t, r.HasFactory("fake", TypeSource))
	assert.False(t, r.HasFactory("fake", TypeAction))

	// Duplicate registration fails
	err = r.RegisterWithConfig(RegistrationConfig{
		Name:    "fake",
		Factory: fakeFactory,
		Type:    TypeSource,
	})
	assert.Error(t, err)
}

func TestRegisterWithConfigValidation(t *testing.T) {
	r := NewRegistry()

	assert.Error(t, r.RegisterWithConfig(RegistrationConfig{Factory: fakeFactory, Type: TypeSource}))
	assert.Error(t, r.RegisterWithConfig(RegistrationConfig{Name: "x", Type: TypeSource}))
	assert.Error(t, r.RegisterWithConfig(RegistrationConfig{Name: "x", Factory: fakeFactory, Type: "gadget"}))
}

func TestCreate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterWithConfig(RegistrationConfig{
		Name:    "fake",
		Factory: fakeFactory,
		Type:    TypeSource,
	}))

	comp, err := r.Create("fake-main", "fake", TypeSource, nil, Dependencies{})
	require.NoError(t, err)
	require.NotNil(t, comp)

	assert.NotNil(t, r.Instance("fake-main"))
	assert.Len(t, r.ListInstances(), 1)

	// Wrong kind
	_, err = r.Create("fake-2", "fake", TypeAction, nil, Dependencies{})
	assert.Error(t, err)

	// Unknown factory
	_, err = r.Create("x", "missing", TypeSource, nil, Dependencies{})
	assert.Error(t, err)

	// Duplicate instance name
	_, err = r.Create("fake-main", "fake", TypeSource, nil, Dependencies{})
	assert.Error(t, err)
}

func TestUnregisterInstance(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterInstance("a", &fakeComponent{name: "a"}))

	r.UnregisterInstance("a")
	assert.Nil(t, r.Instance("a"))
}

func TestValidateComponentName(t *testing.T) {
	assert.NoError(t, ValidateComponentName("vdif-source_1.main"))
	assert.Error(t, ValidateComponentName(""))
	assert.Error(t, ValidateComponentName("bad name"))
	assert.Error(t, ValidateComponentName("semi;colon"))
}

func TestValidatePortNumber(t *testing.T) {
	assert.NoError(t, ValidatePortNumber(8080))
	assert.Error(t, ValidatePortNumber(0))
	assert.Error(t, ValidatePortNumber(70000))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "created", StateCreated.String())
	assert.Equal(t, "started", StateStarted.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(99).String())
}
