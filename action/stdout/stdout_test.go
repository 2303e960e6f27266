package stdout

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/misanthropealoupe/ch-L1mock/component"
	"github.com/misanthropealoupe/ch-L1mock/types"
)

func TestPrintsTriggerJSON(t *testing.T) {
	var buf bytes.Buffer
	a := NewWithWriter(&buf)
	require.NoError(t, a.Initialize())
	require.NoError(t, a.Start(context.Background()))

	trig := types.Trigger{ID: uuid.New(), Time: 1.5, DM: 60, SNR: 12.5, Width: 2, NHits: 3}
	require.NoError(t, a.HandleTrigger(context.Background(), trig))
	require.NoError(t, a.Stop(time.Second))

	var got types.Trigger
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, trig.ID, got.ID)
	assert.Equal(t, 12.5, got.SNR)
	assert.Equal(t, 3, got.NHits)
}

func TestFactory(t *testing.T) {
	comp, err := New(nil, component.Dependencies{})
	require.NoError(t, err)
	assert.Equal(t, "print_to_stdout", comp.Meta().Name)
	assert.Equal(t, "action", comp.Meta().Type)
}
