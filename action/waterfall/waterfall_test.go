package waterfall

import (
	"context"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/misanthropealoupe/ch-L1mock/component"
	"github.com/misanthropealoupe/ch-L1mock/types"
)

func makeChunk(t0 float64) *types.Chunk {
	c := types.NewChunk(8, 1, 16)
	c.T0 = t0
	c.DTSample = 1.0 / 16
	c.FreqLoMHz = 400
	c.FreqHiMHz = 800
	for i := range c.Intensity {
		c.Intensity[i] = float32(i % 7)
	}
	return c
}

func TestRenderGeometry(t *testing.T) {
	chunks := []*types.Chunk{makeChunk(0), makeChunk(1)}
	img := Render(chunks)

	bounds := img.Bounds()
	assert.Equal(t, 32, bounds.Dx()) // 2 chunks x 16 samples
	assert.Equal(t, 8, bounds.Dy())  // channels
}

func TestRenderMasksAreBlack(t *testing.T) {
	c := makeChunk(0)
	c.SetWeightAt(3, 0, 5, 0)
	img := Render([]*types.Chunk{c})

	assert.Equal(t, uint8(0), img.GrayAt(5, 3).Y)
	assert.NotEqual(t, uint8(0), img.GrayAt(6, 3).Y)
}

func TestRenderFlatDataDoesNotPanic(t *testing.T) {
	c := makeChunk(0)
	for i := range c.Intensity {
		c.Intensity[i] = 1
	}
	img := Render([]*types.Chunk{c})
	assert.NotNil(t, img)
}

func TestHandleTriggerWritesPNG(t *testing.T) {
	dir := t.TempDir()
	comp, err := New([]byte("type: save_waterfall_plot\nout_dir: "+dir+"\nwindow_sec: 2.0"),
		component.Dependencies{})
	require.NoError(t, err)

	a := comp.(*Action)
	require.NoError(t, a.Initialize())
	require.NoError(t, a.Start(context.Background()))

	for i := 0; i < 4; i++ {
		a.ObserveChunk(makeChunk(float64(i)))
	}

	trig := types.Trigger{ID: uuid.New(), Time: 2.0, SNR: 15}
	require.NoError(t, a.HandleTrigger(context.Background(), trig))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	f, err := os.Open(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dy())
}

func TestNewRequiresOutDir(t *testing.T) {
	_, err := New([]byte("type: save_waterfall_plot"), component.Dependencies{})
	assert.Error(t, err)
}
