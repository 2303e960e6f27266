package disk

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/misanthropealoupe/ch-L1mock/component"
	"github.com/misanthropealoupe/ch-L1mock/source"
	"github.com/misanthropealoupe/ch-L1mock/stream"
	"github.com/misanthropealoupe/ch-L1mock/types"
)

func writeStreamFile(t *testing.T, path string, seqs ...uint64) {
	t.Helper()
	w, err := stream.Create(path)
	require.NoError(t, err)
	for _, seq := range seqs {
		c := types.NewChunk(4, 2, 8)
		c.Seq = seq
		c.T0 = float64(seq)
		c.DTSample = 1e-3
		c.FreqLoMHz = 400
		c.FreqHiMHz = 800
		c.SetAt(0, 0, 0, float32(seq)+0.5)
		require.NoError(t, w.WriteChunk(c))
	}
	require.NoError(t, w.Close())
}

func TestReplaysFilesInOrder(t *testing.T) {
	dir := t.TempDir()
	writeStreamFile(t, filepath.Join(dir, "b"+FileExt), 2, 3)
	writeStreamFile(t, filepath.Join(dir, "a"+FileExt), 0, 1)

	comp, err := New([]byte("path: "+dir), component.Dependencies{})
	require.NoError(t, err)
	src := comp.(source.Source)
	require.NoError(t, src.Initialize())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, src.Start(ctx))

	var seqs []uint64
	for c := range src.Chunks() {
		require.NoError(t, c.Validate())
		seqs = append(seqs, c.Seq)
	}
	assert.Equal(t, []uint64{0, 1, 2, 3}, seqs)

	require.NoError(t, src.Stop(time.Second))
}

func TestChunkDataSurvivesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeStreamFile(t, filepath.Join(dir, "x"+FileExt), 7)

	comp, err := New([]byte("path: "+dir), component.Dependencies{})
	require.NoError(t, err)
	src := comp.(source.Source)
	require.NoError(t, src.Initialize())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, src.Start(ctx))

	c := <-src.Chunks()
	assert.Equal(t, uint64(7), c.Seq)
	assert.Equal(t, float32(7.5), c.At(0, 0, 0))
	assert.Equal(t, 7.0, c.T0)
}

func TestInitializeFailsOnEmptyDir(t *testing.T) {
	comp, err := New([]byte("path: "+t.TempDir()), component.Dependencies{})
	require.NoError(t, err)
	assert.Error(t, comp.Initialize())
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New([]byte("realtime: true"), component.Dependencies{})
	assert.Error(t, err)
}

func TestIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	writeStreamFile(t, filepath.Join(dir, "good"+FileExt), 1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a stream"), 0o644))

	comp, err := New([]byte("path: "+dir), component.Dependencies{})
	require.NoError(t, err)
	src := comp.(source.Source)
	require.NoError(t, src.Initialize())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, src.Start(ctx))

	var n int
	for range src.Chunks() {
		n++
	}
	assert.Equal(t, 1, n)
}
