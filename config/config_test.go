package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/misanthropealoupe/ch-L1mock/errors"
)

const minimalYAML = `
ntime_chunk: 1024
source:
  type: sim
dedisperse:
  trees:
    - { nds: 1, nt_tree: 512 }
`

func TestLoadExampleFile(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "configs", "example.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 1024, cfg.NTimeChunk)
	assert.Equal(t, SourceSim, cfg.Source.Type)
	assert.True(t, cfg.InjectionEnabled())
	assert.Len(t, cfg.Dedisperse.Trees, 2)
	assert.Len(t, cfg.Actions, 4)
	assert.Equal(t, ActionSendHeader, cfg.Actions[1].Type)
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, DefaultNFrameIntegrate, cfg.Source.NFrameIntegrate)
	assert.Equal(t, DefaultNChanUpsamp, cfg.Source.NChanUpsamp)
	assert.Equal(t, DetrendSubtractMean, cfg.Preprocess.Detrend)
	assert.Equal(t, DefaultTreeSize, cfg.Dedisperse.TreeSize)
	assert.Equal(t, DefaultNUps, cfg.Dedisperse.NUps)
	assert.Equal(t, DefaultNSM, cfg.Dedisperse.NSM)
	assert.Equal(t, DefaultSMDepth, cfg.Dedisperse.SMDepth)
	assert.Equal(t, DefaultThreshold, cfg.Postprocess.Threshold)
}

func TestParseRejectsExplicitZeros(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "explicit zero threshold",
			yaml: minimalYAML + "postprocess: { threshold: 0 }\n",
			want: "threshold",
		},
		{
			name: "explicit zero tree_size",
			yaml: `
ntime_chunk: 1024
source: { type: sim }
dedisperse:
  tree_size: 0
  trees:
    - { nds: 1, nt_tree: 512 }
`,
			want: "tree_size",
		},
		{
			name: "explicit zero nframe_integrate",
			yaml: `
ntime_chunk: 1024
source: { type: sim, nframe_integrate: 0 }
dedisperse: { trees: [{ nds: 1, nt_tree: 512 }] }
`,
			want: "nframe_integrate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestParseInjectDisabledWhenOmitted(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Nil(t, cfg.Preprocess.Inject)
	assert.False(t, cfg.InjectionEnabled())
}

func TestParseValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing ntime_chunk",
			yaml: `
source: { type: sim }
dedisperse: { trees: [{ nds: 1, nt_tree: 512 }] }
`,
			want: "ntime_chunk",
		},
		{
			name: "unknown source type",
			yaml: `
ntime_chunk: 1024
source: { type: telepathy }
dedisperse: { trees: [{ nds: 1, nt_tree: 512 }] }
`,
			want: "source.type",
		},
		{
			name: "vdif without vdif_source",
			yaml: `
ntime_chunk: 1024
source: { type: vdif }
dedisperse: { trees: [{ nds: 1, nt_tree: 512 }] }
`,
			want: "vdif_source",
		},
		{
			name: "empty trees",
			yaml: `
ntime_chunk: 1024
source: { type: sim }
dedisperse: { trees: [] }
`,
			want: "trees",
		},
		{
			name: "non-positive nds",
			yaml: `
ntime_chunk: 1024
source: { type: sim }
dedisperse: { trees: [{ nds: 0, nt_tree: 512 }] }
`,
			want: "nds",
		},
		{
			name: "inject with zero rate",
			yaml: `
ntime_chunk: 1024
source: { type: sim }
preprocess:
  inject: { rate: 0 }
dedisperse: { trees: [{ nds: 1, nt_tree: 512 }] }
`,
			want: "inject.rate",
		},
		{
			name: "unknown action type",
			yaml: `
ntime_chunk: 1024
source: { type: sim }
dedisperse: { trees: [{ nds: 1, nt_tree: 512 }] }
actions:
  - type: launch_rockets
`,
			want: "not recognized",
		},
		{
			name: "send_header without port",
			yaml: `
ntime_chunk: 1024
source: { type: sim }
dedisperse: { trees: [{ nds: 1, nt_tree: 512 }] }
actions:
  - type: send_header
`,
			want: "port",
		},
		{
			name: "action without type",
			yaml: `
ntime_chunk: 1024
source: { type: sim }
dedisperse: { trees: [{ nds: 1, nt_tree: 512 }] }
actions:
  - port: 7591
`,
			want: "type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err), "expected invalid-config classification")
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	original, err := Load(filepath.Join("..", "configs", "example.yaml"))
	require.NoError(t, err)

	data, err := Marshal(original)
	require.NoError(t, err)

	reloaded, err := Parse(data)
	require.NoError(t, err)

	// Action raw fragments are re-encoded, so compare their semantics
	// rather than bytes.
	require.Len(t, reloaded.Actions, len(original.Actions))
	for i := range original.Actions {
		assert.Equal(t, original.Actions[i].Type, reloaded.Actions[i].Type)

		var a, b map[string]any
		require.NoError(t, yaml.Unmarshal(original.Actions[i].Raw, &a))
		require.NoError(t, yaml.Unmarshal(reloaded.Actions[i].Raw, &b))
		assert.Equal(t, a, b)
	}

	original.Actions, reloaded.Actions = nil, nil
	assert.Equal(t, original, reloaded)
}

func TestActionConfigDecode(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML + `
actions:
  - type: send_header
    port: 7591
`))
	require.NoError(t, err)
	require.Len(t, cfg.Actions, 1)

	var hc struct {
		Type string `yaml:"type"`
		Port int    `yaml:"port"`
	}
	require.NoError(t, cfg.Actions[0].Decode(&hc))
	assert.Equal(t, ActionSendHeader, hc.Type)
	assert.Equal(t, 7591, hc.Port)
}

func TestSendHeaderPortRange(t *testing.T) {
	_, err := Parse([]byte(minimalYAML + `
actions:
  - type: send_header
    port: 70000
`))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}
