// Package componentregistry registers the built-in sources and actions with
// a component registry. The engine creates one registry, calls Register, and
// then instantiates whatever the configuration names.
package componentregistry

import (
	"errors"

	"github.com/misanthropealoupe/ch-L1mock/action/header"
	"github.com/misanthropealoupe/ch-L1mock/action/natspub"
	"github.com/misanthropealoupe/ch-L1mock/action/rawdata"
	"github.com/misanthropealoupe/ch-L1mock/action/stdout"
	"github.com/misanthropealoupe/ch-L1mock/action/waterfall"
	"github.com/misanthropealoupe/ch-L1mock/action/wsmonitor"
	"github.com/misanthropealoupe/ch-L1mock/component"
	"github.com/misanthropealoupe/ch-L1mock/config"
	pkgerrors "github.com/misanthropealoupe/ch-L1mock/errors"
	"github.com/misanthropealoupe/ch-L1mock/source/disk"
	"github.com/misanthropealoupe/ch-L1mock/source/sim"
	"github.com/misanthropealoupe/ch-L1mock/source/vdif"
)

// Register registers every built-in component factory:
//
// Sources:
//   - vdif (network ingestion and saved-acquisition replay)
//   - disk (intensity stream replay)
//   - sim (synthetic dummy data)
//
// Actions:
//   - print_to_stdout
//   - send_header
//   - save_raw_data
//   - save_waterfall_plot
//   - publish_header_nats
//   - websocket_monitor
func Register(registry *component.Registry) error {
	if registry == nil {
		return pkgerrors.WrapFatal(
			errors.New("registry cannot be nil"),
			"ComponentRegistry", "Register", "registry validation")
	}

	registrations := []component.RegistrationConfig{
		{
			Name:        config.SourceVDIF,
			Type:        component.TypeSource,
			Description: "VDIF baseband frames, from the network or a saved acquisition",
			Version:     "1.0.0",
			Factory:     vdif.New,
		},
		{
			Name:        config.SourceDisk,
			Type:        component.TypeSource,
			Description: "replay saved intensity streams from disk",
			Version:     "1.0.0",
			Factory:     disk.New,
		},
		{
			Name:        config.SourceSim,
			Type:        component.TypeSource,
			Description: "synthetic dummy-data chunks",
			Version:     "1.0.0",
			Factory:     sim.New,
		},
		{
			Name:        config.ActionPrintToStdout,
			Type:        component.TypeAction,
			Description: "print trigger headers to stdout as JSON lines",
			Version:     "1.0.0",
			Factory:     stdout.New,
		},
		{
			Name:        config.ActionSendHeader,
			Type:        component.TypeAction,
			Description: "send trigger headers to a TCP consumer",
			Version:     "1.0.0",
			Factory:     header.New,
		},
		{
			Name:        config.ActionSaveRawData,
			Type:        component.TypeAction,
			Description: "save the intensity window around each trigger",
			Version:     "1.0.0",
			Factory:     rawdata.New,
		},
		{
			Name:        config.ActionSaveWaterfallPlot,
			Type:        component.TypeAction,
			Description: "render a waterfall plot of the window around each trigger",
			Version:     "1.0.0",
			Factory:     waterfall.New,
		},
		{
			Name:        config.ActionPublishHeaderNATS,
			Type:        component.TypeAction,
			Description: "publish trigger headers to a NATS subject",
			Version:     "1.0.0",
			Factory:     natspub.New,
		},
		{
			Name:        config.ActionWebsocketMonitor,
			Type:        component.TypeAction,
			Description: "broadcast trigger headers to WebSocket monitors",
			Version:     "1.0.0",
			Factory:     wsmonitor.New,
		},
	}

	for _, reg := range registrations {
		if err := registry.RegisterWithConfig(reg); err != nil {
			return pkgerrors.Wrap(err, "ComponentRegistry", "Register", "register "+reg.Name)
		}
	}
	return nil
}
