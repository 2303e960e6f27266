// Package l0 implements correlator-side processing for pathfinder pulsar
// beams: square accumulation of beamformed baseband samples into intensity
// and weight, on the FPGA channelization grid.
package l0

// FPGA channelization constants for the pathfinder correlator.
const (
	// FPGAFrameRateHz is the rate at which channelized frames arrive.
	FPGAFrameRateHz = 800e6 / 2048.0

	// FPGANFreq is the number of FPGA frequency channels.
	FPGANFreq = 1024

	// FPGAFreq0MHz is the frequency of channel 0 (the high edge of the band).
	FPGAFreq0MHz = 800.0

	// FPGADeltaFreqMHz is the channel spacing; negative because frequency
	// descends with channel index.
	FPGADeltaFreqMHz = -400.0 / 1024.0

	// Band edges in MHz.
	FreqLoMHz = 400.0
	FreqHiMHz = 800.0
)

// NPol is the number of polarizations (XX, YY).
const NPol = 2

// KDMSecMHz2 is the dispersion constant: the delay in seconds of a pulse at
// DM = 1 pc cm^-3 observed at 1 MHz. delay(f) = KDM * DM / f_MHz^2.
const KDMSecMHz2 = 4.148808e3

// PolNames lists the polarization labels in data order.
var PolNames = [NPol]string{"XX", "YY"}

// DeltaT returns the integrated sample spacing in seconds for a given
// accumulation length.
func DeltaT(nframeIntegrate int) float64 {
	return float64(nframeIntegrate) / FPGAFrameRateHz
}

// FrameTime0 converts a starting FPGA frame count into the timestamp of the
// first integrated sample (bin center), in seconds.
func FrameTime0(t0Frame int64, nframeIntegrate int) float64 {
	return (float64(t0Frame)/float64(nframeIntegrate) + 0.5) * DeltaT(nframeIntegrate)
}
