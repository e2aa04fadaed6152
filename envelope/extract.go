package envelope

// Extract runs the detector selected by cfg.Mode on a mono signal and
// returns a raw envelope of the same length.
func Extract(mono []float64, cfg Config) ([]float64, error) {
	switch cfg.Mode {
	case ModeRMS:
		return RMSEnvelope(mono, cfg.Frame, cfg.Hop)
	default:
		return HilbertEnvelope(mono)
	}
}
