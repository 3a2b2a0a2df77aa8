package regime

// DetectorConfig holds the trailing windows used by the multi-factor detector.
type DetectorConfig struct {
	BreadthWindow    int
	VolWindow        int
	CorrWindow       int
	DispersionWindow int
}

type DetectorOption func(*DetectorConfig)

func WithBreadthWindow(n int) DetectorOption {
	return func(c *DetectorConfig) { c.BreadthWindow = n }
}

func WithVolWindow(n int) DetectorOption {
	return func(c *DetectorConfig) { c.VolWindow = n }
}

func WithCorrWindow(n int) DetectorOption {
	return func(c *DetectorConfig) { c.CorrWindow = n }
}

func WithDispersionWindow(n int) DetectorOption {
	return func(c *DetectorConfig) { c.DispersionWindow = n }
}

func defaultDetectorConfig() *DetectorConfig {
	return &DetectorConfig{
		BreadthWindow:    200,
		VolWindow:        20,
		CorrWindow:       60,
		DispersionWindow: 20,
	}
}
