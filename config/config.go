// Package config holds the pipeline configuration. A GlobalConfig is
// built once by New and passed by value; nothing in it is mutated after
// construction, so every component can share the same copy across
// goroutines.
package config

import "path/filepath"

// GlobalConfig collects the knobs shared by the data pipeline and the
// driving controller. Zero fields are filled with defaults by New.
type GlobalConfig struct {
	// SeqLen is the number of past/current input timesteps per window.
	SeqLen int
	// PredLen is the number of future waypoints supervised per window.
	PredLen int

	// RootDir is the directory holding the recorded town route roots.
	RootDir string
	// SSDDir is where pseudo-label preloads are written and read.
	SSDDir string

	// Town splits. Each town expands to its _tiny and _short route
	// roots (validation uses _short only).
	TrainTowns []string
	ValTowns   []string
	SSDTowns   []string

	// TrainData, ValData and SSDData are the expanded route roots. If
	// left empty, New derives them from the town lists and RootDir.
	TrainData []string
	ValData   []string
	SSDData   []string

	// IgnoreSides drops the left/right camera views from samples.
	IgnoreSides bool
	// IgnoreRear drops the rear camera view from samples.
	IgnoreRear bool

	// Scale and InputResolution parametrize image preprocessing:
	// frames are downscaled by Scale then center-cropped to
	// InputResolution x InputResolution.
	Scale           int
	InputResolution int

	// BatchSize used when a dataset yields gomlx batches.
	BatchSize int

	// Lateral PID controller gains.
	TurnKP float64
	TurnKI float64
	TurnKD float64
	TurnN  int // buffer size

	// Longitudinal PID controller gains.
	SpeedKP float64
	SpeedKI float64
	SpeedKD float64
	SpeedN  int // buffer size

	// Control limits.
	MaxThrottle float64 // upper limit on throttle signal value
	BrakeSpeed  float64 // desired speed below which brake is triggered
	BrakeRatio  float64 // ratio of speed to desired speed that triggers brake
	ClipDelta   float64 // max change in speed input to the longitudinal controller
}

// New fills in defaults and expands town lists into route roots,
// returning the completed configuration by value.
func New(cfg GlobalConfig) GlobalConfig {
	if cfg.SeqLen == 0 {
		cfg.SeqLen = 1
	}
	if cfg.PredLen == 0 {
		cfg.PredLen = 4
	}
	if cfg.Scale == 0 {
		cfg.Scale = 1
	}
	if cfg.InputResolution == 0 {
		cfg.InputResolution = 256
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 24
	}

	if len(cfg.TrainTowns) == 0 {
		cfg.TrainTowns = []string{"Town01", "Town02", "Town03", "Town04", "Town06", "Town07", "Town10"}
	}
	if len(cfg.ValTowns) == 0 {
		cfg.ValTowns = []string{"Town05"}
	}
	if len(cfg.SSDTowns) == 0 {
		cfg.SSDTowns = []string{"Town06", "Town07", "Town10"}
	}

	if len(cfg.TrainData) == 0 {
		for _, town := range cfg.TrainTowns {
			cfg.TrainData = append(cfg.TrainData,
				filepath.Join(cfg.RootDir, town+"_tiny"),
				filepath.Join(cfg.RootDir, town+"_short"))
		}
	}
	if len(cfg.SSDData) == 0 {
		for _, town := range cfg.SSDTowns {
			cfg.SSDData = append(cfg.SSDData,
				filepath.Join(cfg.RootDir, town+"_tiny"),
				filepath.Join(cfg.RootDir, town+"_short"))
		}
	}
	if len(cfg.ValData) == 0 {
		for _, town := range cfg.ValTowns {
			cfg.ValData = append(cfg.ValData, filepath.Join(cfg.RootDir, town+"_short"))
		}
	}

	if cfg.TurnKP == 0 {
		cfg.TurnKP = 1.25
	}
	if cfg.TurnKI == 0 {
		cfg.TurnKI = 0.75
	}
	if cfg.TurnKD == 0 {
		cfg.TurnKD = 0.3
	}
	if cfg.TurnN == 0 {
		cfg.TurnN = 40
	}
	if cfg.SpeedKP == 0 {
		cfg.SpeedKP = 5.0
	}
	if cfg.SpeedKI == 0 {
		cfg.SpeedKI = 0.5
	}
	if cfg.SpeedKD == 0 {
		cfg.SpeedKD = 1.0
	}
	if cfg.SpeedN == 0 {
		cfg.SpeedN = 40
	}
	if cfg.MaxThrottle == 0 {
		cfg.MaxThrottle = 0.75
	}
	if cfg.BrakeSpeed == 0 {
		cfg.BrakeSpeed = 0.4
	}
	if cfg.BrakeRatio == 0 {
		cfg.BrakeRatio = 1.1
	}
	if cfg.ClipDelta == 0 {
		cfg.ClipDelta = 0.25
	}

	return cfg
}
