package config

// Run describes one segmentation run. It is read from YAML files and
// accepted as JSON by the job server.
type Run struct {
	Image         string  `yaml:"image" json:"image"`
	Seed          int64   `yaml:"seed" json:"seed"`
	WallClockSeed bool    `yaml:"wall_clock_seed" json:"wallClockSeed"`
	Iterations    int     `yaml:"iterations" json:"iterations"`
	TimeLimit     float64 `yaml:"time_limit_seconds" json:"timeLimitSeconds"` // 0 disables
	Direction     string  `yaml:"direction" json:"direction"`                 // maximize | minimize

	Plateau  PlateauConfig  `yaml:"plateau" json:"plateau"`
	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`
	Radius   RadiusConfig   `yaml:"radius" json:"radius"`
	Kernels  KernelConfig   `yaml:"kernels" json:"kernels"`
	Energy   EnergyConfig   `yaml:"energy" json:"energy"`
	SiteMap  SiteMapConfig  `yaml:"sitemap" json:"sitemap"`
	Feedback FeedbackConfig `yaml:"feedback" json:"feedback"`
}

// PlateauConfig stops a run whose best score and size stopped moving
type PlateauConfig struct {
	Patience  int     `yaml:"patience" json:"patience"` // 0 disables
	Tolerance float64 `yaml:"tolerance" json:"tolerance"`
}

// ScheduleConfig selects the annealing schedule
type ScheduleConfig struct {
	Kind  string  `yaml:"kind" json:"kind"` // constant | exponential | geometric | linear
	Start float64 `yaml:"start" json:"start"`
	End   float64 `yaml:"end" json:"end"`
	Decay float64 `yaml:"decay" json:"decay"`
}

// RadiusConfig bounds circle radii in pixels
type RadiusConfig struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// KernelConfig holds selection weights and kernel parameters
type KernelConfig struct {
	Initial string  `yaml:"initial" json:"initial"` // kernel used on the first iteration, empty for none
	Birth   float64 `yaml:"birth" json:"birth"`
	Death   float64 `yaml:"death" json:"death"`
	Move    float64 `yaml:"move" json:"move"`
	Split   float64 `yaml:"split" json:"split"`
	Merge   float64 `yaml:"merge" json:"merge"`
	Refine  float64 `yaml:"refine" json:"refine"`

	MoveSigma       float64 `yaml:"move_sigma" json:"moveSigma"`
	MoveRadiusSigma float64 `yaml:"move_radius_sigma" json:"moveRadiusSigma"`
	MergeReach      float64 `yaml:"merge_reach" json:"mergeReach"`

	RefineIterations  int     `yaml:"refine_iterations" json:"refineIterations"`
	RefinePopulation  int     `yaml:"refine_population" json:"refinePopulation"`
	RefineWindow      float64 `yaml:"refine_window" json:"refineWindow"`
	RefineRadiusRange float64 `yaml:"refine_radius_range" json:"refineRadiusRange"`
}

// EnergyConfig weights the energy terms
type EnergyConfig struct {
	ContrastWeight float64 `yaml:"contrast_weight" json:"contrastWeight"`
	OverlapWeight  float64 `yaml:"overlap_weight" json:"overlapWeight"`
	CountPenalty   float64 `yaml:"count_penalty" json:"countPenalty"`
	ShellWidth     float64 `yaml:"shell_width" json:"shellWidth"`
	Polarity       string  `yaml:"polarity" json:"polarity"` // bright | dark
	CacheSize      int     `yaml:"cache_size" json:"cacheSize"`
	Workers        int     `yaml:"workers" json:"workers"` // 0 uses GOMAXPROCS
}

// SiteMapConfig shapes the birth-site probability map
type SiteMapConfig struct {
	CellSize    float64 `yaml:"cell_size" json:"cellSize"`
	Suppression float64 `yaml:"suppression" json:"suppression"`
}

// FeedbackConfig sets how often receivers fire, in iterations. 0 disables.
type FeedbackConfig struct {
	LogEvery        int `yaml:"log_every" json:"logEvery"`
	TraceEvery      int `yaml:"trace_every" json:"traceEvery"`
	CheckpointEvery int `yaml:"checkpoint_every" json:"checkpointEvery"`
	StatsEvery      int `yaml:"stats_every" json:"statsEvery"`
}

// Default returns a run configuration that works for small images of
// bright round objects on a dark background.
func Default() Run {
	return Run{
		Seed:       42,
		Iterations: 5000,
		Direction:  "maximize",
		Plateau:    PlateauConfig{Patience: 0, Tolerance: 1e-6},
		Schedule:   ScheduleConfig{Kind: "geometric", Start: 1, End: 0.001},
		Radius:     RadiusConfig{Min: 3, Max: 30},
		Kernels: KernelConfig{
			Initial:           "birth",
			Birth:             3,
			Death:             2,
			Move:              3,
			Split:             1,
			Merge:             1,
			Refine:            1,
			MoveSigma:         2,
			MoveRadiusSigma:   1,
			MergeReach:        1,
			RefineIterations:  30,
			RefinePopulation:  20,
			RefineWindow:      0.5,
			RefineRadiusRange: 0.3,
		},
		Energy: EnergyConfig{
			ContrastWeight: 1,
			OverlapWeight:  2,
			CountPenalty:   0.02,
			ShellWidth:     2,
			Polarity:       "bright",
			CacheSize:      4096,
		},
		SiteMap:  SiteMapConfig{CellSize: 4, Suppression: 0.1},
		Feedback: FeedbackConfig{LogEvery: 500, TraceEvery: 10, CheckpointEvery: 1000, StatsEvery: 500},
	}
}
