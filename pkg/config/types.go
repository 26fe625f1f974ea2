package config

// Config is the planner configuration.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogDir    string `yaml:"log_dir"`

	Model          Model           `yaml:"model"`
	Policy         Policy          `yaml:"policy"`
	Training       Training        `yaml:"training"`
	Regularization *Regularization `yaml:"regularization,omitempty"`
	Checkpoint     Checkpoint      `yaml:"checkpoint"`
	Convergence    *Convergence    `yaml:"convergence,omitempty"`
	Health         Health          `yaml:"health"`
}

// Model selects the dynamics model and its parameters.
type Model struct {
	Name   string      `yaml:"name"`
	Seed   int64       `yaml:"seed"`
	Params ModelParams `yaml:"params"`
}

// ModelParams are the model parameters. Fields a model does not use are
// ignored.
type ModelParams struct {
	Initial    float64   `yaml:"initial"`
	InitialStd float64   `yaml:"initial_std"`
	NoiseStd   float64   `yaml:"noise_std"`
	Target     float64   `yaml:"target"`
	Goal       []float64 `yaml:"goal,omitempty"`
	MaxStep    float64   `yaml:"max_step"`
	Reservoirs int       `yaml:"reservoirs"`
	RainMean   float64   `yaml:"rain_mean"`
	RainStd    float64   `yaml:"rain_std"`
}

// Policy describes the policy network.
type Policy struct {
	Layers          []int  `yaml:"layers"`
	Activation      string `yaml:"activation"`
	InputLayerNorm  bool   `yaml:"input_layer_norm"`
	HiddenLayerNorm bool   `yaml:"hidden_layer_norm"`
	Seed            int64  `yaml:"seed"`
}

// Training holds the training hyperparameters.
type Training struct {
	LearningRate float64 `yaml:"learning_rate"`
	BatchSize    int     `yaml:"batch_size"`
	Horizon      int     `yaml:"horizon"`
	Optimizer    string  `yaml:"optimizer"`
	Loss         string  `yaml:"loss"`
	Epochs       int     `yaml:"epochs"`
	ShowProgress bool    `yaml:"show_progress"`
	Debug        bool    `yaml:"debug"`
}

// Regularization configures the optional weight penalties.
type Regularization struct {
	Kernel *Regularizer `yaml:"kernel,omitempty"`
	Bias   *Regularizer `yaml:"bias,omitempty"`
}

// Regularizer is one penalty: kind is l1, l2 or l1_l2.
type Regularizer struct {
	Kind  string  `yaml:"kind"`
	Scale float64 `yaml:"scale"`
}

// Checkpoint configures where the policy is saved. An empty path uses the
// policy's default location.
type Checkpoint struct {
	Path string `yaml:"path"`
}

// Convergence configures convergence reporting.
type Convergence struct {
	Strategy             string  `yaml:"strategy"`
	NoImprovementSteps   int     `yaml:"no_improvement_steps"`
	ImprovementThreshold float64 `yaml:"improvement_threshold"`
	Tolerance            float64 `yaml:"tolerance"`
	MinSteps             int     `yaml:"min_steps"`
	PlateauSteps         int     `yaml:"plateau_steps"`
}

// Health configures the gRPC health endpoint. An empty address disables it.
type Health struct {
	Addr    string `yaml:"addr"`
	Service string `yaml:"service"`
}

// Default returns the configuration used for omitted fields.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		LogDir:    "/tmp",
		Model:     Model{Name: "linear", Seed: 1},
		Policy: Policy{
			Layers:     []int{64, 32},
			Activation: "elu",
			Seed:       1,
		},
		Training: Training{
			LearningRate: 0.01,
			BatchSize:    64,
			Horizon:      20,
			Optimizer:    "RMSProp",
			Loss:         "linear",
			Epochs:       200,
			ShowProgress: true,
		},
	}
}
