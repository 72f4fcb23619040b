package mcp

import "time"

// ScoreInput is the input of the observer_learnability and observer_novelty
// tools. Zero numeric fields fall back to the server's configuration.
type ScoreInput struct {
	Artifact    string `json:"artifact" jsonschema:"Path to an Arrow IPC artifact file with times and features columns"`
	T           int    `json:"t" jsonschema:"Timestep to score, 0-based index into the artifact sequence"`
	Lookback    int    `json:"lookback,omitempty" jsonschema:"Maximum history length (default from config)"`
	TrainSize   int    `json:"train_size,omitempty" jsonschema:"Training windows before clamping (default from config)"`
	PredictSize int    `json:"predict_size,omitempty" jsonschema:"Novelty evaluation windows before clamping (default from config)"`
	TrainEpochs int    `json:"train_epochs,omitempty" jsonschema:"Training epochs per model (default from config)"`
	Width       int    `json:"observer_width,omitempty" jsonschema:"Hidden width of the recurrent layers (default from config)"`
}

// ScoreOutput is the result of a scoring tool.
type ScoreOutput struct {
	RunID       string    `json:"run_id" jsonschema:"ID of the stored run holding the diagnostics"`
	Kind        string    `json:"kind" jsonschema:"learnability or novelty"`
	T           int       `json:"t" jsonschema:"Scored timestep"`
	RealTime    float64   `json:"real_time" jsonschema:"Simulation time at t"`
	Score       float64   `json:"score" jsonschema:"Score in [0, 1]"`
	Count       int       `json:"count" jsonschema:"Lookbacks or forward steps that set a new extreme"`
	Horizons    []int     `json:"horizons" jsonschema:"Lookback candidates (learnability) or steps past t (novelty)"`
	Losses      []float64 `json:"losses" jsonschema:"Prediction loss at each horizon"`
	TrainSize   int       `json:"train_size" jsonschema:"Training windows after clamping"`
	PredictSize int       `json:"predict_size,omitempty" jsonschema:"Evaluation windows after clamping"`
	Group       string    `json:"group" jsonschema:"Diagnostics group the arrays were stored under"`
}

// ScoresInput is the input of the observer_scores tool.
type ScoresInput struct {
	RunID string `json:"run_id,omitempty" jsonschema:"Only scores of this run (full ID or unique prefix)"`
	Kind  string `json:"kind,omitempty" jsonschema:"Only learnability or only novelty scores"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum number of scores to return (default 100)"`
}

// ScoresOutput lists stored scores.
type ScoresOutput struct {
	Scores []ScoreItem `json:"scores" jsonschema:"Stored scores ordered by run, kind and timestep"`
	Count  int         `json:"count" jsonschema:"Number of scores returned"`
}

// ScoreItem is one stored score.
type ScoreItem struct {
	RunID     string    `json:"run_id"`
	Kind      string    `json:"kind"`
	T         int       `json:"t"`
	RealTime  float64   `json:"real_time"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}
