package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Event is one stimulus: a timestamp in a series plus one value per
// predictor listed in the spec. Immutable once ingested.
type Event struct {
	Series string    `json:"series"`
	Time   float64   `json:"time"`
	Values []float64 `json:"values"`
}

// Response is one observed outcome, tagged with the grouping-factor levels
// that select its random-effect slots. Groups is aligned with
// Spec.GroupingFactors; an empty string means no level for that factor.
type Response struct {
	Series string   `json:"series"`
	Time   float64  `json:"time"`
	Groups []string `json:"groups"`
	Value  float64  `json:"value"`
}

// PredictorSpec binds one predictor column to an impulse response family and
// the grouping factors that carry its hierarchical deviations.
type PredictorSpec struct {
	Name string `json:"name" koanf:"name"`
	// Family is a kernel family tag, e.g. "exp" or "shiftedgamma".
	Family string `json:"family" koanf:"family"`
	// ParamInit optionally overrides the family's default raw-space
	// parameter initialization.
	ParamInit []float64 `json:"param_init,omitempty" koanf:"param_init"`
	// CoefGroups lists grouping factors with by-level coefficient
	// deviations for this predictor.
	CoefGroups []string `json:"coef_groups,omitempty" koanf:"coef_groups"`
	// KernelGroups lists grouping factors with by-level kernel parameter
	// deviations, pooling at the impulse-response level rather than only
	// at the coefficient level.
	KernelGroups []string `json:"kernel_groups,omitempty" koanf:"kernel_groups"`
}

// Spec is the resolved model specification. It arrives as data; formula
// parsing happens elsewhere.
type Spec struct {
	Predictors      []PredictorSpec `json:"predictors" koanf:"predictors"`
	GroupingFactors []string        `json:"grouping_factors,omitempty" koanf:"grouping_factors"`
	// InterceptGroups lists grouping factors with by-level random
	// intercepts.
	InterceptGroups []string `json:"intercept_groups,omitempty" koanf:"intercept_groups"`
	// StandardizeResponse centers and scales observed values by the
	// training mean and standard deviation before fitting.
	StandardizeResponse bool `json:"standardize_response,omitempty" koanf:"standardize_response"`
}

// State is the complete learnable parameter set plus everything needed to
// interpret it. During fitting it is owned by the trainer; evaluation reads
// a snapshot.
type State struct {
	VersionedRecord
	Schema Schema `json:"schema"`
	// Params is the flat raw-space parameter vector laid out by Schema.
	// In variational mode it tracks the posterior means.
	Params []float64 `json:"params"`
	// Variational posterior parameters, present only in variational mode.
	Variational bool      `json:"variational,omitempty"`
	VarLoc      []float64 `json:"var_loc,omitempty"`
	VarRho      []float64 `json:"var_rho,omitempty"`
	// Response standardization captured from the training split.
	Standardized bool    `json:"standardized,omitempty"`
	ResponseMean float64 `json:"response_mean,omitempty"`
	ResponseSD   float64 `json:"response_sd,omitempty"`
}

// OptimizerState is the adaptive-update memory persisted alongside State so
// a resumed run continues the exact trajectory.
type OptimizerState struct {
	VersionedRecord
	Step int64     `json:"step"`
	M    []float64 `json:"m"`
	V    []float64 `json:"v"`
	// Early-stopping counters, carried so a resumed run keeps the same
	// convergence bookkeeping as an uninterrupted one.
	BestValSet   bool    `json:"best_val_set,omitempty"`
	BestValLoss  float64 `json:"best_val_loss,omitempty"`
	PatienceUsed int     `json:"patience_used,omitempty"`
}

// Checkpoint is the durable snapshot written at checkpoint boundaries. No
// partially-updated state is ever persisted.
type Checkpoint struct {
	VersionedRecord
	RunID        string         `json:"run_id"`
	Step         int64          `json:"step"`
	Seed         int64          `json:"seed"`
	State        State          `json:"state"`
	Optimizer    OptimizerState `json:"optimizer"`
	CreatedAtUTC string         `json:"created_at_utc"`
}

// StepDiagnostics records per-step training telemetry.
type StepDiagnostics struct {
	Step      int64    `json:"step"`
	TrainLoss float64  `json:"train_loss"`
	ValLoss   *float64 `json:"val_loss,omitempty"`
	GradNorm  float64  `json:"grad_norm"`
	ElapsedMS int64    `json:"elapsed_ms"`
}

// FitStats are aggregate goodness-of-fit measures over one response set.
type FitStats struct {
	N            int     `json:"n"`
	LogLik       float64 `json:"log_lik"`
	MSE          float64 `json:"mse"`
	ExplainedVar float64 `json:"explained_var"`
}

// FitSummary is the terminal record of a training run.
type FitSummary struct {
	VersionedRecord
	RunID        string   `json:"run_id"`
	Status       string   `json:"status"`
	Steps        int64    `json:"steps"`
	TrainLoss    float64  `json:"train_loss"`
	ValLoss      float64  `json:"val_loss"`
	Train        FitStats `json:"train"`
	Validation   FitStats `json:"validation"`
	Converged    bool     `json:"converged"`
	Warning      string   `json:"warning,omitempty"`
	CreatedAtUTC string   `json:"created_at_utc"`
}

// Prediction is one per-response output row. Interval bounds are present
// only when the state carries a variational posterior.
type Prediction struct {
	Index       int     `json:"index"`
	Series      string  `json:"series"`
	Time        float64 `json:"time"`
	Mean        float64 `json:"mean"`
	HasInterval bool    `json:"has_interval,omitempty"`
	Lower       float64 `json:"lower,omitempty"`
	Upper       float64 `json:"upper,omitempty"`
}
