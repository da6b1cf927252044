// Package log defines standard attribute keys for the training and
// extraction pipelines.
//
// These keys follow a hierarchical naming convention (e.g., "ensemble.name",
// "data.samples") to enable structured log analysis and filtering.

package log

// Model and Operation Context
const (
	// ModelNameKey identifies the template architecture of a model.
	// Examples: "dnn"
	ModelNameKey = "model.name"

	// OperationKey specifies the operation being performed.
	// Standard values: "fit", "predict", "evaluate", "extract"
	OperationKey = "ml.operation"

	// ComponentKey identifies which component is logging.
	// Examples: "ensemble", "feature", "callgraph"
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of the ensemble lifecycle.
	PhaseKey = "ml.phase"
)

// Ensemble Context
const (
	// EnsembleNameKey is the user-given ensemble name (also its directory).
	EnsembleNameKey = "ensemble.name"

	// EnsembleTypeKey is the variant: vanilla, deep_ensemble, weighted_ensemble, mc_dropout, bayesian.
	EnsembleTypeKey = "ensemble.type"

	// MemberIndexKey is the index of the member being trained or loaded.
	MemberIndexKey = "member.index"

	// MemberCountKey is the configured or stored member count.
	MemberCountKey = "member.count"
)

// Data Shape and Characteristics
const (
	// SamplesKey indicates the number of samples (rows) in the dataset.
	SamplesKey = "data.samples"

	// FeaturesKey indicates the number of features (columns) in the dataset.
	FeaturesKey = "data.features"

	// BatchSizeKey indicates the size of mini-batches.
	BatchSizeKey = "data.batch_size"

	// DatasetKey names the evaluation split, e.g. "ransomware".
	DatasetKey = "data.name"

	// NoiseTypeKey is the noise tag of a training split, e.g. "thr_1_18".
	NoiseTypeKey = "noise.type"

	// SamplePathKey is the path of a sample being extracted.
	SamplePathKey = "sample.path"

	// SampleHashKey is the sha256 of a sample's content.
	SampleHashKey = "sample.sha256"
)

// Performance Metrics
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// AccuracyKey records accuracy for evaluation operations.
	AccuracyKey = "metrics.accuracy"

	// BalancedAccuracyKey records balanced accuracy.
	BalancedAccuracyKey = "metrics.balanced_accuracy"

	// FNRKey records the false negative rate.
	FNRKey = "metrics.fnr"

	// FPRKey records the false positive rate.
	FPRKey = "metrics.fpr"

	// F1Key records the F1 score.
	F1Key = "metrics.f1"

	// LossKey records loss value during training or evaluation.
	LossKey = "metrics.loss"

	// ValAccuracyKey records validation accuracy after an epoch.
	ValAccuracyKey = "metrics.val_accuracy"

	// ValLossKey records validation loss after an epoch.
	ValLossKey = "metrics.val_loss"

	// EpochKey records the current epoch number during training.
	EpochKey = "training.epoch"
)

// Prediction Context
const (
	// PredsKey indicates the number of predictions made.
	PredsKey = "preds.count"

	// ThresholdKey records decision thresholds used for classification.
	ThresholdKey = "preds.threshold"
)

// Error Context
const (
	// ErrorTypeKey categorizes the type of error encountered.
	ErrorTypeKey = "error.type"

	// StacktraceKey contains stack trace information for debugging.
	StacktraceKey = "error.stacktrace"
)

// Hyperparameters and Configuration
const (
	// LearningRateKey records the learning rate of the optimizer.
	LearningRateKey = "hyperparams.learning_rate"

	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"

	// WorkerIDKey identifies a worker in the extraction pool.
	WorkerIDKey = "infra.worker_id"
)

// Standard attribute value constants.
const (
	OperationFit      = "fit"
	OperationFinetune = "finetune"
	OperationPredict  = "predict"
	OperationEvaluate = "evaluate"
	OperationExtract  = "extract"

	PhaseTraining   = "training"
	PhaseValidation = "validation"
	PhaseInference  = "inference"
	PhaseExtraction = "extraction"
)
