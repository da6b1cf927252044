// Package malcleanse trains and evaluates neural-network malware detectors
// on label-noise splits of Android APK datasets.
//
// A detector is an ensemble of identically shaped members derived from one
// template network. Members are kept in a WeightStore, trained one epoch at a
// time, persisted to disk and reloaded for inference in a fresh process.
//
// # Quick Start
//
//	cfg, err := config.Load("malcleanse.yaml")
//	if err != nil {
//	    return err
//	}
//	e, err := ensemble.FromConfig(cfg, ensemble.WithModelDirectory("models/mwo_thr_1_18"))
//	if err != nil {
//	    return err
//	}
//	train, _ := dataset.New(x, y, dataset.WithBatchSize(16), dataset.WithShuffle(true))
//	if _, err := e.Fit(ctx, train, train, ensemble.FitOptions{}); err != nil {
//	    return err
//	}
//	probs, report, err := e.Evaluate(xTest, yTest, 0.5, "ransomware")
//
// # Packages
//
//   - ensemble: Vanilla, DeepEnsemble, WeightedDeepEnsemble, MCDropout and BayesianEnsemble
//   - nn: template feed-forward network, Adam optimizer and one-epoch training
//   - dataset: feature matrix and label batching, centrality CSV reader
//   - feature: drebin extraction cache, vocabulary selection and binarization
//   - feature/callgraph: MalScan centrality of sensitive APIs in GEXF call graphs
//   - metrics: accuracy, balanced accuracy, FNR, FPR, F1 and AUC
//   - preprocessing: StandardScaler for real-valued features
//   - tracking: sqlite registry of evaluation runs
//   - core/model: lifecycle state machine and persistence helpers
//   - core/parallel: row-range fan out used by batch inference
//   - pkg/config, pkg/errors, pkg/log: configuration, error taxonomy and logging
//
// The train, evaluate and extract commands under cmd/ drive the full workflow.
package malcleanse
