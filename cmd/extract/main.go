// Command extract produces the features consumed by train and evaluate.
//
// In drebin mode every APK under -apk_dir is run through the external
// extractor and cached by content hash; with -split the vocabulary of that
// split is selected as well. In centrality mode the call graphs of a split's
// manifest are turned into a MalScan feature CSV.
//
//	extract -mode drebin -apk_dir apks -extractor "python2 drebin.py" -split mwo_thr_1_18
//	extract -mode centrality -centrality katz -gexf_dir graphs -apis sensitive_apis.txt -split thr_1_18
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/malcleanse/malcleanse/feature"
	"github.com/malcleanse/malcleanse/feature/callgraph"
	"github.com/malcleanse/malcleanse/internal/app"
	"github.com/malcleanse/malcleanse/pkg/errors"
	"github.com/malcleanse/malcleanse/pkg/log"
)

type options struct {
	config     string
	mode       string
	apkDir     string
	extractor  string
	split      string
	centrality string
	gexfDir    string
	apis       string
	metricsOut string
}

func main() {
	var o options
	flag.StringVar(&o.config, "config", "", "YAML config file")
	flag.StringVar(&o.mode, "mode", "drebin", "drebin or centrality")
	flag.StringVar(&o.apkDir, "apk_dir", "", "directory of APKs (drebin mode)")
	flag.StringVar(&o.extractor, "extractor", "", "drebin extractor command, called with the APK path appended")
	flag.StringVar(&o.split, "split", "", "dataset split; selects its vocabulary or names its CSV")
	flag.StringVar(&o.centrality, "centrality", "degree", "degree, katz, closeness or harmonic (centrality mode)")
	flag.StringVar(&o.gexfDir, "gexf_dir", "", "directory of <sha256>.gexf call graphs (centrality mode)")
	flag.StringVar(&o.apis, "apis", "sensitive_apis.txt", "sensitive API list (centrality mode)")
	flag.StringVar(&o.metricsOut, "metrics_out", "", "write extraction counters in Prometheus text format to this file")
	flag.Parse()

	if err := run(o); err != nil {
		fmt.Fprintf(os.Stderr, "extract: %+v\n", err)
		os.Exit(1)
	}
}

func run(o options) error {
	a, err := app.Setup(o.config)
	if err != nil {
		return err
	}
	defer a.Close()

	switch o.mode {
	case "drebin":
		return runDrebin(a, o)
	case "centrality":
		return runCentrality(a, o)
	default:
		return errors.NewConfigurationError("extract", "mode", fmt.Sprintf("unknown mode %q", o.mode))
	}
}

func runDrebin(a *app.App, o options) error {
	extractor, err := feature.NewCommandExtractor(o.extractor)
	if err != nil {
		return err
	}
	apks, err := feature.ListSamples(o.apkDir, ".apk")
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	p, err := a.Pipeline(extractor, feature.WithMetrics(feature.NewMetrics("", reg)))
	if err != nil {
		return err
	}

	ctx, cancel := a.Context()
	defer cancel()
	if _, err := p.Extract(ctx, apks); err != nil {
		return err
	}
	if o.metricsOut != "" {
		if err := prometheus.WriteToTextfile(o.metricsOut, reg); err != nil {
			return errors.Wrapf(err, "write metrics to %s", o.metricsOut)
		}
	}

	if o.split == "" {
		return nil
	}
	m, err := feature.LoadManifest(a.Config.Feature.MetaDir, o.split)
	if err != nil {
		return err
	}
	return p.Preprocess(m.FeaturePaths(a.Config.Feature.NaiveDir, a.Config.Feature.FileExt), m.TrainingLabels(), o.split)
}

func runCentrality(a *app.App, o options) error {
	if o.split == "" {
		return errors.NewConfigurationError("extract", "split", "centrality mode needs a split manifest")
	}
	kind, err := callgraph.ParseKind(o.centrality)
	if err != nil {
		return err
	}
	apis, err := callgraph.ReadSensitiveAPIs(o.apis)
	if err != nil {
		return err
	}
	m, err := feature.LoadManifest(a.Config.Feature.MetaDir, o.split)
	if err != nil {
		return err
	}

	out := callgraph.CSVPath(a.Config.Feature.MetaDir, o.split, kind)
	logger := a.Logger("callgraph")
	if _, err := os.Stat(out); err == nil && !a.Config.Feature.Update {
		logger.Info("Centrality features already exist", "path", out)
		return nil
	}

	files := make([]string, len(m.Filenames))
	for i, name := range m.Filenames {
		files[i] = filepath.Join(o.gexfDir, name+".gexf")
	}

	ctx, cancel := a.Context()
	defer cancel()
	rows, err := callgraph.Vectors(ctx, files, m.TrainingLabels(), apis, kind, a.Config.Feature.Workers, logger)
	if err != nil {
		return err
	}
	if err := callgraph.WriteCSV(out, rows, apis); err != nil {
		return err
	}
	logger.Info("Centrality features written", "path", out, log.SamplesKey, len(rows))
	return nil
}
