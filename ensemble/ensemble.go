// Package ensemble は二値マルウェア分類器のアンサンブルを学習・保存・復元・評価します。
//
// 全メンバーは1つの共有テンプレートモデルを使い回し、メンバーごとの重みと
// オプティマイザ状態は WeightStore に保持されます。集約方法 (Mean, LearnedWeighted,
// StochasticPass) の違いだけで Vanilla / DeepEnsemble / WeightedDeepEnsemble /
// MCDropout / BayesianEnsemble を表現します。
//
// 使用例:
//
//	ens := ensemble.NewDeepEnsemble(
//	    ensemble.WithMembers(5),
//	    ensemble.WithModelDirectory("models"),
//	    ensemble.WithLogger(sink.Logger("ensemble")),
//	)
//	if _, err := ens.Fit(ctx, train, val, ensemble.FitOptions{Epochs: 30}); err != nil {
//	    return err
//	}
//	probs, report, err := ens.Evaluate(testX, testY, 0.5, "test")
package ensemble

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/malcleanse/malcleanse/core/model"
	"github.com/malcleanse/malcleanse/dataset"
	"github.com/malcleanse/malcleanse/metrics"
	"github.com/malcleanse/malcleanse/nn"
	"github.com/malcleanse/malcleanse/pkg/errors"
	"github.com/malcleanse/malcleanse/pkg/log"
)

// アンサンブルの種類
const (
	TypeVanilla      = "vanilla"
	TypeDeepEnsemble = "deep_ensemble"
	TypeWeighted     = "weighted_ensemble"
	TypeMCDropout    = "mc_dropout"
	TypeBayesian     = "bayesian"
)

// DefaultKLScaler は Bayesian テンプレートの KL 項の既定係数（学習データ数の逆数の近似）
const DefaultKLScaler = 1.0 / 50000

// Ensemble はアンサンブルのライフサイクルを管理する汎用ドライバ。
// 共有テンプレートを直列に使い回すため、メソッドは内部で直列化される。
type Ensemble struct {
	mu sync.Mutex

	name         string
	ensembleType string
	arch         string
	nMembers     int
	modelDir     string
	hparams      HyperParams
	aggregation  Aggregation
	variant      nn.Variant
	mcSamples    int
	klScaler     float64
	logger       log.Logger

	lc       *model.Lifecycle
	store    *WeightStore
	template *nn.Network
	opt      *nn.Adam
	combiner *Combiner
	rng      *rand.Rand
}

// FitOptions は Fit / Finetune の実行オプション
type FitOptions struct {
	// Epochs が 0 以下なら HyperParams.Epochs を使う
	Epochs int
	// TestX が指定され TrainingPredict が true なら、各エポックの後に TestX を推論する
	TestX           *mat.Dense
	TrainingPredict bool
	// UseProb はエポックごとの推論結果を集約済み確率で返すかどうか
	UseProb bool
}

// FitResult は学習の結果
type FitResult struct {
	// Probs はエポックごとの TestX に対する推論結果
	Probs []*Prediction
	Log   *TrainingLog
}

// Prediction は推論結果。useProb が true なら Probs、false なら Stack が設定される。
type Prediction struct {
	// Probs はサンプルごとの集約済み malware 確率
	Probs []float64
	// Stack は (サンプル数, 列数) のメンバー別予測。StochasticPass ではメンバー×サンプリング回数の列を持つ
	Stack *mat.Dense
	// CombinerWeights は LearnedWeighted の場合の結合重み
	CombinerWeights []float64
}

type variantSpec struct {
	name        string
	members     int
	aggregation Aggregation
	variant     nn.Variant
}

var variants = map[string]variantSpec{
	TypeVanilla:      {"VANILLA", 1, Mean, nn.Plain},
	TypeDeepEnsemble: {"DEEPENSEMBLE", 10, Mean, nn.Plain},
	TypeWeighted:     {"WEIGHTEDDEEPENSEMBLE", 10, LearnedWeighted, nn.Plain},
	TypeMCDropout:    {"MC_DROPOUT", 1, StochasticPass, nn.MCDropout},
	TypeBayesian:     {"BAYESIAN_ENSEMBLE", 1, StochasticPass, nn.Bayesian},
}

// New は種類名からアンサンブルを作成する
func New(ensembleType string, opts ...Option) (*Ensemble, error) {
	spec, ok := variants[ensembleType]
	if !ok {
		return nil, errors.NewConfigurationError("New", "type", fmt.Sprintf("unknown ensemble type %q", ensembleType))
	}
	return newEnsemble(ensembleType, spec, opts), nil
}

// NewVanilla は単一モデル（メンバー数 1）の平均アンサンブルを作成する
func NewVanilla(opts ...Option) *Ensemble {
	return newEnsemble(TypeVanilla, variants[TypeVanilla], opts)
}

// NewDeepEnsemble は独立に初期化したメンバーの平均アンサンブルを作成する
func NewDeepEnsemble(opts ...Option) *Ensemble {
	return newEnsemble(TypeDeepEnsemble, variants[TypeDeepEnsemble], opts)
}

// NewWeightedDeepEnsemble は Combiner による加重平均のアンサンブルを作成する
func NewWeightedDeepEnsemble(opts ...Option) *Ensemble {
	return newEnsemble(TypeWeighted, variants[TypeWeighted], opts)
}

// NewMCDropout は推論時ドロップアウトの確率的フォワードパスを集約するアンサンブルを作成する
func NewMCDropout(opts ...Option) *Ensemble {
	return newEnsemble(TypeMCDropout, variants[TypeMCDropout], opts)
}

// NewBayesianEnsemble は KL 正則化付き MC ドロップアウトのアンサンブルを作成する
func NewBayesianEnsemble(opts ...Option) *Ensemble {
	return newEnsemble(TypeBayesian, variants[TypeBayesian], opts)
}

func newEnsemble(ensembleType string, spec variantSpec, opts []Option) *Ensemble {
	e := &Ensemble{
		name:         spec.name,
		ensembleType: ensembleType,
		arch:         "dnn",
		nMembers:     spec.members,
		modelDir:     "models",
		hparams:      DefaultHyperParams(),
		aggregation:  spec.aggregation,
		variant:      spec.variant,
		mcSamples:    10,
		klScaler:     DefaultKLScaler,
		logger:       log.Nop(),
		lc:           model.NewLifecycle(),
		store:        NewWeightStore(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.rng = rand.New(rand.NewSource(e.hparams.Seed))
	e.logger = e.logger.With(
		log.EnsembleNameKey, strings.ToLower(e.name),
		log.EnsembleTypeKey, e.ensembleType,
		log.ModelNameKey, e.arch,
	)
	return e
}

// Name はアンサンブル名を返す
func (e *Ensemble) Name() string { return e.name }

// Type はアンサンブルの種類を返す
func (e *Ensemble) Type() string { return e.ensembleType }

// Architecture はテンプレートのアーキテクチャタグを返す
func (e *Ensemble) Architecture() string { return e.arch }

// Aggregation は集約方法を返す
func (e *Ensemble) Aggregation() Aggregation { return e.aggregation }

// SaveDir は <model_dir>/<小文字の名前> を返す
func (e *Ensemble) SaveDir() string {
	return filepath.Join(e.modelDir, strings.ToLower(e.name))
}

// State は現在のライフサイクル状態を返す
func (e *Ensemble) State() model.State { return e.lc.State() }

// NMembers は保存済みのメンバー数を返す
func (e *Ensemble) NMembers() int { return e.store.Count() }

// Store はメンバーの重みストアを返す
func (e *Ensemble) Store() *WeightStore { return e.store }

// CombinerWeights は Combiner の重みを返す。Combiner がなければ nil。
func (e *Ensemble) CombinerWeights() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.combiner == nil {
		return nil
	}
	return e.combiner.Weights()
}

func (e *Ensemble) newOptimizer() *nn.Adam {
	return nn.NewAdam(e.hparams.LearningRate, e.hparams.ClipValue)
}

func (e *Ensemble) generator() *ModelGenerator {
	return NewModelGenerator(e.store,
		func() *nn.Network { return e.template },
		e.load,
		WeightsPath(e.SaveDir(), e.arch),
	)
}

// BuildModel は入力次元 inputDim の共有テンプレートを構築する
func (e *Ensemble) BuildModel(inputDim int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buildModel(inputDim)
}

func (e *Ensemble) buildModel(inputDim int) error {
	cfg := nn.Config{
		Architecture: e.arch,
		InputDim:     inputDim,
		HiddenUnits:  append([]int(nil), e.hparams.HiddenUnits...),
		DropoutRate:  e.hparams.DropoutRate,
		Variant:      e.variant,
		Seed:         e.hparams.Seed,
	}
	if e.variant == nn.Bayesian {
		cfg.KLScaler = e.klScaler
	}
	net, err := nn.Build(cfg)
	if err != nil {
		return err
	}
	if err := e.lc.Build(); err != nil {
		return err
	}
	e.template = net
	e.opt = e.newOptimizer()
	e.logger.Debug("Template model built", log.FeaturesKey, inputDim)
	return nil
}

// Fit はエポック外側・メンバー内側の順で全メンバーを1エポックずつ学習し、
// 終了後にアンサンブルを保存する。
//
// 各メンバーは、保存済みならその重みとオプティマイザ状態から、新規の先頭メンバーなら
// 現在のテンプレートから、それ以外の新規メンバーなら再初期化したテンプレートから学習する。
// 既に学習済みのメンバーも呼び出しのたびにさらに学習される。
func (e *Ensemble) Fit(ctx context.Context, train, val *dataset.Dataset, opts FitOptions) (*FitResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if train == nil || train.Len() == 0 {
		return nil, errors.ErrEmptyData
	}
	if e.nMembers <= 0 {
		return nil, errors.NewConfigurationError("Fit", "n_members", "at least one member is required")
	}
	if e.template == nil {
		if err := e.buildModel(train.Dim()); err != nil {
			return nil, err
		}
	}
	if removed := e.store.Truncate(e.nMembers); removed > 0 {
		e.logger.Warn("Dropped stored members beyond n_members",
			log.MemberCountKey, e.nMembers,
			"member.removed", removed,
		)
	}
	e.opt = e.newOptimizer()
	if e.aggregation == LearnedWeighted && (e.combiner == nil || e.combiner.Len() != e.nMembers) {
		e.combiner = NewCombiner(e.nMembers, e.hparams.LearningRate, e.hparams.ClipValue, e.rng)
	}

	if err := e.lc.BeginFit(); err != nil {
		return nil, err
	}
	result, err := e.train(ctx, log.OperationFit, train, val, opts, true)
	if endErr := e.lc.EndFit(e.store.Count(), e.nMembers); endErr != nil && err == nil {
		err = endErr
	}
	if err != nil {
		return nil, err
	}
	if err := e.save(); err != nil {
		return nil, err
	}
	return result, nil
}

// Finetune はメンバーごとの重みを読み込まず、テンプレートの現在の状態から
// 全メンバー分の学習を続ける。結果はストアに書き戻されるが保存はされない。
func (e *Ensemble) Finetune(ctx context.Context, train, val *dataset.Dataset, opts FitOptions) (*FitResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.template == nil {
		return nil, errors.NewNotLoadedError("Finetune")
	}
	if train == nil || train.Len() == 0 {
		return nil, errors.ErrEmptyData
	}
	e.opt = e.newOptimizer()
	if err := e.lc.BeginFit(); err != nil {
		return nil, err
	}
	result, err := e.train(ctx, log.OperationFinetune, train, val, opts, false)
	if endErr := e.lc.EndFit(e.store.Count(), e.nMembers); endErr != nil && err == nil {
		err = endErr
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// train は Fit と Finetune に共通の学習ループ。prepare が true ならメンバーごとに
// テンプレートの状態を準備する。
func (e *Ensemble) train(ctx context.Context, op string, train, val *dataset.Dataset, opts FitOptions, prepare bool) (*FitResult, error) {
	epochs := opts.Epochs
	if epochs <= 0 {
		epochs = e.hparams.Epochs
	}
	logger := e.logger.With(log.OperationKey, op)
	logger.Info("Training started",
		log.SamplesKey, train.Len(),
		log.FeaturesKey, train.Dim(),
		log.BatchSizeKey, train.BatchSize(),
		log.MemberCountKey, e.nMembers,
		log.LearningRateKey, e.hparams.LearningRate,
		log.RandomSeedKey, e.hparams.Seed,
		"n_epochs", epochs,
	)

	result := &FitResult{Log: &TrainingLog{}}
	start := time.Now()
	for epoch := 0; epoch < epochs; epoch++ {
		rec := EpochRecord{Epoch: epoch}
		for m := 0; m < e.nMembers; m++ {
			if err := ctx.Err(); err != nil {
				return nil, errors.Wrapf(err, "%s cancelled at epoch %d, member %d", op, epoch+1, m)
			}
			if prepare {
				if err := e.prepareMember(m); err != nil {
					return nil, err
				}
			}
			logger.Debug("Training member",
				log.EpochKey, epoch+1,
				log.MemberIndexKey, m,
				"member.stored", e.store.Count(),
			)
			h, err := nn.TrainEpoch(e.template, e.opt, train, val, epoch)
			if err != nil {
				return nil, errors.Wrapf(err, "member %d", m)
			}
			if err := e.store.UpdateOrAppend(m, e.template.Weights(), e.opt.State()); err != nil {
				return nil, err
			}
			rec.TrainAccuracy += h.Accuracy
			rec.TrainLoss += h.Loss
			rec.ValAccuracy += h.ValAccuracy
			rec.ValLoss += h.ValLoss
		}
		n := float64(e.nMembers)
		rec.TrainAccuracy /= n
		rec.TrainLoss /= n
		rec.ValAccuracy /= n
		rec.ValLoss /= n

		if e.aggregation == LearnedWeighted {
			h, err := e.fitCombiner(train, val, epoch)
			if err != nil {
				return nil, errors.Wrap(err, "combiner")
			}
			logger.Debug("Combiner trained",
				log.EpochKey, epoch+1,
				log.LossKey, h.Loss,
				log.AccuracyKey, h.Accuracy,
			)
		}
		result.Log.Append(rec)

		if e.hparams.Interval <= 0 || (epoch+1)%e.hparams.Interval == 0 || epoch == epochs-1 {
			logger.Info("Epoch finished",
				log.EpochKey, epoch+1,
				log.AccuracyKey, rec.TrainAccuracy,
				log.LossKey, rec.TrainLoss,
				log.ValAccuracyKey, rec.ValAccuracy,
				log.ValLossKey, rec.ValLoss,
			)
		}
		if opts.TestX != nil && opts.TrainingPredict {
			p, err := e.infer(opts.TestX, opts.UseProb)
			if err != nil {
				return nil, err
			}
			result.Probs = append(result.Probs, p)
		}
	}
	logger.Info("Training finished",
		log.DurationMsKey, time.Since(start).Milliseconds(),
		log.MemberCountKey, e.store.Count(),
	)
	return result, nil
}

// prepareMember は member 番目の学習前にテンプレートとオプティマイザを準備する
func (e *Ensemble) prepareMember(member int) error {
	switch {
	case member < e.store.Count():
		weights, state, err := e.store.Get(member)
		if err != nil {
			return err
		}
		if err := e.template.SetWeights(weights); err != nil {
			return errors.Wrapf(err, "member %d", member)
		}
		e.opt.SetState(state)
	case member == 0:
		// 先頭の新規メンバーは現在のテンプレートから学習する
	default:
		e.template.Reinitialize(e.rng)
		e.opt.Reset()
	}
	return nil
}

// fitCombiner はメンバー予測を積み重ねた Dataset で Combiner を1エポック学習する
func (e *Ensemble) fitCombiner(train, val *dataset.Dataset, epoch int) (nn.History, error) {
	stack, err := e.memberStack(train.X())
	if err != nil {
		return nn.History{}, err
	}
	stacked, err := train.WithX(stack)
	if err != nil {
		return nn.History{}, err
	}
	var stackedVal *dataset.Dataset
	if val != nil && val.Len() > 0 {
		vs, err := e.memberStack(val.X())
		if err != nil {
			return nn.History{}, err
		}
		if stackedVal, err = val.WithX(vs); err != nil {
			return nn.History{}, err
		}
	}
	return e.combiner.TrainEpoch(stacked, stackedVal, epoch)
}

// memberStack は全メンバーの予測を列として並べる。StochasticPass では
// メンバーごとに mcSamples 回の確率的フォワードパスを行う。乱数は呼び出しごとに
// 同じシードから作り直すため、同じ重みに対する結果は決定的になる。
func (e *Ensemble) memberStack(x *mat.Dense) (*mat.Dense, error) {
	var rng *rand.Rand
	if e.aggregation == StochasticPass {
		rng = rand.New(rand.NewSource(e.hparams.Seed))
	}

	var cols [][]float64
	gen := e.generator()
	for i, member := range gen.Members() {
		if rng == nil {
			p, err := member.Predict(x)
			if err != nil {
				return nil, errors.Wrapf(err, "member %d", i)
			}
			cols = append(cols, p)
			continue
		}
		for s := 0; s < max(e.mcSamples, 1); s++ {
			p, err := member.PredictStochastic(x, rng)
			if err != nil {
				return nil, errors.Wrapf(err, "member %d", i)
			}
			cols = append(cols, p)
		}
	}
	if err := gen.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, errors.NewValueError("Predict", "ensemble has no members")
	}
	return columnsToDense(cols), nil
}

// combinerWeights は結合重みを返す。Combiner が読み込まれていない、または
// 列数と一致しない場合は一様な重みで代用する。
func (e *Ensemble) combinerWeights(cols int) []float64 {
	if e.combiner != nil && e.combiner.Len() == cols {
		return e.combiner.Weights()
	}
	e.logger.Warn("Combiner unavailable, using uniform weights", log.MemberCountKey, cols)
	w := make([]float64, cols)
	for i := range w {
		w[i] = 1 / float64(cols)
	}
	return w
}

// infer はメモリ上のメンバーで推論する
func (e *Ensemble) infer(x *mat.Dense, useProb bool) (*Prediction, error) {
	start := time.Now()
	stack, err := e.memberStack(x)
	if err != nil {
		return nil, err
	}
	_, cols := stack.Dims()

	out := &Prediction{}
	var weights []float64
	if e.aggregation == LearnedWeighted {
		weights = e.combinerWeights(cols)
	}
	if !useProb {
		out.Stack = stack
		out.CombinerWeights = weights
	} else if weights != nil {
		out.Probs = weightedRows(stack, weights)
	} else {
		out.Probs = rowMeans(stack)
	}

	rows, _ := stack.Dims()
	e.logger.Debug("Inference finished",
		log.PhaseKey, log.PhaseInference,
		log.PredsKey, rows,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return out, nil
}

// Predict はメモリ上の状態を破棄してディスクから読み込み直してから推論する。
// 未保存の学習状態が推論に使われることはない。
func (e *Ensemble) Predict(x *mat.Dense, useProb bool) (*Prediction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.predict(x, useProb)
}

func (e *Ensemble) predict(x *mat.Dense, useProb bool) (*Prediction, error) {
	if err := e.lc.Discard(); err != nil {
		return nil, err
	}
	e.template = nil
	e.combiner = nil
	e.store.Reset()
	if err := e.load(); err != nil {
		return nil, err
	}
	return e.infer(x, useProb)
}

// PredictInTraining はディスクから読み込み直さずに現在のメンバーで推論する
func (e *Ensemble) PredictInTraining(x *mat.Dense, useProb bool) (*Prediction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.infer(x, useProb)
}

// Evaluate は保存済みのアンサンブルで x を推論し、threshold 以上を malware として
// 指標をログ出力する。正解ラベルが単一クラスの場合、FNR/FPR/F1 は計算も出力もしない。
func (e *Ensemble) Evaluate(x *mat.Dense, labels []float64, threshold float64, name string) ([]float64, metrics.Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pred, err := e.predict(x, true)
	if err != nil {
		return nil, metrics.Report{}, err
	}
	report, err := metrics.Evaluate(labels, pred.Probs, threshold)
	if err != nil {
		return nil, metrics.Report{}, err
	}

	logger := e.logger.With(log.OperationKey, log.OperationEvaluate, log.DatasetKey, name)
	logger.Info("Evaluation accuracy",
		log.SamplesKey, len(labels),
		log.ThresholdKey, threshold,
		log.AccuracyKey, report.Accuracy,
		log.BalancedAccuracyKey, report.BalancedAccuracy,
	)
	if !report.SingleClass {
		logger.Info("Evaluation error rates",
			log.FNRKey, report.FNR,
			log.FPRKey, report.FPR,
			log.F1Key, report.F1,
		)
	}
	return pred.Probs, report, nil
}

// SaveEnsembleWeights はテンプレート構成・全メンバー・Combiner を保存ディレクトリに書き出す
func (e *Ensemble) SaveEnsembleWeights() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.save()
}

func (e *Ensemble) save() error {
	if e.template == nil {
		return errors.NewNotLoadedError("SaveEnsembleWeights")
	}
	if err := e.lc.Require("SaveEnsembleWeights", model.Built, model.Ready, model.Persisted, model.Restored); err != nil {
		return err
	}
	dir := e.SaveDir()
	if err := nn.SaveConfig(e.template.Config(), filepath.Join(dir, e.arch)); err != nil {
		return err
	}
	if err := e.store.Save(dir, e.arch); err != nil {
		return err
	}
	if e.combiner != nil {
		if err := e.combiner.Save(filepath.Join(dir, e.arch+"_weight_modular")); err != nil {
			return err
		}
	}
	if err := e.lc.Persist(); err != nil {
		return err
	}
	e.logger.Info("Ensemble saved", "path", dir, log.MemberCountKey, e.store.Count())
	return nil
}

// LoadEnsembleWeights は保存ディレクトリからテンプレートを再構築し、全メンバーを読み込む。
// 構成または重みが存在しなければ ArtifactNotFoundError を返す。
// オプティマイザ状態と Combiner は存在しなくてもよい。
func (e *Ensemble) LoadEnsembleWeights() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.load()
}

func (e *Ensemble) load() error {
	if err := e.lc.Require("LoadEnsembleWeights", model.Empty, model.Built, model.Ready, model.Persisted, model.Restored); err != nil {
		return err
	}
	dir := e.SaveDir()
	cfg, err := nn.LoadConfig(filepath.Join(dir, e.arch))
	if err != nil {
		return err
	}
	net, err := nn.Build(cfg)
	if err != nil {
		return err
	}
	if err := e.store.Load(dir, e.arch); err != nil {
		return err
	}

	var combiner *Combiner
	if e.aggregation == LearnedWeighted {
		combiner, err = LoadCombiner(filepath.Join(dir, e.arch+"_weight_modular"), e.hparams.LearningRate, e.hparams.ClipValue)
		if err != nil && !errors.As(err, new(*errors.ArtifactNotFoundError)) {
			return err
		}
	}

	e.template = net
	e.opt = e.newOptimizer()
	e.combiner = combiner
	if err := e.lc.Restore(); err != nil {
		return err
	}
	e.logger.Debug("Ensemble loaded", "path", dir, log.MemberCountKey, e.store.Count())
	return nil
}

// ReinitializeBaseModel はテンプレートの学習可能な重みを初期化し直す
func (e *Ensemble) ReinitializeBaseModel() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.template == nil {
		return errors.NewNotLoadedError("ReinitializeBaseModel")
	}
	e.template.Reinitialize(e.rng)
	return nil
}

// GradientLossWrtInput は全サンプルのラベルを malware (1) とした BCE 損失の
// 入力に対する勾配を、全メンバーについて合計して返す
func (e *Ensemble) GradientLossWrtInput(x *mat.Dense) (*mat.Dense, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.template == nil {
		return nil, errors.NewNotLoadedError("GradientLossWrtInput")
	}
	if x == nil || x.IsEmpty() {
		return nil, errors.ErrEmptyData
	}
	r, c := x.Dims()
	y := make([]float64, r)
	for i := range y {
		y[i] = 1
	}

	sum := mat.NewDense(r, c, nil)
	gen := e.generator()
	for i, member := range gen.Members() {
		g, err := member.InputGradient(x, y)
		if err != nil {
			return nil, errors.Wrapf(err, "member %d", i)
		}
		sum.Add(sum, g)
	}
	if err := gen.Err(); err != nil {
		return nil, err
	}
	return sum, nil
}
