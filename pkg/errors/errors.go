// Package errors はプロジェクト全体のエラーハンドリングと警告システムを提供します。
// アンサンブルのライフサイクル（重みストア、永続化、モデル生成）で発生する失敗を
// 型付きのエラーとして表現し、cockroachdb/errors によるスタックトレースを付与します。
package errors

import (
	"fmt"
	"log"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ===========================================================================
//
//	グローバル警告ハンドリング
//
// ===========================================================================
var (
	warningMutex   sync.Mutex
	warningHandler = func(w error) {
		log.Printf("malcleanse-Warning: %v\n", w)
	}
	// zerologロガー（循環importを避けるため遅延初期化）
	zerologWarnFunc func(warning error)
)

// SetWarningHandler はライブラリ全体の警告ハンドラを設定します。
func SetWarningHandler(handler func(w error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	warningHandler = handler
}

// SetZerologWarnFunc はzerolog警告関数を設定します（循環importを避けるため）。
func SetZerologWarnFunc(warnFunc func(warning error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	zerologWarnFunc = warnFunc
}

// Warn は警告を発生させます。
// zerologが設定されている場合は構造化ログとして出力し、そうでなければ従来のハンドラを使用します。
func Warn(w error) {
	warningMutex.Lock()
	defer warningMutex.Unlock()

	if zerologWarnFunc != nil {
		zerologWarnFunc(w)
		return
	}

	if warningHandler != nil {
		warningHandler(w)
	}
}

// ===========================================================================
//
//	警告型
//
// ===========================================================================

// UndefinedMetricWarning は評価指標が計算できない場合に発生する警告です。
// 例えば、正解ラベルが単一クラスのみで混同行列由来の指標が定義できない場合など。
type UndefinedMetricWarning struct {
	Metric    string
	Condition string
	Result    float64 // この条件で返される値
}

func (w *UndefinedMetricWarning) Error() string {
	return fmt.Sprintf("'%s' is ill-defined and being set to %f due to %s.", w.Metric, w.Result, w.Condition)
}

// MarshalZerologObject はzerologのイベントに構造化された警告情報を追加します。
func (w *UndefinedMetricWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("metric", w.Metric).
		Str("condition", w.Condition).
		Float64("result", w.Result).
		Str("type", "UndefinedMetricWarning")
}

// NewUndefinedMetricWarning は新しいUndefinedMetricWarningを作成します。
func NewUndefinedMetricWarning(metric, condition string, result float64) *UndefinedMetricWarning {
	return &UndefinedMetricWarning{Metric: metric, Condition: condition, Result: result}
}

// SkippedSampleWarning は特徴量抽出でサンプルが読めずスキップされた場合の警告です。
type SkippedSampleWarning struct {
	Path   string
	Reason string
}

func (w *SkippedSampleWarning) Error() string {
	return fmt.Sprintf("sample '%s' skipped: %s", w.Path, w.Reason)
}

// MarshalZerologObject はzerologのイベントに構造化された警告情報を追加します。
func (w *SkippedSampleWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("path", w.Path).
		Str("reason", w.Reason).
		Str("type", "SkippedSampleWarning")
}

// NewSkippedSampleWarning は新しいSkippedSampleWarningを作成します。
func NewSkippedSampleWarning(path, reason string) *SkippedSampleWarning {
	return &SkippedSampleWarning{Path: path, Reason: reason}
}

// ===========================================================================
//
//	ライフサイクルのエラー型
//
// ===========================================================================

// ConfigurationError はモデル構築時に必須の形状パラメータが欠けている場合のエラーです。
type ConfigurationError struct {
	Op     string
	Param  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("malcleanse: %s: configuration error for '%s': %s", e.Op, e.Param, e.Reason)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ConfigurationError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Str("param", e.Param).
		Str("reason", e.Reason).
		Str("type", "ConfigurationError")
}

// NewConfigurationError は新しいConfigurationErrorを作成し、スタックトレースを付与します。
func NewConfigurationError(op, param, reason string) error {
	return errors.WithStack(&ConfigurationError{Op: op, Param: param, Reason: reason})
}

// OutOfRangeError は重みストアへの書き込みインデックスが連続していない場合のエラーです。
// 呼び出し側のプログラミング上の不変条件違反であり、回復はできません。
type OutOfRangeError struct {
	Op    string
	Index int
	Count int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("malcleanse: %s: index %d out of range, %d member(s) stored (only update or append is allowed)", e.Op, e.Index, e.Count)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *OutOfRangeError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Int("index", e.Index).
		Int("count", e.Count).
		Str("type", "OutOfRangeError")
}

// NewOutOfRangeError は新しいOutOfRangeErrorを作成し、スタックトレースを付与します。
func NewOutOfRangeError(op string, index, count int) error {
	return errors.WithStack(&OutOfRangeError{Op: op, Index: index, Count: count})
}

// NotFoundError は存在しないメンバーを参照した場合のエラーです。
type NotFoundError struct {
	Op    string
	Index int
	Count int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("malcleanse: %s: member %d not found, %d member(s) stored", e.Op, e.Index, e.Count)
}

// NewNotFoundError は新しいNotFoundErrorを作成し、スタックトレースを付与します。
func NewNotFoundError(op string, index, count int) error {
	return errors.WithStack(&NotFoundError{Op: op, Index: index, Count: count})
}

// ArtifactNotFoundError は必須の永続化アーティファクト（設定・重み）が見つからない場合のエラーです。
type ArtifactNotFoundError struct {
	Artifact string
	Path     string
}

func (e *ArtifactNotFoundError) Error() string {
	return fmt.Sprintf("malcleanse: file not found: %s artifact at %s", e.Artifact, e.Path)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ArtifactNotFoundError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("artifact", e.Artifact).
		Str("path", e.Path).
		Str("type", "ArtifactNotFoundError")
}

// NewArtifactNotFoundError は新しいArtifactNotFoundErrorを作成し、スタックトレースを付与します。
func NewArtifactNotFoundError(artifact, path string) error {
	return errors.WithStack(&ArtifactNotFoundError{Artifact: artifact, Path: path})
}

// NotLoadedError はテンプレートモデルが存在しない状態で重みを読み込もうとした場合のエラーです。
type NotLoadedError struct {
	Op string
}

func (e *NotLoadedError) Error() string {
	return fmt.Sprintf("malcleanse: %s: no template model is loaded. Call BuildModel() or LoadEnsembleWeights() first", e.Op)
}

// NewNotLoadedError は新しいNotLoadedErrorを作成し、スタックトレースを付与します。
func NewNotLoadedError(op string) error {
	return errors.WithStack(&NotLoadedError{Op: op})
}

// LoadFailureError は重みストアが空で、永続化された状態も読み込めなかった場合のエラーです。
type LoadFailureError struct {
	Path string
	Err  error
}

func (e *LoadFailureError) Error() string {
	return fmt.Sprintf("malcleanse: cannot load model weights from %s: %v", e.Path, e.Err)
}

func (e *LoadFailureError) Unwrap() error {
	return e.Err
}

// NewLoadFailureError は新しいLoadFailureErrorを作成し、スタックトレースを付与します。
func NewLoadFailureError(path string, err error) error {
	return errors.WithStack(&LoadFailureError{Path: path, Err: err})
}

// LifecycleError はライフサイクル上許可されない状態で操作が呼ばれた場合のエラーです。
type LifecycleError struct {
	Op    string
	State string
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("malcleanse: %s: not allowed in state %s", e.Op, e.State)
}

// NewLifecycleError は新しいLifecycleErrorを作成し、スタックトレースを付与します。
func NewLifecycleError(op, state string) error {
	return errors.WithStack(&LifecycleError{Op: op, State: state})
}

// ===========================================================================
//
//	構造化されたエラー型
//
// ===========================================================================

// DimensionError は入力データの次元が期待値と異なる場合のエラーです。
type DimensionError struct {
	Op       string
	Expected int
	Got      int
	Axis     int // 0 for rows, 1 for columns/features
}

func (e *DimensionError) Error() string {
	axisName := "features"
	if e.Axis == 0 {
		axisName = "rows"
	}
	return fmt.Sprintf("malcleanse: %s: dimension mismatch on axis %d (%s). Expected %d, got %d", e.Op, e.Axis, axisName, e.Expected, e.Got)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *DimensionError) MarshalZerologObject(event *zerolog.Event) {
	axisName := "features"
	if e.Axis == 0 {
		axisName = "rows"
	}
	event.Str("operation", e.Op).
		Int("expected", e.Expected).
		Int("got", e.Got).
		Int("axis", e.Axis).
		Str("axis_name", axisName).
		Str("type", "DimensionError")
}

// NewDimensionError は新しいDimensionErrorを作成し、スタックトレースを付与します。
func NewDimensionError(op string, expected, got, axis int) error {
	return errors.WithStack(&DimensionError{Op: op, Expected: expected, Got: got, Axis: axis})
}

// ValidationError は入力パラメータの検証に失敗した場合のエラーです。
type ValidationError struct {
	ParamName string
	Reason    string
	Value     interface{}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("malcleanse: validation failed for parameter '%s': %s (got: %v)", e.ParamName, e.Reason, e.Value)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ValidationError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("param_name", e.ParamName).
		Str("reason", e.Reason).
		Interface("value", e.Value).
		Str("type", "ValidationError")
}

// NewValidationError は新しいValidationErrorを作成し、スタックトレースを付与します。
func NewValidationError(param, reason string, value interface{}) error {
	return errors.WithStack(&ValidationError{ParamName: param, Reason: reason, Value: value})
}

// ValueError は引数の値が不適切または不正な場合に発生するエラーです。
type ValueError struct {
	Op      string
	Message string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("malcleanse: %s: %s", e.Op, e.Message)
}

// NewValueError は新しいValueErrorを作成し、スタックトレースを付与します。
func NewValueError(op, message string) error {
	return errors.WithStack(&ValueError{Op: op, Message: message})
}

// ModelError はモデルに関する一般的なエラーです。
type ModelError struct {
	Op   string
	Kind string
	Err  error
}

func (e *ModelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malcleanse: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("malcleanse: %s: %s", e.Op, e.Kind)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// NewModelError は新しいModelErrorを作成し、スタックトレースを付与します。
func NewModelError(op, kind string, err error) error {
	return errors.WithStack(&ModelError{Op: op, Kind: kind, Err: err})
}

// NumericalInstabilityError は数値計算が不安定になった場合のエラーです。
// NaN、Inf、オーバーフローなどを検出します。
type NumericalInstabilityError struct {
	Operation string    // 発生した操作（例: "gradient_update", "loss_calculation"）
	Values    []float64 // 問題のある値
	Iteration int       // 発生したイテレーション番号
}

func (e *NumericalInstabilityError) Error() string {
	valStr := ""
	for i, v := range e.Values {
		if i > 0 {
			valStr += ", "
		}
		if i >= 5 {
			valStr += "..."
			break
		}
		valStr += fmt.Sprintf("%.6g", v)
	}
	return fmt.Sprintf("malcleanse: numerical instability detected in %s at iteration %d. Values: [%s]",
		e.Operation, e.Iteration, valStr)
}

// NewNumericalInstabilityError は新しいNumericalInstabilityErrorを作成します。
func NewNumericalInstabilityError(operation string, values []float64, iteration int) error {
	return errors.WithStack(&NumericalInstabilityError{
		Operation: operation,
		Values:    values,
		Iteration: iteration,
	})
}

// ===========================================================================
//
//	cockroachdb/errors ラッパー関数
//
// ===========================================================================

// Is はエラーが特定のターゲットエラーかどうかを判定します。
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As はエラーが特定の型にキャスト可能かどうかを判定します。
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap は既存のエラーをメッセージ付きでラップします。
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf は既存のエラーをフォーマット文字列でラップします。
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// New は新しいエラーを作成します。
func New(message string) error {
	return errors.New(message)
}

// Newf は新しいフォーマット済みエラーを作成します。
func Newf(format string, args ...interface{}) error {
	return errors.Newf(format, args...)
}

// WithStack はエラーにスタックトレースを付与します。
func WithStack(err error) error {
	return errors.WithStack(err)
}

// ===========================================================================
//
//	共通エラー変数
//
// ===========================================================================

var (
	// ErrEmptyData は空のデータが渡された場合のエラーです。
	ErrEmptyData = New("empty data")

	// ErrSingleClass は正解ラベルが単一クラスのみの場合のエラーです。
	ErrSingleClass = New("single class labels")
)
