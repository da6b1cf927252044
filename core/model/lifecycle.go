// Package model はアンサンブルのライフサイクル管理と永続化のプリミティブを提供します。
package model

import (
	"sync"

	"github.com/malcleanse/malcleanse/pkg/errors"
)

// State はアンサンブルのライフサイクル上の状態を表す
type State int

const (
	// Empty はテンプレートモデルも重みも存在しない状態
	Empty State = iota
	// Built はテンプレートモデルが構築済みで、学習済みメンバーが揃っていない状態
	Built
	// Training はfit/finetuneの実行中
	Training
	// Ready は全メンバーの重みがメモリ上に揃った状態
	Ready
	// Persisted はメモリ上の状態がディスクに保存された状態
	Persisted
	// Restored はディスクから読み込まれた状態
	Restored
)

func (s State) String() string {
	switch s {
	case Empty:
		return "Empty"
	case Built:
		return "Built"
	case Training:
		return "Training"
	case Ready:
		return "Ready"
	case Persisted:
		return "Persisted"
	case Restored:
		return "Restored"
	default:
		return "Unknown"
	}
}

// Lifecycle はアンサンブルの状態遷移をスレッドセーフに管理する。
// 許可されない遷移は LifecycleError を返し、状態は変更されない。
type Lifecycle struct {
	mu    sync.RWMutex
	state State
}

// NewLifecycle は Empty 状態の Lifecycle を作成する
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: Empty}
}

// State は現在の状態を返す
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Require は現在の状態が allowed のいずれかであることを確認する
func (l *Lifecycle) Require(op string, allowed ...State) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.check(op, allowed)
}

func (l *Lifecycle) check(op string, allowed []State) error {
	for _, s := range allowed {
		if l.state == s {
			return nil
		}
	}
	return errors.NewLifecycleError(op, l.state.String())
}

func (l *Lifecycle) transition(op string, to State, allowed ...State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.check(op, allowed); err != nil {
		return err
	}
	l.state = to
	return nil
}

// Build はテンプレートモデルの(再)構築を記録する。学習中は不可。
func (l *Lifecycle) Build() error {
	return l.transition("Build", Built, Empty, Built, Ready, Persisted, Restored)
}

// BeginFit は学習の開始を記録する。テンプレートが必要。
func (l *Lifecycle) BeginFit() error {
	return l.transition("Fit", Training, Built, Ready, Persisted, Restored)
}

// EndFit は学習の終了を記録する。count が target に達していれば Ready、
// 途中で中断された場合は Built に戻る。
func (l *Lifecycle) EndFit(count, target int) error {
	to := Built
	if count >= target && count > 0 {
		to = Ready
	}
	return l.transition("EndFit", to, Training)
}

// Persist は保存の完了を記録する。メンバーが揃っていない Built からも保存できる。
func (l *Lifecycle) Persist() error {
	return l.transition("Save", Persisted, Built, Ready, Persisted, Restored)
}

// Restore はディスクからの読み込み完了を記録する
func (l *Lifecycle) Restore() error {
	return l.transition("Load", Restored, Empty, Built, Ready, Persisted, Restored)
}

// Discard はメモリ上のテンプレートと重みの破棄を記録する
func (l *Lifecycle) Discard() error {
	return l.transition("Discard", Empty, Empty, Built, Ready, Persisted, Restored)
}

// HasMembers は学習済みメンバーが利用可能な状態かどうかを返す
func (l *Lifecycle) HasMembers() bool {
	switch l.State() {
	case Ready, Persisted, Restored:
		return true
	default:
		return false
	}
}
