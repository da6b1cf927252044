package ensemble

import (
	"iter"

	"github.com/malcleanse/malcleanse/nn"
	"github.com/malcleanse/malcleanse/pkg/errors"
)

// ModelGenerator は WeightStore の各メンバーを共有テンプレートに読み込み、
// 1つずつ順番に返す。Members を呼ぶたびに最新のストア内容を反映する。
type ModelGenerator struct {
	store    *WeightStore
	template func() *nn.Network
	load     func() error
	path     string
	err      error
}

// NewModelGenerator はジェネレータを作成する。
// template は呼び出し時点のテンプレートを返し、load はストアが空のときに
// ディスクから状態を読み込む（nil なら読み込みを試みない）。path は診断用。
func NewModelGenerator(store *WeightStore, template func() *nn.Network, load func() error, path string) *ModelGenerator {
	return &ModelGenerator{store: store, template: template, load: load, path: path}
}

// Members はインデックス順に (index, 重みを読み込んだテンプレート) を返す。
// 返されるネットワークは同一インスタンスであり、次のステップで上書きされる。
// 反復終了後は Err で失敗の有無を確認すること。
//
//	for i, member := range gen.Members() {
//	    probs, _ := member.Predict(x)
//	}
//	if err := gen.Err(); err != nil {
//	    return err
//	}
func (g *ModelGenerator) Members() iter.Seq2[int, *nn.Network] {
	return func(yield func(int, *nn.Network) bool) {
		g.err = nil
		if g.store.Count() == 0 {
			if g.load == nil {
				g.err = errors.NewLoadFailureError(g.path, errors.New("weight store is empty"))
				return
			}
			if err := g.load(); err != nil {
				g.err = errors.NewLoadFailureError(g.path, err)
				return
			}
		}

		net := g.template()
		if net == nil {
			g.err = errors.NewNotLoadedError("ModelGenerator")
			return
		}
		for i := 0; i < g.store.Count(); i++ {
			weights, _, err := g.store.Get(i)
			if err != nil {
				g.err = err
				return
			}
			if err := net.SetWeights(weights); err != nil {
				g.err = errors.Wrapf(err, "member %d", i)
				return
			}
			if !yield(i, net) {
				return
			}
		}
	}
}

// Err は直近の Members の反復で発生したエラーを返す
func (g *ModelGenerator) Err() error {
	return g.err
}
