// Package thread は返信IDの参照から入れ子の返信ツリーを組み立てる。
package thread

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/unstabling/internal/model"
)

// DefaultConcurrency はMaterializeAllで同時に組み立てるツリー数の既定値。
const DefaultConcurrency = 8

// Finder は返信の一括取得に必要な操作。repository.IdeaRepositoryが満たす。
type Finder interface {
	FindByIDs(ctx context.Context, ids []string) ([]*model.Idea, error)
}

// Node は返信ツリーの節点。
type Node struct {
	Idea     *model.Idea
	Children []*Node
}

// Builder は返信ツリーを組み立てる。
type Builder struct {
	finder      Finder
	concurrency int
}

// NewBuilder はBuilderを生成する。
func NewBuilder(finder Finder) *Builder {
	return &Builder{finder: finder, concurrency: DefaultConcurrency}
}

// Materialize はideaを根とする返信ツリーを組み立てる。
// 解決できない返信IDは読み飛ばす。兄弟はスコア降順、作成日時降順、ID昇順で並べる。
// 同じIDが再び現れた場合は循環とみなして読み飛ばす。
func (b *Builder) Materialize(ctx context.Context, idea *model.Idea) (*Node, error) {
	visited := map[string]bool{idea.ID: true}
	return b.materialize(ctx, idea, visited)
}

func (b *Builder) materialize(ctx context.Context, idea *model.Idea, visited map[string]bool) (*Node, error) {
	node := &Node{Idea: idea, Children: []*Node{}}
	if len(idea.Replies) == 0 {
		return node, nil
	}

	replies, err := b.finder.FindByIDs(ctx, idea.Replies)
	if err != nil {
		return nil, fmt.Errorf("返信の取得に失敗しました: %w", err)
	}
	slices.SortFunc(replies, compareSiblings)

	for _, reply := range replies {
		if visited[reply.ID] {
			continue
		}
		visited[reply.ID] = true

		child, err := b.materialize(ctx, reply, visited)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}

// MaterializeAll は複数の根について並行にツリーを組み立てる。結果は入力と同じ順序になる。
func (b *Builder) MaterializeAll(ctx context.Context, ideas []*model.Idea) ([]*Node, error) {
	nodes := make([]*Node, len(ideas))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, idea := range ideas {
		g.Go(func() error {
			node, err := b.Materialize(ctx, idea)
			if err != nil {
				return err
			}
			nodes[i] = node
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return nodes, nil
}

// compareSiblings はスコア降順、作成日時降順、ID昇順で比較する。
func compareSiblings(a, b *model.Idea) int {
	if a.Score != b.Score {
		return b.Score - a.Score
	}
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

// Size はツリーに含まれる節点数を返す。
func (n *Node) Size() int {
	size := 1
	for _, c := range n.Children {
		size += c.Size()
	}
	return size
}
