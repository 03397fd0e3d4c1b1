package ml

import (
	"math"
	"sort"
)

// node is one node of a regression tree. Every node carries the Newton step
// of the samples it covers (already scaled by the learning rate) so paths can
// be decomposed into per-feature contributions.
type node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
	Leaf      bool    `json:"leaf,omitempty"`
}

type tree struct {
	Nodes []node `json:"nodes"`
}

// leaf walks x down to a leaf and returns its value
func (t *tree) leaf(x []float64) float64 {
	i := 0
	for !t.Nodes[i].Leaf {
		n := t.Nodes[i]
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
	return t.Nodes[i].Value
}

// attribute adds the value change along x's path to the split feature of each
// step and returns the root value
func (t *tree) attribute(x []float64, contrib []float64) float64 {
	i := 0
	for !t.Nodes[i].Leaf {
		n := t.Nodes[i]
		next := n.Right
		if x[n.Feature] <= n.Threshold {
			next = n.Left
		}
		contrib[n.Feature] += t.Nodes[next].Value - n.Value
		i = next
	}
	return t.Nodes[0].Value
}

// treeBuilder grows one regression tree on gradient/hessian pairs
type treeBuilder struct {
	x          [][]float64
	order      [][]int // sample indices sorted by each feature
	grad, hess []float64
	params     Params
	gain       []float64 // accumulated split gain per feature
}

func newTreeBuilder(x [][]float64, params Params, features int) *treeBuilder {
	order := make([][]int, features)
	for f := 0; f < features; f++ {
		idx := make([]int, len(x))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool { return x[idx[a]][f] < x[idx[b]][f] })
		order[f] = idx
	}
	return &treeBuilder{
		x:      x,
		order:  order,
		params: params,
		gain:   make([]float64, features),
	}
}

func (b *treeBuilder) build(grad, hess []float64, members []bool) tree {
	b.grad, b.hess = grad, hess
	t := tree{}
	b.grow(&t, members, 0)
	return t
}

func (b *treeBuilder) newton(g, h float64) float64 {
	return -g / (h + b.params.Lambda) * b.params.LearningRate
}

func (b *treeBuilder) grow(t *tree, members []bool, depth int) int {
	var g, h float64
	count := 0
	for i, in := range members {
		if in {
			g += b.grad[i]
			h += b.hess[i]
			count++
		}
	}

	id := len(t.Nodes)
	t.Nodes = append(t.Nodes, node{Value: b.newton(g, h), Leaf: true})

	if depth >= b.params.MaxDepth || count < 2*b.params.MinSamplesLeaf {
		return id
	}

	feature, threshold, gain, ok := b.bestSplit(members, g, h, count)
	if !ok {
		return id
	}
	b.gain[feature] += gain

	left := make([]bool, len(members))
	right := make([]bool, len(members))
	for i, in := range members {
		if !in {
			continue
		}
		if b.x[i][feature] <= threshold {
			left[i] = true
		} else {
			right[i] = true
		}
	}

	l := b.grow(t, left, depth+1)
	r := b.grow(t, right, depth+1)
	t.Nodes[id] = node{
		Feature:   feature,
		Threshold: threshold,
		Left:      l,
		Right:     r,
		Value:     t.Nodes[id].Value,
	}
	return id
}

func (b *treeBuilder) score(g, h float64) float64 {
	return g * g / (h + b.params.Lambda)
}

func (b *treeBuilder) bestSplit(members []bool, g, h float64, count int) (int, float64, float64, bool) {
	parent := b.score(g, h)
	bestGain := b.params.MinGain
	bestFeature, bestThreshold := -1, 0.0

	for f, idx := range b.order {
		var gl, hl float64
		nl := 0
		prev := math.NaN()
		for _, i := range idx {
			if !members[i] {
				continue
			}
			v := b.x[i][f]
			if nl >= b.params.MinSamplesLeaf && count-nl >= b.params.MinSamplesLeaf && v > prev {
				gain := b.score(gl, hl) + b.score(g-gl, h-hl) - parent
				if gain > bestGain {
					bestGain = gain
					bestFeature = f
					bestThreshold = prev + (v-prev)/2
				}
			}
			gl += b.grad[i]
			hl += b.hess[i]
			nl++
			prev = v
		}
	}

	if bestFeature < 0 {
		return 0, 0, 0, false
	}
	return bestFeature, bestThreshold, bestGain, true
}
