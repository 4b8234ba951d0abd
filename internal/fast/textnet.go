package fast

import (
	"fmt"
	"math"

	"github.com/MeKo-Tech/textpipe/internal/arch"
	"gonum.org/v1/gonum/stat/distuv"
)

// Kernel is a (height, width) convolution kernel size.
type Kernel [2]int

// Stage lists the per-layer parameters of one TextNet stage.
type Stage struct {
	InChannels  []int
	OutChannels []int
	Kernels     []Kernel
	Strides     []int
}

func k(h, w int) Kernel { return Kernel{h, w} }

func repeat[T any](v T, n int) []T {
	out := make([]T, n)
	for i := range out {
		out[i] = v
	}
	return out
}

var textNetStages = map[arch.Name][]Stage{
	arch.TextNetTiny: {
		{repeat(64, 3), repeat(64, 3), repeat(k(3, 3), 3), []int{1, 2, 1}},
		{[]int{64, 128, 128, 128}, repeat(128, 4), []Kernel{k(3, 3), k(1, 3), k(3, 3), k(3, 1)}, []int{2, 1, 1, 1}},
		{[]int{128, 256, 256, 256}, repeat(256, 4), []Kernel{k(3, 3), k(3, 3), k(3, 1), k(1, 3)}, []int{2, 1, 1, 1}},
		{[]int{256, 512, 512, 512}, repeat(512, 4), []Kernel{k(3, 3), k(3, 1), k(1, 3), k(3, 3)}, []int{2, 1, 1, 1}},
	},
	arch.TextNetSmall: {
		{repeat(64, 2), repeat(64, 2), repeat(k(3, 3), 2), []int{1, 2}},
		{
			[]int{64, 128, 128, 128, 128, 128, 128, 128}, repeat(128, 8),
			[]Kernel{k(3, 3), k(1, 3), k(3, 3), k(3, 1), k(3, 3), k(3, 1), k(1, 3), k(3, 3)},
			[]int{2, 1, 1, 1, 1, 1, 1, 1},
		},
		{
			[]int{128, 256, 256, 256, 256, 256, 256, 256}, repeat(256, 8),
			[]Kernel{k(3, 3), k(3, 3), k(1, 3), k(3, 1), k(3, 3), k(1, 3), k(3, 1), k(3, 3)},
			[]int{2, 1, 1, 1, 1, 1, 1, 1},
		},
		{
			[]int{256, 512, 512, 512, 512}, repeat(512, 5),
			[]Kernel{k(3, 3), k(3, 1), k(1, 3), k(1, 3), k(3, 1)},
			[]int{2, 1, 1, 1, 1},
		},
	},
	arch.TextNetBase: {
		{
			repeat(64, 10), repeat(64, 10),
			[]Kernel{k(3, 3), k(3, 3), k(3, 1), k(3, 3), k(3, 1), k(3, 3), k(3, 3), k(1, 3), k(3, 3), k(3, 3)},
			[]int{1, 2, 1, 1, 1, 1, 1, 1, 1, 1},
		},
		{
			[]int{64, 128, 128, 128, 128, 128, 128, 128, 128, 128}, repeat(128, 10),
			[]Kernel{k(3, 3), k(1, 3), k(3, 3), k(3, 1), k(3, 3), k(3, 3), k(3, 1), k(3, 1), k(3, 3), k(3, 3)},
			[]int{2, 1, 1, 1, 1, 1, 1, 1, 1, 1},
		},
		{
			[]int{128, 256, 256, 256, 256, 256, 256, 256}, repeat(256, 8),
			[]Kernel{k(3, 3), k(3, 3), k(3, 3), k(1, 3), k(3, 3), k(3, 1), k(3, 3), k(3, 1)},
			[]int{2, 1, 1, 1, 1, 1, 1, 1},
		},
		{
			[]int{256, 512, 512, 512, 512}, repeat(512, 5),
			[]Kernel{k(3, 3), k(1, 3), k(3, 1), k(3, 1), k(1, 3)},
			[]int{2, 1, 1, 1, 1},
		},
	},
}

// Stages returns the stage table of a TextNet variant.
func Stages(variant arch.Name) ([]Stage, error) {
	s, ok := textNetStages[variant]
	if !ok {
		return nil, fmt.Errorf("unknown TextNet variant %q", variant)
	}
	return s, nil
}

// StemChannels is the output width of the TextNet stem convolution.
const StemChannels = 64

// Build assembles a network from a stem width and stage table. All
// weights are zero until Init is called.
func Build(inChannels, stemChannels int, stages []Stage) (*Network, error) {
	n := &Network{
		Stem: ConvBN{Conv: NewConv(inChannels, stemChannels, 3, 3, 2), BN: NewBatchNorm(stemChannels)},
	}
	prev := stemChannels
	for si, st := range stages {
		if len(st.OutChannels) != len(st.InChannels) || len(st.Kernels) != len(st.InChannels) ||
			len(st.Strides) != len(st.InChannels) {
			return nil, fmt.Errorf("stage %d: parameter lists differ in length", si)
		}
		layers := make([]ConvLayer, len(st.InChannels))
		for i := range st.InChannels {
			if st.InChannels[i] != prev {
				return nil, fmt.Errorf("stage %d layer %d: input channels %d != previous output %d",
					si, i, st.InChannels[i], prev)
			}
			layers[i] = NewConvLayer(st.InChannels[i], st.OutChannels[i], st.Kernels[i][0], st.Kernels[i][1], st.Strides[i])
			prev = st.OutChannels[i]
		}
		n.Stages = append(n.Stages, layers)
	}
	head := NewConv(prev, 1, 1, 1, 1)
	head.Bias = make([]float64, 1)
	n.Head = head
	return n, nil
}

// NewTextNet builds a randomly initialised FAST network on the named
// TextNet backbone.
func NewTextNet(variant arch.Name) (*Network, error) {
	stages, err := Stages(variant)
	if err != nil {
		return nil, err
	}
	n, err := Build(3, StemChannels, stages)
	if err != nil {
		return nil, err
	}
	n.Init()
	return n, nil
}

// Init draws He-normal weights for every convolution and perturbs the
// batch norm statistics so that branch fusion is non-trivial.
func (n *Network) Init() {
	initConvBN(&n.Stem)
	for _, st := range n.Stages {
		for i := range st {
			initConvBN(&st[i].Main)
			if st[i].Vertical != nil {
				initConvBN(st[i].Vertical)
			}
			if st[i].Horizontal != nil {
				initConvBN(st[i].Horizontal)
			}
			if st[i].Identity != nil {
				initBN(st[i].Identity)
			}
		}
	}
	heNormal(&n.Head)
}

func heNormal(c *Conv) {
	fanIn := float64(c.In * c.KH * c.KW)
	dist := distuv.Normal{Mu: 0, Sigma: math.Sqrt(2 / fanIn)}
	for i := range c.Weight {
		c.Weight[i] = dist.Rand()
	}
}

func initBN(bn *BatchNorm) {
	gamma := distuv.Uniform{Min: 0.5, Max: 1.5}
	shift := distuv.Normal{Mu: 0, Sigma: 0.1}
	variance := distuv.Uniform{Min: 0.5, Max: 2}
	for i := range bn.Gamma {
		bn.Gamma[i] = gamma.Rand()
		bn.Beta[i] = shift.Rand()
		bn.Mean[i] = shift.Rand()
		bn.Var[i] = variance.Rand()
	}
}

func initConvBN(cb *ConvBN) {
	heNormal(&cb.Conv)
	if cb.BN != nil {
		initBN(cb.BN)
	}
}
