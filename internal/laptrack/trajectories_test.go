package laptrack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrajectories_Components(t *testing.T) {
	seq := buildSequence(t, [][]spot{
		{{x: 0}, {x: 10}, {x: 20}},
		{{x: 0}, {x: 10}},
		{{x: 0}},
	})
	// Component one: a split at 0:0. Component two: 0:1 -> 1:1.
	// 0:2 stays unlinked.
	require.NoError(t, seq.Link(Ref{0, 1}, Ref{1, 1}))
	require.NoError(t, seq.Link(Ref{0, 0}, Ref{1, 0}))
	require.NoError(t, seq.Link(Ref{1, 0}, Ref{2, 0}))
	require.NoError(t, seq.Link(Ref{0, 0}, Ref{2, 0}))

	trajs := Trajectories(seq)
	require.Len(t, trajs, 2)
	assert.Equal(t, []Ref{{0, 0}, {1, 0}, {2, 0}}, trajs[0].Detections)
	assert.Equal(t, []Ref{{0, 1}, {1, 1}}, trajs[1].Detections)

	assert.Equal(t, []Link{
		{From: Ref{0, 0}, To: Ref{1, 0}},
		{From: Ref{0, 0}, To: Ref{2, 0}},
		{From: Ref{1, 0}, To: Ref{2, 0}},
	}, trajs[0].Edges(seq))
	assert.Equal(t, Ref{0, 1}, trajs[1].Start())
}

func TestTrajectories_NoLinks(t *testing.T) {
	seq := buildSequence(t, [][]spot{{{x: 0}}, {{x: 1}}})
	assert.Empty(t, Trajectories(seq))
}
