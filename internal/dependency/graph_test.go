package dependency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequirementsAndDependents(t *testing.T) {
	g := New()
	g.Add("T2", "T1", EdgeToken)
	g.Add("T3", "T1", EdgeData)
	g.Add("T3", "T2", EdgeData)

	reqs := g.Requirements("T3")
	require.Len(t, reqs, 2)
	assert.Equal(t, "T1", reqs[0].RequiredTestID)
	assert.Equal(t, EdgeData, reqs[0].Type)

	assert.Equal(t, []string{"T2", "T3"}, g.Dependents("T1"))
	assert.Empty(t, g.Requirements("T1"))
}

func TestTransitiveRequirements(t *testing.T) {
	g := New()
	g.Add("T3", "T2", EdgeData)
	g.Add("T2", "T1", EdgeToken)

	chain, err := g.TransitiveRequirements("T3")
	require.NoError(t, err)
	assert.Equal(t, []string{"T1", "T2"}, chain, "dependency-first order")

	chain, err = g.TransitiveRequirements("T1")
	require.NoError(t, err)
	assert.Empty(t, chain)
}

func TestTransitiveRequirements_SharedDependency(t *testing.T) {
	// Diamond: T4 needs T2 and T3, both need T1. T1 must appear once.
	g := New()
	g.Add("T4", "T2", EdgeData)
	g.Add("T4", "T3", EdgeData)
	g.Add("T2", "T1", EdgeData)
	g.Add("T3", "T1", EdgeData)

	chain, err := g.TransitiveRequirements("T4")
	require.NoError(t, err)
	assert.Equal(t, []string{"T1", "T2", "T3"}, chain)
}

func TestCycleDetection(t *testing.T) {
	g := New()
	g.Add("A", "B", EdgeData)
	g.Add("B", "C", EdgeData)
	g.Add("C", "A", EdgeData)

	_, err := g.TransitiveRequirements("A")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestChain_OrdersByRunOrder(t *testing.T) {
	g := New()
	g.Add("T4", "T3", EdgeData)
	g.Add("T4", "T1", EdgeData)
	g.Add("T3", "T2", EdgeData)

	chain, err := g.Chain("T4", []string{"T1", "T2", "T3", "T4"})
	require.NoError(t, err)
	assert.Equal(t, []string{"T1", "T2", "T3"}, chain)

	// Tests missing from the stored order sort after the ordered ones.
	chain, err = g.Chain("T4", []string{"T3"})
	require.NoError(t, err)
	assert.Equal(t, "T3", chain[0])
	assert.ElementsMatch(t, []string{"T1", "T2"}, chain[1:])
}

func TestFromRecords(t *testing.T) {
	g := FromRecords([]Record{
		{DependentTestID: "T2", RequiredTestID: "T1", Type: EdgeToken},
	})

	reqs := g.Requirements("T2")
	require.Len(t, reqs, 1)
	assert.Equal(t, EdgeToken, reqs[0].Type)
}
