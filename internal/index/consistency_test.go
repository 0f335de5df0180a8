package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck_ConsistentIndex(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.ApplyTuples("idx", []Tuple{
		{Class: "List", Package: "java.util"},
		{Class: "List", Package: "java.awt"},
	})
	require.NoError(t, err)

	result, err := s.Check("idx")

	require.NoError(t, err)
	assert.True(t, result.Consistent())
	assert.Equal(t, 2, result.Pairs)
}

func TestCheck_DetectsAndRepairsHalfWrittenPairs(t *testing.T) {
	// Given: pairs written to only one side, as after a crash mid-batch
	s, mem := newTestStore(t)
	require.NoError(t, s.OpenOrCreate("idx"))
	_, err := mem.CompareAndSwap(ClassKeyspace("idx"), []byte("List"), nil, []byte(`["java.util"]`))
	require.NoError(t, err)
	_, err = mem.CompareAndSwap(PackageKeyspace("idx"), []byte("java.io"), nil, []byte(`["File"]`))
	require.NoError(t, err)

	// When: checking
	result, err := s.Check("idx")
	require.NoError(t, err)

	// Then: both directions are reported
	assert.Equal(t, []Inconsistency{
		{Type: MissingClassSide, Class: "File", Package: "java.io"},
		{Type: MissingPackageSide, Class: "List", Package: "java.util"},
	}, result.Inconsistencies)
	assert.Equal(t, 2, result.Pairs)
	assert.Equal(t, "missing_class_side", MissingClassSide.String())

	// When: repairing
	n, err := s.Repair("idx", result.Inconsistencies)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Then: the index is consistent again
	result, err = s.Check("idx")
	require.NoError(t, err)
	assert.True(t, result.Consistent())
	got, err := s.QueryPackage("idx", "java.util")
	require.NoError(t, err)
	assert.Equal(t, []string{"List"}, got["java.util"])
}
