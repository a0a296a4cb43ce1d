package task_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stardag-dev/stardag-registry/sdk/task"
)

type params struct {
	A int    `json:"a"`
	B string `json:"b"`
}

type leaf struct {
	task.BaseTask
	P params
}

func (l *leaf) Namespace() string { return "test" }
func (l *leaf) Name() string      { return "leaf" }
func (l *leaf) Params() any       { return l.P }
func (l *leaf) Complete(ctx context.Context) (bool, error) {
	return false, nil
}

func init() {
	task.Register("test", "leaf", &leaf{})
}

func TestID_DeterministicForIdenticalParams(t *testing.T) {
	a := &leaf{P: params{A: 1, B: "x"}}
	b := &leaf{P: params{A: 1, B: "x"}}

	idA, err := task.ID(a)
	require.NoError(t, err)
	idB, err := task.ID(b)
	require.NoError(t, err)
	assert.Equal(t, idA, idB)
}

func TestID_DiffersForDifferentParams(t *testing.T) {
	a := &leaf{P: params{A: 1, B: "x"}}
	b := &leaf{P: params{A: 2, B: "x"}}

	idA, err := task.ID(a)
	require.NoError(t, err)
	idB, err := task.ID(b)
	require.NoError(t, err)
	assert.NotEqual(t, idA, idB)
}

// versionedLeaf is a leaf that declares an explicit run version.
type versionedLeaf struct {
	leaf
	version string
}

func (v *versionedLeaf) Version() string { return v.version }

func TestID_IgnoresVersion(t *testing.T) {
	a := &leaf{P: params{A: 1, B: "x"}}
	b := &versionedLeaf{leaf: leaf{P: params{A: 1, B: "x"}}, version: "2"}
	require.NotEqual(t, a.Version(), b.Version())

	idA, err := task.ID(a)
	require.NoError(t, err)

	// Version is not part of the content-addressed identity: two tasks
	// with the same namespace/name/parameters but different declared
	// run versions still hash to the same id.
	idB, err := task.ID(b)
	require.NoError(t, err)
	assert.Equal(t, idA, idB)
}

func TestFlatten(t *testing.T) {
	a := &leaf{P: params{A: 1}}
	b := &leaf{P: params{A: 2}}
	c := &leaf{P: params{A: 3}}

	got := task.Flatten(task.Struct([]task.Struct{
		a,
		[]task.Struct{b},
		map[string]task.Struct{"c": c},
	}))
	require.Len(t, got, 3)
	assert.Contains(t, got, task.Task(a))
	assert.Contains(t, got, task.Task(b))
	assert.Contains(t, got, task.Task(c))
}

func TestFlatten_Nil(t *testing.T) {
	assert.Nil(t, task.Flatten(nil))
}

func TestRegister_DuplicateSameTypeIsNoop(t *testing.T) {
	assert.NotPanics(t, func() {
		task.Register("test", "leaf", &leaf{})
	})
}

func TestResolve(t *testing.T) {
	typ, ok := task.Resolve("test", "leaf")
	require.True(t, ok)
	assert.Equal(t, "leaf", typ.Name())
}

func TestRefOf_Slug(t *testing.T) {
	a := &leaf{P: params{A: 1, B: "x"}}
	ref, err := task.RefOf(a)
	require.NoError(t, err)
	assert.Equal(t, "leaf", ref.Name)
	assert.Contains(t, ref.Slug(), "leaf-")
}
