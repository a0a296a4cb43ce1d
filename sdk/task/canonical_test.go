package task_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stardag-dev/stardag-registry/sdk/task"
)

type compatParams struct {
	BarkDB   int `json:"bark_db"`
	Loudness int `json:"loudness" stardag:"compat=0"`
}

type dog struct {
	task.BaseTask
	P compatParams
}

func (d *dog) Namespace() string { return "test" }
func (d *dog) Name() string      { return "dog" }
func (d *dog) Params() any       { return d.P }

func init() {
	task.Register("test", "dog", &dog{})
}

func TestID_HashModeDropsCompatDefault(t *testing.T) {
	// Loudness=0 is the declared compat default, so it's dropped from
	// the hash-mode serialization: a dog with loudness omitted entirely
	// (zero value) hashes the same as one that explicitly sets 0.
	withDefault := &dog{P: compatParams{BarkDB: 90, Loudness: 0}}
	withoutField := &dog{P: compatParams{BarkDB: 90}}

	idWithDefault, err := task.ID(withDefault)
	require.NoError(t, err)
	idWithoutField, err := task.ID(withoutField)
	require.NoError(t, err)
	assert.Equal(t, idWithDefault, idWithoutField)

	// A non-default loudness changes the id.
	nonDefault := &dog{P: compatParams{BarkDB: 90, Loudness: 5}}
	idNonDefault, err := task.ID(nonDefault)
	require.NoError(t, err)
	assert.NotEqual(t, idWithDefault, idNonDefault)
}

func TestCanonicalJSON_NormalModeIncludesDiscriminator(t *testing.T) {
	d := &dog{P: compatParams{BarkDB: 90, Loudness: 0}}
	data, err := task.CanonicalJSON(d, task.ModeNormal)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"__ns__":"test"`)
	assert.Contains(t, string(data), `"__name__":"dog"`)
	assert.Contains(t, string(data), `"loudness":0`)
}

type withDepParams struct {
	Upstream *leaf `json:"upstream"`
}

type wrapperTask struct {
	task.BaseTask
	P withDepParams
}

func (w *wrapperTask) Namespace() string { return "test" }
func (w *wrapperTask) Name() string      { return "wrapper" }
func (w *wrapperTask) Params() any       { return w.P }

func init() {
	task.Register("test", "wrapper", &wrapperTask{})
}

func TestCanonicalJSON_HashModeCollapsesNestedTask(t *testing.T) {
	upstream := &leaf{P: params{A: 1, B: "x"}}
	wrapper := &wrapperTask{P: withDepParams{Upstream: upstream}}

	upstreamID, err := task.ID(upstream)
	require.NoError(t, err)

	data, err := task.CanonicalJSON(wrapper, task.ModeHash)
	require.NoError(t, err)
	assert.Contains(t, string(data), upstreamID)
}
