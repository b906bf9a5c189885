package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecordStartsWithOneRef(t *testing.T) {
	r := New([]byte("hello"), Priority{Facility: 1, Severity: 6}, Origin{Host: "h"}, NoDelay)
	assert.EqualValues(t, 1, r.RefCount())
}

func TestAddRefReleaseBalances(t *testing.T) {
	r := New([]byte("hello"), Priority{}, Origin{}, NoDelay)
	freed := false
	r.OnFree(func(*Record) { freed = true })

	r.AddRef()
	assert.EqualValues(t, 2, r.RefCount())

	r.Release()
	assert.False(t, freed, "must not free while a reference remains")
	assert.EqualValues(t, 1, r.RefCount())

	r.Release()
	assert.True(t, freed, "must free exactly when refcount reaches zero")
}

func TestReleaseFreesOnlyOnce(t *testing.T) {
	r := New([]byte("x"), Priority{}, Origin{}, NoDelay)
	calls := 0
	r.OnFree(func(*Record) { calls++ })

	r.Release()
	require.Equal(t, 1, calls)
	assert.EqualValues(t, 0, r.RefCount())
}

func TestCloneIsIndependent(t *testing.T) {
	r := New([]byte("hello"), Priority{Facility: 3}, Origin{Host: "a"}, LightDelay)
	r.Vars["k"] = "v"

	c := r.Clone()
	c.Vars["k"] = "changed"
	c.Raw[0] = 'H'

	assert.Equal(t, "v", r.Vars["k"])
	assert.Equal(t, "hello", string(r.Raw))
	assert.EqualValues(t, 1, c.RefCount())
}

func TestSameContent(t *testing.T) {
	a := New([]byte("msg"), Priority{}, Origin{Host: "h1", App: "app", ProcID: "1"}, NoDelay)
	b := New([]byte("msg"), Priority{}, Origin{Host: "h1", App: "app", ProcID: "1"}, NoDelay)
	c := New([]byte("other"), Priority{}, Origin{Host: "h1", App: "app", ProcID: "1"}, NoDelay)

	assert.True(t, SameContent(a, b))
	assert.False(t, SameContent(a, c))
	assert.False(t, SameContent(a, nil))
	assert.True(t, SameContent(nil, nil))
}

func TestFlowClassString(t *testing.T) {
	assert.Equal(t, "no-delay", NoDelay.String())
	assert.Equal(t, "light-delay", LightDelay.String())
	assert.Equal(t, "full-delay", FullDelay.String())
}
