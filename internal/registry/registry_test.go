package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/common-tools-interface/cti/shared/api"
)

func TestNextIDMonotonic(t *testing.T) {
	r := New[api.AppID, int]()

	a := r.NextID()
	b := r.NextID()
	c := r.NextID()

	assert.Less(t, a, b)
	assert.Less(t, b, c)
	assert.NotZero(t, a)
}

func TestInsertGetIsValid(t *testing.T) {
	r := New[api.AppID, int]()

	id := r.NextID()
	val := 42
	r.Insert(id, &val)

	got, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, 42, *got)
	assert.True(t, r.IsValid(id))
}

func TestGetMissingIsInvalid(t *testing.T) {
	r := New[api.AppID, int]()

	_, ok := r.Get(api.AppID(999))
	assert.False(t, ok)
	assert.False(t, r.IsValid(api.AppID(999)))
}

func TestDestroyIsIdempotentAndInvalidates(t *testing.T) {
	r := New[api.AppID, int]()

	id := r.NextID()
	val := 7
	r.Insert(id, &val)

	obj, ok := r.Destroy(id)
	require.True(t, ok)
	assert.Equal(t, 7, *obj)
	assert.False(t, r.IsValid(id))

	_, ok = r.Destroy(id)
	assert.False(t, ok, "second Destroy of the same id must report false")
}

func TestDestroyRetainsObjectAsWeakReference(t *testing.T) {
	r := New[api.AppID, int]()

	id := r.NextID()
	val := 99
	r.Insert(id, &val)

	obj, _ := r.Destroy(id)
	require.NotNil(t, obj)
	assert.Equal(t, 99, *obj)
}

func TestRangeVisitsOnlyLiveObjects(t *testing.T) {
	r := New[api.AppID, int]()

	ids := make([]api.AppID, 3)
	for i := range ids {
		ids[i] = r.NextID()
		v := i
		r.Insert(ids[i], &v)
	}

	r.Destroy(ids[1])

	seen := map[api.AppID]bool{}
	r.Range(func(id api.AppID, obj *int) {
		seen[id] = true
	})

	assert.True(t, seen[ids[0]])
	assert.False(t, seen[ids[1]])
	assert.True(t, seen[ids[2]])
}
