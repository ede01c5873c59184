package mirror

import (
	"math/rand"
	"testing"

	apperrors "github.com/cloudoperators/greenhouse-mirror/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

func res(name string, fields ...interface{}) Resource {
	obj := map[string]interface{}{
		"kind":     "Cluster",
		"metadata": map[string]interface{}{"name": name},
	}
	for i := 0; i+1 < len(fields); i += 2 {
		obj[fields[i].(string)] = fields[i+1]
	}
	return Resource{Name: name, Object: obj}
}

func TestNewResource(t *testing.T) {
	tests := []struct {
		name    string
		obj     map[string]interface{}
		want    string
		wantErr bool
	}{
		{
			name: "valid",
			obj:  map[string]interface{}{"metadata": map[string]interface{}{"name": "c1"}},
			want: "c1",
		},
		{name: "nil body", obj: nil, wantErr: true},
		{name: "no metadata", obj: map[string]interface{}{"kind": "Plugin"}, wantErr: true},
		{
			name:    "empty name",
			obj:     map[string]interface{}{"metadata": map[string]interface{}{"name": ""}},
			wantErr: true,
		},
		{
			name:    "name not a string",
			obj:     map[string]interface{}{"metadata": map[string]interface{}{"name": 42}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewResource(tt.obj)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.HasCode(err, apperrors.ErrorMalformedEvent))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.Name)
			assert.Equal(t, tt.obj, r.Object)
		})
	}
}

func TestFromUnstructured(t *testing.T) {
	u := &unstructured.Unstructured{}
	u.SetName("p1")
	u.SetKind("Plugin")

	r, err := FromUnstructured(u)
	require.NoError(t, err)
	assert.Equal(t, "p1", r.Name)
	assert.Equal(t, "Plugin", r.Unstructured().GetKind())

	_, err = FromUnstructured(nil)
	assert.Error(t, err)
}

func TestApplyUpserts(t *testing.T) {
	a, b, c := res("a"), res("b"), res("c")

	t.Run("update keeps position", func(t *testing.T) {
		b2 := res("b", "v", 2)
		got := ApplyUpserts(Collection{a, b, c}, []Resource{b2})
		assert.Equal(t, Collection{a, b2, c}, got)
	})

	t.Run("new name appends", func(t *testing.T) {
		d := res("d")
		got := ApplyUpserts(Collection{a, b}, []Resource{d})
		assert.Equal(t, Collection{a, b, d}, got)
	})

	t.Run("idempotent for unchanged payload", func(t *testing.T) {
		for _, existing := range []Collection{{}, {a}, {a, b, c}} {
			once := ApplyUpserts(existing, []Resource{b})
			twice := ApplyUpserts(once, []Resource{b})
			assert.Equal(t, once, twice)
		}
	})

	t.Run("does not modify input", func(t *testing.T) {
		existing := Collection{a, b}
		_ = ApplyUpserts(existing, []Resource{res("a", "v", 9), res("z")})
		assert.Equal(t, Collection{a, b}, existing)
	})

	t.Run("repeated name in batch, last wins", func(t *testing.T) {
		got := ApplyUpserts(Collection{}, []Resource{res("x", "v", 1), res("y"), res("x", "v", 2)})
		assert.Equal(t, []string{"x", "y"}, got.Names())
		assert.Equal(t, 2, got[0].Object["v"])
	})

	t.Run("nameless item panics", func(t *testing.T) {
		assert.Panics(t, func() {
			ApplyUpserts(Collection{a}, []Resource{{Object: map[string]interface{}{}}})
		})
	})
}

func TestApplyDeletes(t *testing.T) {
	a, b, c := res("a"), res("b"), res("c")

	t.Run("removes and keeps order", func(t *testing.T) {
		got := ApplyDeletes(Collection{a, b, c}, []Resource{b})
		assert.Equal(t, Collection{a, c}, got)
	})

	t.Run("absent name is a no-op", func(t *testing.T) {
		got := ApplyDeletes(Collection{a, b}, []Resource{res("y")})
		assert.Equal(t, Collection{a, b}, got)
	})

	t.Run("delete payload is irrelevant", func(t *testing.T) {
		got := ApplyDeletes(Collection{a}, []Resource{{Name: "a"}})
		assert.Empty(t, got)
	})

	t.Run("does not modify input", func(t *testing.T) {
		existing := Collection{a, b}
		_ = ApplyDeletes(existing, []Resource{a})
		assert.Equal(t, Collection{a, b}, existing)
	})

	t.Run("nameless item panics", func(t *testing.T) {
		assert.Panics(t, func() { ApplyDeletes(Collection{a}, []Resource{{}}) })
	})
}

func TestUniquenessUnderRandomEvents(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	names := []string{"a", "b", "c", "d", "e"}

	for run := 0; run < 50; run++ {
		coll := Collection{}
		for step := 0; step < 40; step++ {
			batch := make([]Resource, rng.Intn(4)+1)
			for i := range batch {
				batch[i] = res(names[rng.Intn(len(names))], "step", step)
			}
			if rng.Intn(3) == 0 {
				coll = ApplyDeletes(coll, batch)
			} else {
				coll = ApplyUpserts(coll, batch)
			}

			seen := map[string]bool{}
			for _, n := range coll.Names() {
				require.False(t, seen[n], "duplicate name %q on run %d step %d", n, run, step)
				seen[n] = true
			}
		}
	}
}

func TestDeepCopy(t *testing.T) {
	orig := Collection{res("a", "spec", map[string]interface{}{"replicas": int64(1)})}
	cp := orig.DeepCopy()
	require.Equal(t, orig, cp)

	cp[0].Object["spec"].(map[string]interface{})["replicas"] = int64(5)
	assert.Equal(t, int64(1), orig[0].Object["spec"].(map[string]interface{})["replicas"])

	assert.Nil(t, Collection(nil).DeepCopy())
}
