package inspect_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	schema "gitlab.diskarte.net/engineering/redis-admin"
	"gitlab.diskarte.net/engineering/redis-admin/internal/inspect"
	"gitlab.diskarte.net/engineering/redis-admin/internal/redistest"
)

func TestDescribe(t *testing.T) {
	srv := redistest.NewServer()
	srv.SetList("queue", "job1")
	ins := inspect.New(srv.Client(), 0)

	d, err := ins.Describe(context.Background(), "queue")
	require.NoError(t, err)
	assert.Equal(t, schema.TypeList, d.Type)
	assert.Equal(t, schema.SizeUnknown, d.ApproxSize)

	_, err = ins.Describe(context.Background(), "missing")
	assert.ErrorIs(t, err, schema.ErrNotFound)
}

func TestDetailPreservesOrderDropsMissing(t *testing.T) {
	srv := redistest.NewServer()
	srv.SetString("a", "1")
	srv.SetString("c", "3")
	ins := inspect.New(srv.Client(), 2)

	in := []schema.KeyDescriptor{
		{Name: "a", Type: schema.TypeUnknown},
		{Name: "b", Type: schema.TypeUnknown}, // vanished since the scan
		{Name: "c", Type: schema.TypeUnknown},
	}
	out, err := ins.Detail(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Name)
	assert.Equal(t, "c", out[1].Name)
	assert.Equal(t, schema.TypeString, out[0].Type)
	assert.NotEqual(t, schema.SizeUnknown, out[0].ApproxSize)
}

func TestDetailOne(t *testing.T) {
	srv := redistest.NewServer()
	srv.SetHash("h", map[string]string{"f": "v"})
	ins := inspect.New(srv.Client(), 0)

	d, err := ins.DetailOne(context.Background(), schema.KeyDescriptor{Name: "h"})
	require.NoError(t, err)
	assert.Equal(t, schema.TypeHash, d.Type)
	assert.NotEmpty(t, d.Encoding)
}
