package schema_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kvdex "github.com/kvdex-go/kvdex"
	"github.com/kvdex-go/kvdex/kv/memkv"
	"github.com/kvdex-go/kvdex/model"
	"github.com/kvdex-go/kvdex/schema"
)

type profile struct {
	Bio string `json:"bio" msgpack:"bio"`
}

type post struct {
	Title string `json:"title" msgpack:"title"`
}

func TestBuildWalksDottedPaths(t *testing.T) {
	_, tree := schema.Build(memkv.New(), schema.Group(map[string]schema.Node{
		"users": schema.Group(map[string]schema.Node{
			"profiles": schema.Collection[profile](model.Always[profile]{}),
		}),
		"posts": schema.Collection[post](model.Always[post]{}),
	}))

	require.Contains(t, tree, "users.profiles")
	require.Contains(t, tree, "posts")

	profiles, ok := tree["users.profiles"].(*kvdex.Collection[profile])
	require.True(t, ok, "leaf must type-assert back to its declared *kvdex.Collection[T]")

	ctx := context.Background()
	res, err := profiles.Add(ctx, profile{Bio: "hello"})
	require.NoError(t, err)
	assert.True(t, res.OK)

	posts, ok := tree["posts"].(*kvdex.Collection[post])
	require.True(t, ok)
	_, err = posts.Add(ctx, post{Title: "first"})
	require.NoError(t, err)
}
