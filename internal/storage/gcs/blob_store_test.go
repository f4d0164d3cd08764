package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesInputs(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.ErrorContains(t, err, "storage client is required")

	_, err = New(&storage.Client{}, Config{})
	require.ErrorContains(t, err, "bucket name is required")

	s, err := New(&storage.Client{}, Config{Bucket: "pulse-archive"})
	require.NoError(t, err)
	_, err = s.PutObject(context.Background(), " ", "application/json", nil)
	require.ErrorContains(t, err, "path is required")
}
