package jobstore

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreviewURLsZeroLimitMeansNone(t *testing.T) {
	urls := previewURLs(uuid.New(), 5, 0, "http://localhost:8080")
	assert.Empty(t, urls, "a preview limit of 0 disables preview URLs, it does not mean unlimited")
}

func TestPreviewURLsCappedAtLimit(t *testing.T) {
	id := uuid.New()
	urls := previewURLs(id, 5, 3, "http://localhost:8080")

	require.Len(t, urls, 3)
	assert.Equal(t, "http://localhost:8080/api/jobs/"+id.String()+"/clips/0", urls[0])
	assert.Equal(t, "http://localhost:8080/api/jobs/"+id.String()+"/clips/2", urls[2])
}

func TestPreviewURLsFewerClipsThanLimit(t *testing.T) {
	urls := previewURLs(uuid.New(), 2, 10, "http://localhost:8080")
	assert.Len(t, urls, 2)
}
