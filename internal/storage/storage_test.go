package storage

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/secp/services/syncroom/internal/config"
	"gitlab.com/secp/services/syncroom/internal/models"
)

// Presigning is local when the region is configured, so no server is needed
func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := NewService(config.S3{
		Endpoint:  "127.0.0.1:9000",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "thumbs",
		Region:    "us-east-1",
	}, nil)
	require.NoError(t, err)
	return s
}

func TestUploadURL(t *testing.T) {
	s := newTestService(t)
	roomID := uuid.New()

	resp, err := s.UploadURL(context.Background(), roomID, models.UploadRequest{
		FileName: "cover.PNG",
		MimeType: "image/png",
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(resp.ThumbnailRef, RefPrefix+"rooms/"+roomID.String()+"/"))
	assert.True(t, strings.HasSuffix(resp.ThumbnailRef, ".png"))

	u, err := url.Parse(resp.UploadURL)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", u.Host)
	assert.True(t, strings.HasPrefix(u.Path, "/thumbs/rooms/"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))

	_, err = s.UploadURL(context.Background(), roomID, models.UploadRequest{FileName: "x.exe", MimeType: "application/octet-stream"})
	assert.True(t, errors.Is(err, ErrInvalidFile))
}

func TestResolveThumbnail(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	external := "https://i.ytimg.com/vi/x/hqdefault.jpg"
	got, err := s.ResolveThumbnail(ctx, external)
	require.NoError(t, err)
	assert.Equal(t, external, got)

	got, err = s.ResolveThumbnail(ctx, RefPrefix+"rooms/r/a.jpg")
	require.NoError(t, err)
	assert.Contains(t, got, "/thumbs/rooms/r/a.jpg")
	assert.Contains(t, got, "X-Amz-Signature")

	_, err = s.ResolveThumbnail(ctx, RefPrefix)
	assert.True(t, errors.Is(err, ErrNotStored))
}

func TestResolveItems(t *testing.T) {
	s := newTestService(t)
	items := []*models.QueueItem{
		{ID: uuid.New(), Thumbnail: "https://img/1.jpg"},
		{ID: uuid.New(), Thumbnail: RefPrefix + "rooms/r/2.jpg"},
	}

	s.ResolveItems(context.Background(), items)
	assert.Equal(t, "https://img/1.jpg", items[0].Thumbnail)
	assert.Contains(t, items[1].Thumbnail, "X-Amz-Signature")

	var nilService *Service
	nilService.ResolveItems(context.Background(), items)
}
