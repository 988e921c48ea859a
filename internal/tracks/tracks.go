// Package tracks looks up metadata for external track ids
package tracks

import (
	"context"
	"regexp"

	"github.com/pkg/errors"
	"github.com/sosodev/duration"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"gitlab.com/secp/services/syncroom/internal/logger"
)

var (
	ErrTrackNotFound  = errors.New("track not found")
	ErrInvalidTrackID = errors.New("invalid track id")
)

var videoIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// Info is what a lookup knows about a track
type Info struct {
	TrackID         string
	Title           string
	Thumbnail       string
	DurationSeconds int64
}

// Resolver fills in metadata for a track id
type Resolver interface {
	Lookup(ctx context.Context, trackID string) (*Info, error)
}

// ValidVideoID reports whether id has the shape of a YouTube video id
func ValidVideoID(id string) bool {
	return videoIDRe.MatchString(id)
}

var (
	partSnippet        = "snippet"
	partContentDetails = "contentDetails"
)

// YouTube resolves track ids against the YouTube Data API
type YouTube struct {
	service *youtube.Service
	log     *zap.Logger
}

// NewYouTube creates a resolver using an API key. Extra client options are
// appended, which tests use to point at a fake endpoint.
func NewYouTube(ctx context.Context, apiKey string, log *zap.Logger, opts ...option.ClientOption) (*YouTube, error) {
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	service, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create youtube client")
	}
	return &YouTube{service: service, log: logger.OrNop(log).Named("tracks")}, nil
}

// Lookup fetches title, thumbnail and duration of a video
func (y *YouTube) Lookup(ctx context.Context, trackID string) (*Info, error) {
	if !ValidVideoID(trackID) {
		return nil, ErrInvalidTrackID
	}

	call := y.service.Videos.List([]string{partSnippet, partContentDetails}).Id(trackID).Context(ctx)
	resp, err := call.Do()
	if err != nil {
		return nil, errors.Wrap(err, "youtube videos.list failed")
	}
	if len(resp.Items) == 0 {
		return nil, ErrTrackNotFound
	}

	item := resp.Items[0]
	info := &Info{TrackID: trackID}

	if item.Snippet != nil {
		info.Title = item.Snippet.Title
		info.Thumbnail = bestThumbnail(item.Snippet.Thumbnails)
	}

	if item.ContentDetails != nil && item.ContentDetails.Duration != "" {
		seconds, err := DurationSeconds(item.ContentDetails.Duration)
		if err != nil {
			y.log.Warn("Unparseable video duration",
				zap.String("track", trackID), zap.String("duration", item.ContentDetails.Duration))
		} else {
			info.DurationSeconds = seconds
		}
	}

	return info, nil
}

func bestThumbnail(t *youtube.ThumbnailDetails) string {
	if t == nil {
		return ""
	}
	for _, th := range []*youtube.Thumbnail{t.Maxres, t.High, t.Medium, t.Default} {
		if th != nil && th.Url != "" {
			return th.Url
		}
	}
	return ""
}

// DurationSeconds converts an ISO-8601 duration such as PT4M13S to seconds
func DurationSeconds(iso string) (int64, error) {
	d, err := duration.Parse(iso)
	if err != nil {
		return 0, err
	}
	return int64(d.Seconds) + int64(d.Minutes)*60 + int64(d.Hours)*3600 + int64(d.Days)*86400, nil
}

// Static resolves from a fixed map. It backs tests and offline setups.
type Static map[string]Info

func (s Static) Lookup(_ context.Context, trackID string) (*Info, error) {
	info, ok := s[trackID]
	if !ok {
		return nil, errors.Wrap(ErrTrackNotFound, trackID)
	}
	return &info, nil
}
