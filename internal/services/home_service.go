// Package services – HomeService
//
// HomeService serves the read-only views of the landing and playlist
// screens: display name, latest stress level, latest climate and the songs of
// the most recently recommended playlist. Missing values fall back to
// "Unknown" rather than failing the view.
package services

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/tbourn/wellness-sync/internal/apperror"
	"github.com/tbourn/wellness-sync/internal/domain"
	"github.com/tbourn/wellness-sync/internal/repo"
)

// DefaultPlaylistName names the playlist view.
const DefaultPlaylistName = "Recommended Playlist"

// HomeService composes views from stored documents.
type HomeService struct {
	Store DocumentStore
	Sync  *SyncService
}

// NewHomeService returns a HomeService reading through sync's store.
func NewHomeService(sync *SyncService) *HomeService {
	return &HomeService{Store: sync.Store, Sync: sync}
}

// Home returns the landing summary.
func (s *HomeService) Home(ctx context.Context, userID string) (domain.Home, error) {
	ctx, span := otel.Tracer("services/HomeService").Start(ctx, "Home")
	defer span.End()

	key, err := userKey(userID)
	if err != nil {
		return domain.Home{}, err
	}
	h := domain.Home{FullName: domain.UnknownLabel, StressLevel: domain.UnknownLabel, Climate: domain.UnknownLabel}

	user, err := s.Store.Get(ctx, domain.CollectionUsers, key)
	switch {
	case err == nil:
		if name := strings.TrimSpace(stringOf(user["fullName"])); name != "" {
			h.FullName = name
		}
	case !errors.Is(err, repo.ErrNotFound):
		return domain.Home{}, apperror.StoreFailure("read", err)
	}

	stress, err := s.Sync.latest(ctx, domain.DomainStress, key)
	if err != nil {
		return domain.Home{}, err
	}
	h.StressLevel = stress.Label

	music, err := s.Sync.latest(ctx, domain.DomainMusic, key)
	if err != nil {
		return domain.Home{}, err
	}
	if w := strings.TrimSpace(stringOf(music.Fields["weather"])); w != "" {
		h.Climate = w
	}
	return h, nil
}

// Playlist returns the songs of the latest recommended playlist, named
// "Playlist #<id>". With no recommendation, or an unknown playlist, the
// playlist is empty and keeps the default name.
func (s *HomeService) Playlist(ctx context.Context, userID string) (domain.Playlist, error) {
	ctx, span := otel.Tracer("services/HomeService").Start(ctx, "Playlist")
	defer span.End()

	key, err := userKey(userID)
	if err != nil {
		return domain.Playlist{}, err
	}
	out := domain.Playlist{Name: DefaultPlaylistName, Songs: []domain.Song{}}

	music, err := s.Sync.latest(ctx, domain.DomainMusic, key)
	if err != nil {
		return domain.Playlist{}, err
	}
	id := strings.TrimSpace(stringOf(music.Fields["recommendedPlaylist"]))
	if id == "" {
		return out, nil
	}
	out.ID = id

	doc, err := s.Store.Get(ctx, domain.CollectionPlaylists, id)
	if errors.Is(err, repo.ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return domain.Playlist{}, apperror.StoreFailure("read", err)
	}
	out.Name = "Playlist #" + id
	songs, _ := doc["songs"].([]any)
	for _, v := range songs {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		song := domain.Song{
			Name:   stringOf(m["name"]),
			Artist: stringOf(m["artist"]),
			URL:    stringOf(m["url"]),
			Image:  stringOf(m["image"]),
		}
		if song.URL == "" {
			continue
		}
		out.Songs = append(out.Songs, song)
	}
	return out, nil
}

// Profile returns the background profile document, or an empty object when
// the user has none.
func (s *HomeService) Profile(ctx context.Context, userID string) (map[string]any, error) {
	ctx, span := otel.Tracer("services/HomeService").Start(ctx, "Profile")
	defer span.End()

	key, err := userKey(userID)
	if err != nil {
		return nil, err
	}
	doc, err := s.Store.Get(ctx, domain.CollectionBackground, key)
	if errors.Is(err, repo.ErrNotFound) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, apperror.StoreFailure("read", err)
	}
	return doc, nil
}
