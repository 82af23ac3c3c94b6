/*
Copyright 2020 Google LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ademuri/beatfinder/internal/logging"
	"github.com/ademuri/beatfinder/internal/provider"
	"github.com/ademuri/beatfinder/internal/ratelimit"
	"github.com/ademuri/beatfinder/internal/store"
	"github.com/ademuri/lastfm-go/lastfm"
)

type UpdateConfig struct {
	DbPath    string
	User      string
	After     string
	Force     bool
	RateLimit float64
}

// updateCmd represents the update command
var updateCmd = &cobra.Command{
	Use:     "update",
	Short:   "Fetches listening history from last.fm",
	Long:    `Stores scrobbles and loved tracks in a local SQLite database, which "recommend" reads when no --stats file is given.`,
	PreRunE: requireUser,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}
		defer writeMetrics(logger)

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.RequireAPIKey(); err != nil {
			return err
		}

		config := UpdateConfig{
			DbPath:    cfg.Database,
			User:      cfg.User,
			After:     viper.GetString("after"),
			Force:     viper.GetBool("force"),
			RateLimit: cfg.RateLimit,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		lfm := provider.NewLastFm(cfg.APIKey, cfg.APISecret, userAgent)
		return updateDatabase(ctx, config, lfm.Api(), logger)
	},
}

func init() {
	rootCmd.AddCommand(updateCmd)

	var afterString string
	updateCmd.Flags().StringVar(&afterString, "after", "", "Only get listening data after this date, in yyyy-mm-dd format")
	viper.BindPFlag("after", updateCmd.Flags().Lookup("after"))

	var force bool
	updateCmd.Flags().BoolVarP(&force, "force", "f", false, "Get all listening data, regardless of what's already present (idempotent)")
	viper.BindPFlag("force", updateCmd.Flags().Lookup("force"))
}

// lastfmRetry retries transient last.fm failures with backoff, waiting for the
// shared limiter before every attempt.
func lastfmRetry(ctx context.Context, limiter *ratelimit.Limiter, logger zerolog.Logger, call func() error) error {
	return retry.Do(
		func() error {
			if err := limiter.Acquire(ctx); err != nil {
				return err
			}
			if err := call(); err != nil {
				return provider.ClassifyLastFmError(err)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(provider.IsTransient),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn().Err(err).Uint("attempt", n+1).Msg("last.fm errored, retrying")
		}),
	)
}

func updateDatabase(ctx context.Context, config UpdateConfig, api *lastfm.Api, logger zerolog.Logger) error {
	logger = logging.Component(logger, "update")

	var after time.Time
	var err error
	if len(config.After) > 0 {
		after, err = time.Parse("2006-01-02", config.After)
		if err != nil {
			return fmt.Errorf("--after: %w", err)
		}
	}

	user := strings.ToLower(config.User)
	db, err := store.New(config.DbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	err = db.CreateUser(user)
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}

	lastUpdated, err := db.GetLastUpdated(user)
	if err != nil {
		return err
	}
	now := time.Now()
	if !lastUpdated.IsZero() && now.Sub(lastUpdated).Hours() < 24 && !config.Force {
		logger.Info().Msg("user data was already updated in the past 24 hours")
		return nil
	}
	logger.Info().Str("last_updated", lastUpdated.Format("2006-01-02")).Msg("user data was last updated")

	latestListen, err := db.GetLatestListen(user)
	if err != nil {
		return fmt.Errorf("getting latest listen: %w", err)
	}
	logger.Info().Str("latest_listen", latestListen.Format("2006-01-02")).Str("user", user).Msg("updating database")

	limiter := ratelimit.New(config.RateLimit)
	if err := updateListens(ctx, db, api, limiter, user, after, latestListen, config.Force, logger); err != nil {
		return err
	}
	if err := updateLovedTracks(ctx, db, api, limiter, user, logger); err != nil {
		return err
	}

	if err := db.SetLastUpdated(user, now); err != nil {
		return err
	}
	return nil
}

func updateListens(ctx context.Context, db *store.Store, api *lastfm.Api, limiter *ratelimit.Limiter, user string, after, latestListen time.Time, force bool, logger zerolog.Logger) error {
	page := 1 // First page is 1
	pages := 0
	for {
		var recentTracks lastfm.UserGetRecentTracks
		err := lastfmRetry(ctx, limiter, logger, func() error {
			var err error
			recentTracks, err = api.User.GetRecentTracks(lastfm.P{
				"limit": 200,
				"page":  page,
				"user":  user,
			})
			return err
		})
		if err != nil {
			return fmt.Errorf("fetching recent tracks: %w", err)
		}

		if pages == 0 {
			pages = recentTracks.TotalPages
		}
		if len(recentTracks.Tracks) == 0 {
			break
		}

		var tracksToImport []store.TrackImport
		for _, t := range recentTracks.Tracks {
			// The currently playing track has no date yet.
			if t.Date.Uts == "" {
				continue
			}
			tracksToImport = append(tracksToImport, store.TrackImport{
				Artist:    t.Artist.Name,
				Album:     t.Album.Name,
				TrackName: t.Name,
				DateUTS:   t.Date.Uts,
			})
		}

		err = db.AddRecentTracks(user, tracksToImport)
		if err != nil {
			return fmt.Errorf("inserting recent tracks (page %d): %w", page, err)
		}

		oldestDateUts, err := strconv.ParseInt(recentTracks.Tracks[len(recentTracks.Tracks)-1].Date.Uts, 10, 64)
		if err != nil {
			return fmt.Errorf("parsing date: %w", err)
		}
		oldestDate := time.Unix(oldestDateUts, 0)

		logger.Info().Str("oldest", oldestDate.Format("2006-01-02")).Msgf("[%d/%d] Downloaded page of scrobbles", page, pages)
		page += 1

		if !after.IsZero() && oldestDate.Before(after) {
			break
		}
		if page > pages {
			break
		}
		if !force && !latestListen.IsZero() && oldestDate.Before(latestListen.AddDate(0, 0, -7)) {
			logger.Info().Msg("refreshed back to existing data")
			break
		}
	}
	return nil
}

// updateLovedTracks replaces the stored loved tracks with the user's current list.
func updateLovedTracks(ctx context.Context, db *store.Store, api *lastfm.Api, limiter *ratelimit.Limiter, user string, logger zerolog.Logger) error {
	var loved []store.LovedTrackImport
	page := 1
	pages := 0
	for {
		var lovedTracks lastfm.UserGetLovedTracks
		err := lastfmRetry(ctx, limiter, logger, func() error {
			var err error
			lovedTracks, err = api.User.GetLovedTracks(lastfm.P{
				"limit": 200,
				"page":  page,
				"user":  user,
			})
			return err
		})
		if err != nil {
			return fmt.Errorf("fetching loved tracks: %w", err)
		}
		if pages == 0 {
			pages = lovedTracks.TotalPages
		}

		for _, t := range lovedTracks.Tracks {
			loved = append(loved, store.LovedTrackImport{
				Artist:    t.Artist.Name,
				TrackName: t.Name,
				DateUTS:   t.Date.Uts,
			})
		}
		logger.Debug().Msgf("[%d/%d] Downloaded page of loved tracks", page, pages)

		page += 1
		if page > pages || len(lovedTracks.Tracks) == 0 {
			break
		}
	}

	if err := db.ReplaceLovedTracks(user, loved); err != nil {
		return fmt.Errorf("saving loved tracks: %w", err)
	}
	if err := db.SetLovedUpdated(user, time.Now()); err != nil {
		return err
	}
	logger.Info().Int("loved_tracks", len(loved)).Msg("updated loved tracks")
	return nil
}
