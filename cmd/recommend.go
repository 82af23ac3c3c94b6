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
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ademuri/beatfinder/internal/cache"
	"github.com/ademuri/beatfinder/internal/client"
	"github.com/ademuri/beatfinder/internal/config"
	"github.com/ademuri/beatfinder/internal/library"
	"github.com/ademuri/beatfinder/internal/metrics"
	"github.com/ademuri/beatfinder/internal/provider"
	"github.com/ademuri/beatfinder/internal/ratelimit"
	"github.com/ademuri/beatfinder/internal/recommend"
	"github.com/ademuri/beatfinder/internal/store"
)

const userAgent = "beatfinder/1.0"

type RecommendOptions struct {
	StatsFile              string
	Format                 string
	RefreshRecommendations bool
	RefreshCache           bool
}

// newProvider is replaced in tests.
var newProvider = func(cfg config.Config) provider.Provider {
	return provider.NewLastFm(cfg.APIKey, cfg.APISecret, userAgent)
}

// recommendCmd represents the recommend command
var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Recommends new artists",
	Long: `Ranks artists similar to the ones you love that you haven't listened to.

Responses from last.fm are cached in --cache-file, so an interrupted run resumes
where it stopped and a repeated run makes no requests at all.`,
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

		refreshAll := viper.GetBool("refresh-all")
		opts := RecommendOptions{
			StatsFile:              viper.GetString("stats"),
			Format:                 viper.GetString("format"),
			RefreshRecommendations: refreshAll || viper.GetBool("refresh-recommendations"),
			RefreshCache:           refreshAll || viper.GetBool("refresh-cache"),
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runRecommend(ctx, cfg, opts, newProvider(cfg), cmd.OutOrStdout(), logger)
	},
}

func init() {
	rootCmd.AddCommand(recommendCmd)
	defaults := config.Default()

	recommendCmd.Flags().String("stats", "", "Read listening stats from this YAML or JSON file instead of the database")
	viper.BindPFlag("stats", recommendCmd.Flags().Lookup("stats"))

	recommendCmd.Flags().String("format", formatTable, "Output format: table, yaml or json")
	viper.BindPFlag("format", recommendCmd.Flags().Lookup("format"))

	recommendCmd.Flags().Int("rarity", defaults.Rarity, "Preference for obscure artists, 1 (popular is fine) to 15 (obscure only)")
	viper.BindPFlag("rarity", recommendCmd.Flags().Lookup("rarity"))

	recommendCmd.Flags().IntP("max", "n", defaults.MaxRecommendations, "Number of recommendations to return")
	viper.BindPFlag("max_recommendations", recommendCmd.Flags().Lookup("max"))

	recommendCmd.Flags().Int("workers", defaults.Workers, "Number of concurrent fetches")
	viper.BindPFlag("workers", recommendCmd.Flags().Lookup("workers"))

	recommendCmd.Flags().Bool("tag-similarity", defaults.TagSimilarity, "Score candidates by tag overlap with your taste profile")
	viper.BindPFlag("tag_similarity", recommendCmd.Flags().Lookup("tag-similarity"))

	recommendCmd.Flags().Bool("play-weighting", defaults.PlayFrequencyWeighting, "Weigh loved artists by how much you play them")
	viper.BindPFlag("play_frequency_weighting", recommendCmd.Flags().Lookup("play-weighting"))

	recommendCmd.Flags().Int("loved-since", defaults.LovedSinceMonths, "Only seed from loved artists played in the last N months (0 for all)")
	viper.BindPFlag("loved_since_months", recommendCmd.Flags().Lookup("loved-since"))

	recommendCmd.Flags().Bool("refresh-recommendations", false, "Ignore previously computed recommendations")
	viper.BindPFlag("refresh-recommendations", recommendCmd.Flags().Lookup("refresh-recommendations"))

	recommendCmd.Flags().Bool("refresh-cache", false, "Discard cached last.fm responses before running")
	viper.BindPFlag("refresh-cache", recommendCmd.Flags().Lookup("refresh-cache"))

	recommendCmd.Flags().Bool("refresh-all", false, "Same as --refresh-recommendations --refresh-cache")
	viper.BindPFlag("refresh-all", recommendCmd.Flags().Lookup("refresh-all"))
}

func runRecommend(ctx context.Context, cfg config.Config, opts RecommendOptions, prov provider.Provider, out io.Writer, logger zerolog.Logger) error {
	if opts.Format == "" {
		opts.Format = formatTable
	}
	if err := validFormat(opts.Format); err != nil {
		return err
	}

	stats, err := loadStats(cfg, opts.StatsFile)
	if err != nil {
		return err
	}

	db, c, moved, err := openCache(cfg.CacheFile, cfg.CacheExpiry)
	if err != nil {
		return err
	}
	defer db.Close()
	if moved != "" {
		logger.Warn().Str("moved_to", moved).Msg("cache file was unreadable, starting a fresh one")
	}

	if err := clearCaches(ctx, db, c, opts.RefreshCache, opts.RefreshRecommendations); err != nil {
		return err
	}
	if opts.RefreshCache {
		logger.Info().Msg("cleared cached last.fm responses")
	}

	rejected, err := rejectedNames(ctx, db)
	if err != nil {
		return err
	}

	now := time.Now()
	seeds := library.Classify(stats, cfg.Thresholds(now)).Seeds
	if len(seeds) == 0 {
		return recommend.ErrNoLovedArtists
	}
	fingerprint, err := cfg.Fingerprint(fingerprintInputs(seeds, rejected)...)
	if err != nil {
		return err
	}

	if res, ok := loadCachedResult(ctx, db, fingerprint, cfg.ResultExpiry, now, logger); ok {
		return renderResult(out, res, opts.Format)
	}

	if n, err := c.Load(ctx, db); err != nil {
		logger.Warn().Err(err).Msg("could not load cached responses, continuing without them")
	} else {
		logger.Debug().Int("entries", n).Msg("loaded response cache")
	}
	metrics.CacheEntries.Set(float64(c.Len()))

	clientCfg := client.DefaultConfig()
	clientCfg.FlushEvery = cfg.FlushEvery
	cl := client.New(prov, ratelimit.New(cfg.RateLimit), c, db, clientCfg, logger)
	defer func() {
		if err := cl.Flush(context.WithoutCancel(ctx)); err != nil {
			logger.Error().Err(err).Msg("saving response cache")
		}
	}()

	engine, err := recommend.NewEngine(cfg, cl, logger, recommend.WithObserver(progressLogger(logger)))
	if err != nil {
		return err
	}
	res, err := engine.Run(ctx, stats, rejected)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn().Msg("interrupted, fetched responses are saved and the next run resumes from them")
		}
		return err
	}
	logger.Info().Int64("provider_calls", cl.Calls()).Str("run_id", res.RunID).Msg("recommendations ready")

	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	err = db.SaveResult(ctx, store.CachedResult{
		Fingerprint: fingerprint,
		RunID:       res.RunID,
		CreatedAt:   now,
		Payload:     payload,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("could not cache recommendations")
	}

	return renderResult(out, res, opts.Format)
}

// loadStats reads the stats file if one was given, otherwise aggregates the
// user's imported history.
func loadStats(cfg config.Config, statsFile string) (map[string]library.ArtistStat, error) {
	if statsFile != "" {
		return library.LoadStatsFile(statsFile)
	}
	if cfg.User == "" {
		return nil, errors.New("no listening data: pass --stats, or --user after running update")
	}

	db, err := store.New(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	user := strings.ToLower(cfg.User)
	stats, err := db.ArtistStats(user)
	if err != nil {
		return nil, err
	}
	if len(stats) == 0 {
		return nil, fmt.Errorf("no listening data for %q in %s, run update first", user, cfg.Database)
	}
	return stats, nil
}

func rejectedNames(ctx context.Context, db *store.Store) ([]string, error) {
	rejected, err := db.RejectedArtists(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rejected))
	for _, r := range rejected {
		names = append(names, r.Name)
	}
	return names, nil
}

func fingerprintInputs(seeds, rejected []string) []string {
	inputs := make([]string, 0, len(seeds)+len(rejected))
	for _, s := range seeds {
		inputs = append(inputs, "seed:"+cache.Normalize(s))
	}
	for _, r := range rejected {
		inputs = append(inputs, "rejected:"+cache.Normalize(r))
	}
	return inputs
}

func loadCachedResult(ctx context.Context, db *store.Store, fingerprint string, maxAge time.Duration, now time.Time, logger zerolog.Logger) (*recommend.Result, bool) {
	cached, ok, err := db.LoadResult(ctx, fingerprint, maxAge, now)
	if err != nil {
		logger.Warn().Err(err).Msg("reading cached recommendations")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var res recommend.Result
	if err := json.Unmarshal(cached.Payload, &res); err != nil {
		logger.Warn().Err(err).Msg("discarding unreadable cached recommendations")
		return nil, false
	}
	logger.Info().
		Str("run_id", res.RunID).
		Time("created_at", cached.CreatedAt).
		Msg("using cached recommendations, pass --refresh-recommendations to recompute")
	return &res, true
}

var phaseDescriptions = map[string]string{
	recommend.PhaseProfile: "Fetched tags for loved artist",
	recommend.PhaseCollect: "Fetched similar artists for loved artist",
	recommend.PhaseTags:    "Fetched tags for candidate",
}

func progressLogger(logger zerolog.Logger) recommend.Observer {
	return recommend.ObserverFunc(func(phase string, done, total int) {
		if done == 0 {
			return
		}
		level := zerolog.DebugLevel
		if done == total || done%10 == 0 {
			level = zerolog.InfoLevel
		}
		logger.WithLevel(level).Str("phase", phase).Msgf("[%d/%d] %s", done, total, phaseDescriptions[phase])
	})
}
