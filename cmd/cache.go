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
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ademuri/beatfinder/internal/cache"
	"github.com/ademuri/beatfinder/internal/metrics"
	"github.com/ademuri/beatfinder/internal/store"
)

var cacheStatsCmd = &cobra.Command{
	Use:   "cache-stats",
	Short: "Summarizes the cache of last.fm responses",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return cacheStats(cmd.Context(), cfg.CacheFile, cfg.CacheExpiry, time.Now(), cmd.OutOrStdout())
	},
}

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Deletes cached last.fm responses and recommendations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return clearCache(cmd.Context(), viper.GetString("cache_file"), viper.GetBool("responses-only"), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(cacheStatsCmd)
	rootCmd.AddCommand(clearCacheCmd)

	clearCacheCmd.Flags().Bool("responses-only", false, "Keep cached recommendations")
	viper.BindPFlag("responses-only", clearCacheCmd.Flags().Lookup("responses-only"))
}

// openCache opens the response cache database at path, moving an unreadable
// file aside, and returns an empty Cache to load it into. moved is where the
// damaged file went, or "".
func openCache(path string, expiry time.Duration) (db *store.Store, c *cache.Cache, moved string, err error) {
	db, moved, err = store.OpenRecovering(path)
	if err != nil {
		return nil, nil, "", fmt.Errorf("opening cache: %w", err)
	}
	return db, cache.New(expiry), moved, nil
}

// clearCaches drops the cached responses from c and db, and the stored
// recommendations, as requested.
func clearCaches(ctx context.Context, db *store.Store, c *cache.Cache, responses, results bool) error {
	if responses {
		if err := c.Clear(ctx, db); err != nil {
			return err
		}
		metrics.CacheEntries.Set(0)
	}
	if results {
		if err := db.ClearResults(ctx); err != nil {
			return err
		}
	}
	return nil
}

func cacheStats(ctx context.Context, dbPath string, expiry time.Duration, now time.Time, out io.Writer) error {
	db, c, moved, err := openCache(dbPath, expiry)
	if err != nil {
		return err
	}
	defer db.Close()
	if moved != "" {
		fmt.Fprintf(out, "Cache file was unreadable and has been moved to %s\n", moved)
	}

	c.SetClock(func() time.Time { return now })
	if _, err := c.Load(ctx, db); err != nil {
		return err
	}
	return renderCacheStats(out, dbPath, c.Stats())
}

func clearCache(ctx context.Context, dbPath string, responsesOnly bool, out io.Writer) error {
	db, c, _, err := openCache(dbPath, 0)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := clearCaches(ctx, db, c, true, !responsesOnly); err != nil {
		return err
	}
	fmt.Fprintf(out, "Cleared %s\n", dbPath)
	return nil
}
