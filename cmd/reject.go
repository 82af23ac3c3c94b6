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
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ademuri/beatfinder/internal/store"
)

// rejectCmd represents the reject command
var rejectCmd = &cobra.Command{
	Use:   "reject <artist>...",
	Short: "Never recommend these artists again",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return rejectArtists(cmd.Context(), viper.GetString("cache_file"), args, time.Now(), cmd.OutOrStdout())
	},
}

var unrejectCmd = &cobra.Command{
	Use:   "unreject <artist>...",
	Short: "Allow previously rejected artists to be recommended again",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return unrejectArtists(cmd.Context(), viper.GetString("cache_file"), args, cmd.OutOrStdout())
	},
}

var listRejectedCmd = &cobra.Command{
	Use:   "list-rejected",
	Short: "Lists rejected artists",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listRejected(cmd.Context(), viper.GetString("cache_file"), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(unrejectCmd)
	rootCmd.AddCommand(listRejectedCmd)
}

func rejectArtists(ctx context.Context, dbPath string, names []string, now time.Time, out io.Writer) error {
	db, err := store.New(dbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if err := db.RejectArtist(ctx, name, now); err != nil {
			return err
		}
		fmt.Fprintf(out, "Rejected %q\n", name)
	}
	return nil
}

func unrejectArtists(ctx context.Context, dbPath string, names []string, out io.Writer) error {
	db, err := store.New(dbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	for _, name := range names {
		removed, err := db.UnrejectArtist(ctx, name)
		if err != nil {
			return err
		}
		if !removed {
			fmt.Fprintf(out, "%q was not rejected\n", name)
			continue
		}
		fmt.Fprintf(out, "Unrejected %q\n", name)
	}
	return nil
}

func listRejected(ctx context.Context, dbPath string, out io.Writer) error {
	db, err := store.New(dbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	rejected, err := db.RejectedArtists(ctx)
	if err != nil {
		return err
	}
	return renderRejected(out, rejected)
}
