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
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/ademuri/beatfinder/internal/cache"
	"github.com/ademuri/beatfinder/internal/recommend"
	"github.com/ademuri/beatfinder/internal/store"
)

const (
	formatTable = "table"
	formatYAML  = "yaml"
	formatJSON  = "json"
)

func validFormat(format string) error {
	switch format {
	case formatTable, formatYAML, formatJSON:
		return nil
	}
	return fmt.Errorf("unknown --format %q (want table, yaml or json)", format)
}

// renderTable writes header and rows through tablewriter, followed by summary.
func renderTable(out io.Writer, header []string, rows [][]string, summary string) error {
	table := tablewriter.NewWriter(out)
	table.Header(header)
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return fmt.Errorf("rendering table: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("rendering table: %w", err)
	}
	if summary != "" {
		fmt.Fprintf(out, "%s\n", summary)
	}
	return nil
}

func renderResult(out io.Writer, res *recommend.Result, format string) error {
	switch format {
	case formatYAML:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	case formatJSON:
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding json: %w", err)
		}
		_, err = fmt.Fprintf(out, "%s\n", data)
		return err
	}

	rows := make([][]string, 0, len(res.Recommendations))
	for i, r := range res.Recommendations {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			r.Name,
			strconv.FormatFloat(r.Score, 'f', 3, 64),
			formatListeners(r.Listeners),
			strings.Join(r.RecommendedBy, ", "),
			strings.Join(firstN(r.Tags, 5), ", "),
		})
	}
	summary := fmt.Sprintf("%d recommendations from %d loved artists (%d candidates, %d skipped)",
		len(res.Recommendations), res.Stats.Seeds, res.Stats.Candidates, res.Stats.Skipped)
	return renderTable(out, []string{"#", "Artist", "Score", "Listeners", "Recommended by", "Tags"}, rows, summary)
}

func renderCacheStats(out io.Writer, path string, s cache.Stats) error {
	kinds := make([]string, 0, len(s.ByKind))
	for k := range s.ByKind {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)

	rows := make([][]string, 0, len(kinds))
	for _, k := range kinds {
		rows = append(rows, []string{k, strconv.Itoa(s.ByKind[cache.Kind(k)])})
	}
	summary := fmt.Sprintf("%s: %d entries, %d expired", path, s.Total, s.Expired)
	if !s.Oldest.IsZero() {
		summary += fmt.Sprintf("\nOldest: %s, newest: %s",
			s.Oldest.Format(time.DateTime), s.Newest.Format(time.DateTime))
	}
	return renderTable(out, []string{"Kind", "Valid entries"}, rows, summary)
}

func renderRejected(out io.Writer, rejected []store.RejectedArtist) error {
	rows := make([][]string, 0, len(rejected))
	for _, r := range rejected {
		rows = append(rows, []string{r.Name, r.RejectedAt.Format("2006-01-02")})
	}
	return renderTable(out, []string{"Artist", "Rejected"}, rows, fmt.Sprintf("%d rejected artists", len(rejected)))
}

func formatListeners(l *int64) string {
	if l == nil {
		return "?"
	}
	return strconv.FormatInt(*l, 10)
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
