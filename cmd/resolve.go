package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/snapbooks-app/geticon/internal/cache"
	"github.com/snapbooks-app/geticon/internal/icon"
)

type resolveOutput struct {
	URL         string          `json:"url"`
	State       icon.State      `json:"state"`
	Attempts    int             `json:"attempts"`
	BestIcon    *icon.IconMeta  `json:"best_icon"`
	Score       int             `json:"score,omitempty"`
	ContentHash string          `json:"content_hash,omitempty"`
	Icons       []icon.IconMeta `json:"icons"`
}

// newResolveCmd creates the 'resolve' subcommand, which resolves one site without the HTTP server.
func newResolveCmd() *cobra.Command {
	var (
		size int
		out  string
	)
	cmd := &cobra.Command{
		Use:   "resolve <site>",
		Short: "Resolves the best icon for one site",
		Long: `Runs discovery, validation and scoring for a single site and prints the outcome as JSON.
With --out the winning icon's bytes are written to the given file instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if size < 0 {
				return fmt.Errorf("--size must be a positive integer")
			}
			site, err := icon.Normalize(args[0])
			if err != nil {
				return err
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			// PersistentPostRunE is skipped when RunE fails; close here so recordings flush.
			defer func() { _ = appInstance.Close(context.WithoutCancel(cmd.Context())) }()
			entry, err := appInstance.Resolve(cmd.Context(), icon.Request{Site: site, Size: size})
			if err != nil {
				return fmt.Errorf("resolve %s: %w", site, err)
			}
			if out != "" {
				return writeIcon(cmd, entry, out)
			}
			return printResult(cmd, entry)
		},
	}
	cmd.Flags().IntVar(&size, "size", 0, "preferred icon size in pixels (0 picks the largest good icon)")
	cmd.Flags().StringVar(&out, "out", "", "write the winning icon to this file")
	return cmd
}

func writeIcon(cmd *cobra.Command, entry cache.Entry, path string) error {
	if !entry.Found() {
		return fmt.Errorf("no usable icon found for %s", entry.Result.Site)
	}
	best := entry.Result.Best
	if err := os.WriteFile(path, best.Data, 0o644); err != nil { //nolint:gosec // icons are public
		return fmt.Errorf("write icon: %w", err)
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s (%s, %d bytes) -> %s\n", best.URL, best.Format, best.Bytes, path)
	return err
}

func printResult(cmd *cobra.Command, entry cache.Entry) error {
	res := entry.Result
	output := resolveOutput{
		URL:         res.Site.String(),
		State:       res.State,
		Attempts:    res.Attempts,
		ContentHash: entry.ContentHash,
		Icons:       res.Icons,
	}
	if output.Icons == nil {
		output.Icons = []icon.IconMeta{}
	}
	if best := res.Best; best != nil {
		output.BestIcon = &icon.IconMeta{
			Kind:      best.Kind,
			URL:       best.URL,
			Size:      best.EffectiveSize().String(),
			Format:    best.Format,
			Validated: true,
		}
		output.Score = best.Score
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(output); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if !entry.Found() {
		return fmt.Errorf("no usable icon found for %s", res.Site)
	}
	return nil
}
