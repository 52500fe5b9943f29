package cmd

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/phovea/productbuild/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the data package cache",
	Long: `Manage the cache of downloaded data packages.

Builds run with --cacheData reuse data packages downloaded by previous
builds instead of fetching them again.`,
}

var cacheCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clear the data package cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCache()
		if err != nil {
			return err
		}
		if err := c.Clear(); err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
		log.Info("Cache cleared", "dir", c.Dir())
		return nil
	},
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove expired cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCache()
		if err != nil {
			return err
		}
		n, err := c.Prune()
		if err != nil {
			return fmt.Errorf("failed to prune cache: %w", err)
		}
		log.Info("Cache pruned", "removed", n)
		return nil
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCache()
		if err != nil {
			return err
		}

		stats := c.Stats()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Cache Statistics:\n")
		fmt.Fprintf(out, "  Directory: %s\n", stats.Dir)
		fmt.Fprintf(out, "  Entries:   %d\n", stats.Entries)
		fmt.Fprintf(out, "  Expired:   %d\n", stats.Expired)
		fmt.Fprintf(out, "  Size:      %s\n", cache.FormatBytes(stats.Size))
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheCleanCmd)
	cacheCmd.AddCommand(cachePruneCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
}

func openCache() (*cache.Cache, error) {
	opts, err := loadOptions()
	if err != nil {
		return nil, err
	}
	return cache.New(cache.Options{Dir: opts.CacheDir})
}
