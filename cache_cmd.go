package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/novera-ai/novera/internal/cache"
)

var (
	olderThan time.Duration

	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Inspect or empty the audio cache",
		Long:  paragraph(fmt.Sprintf("\n%s synthesized audio is kept on disk so that repeated sentences cost no synthesis quota.", keyword("Cached"))),
		Args:  cobra.NoArgs,
	}

	cacheStatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show audio cache usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDiskStore(func(ds *cache.DiskStore) error {
				st := ds.Stats()
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s %s\n", keyword("dir:     "), ds.Dir())
				fmt.Fprintf(out, "%s %d\n", keyword("entries: "), st.ItemCount)
				fmt.Fprintf(out, "%s %s of %s\n", keyword("size:    "),
					humanize.IBytes(uint64(st.Size)), humanize.IBytes(uint64(st.Capacity))) //nolint:gosec
				return nil
			})
		},
	}

	cacheClearCmd = &cobra.Command{
		Use:     "clear",
		Short:   "Remove cached audio",
		Example: paragraph("novera cache clear\nnovera cache clear --older-than 720h"),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDiskStore(func(ds *cache.DiskStore) error {
				if olderThan > 0 {
					cutoff := time.Now().Add(-olderThan)
					n := ds.RemoveOlderThan(cutoff)
					fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries created before %s\n", n, humanize.Time(cutoff))
					return nil
				}
				before := ds.Stats()
				if err := ds.Clear(); err != nil {
					return fmt.Errorf("unable to clear cache: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries (%s)\n",
					before.ItemCount, humanize.IBytes(uint64(before.Size))) //nolint:gosec
				return nil
			})
		},
	}
)

func withDiskStore(fn func(*cache.DiskStore) error) error {
	dc := cfg.Synthesis.DiskCache
	if !dc.Enabled {
		return errors.New("the disk cache is disabled (synthesis.disk_cache.enabled)")
	}
	ds, err := cache.NewDiskStore(dc.Dir, int64(dc.MaxSize)*humanize.MiByte, dc.CompressionLevel)
	if err != nil {
		return err
	}
	if err := fn(ds); err != nil {
		_ = ds.Close()
		return err
	}
	return ds.Close()
}

func init() {
	cacheClearCmd.Flags().DurationVar(&olderThan, "older-than", 0, "only remove entries at least this old")
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd)
}
