package main

import (
	"errors"
	"fmt"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/paramlore/internal/snapshot"
	"github.com/hyperengineering/paramlore/internal/worker"
)

var kbWatch bool

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Inspect and maintain the pattern knowledge base",
}

var kbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show knowledge base table sizes",
	Args:  cobra.NoArgs,
	RunE:  runKBStats,
}

var kbShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the knowledge base snapshot document",
	Args:  cobra.NoArgs,
	RunE:  runKBShow,
}

var kbFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Write the knowledge base, including catalog seeds, to its backend",
	Args:  cobra.NoArgs,
	RunE:  runKBFlush,
}

var kbPublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Upload the persisted knowledge base to snapshot storage",
	Long: "Upload the persisted knowledge base snapshot to the configured S3-compatible " +
		"bucket. With --watch, keep running and republish whenever it changes.",
	Args: cobra.NoArgs,
	RunE: runKBPublish,
}

func init() {
	kbPublishCmd.Flags().BoolVar(&kbWatch, "watch", false,
		"Keep running and republish on snapshot_storage.publish_interval")

	kbCmd.AddCommand(kbStatsCmd)
	kbCmd.AddCommand(kbShowCmd)
	kbCmd.AddCommand(kbFlushCmd)
	kbCmd.AddCommand(kbPublishCmd)
}

func runKBStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	kb, closeKB, err := openBase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeKB()

	stats := kb.Stats()
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, stats)
	}

	fmt.Fprintf(out, "Knowledge base:     %s (%s)\n", cfg.Knowledge.Path, cfg.Knowledge.Backend)
	fmt.Fprintf(out, "Plugins analyzed:   %d\n", stats.PluginsAnalyzed)
	fmt.Fprintf(out, "Formats learned:    %d\n", stats.FormatsLearned)
	fmt.Fprintf(out, "Range patterns:     %d\n", stats.RangePatterns)
	fmt.Fprintf(out, "Unit patterns:      %d\n", stats.UnitPatterns)
	fmt.Fprintf(out, "Effect signatures:  %d\n", stats.EffectSignatures)
	fmt.Fprintf(out, "Category rules:     %d (%d keywords)\n", stats.CategoryRules, stats.CategoryKeywords)

	snap := kb.Snapshot()
	if len(snap.PluginHistory) == 0 {
		return nil
	}
	names := make([]string, 0, len(snap.PluginHistory))
	for name := range snap.PluginHistory {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(out)
	w := newTabWriter(out)
	fmt.Fprintln(w, "PLUGIN\tSIGNATURE\tPARAMETERS\tDISCOVERIES\tLAST DISCOVERED")
	for _, name := range names {
		h := snap.PluginHistory[name]
		sig := snap.EffectSignatures[name]
		if sig == "" {
			sig = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			name, sig, h.ParameterCount, h.Discoveries,
			h.LastDiscovered.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runKBShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	kb, closeKB, err := openBase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeKB()

	return printJSON(cmd.OutOrStdout(), kb.Snapshot())
}

func runKBFlush(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	kb, closeKB, err := openBase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeKB()

	if err := kb.Flush(ctx); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"path":    cfg.Knowledge.Path,
			"backend": cfg.Knowledge.Backend,
			"flushed": true,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Flushed knowledge base to %s\n", cfg.Knowledge.Path)
	return nil
}

func runKBPublish(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	uploader, err := snapshot.NewUploader(cfg.SnapshotStorage)
	if err != nil {
		return err
	}
	if _, noop := uploader.(*snapshot.NoopUploader); noop {
		return fmt.Errorf("%w: set snapshot_storage.bucket or PARAMLORE_SNAPSHOT_BUCKET", snapshot.ErrNotConfigured)
	}

	source, closeSource, err := openPersister(cfg)
	if err != nil {
		return err
	}
	defer closeSource()

	interval := time.Duration(cfg.SnapshotStorage.PublishInterval)
	w := worker.NewPublishWorker(source, uploader, cfg.Knowledge.Name, interval)

	if kbWatch {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
		defer cancel()
		w.Run(ctx)
		return nil
	}

	return publishOnce(cmd, w, uploader, cfg.Knowledge.Name)
}

func publishOnce(cmd *cobra.Command, w *worker.PublishWorker, uploader snapshot.Uploader, name string) error {
	ctx := cmd.Context()
	published, err := w.PublishOnce(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !published {
		if jsonOutput {
			return printJSON(out, map[string]any{"name": name, "published": false})
		}
		fmt.Fprintln(out, "Nothing to publish: no knowledge base has been flushed yet.")
		return nil
	}

	url, expiry, err := uploader.PresignedURL(ctx, name)
	if err != nil && !errors.Is(err, snapshot.ErrNotConfigured) {
		return err
	}
	if jsonOutput {
		return printJSON(out, map[string]any{
			"name":       name,
			"published":  true,
			"url":        url,
			"url_expiry": expiry,
		})
	}
	fmt.Fprintf(out, "Published knowledge base %q\n", name)
	if url != "" {
		fmt.Fprintf(out, "Download URL (expires %s):\n%s\n", expiry.Format(time.RFC3339), url)
	}
	return nil
}
