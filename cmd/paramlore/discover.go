package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hyperengineering/paramlore/internal/discovery"
	"github.com/hyperengineering/paramlore/internal/export"
	"github.com/hyperengineering/paramlore/internal/host/sim"
	"github.com/hyperengineering/paramlore/internal/types"
)

var (
	discoverParallel int
	discoverOutDir   string
)

var discoverCmd = &cobra.Command{
	Use:   "discover <fixture.yaml>...",
	Short: "Discover the parameters of simulated plugins",
	Long: "Run a discovery session against each plugin fixture, print the discovered " +
		"parameters and feed what was learned back into the knowledge base.",
	Args: cobra.MinimumNArgs(1),
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().IntVar(&discoverParallel, "parallel", 0,
		"Concurrent sessions (overrides discovery.parallelism)")
	discoverCmd.Flags().StringVar(&discoverOutDir, "out", "",
		"Directory to write one JSON document per discovery record")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	targets := make([]discovery.Target, 0, len(args))
	for _, path := range args {
		h, err := sim.Load(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		targets = append(targets, discovery.Target{Plugin: h.Identity(), Proxy: h})
	}

	kb, closeKB, err := openBase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeKB()

	session := discovery.NewSession(kb,
		discovery.WithWritesPerSecond(cfg.Probe.WritesPerSecond),
		discovery.WithRestoreAttempts(cfg.Probe.RestoreAttempts),
		discovery.WithBracketing(cfg.Probe.Bracketing),
		discovery.WithLogger(logger),
	)
	parallel := discoverParallel
	if parallel < 1 {
		parallel = cfg.Discovery.Parallelism
	}
	results, runErr := discovery.NewRunner(session, parallel).DiscoverAll(ctx, targets)

	var records []*types.DiscoveryRecord
	for _, res := range results {
		if res.Record != nil {
			records = append(records, res.Record)
		}
	}

	if discoverOutDir != "" {
		if err := writeDocuments(discoverOutDir, records); err != nil {
			return errors.Join(runErr, err)
		}
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		docs := make([]export.Document, len(records))
		for i, rec := range records {
			docs[i] = export.NewDocument(rec)
		}
		var err error
		if len(docs) == 1 {
			err = printJSON(out, docs[0])
		} else {
			err = printJSON(out, docs)
		}
		return errors.Join(runErr, err)
	}

	for i, res := range results {
		if res.Record == nil {
			continue
		}
		if i > 0 {
			fmt.Fprintln(out)
		}
		printResult(out, res)
	}
	return runErr
}

func writeDocuments(dir string, records []*types.DiscoveryRecord) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	for _, rec := range records {
		path := filepath.Join(dir, fmt.Sprintf("%s-%s.json", rec.Plugin().Name, rec.ID()))
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		err = export.Encode(f, rec)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func printResult(w io.Writer, res discovery.Result) {
	rec := res.Record
	cat := rec.Categorization()
	bold := color.New(color.Bold).SprintFunc()

	signature := cat.EffectSignature
	if signature == "" {
		signature = "-"
	}
	fmt.Fprintf(w, "Plugin:      %s\n", bold(rec.Plugin().Name))
	fmt.Fprintf(w, "Record:      %s\n", rec.ID())
	fmt.Fprintf(w, "Discovered:  %s\n", rec.Timestamp().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "Signature:   %s\n", signature)
	fmt.Fprintf(w, "Parameters:  %d\n", len(rec.Parameters()))
	fmt.Fprintf(w, "Learning:    %d new, %d confirmed, %d anomalies\n",
		res.Learning.NewPatterns, res.Learning.ConfirmedPatterns, len(res.Learning.Anomalies))

	if len(rec.Parameters()) > 0 {
		fmt.Fprintln(w)
		tw := newTabWriter(w)
		fmt.Fprintln(tw, "PARAMETER\tREPRESENTATION\tUNIT\tRANGE\tFORMAT\tCONFIDENCE\tCATEGORY")
		for _, p := range rec.Parameters() {
			category, ok := cat.CategoryOf(p.Name)
			if !ok {
				category = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				p.Name,
				p.Representation,
				dash(string(p.Unit)),
				formatRange(p),
				formatGrammar(p),
				confidenceColor(p.Confidence)(string(p.Confidence)),
				category,
			)
		}
		tw.Flush()
	}

	if diags := rec.Diagnostics(); len(diags) > 0 {
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Diagnostics:")
		for _, d := range diags {
			subject := ""
			if d.Parameter != "" {
				subject = d.Parameter + ": "
			}
			fmt.Fprintf(w, "  %s %s%s\n", yellow("["+string(d.Kind)+"]"), subject, d.Message)
		}
	}
}

func confidenceColor(c types.Confidence) func(a ...interface{}) string {
	switch c {
	case types.ConfidenceObserved:
		return color.New(color.FgGreen).SprintFunc()
	case types.ConfidenceInferred:
		return color.New(color.FgYellow).SprintFunc()
	default:
		return color.New(color.FgHiBlack).SprintFunc()
	}
}

func formatRange(p types.ParameterObservation) string {
	switch {
	case p.Range != nil:
		return fmt.Sprintf("%g..%g", p.Range.Min, p.Range.Max)
	case len(p.ValidValues) > 0:
		vals := make([]string, len(p.ValidValues))
		for i, v := range p.ValidValues {
			vals[i] = v.String()
		}
		return strings.Join(vals, "|")
	default:
		return "-"
	}
}

func formatGrammar(p types.ParameterObservation) string {
	if p.FormatSpec == nil {
		return "-"
	}
	return p.FormatSpec.String()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
