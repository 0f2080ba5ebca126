package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hive-corporation/sitescan/internal/adapter/exporter"
	"github.com/hive-corporation/sitescan/internal/adapter/handler"
	"github.com/hive-corporation/sitescan/internal/adapter/report"
	"github.com/hive-corporation/sitescan/internal/core/domain"
	"github.com/hive-corporation/sitescan/internal/core/ports"
	"github.com/hive-corporation/sitescan/internal/core/remediation"
	"github.com/hive-corporation/sitescan/internal/core/service"
)

// errRedThreat makes the process exit non-zero without printing a usage error.
var errRedThreat = errors.New("combined threat category is red")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errRedThreat) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sitescan",
		Short:         "Summarize website scan results and render security reports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newAnalyzeCmd(), newReportCmd(), newRemoteCmd())
	return root
}

// localService analyzes scans offline: no archive, source, lookups or alerts.
func localService(outDir string) *service.ScanService {
	logger := zap.NewNop()
	return service.New(service.Dependencies{
		Renderer:  report.NewPDFRenderer(remediation.NewHeaderSnippetResolver(remediation.DefaultTable()), logger),
		Store:     report.NewFileStore(outDir),
		Exporters: []ports.SummaryExporter{exporter.NewSTIXExporter(), exporter.NewCEFExporter()},
	}, logger)
}

func newAnalyzeCmd() *cobra.Command {
	var (
		file      string
		asJSON    bool
		failOnRed bool
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Summarize a scan result JSON file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			scan, err := readScan(file)
			if err != nil {
				return err
			}

			summary, err := localService(".").Analyze(cmd.Context(), scan)
			if err != nil {
				return err
			}
			return printSummary(cmd.OutOrStdout(), summary, asJSON, failOnRed)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "scan result JSON file (- for stdin)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	cmd.Flags().BoolVar(&failOnRed, "fail-on-red", true, "exit 1 when the combined threat category is red")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newReportCmd() *cobra.Command {
	var (
		file  string
		index int
		out   string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render the PDF report of one anomaly group",
		RunE: func(cmd *cobra.Command, _ []string) error {
			scan, err := readScan(file)
			if err != nil {
				return err
			}

			location, err := localService(out).EmitReport(cmd.Context(), scan, index)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "📄 Report written to %s\n", location)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "scan result JSON file (- for stdin)")
	cmd.Flags().IntVarP(&index, "index", "i", 0, "anomaly group index (see analyze)")
	cmd.Flags().StringVarP(&out, "out", "o", "reports", "output directory")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newRemoteCmd() *cobra.Command {
	var (
		server    string
		file      string
		scanID    string
		asJSON    bool
		failOnRed bool
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Analyze a scan file, or summarize a scan id, on a sitescan gRPC server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (file == "") == (scanID == "") {
				return errors.New("exactly one of --file or --id is required")
			}

			conn, err := grpc.NewClient(server, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("error connecting to sitescan: %w", err)
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			client := handler.NewScanAnalyzerClient(conn)

			var summary domain.ScanSummary
			if scanID != "" {
				summary, err = client.Summarize(ctx, scanID)
			} else {
				var scan domain.ScanResult
				if scan, err = readScan(file); err != nil {
					return err
				}
				summary, err = client.Analyze(ctx, scan)
			}
			if err != nil {
				return err
			}
			return printSummary(cmd.OutOrStdout(), summary, asJSON, failOnRed)
		},
	}

	cmd.Flags().StringVar(&server, "server", "localhost:50051", "sitescan gRPC address")
	cmd.Flags().StringVarP(&file, "file", "f", "", "scan result JSON file (- for stdin)")
	cmd.Flags().StringVar(&scanID, "id", "", "archived or remote scan id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	cmd.Flags().BoolVar(&failOnRed, "fail-on-red", true, "exit 1 when the combined threat category is red")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	return cmd
}

func readScan(path string) (domain.ScanResult, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return domain.ScanResult{}, fmt.Errorf("error reading file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var scan domain.ScanResult
	if err := json.NewDecoder(r).Decode(&scan); err != nil {
		return domain.ScanResult{}, fmt.Errorf("invalid scan JSON in %s: %w", path, err)
	}
	return scan, nil
}

func printSummary(w io.Writer, s domain.ScanSummary, asJSON, failOnRed bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(s); err != nil {
			return err
		}
	} else {
		writeSummary(w, s)
	}

	if failOnRed && s.Threat.CombinedCategory == domain.ThreatRed {
		return errRedThreat
	}
	return nil
}

func writeSummary(w io.Writer, s domain.ScanSummary) {
	fmt.Fprintf(w, "🔍 %s\n", s.URL)
	if s.ScanDate != "" {
		fmt.Fprintf(w, "   scanned %s\n", s.ScanDate)
	}

	fmt.Fprintf(w, "\nRisk:   score %d, level %s (source says %s)", s.Risk.Score, s.Risk.LocalLevel, s.Risk.SourceLevel)
	if s.Risk.Discrepant {
		fmt.Fprint(w, " ⚠️  levels disagree")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Threat: combined %d (%s), AbuseIPDB %s\n", s.Threat.CombinedScore, s.Threat.CombinedCategory, s.Threat.AbuseCategory)

	fmt.Fprintln(w, "------------------------------------------------")
	if len(s.Groups) == 0 {
		fmt.Fprintln(w, "✅ No anomalies found.")
	}
	for i, g := range s.Groups {
		fmt.Fprintf(w, "[%d] %-13s %-12s x%d  %s\n", i, g.Type, g.SeverityOrDefault(), g.Count, g.Message)
	}

	if d := s.PreviousScanDiff; d != nil {
		fmt.Fprintln(w, "\nSince previous scan:")
		if d.Unchanged() {
			fmt.Fprintln(w, "  no change")
		} else {
			fmt.Fprintf(w, "  risk score %+d\n", d.RiskScoreChange)
			for _, m := range d.NewIssues {
				fmt.Fprintf(w, "  + %s\n", m)
			}
			for _, m := range d.ResolvedIssues {
				fmt.Fprintf(w, "  - %s\n", m)
			}
			if n := len(d.PersistentIssues); n > 0 {
				fmt.Fprintf(w, "  %d unchanged\n", n)
			}
		}
	}

	if len(s.Recommendations) > 0 {
		fmt.Fprintln(w, "\nRecommendations:")
		for _, r := range s.Recommendations {
			fmt.Fprintf(w, "  - %s\n", r)
		}
	}
}
