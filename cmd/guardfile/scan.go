package main

import (
	"bufio"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/spf13/cobra"

	"github.com/guardfile/guardfile"
)

func newScanCmd(log *slog.Logger) *cobra.Command {
	var (
		policyPath string
		overrides  []string
		jsonOut    string
		summaryOut string
		failOn     string
		timeoutMS  int
		workers    int
		hashAlgo   string
		auditDB    string
		quiet      bool
	)

	cmd := &cobra.Command{
		Use:   "scan [paths...]",
		Short: "Scan files or directories and decide allow, warn or deny",
		Long: `Scan walks the given paths (use "-" for stdin), runs each file through the
validation pipeline and emits one JSON report line per file. The exit code
reflects the worst decision: 0 clean, 1 denied, 3 warned under
--fail-on=warn, 2 operational error, 4 invalid policy.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := guardfile.GetConfig()
			if err != nil {
				return err
			}

			// Environment supplies defaults; explicit flags win.
			if !cmd.Flags().Changed("hash") && cfg.DigestAlgorithm != "" {
				hashAlgo = cfg.DigestAlgorithm
			}
			if !cmd.Flags().Changed("workers") {
				workers = cfg.Workers
			}
			if auditDB == "" {
				auditDB = cfg.AuditDBPath
			}
			if policyPath == "" {
				policyPath = cfg.PolicyPath
			}
			if failOn == "" {
				failOn = cfg.FailOn
			}

			policy, err := loadEffectivePolicy(policyPath, overrides)
			if err != nil {
				return err
			}
			if failOn != "" {
				parsed, err := guardfile.ParseFailOn(failOn)
				if err != nil {
					return err
				}
				policy.Defaults.FailOn = parsed
			}
			if timeoutMS > 0 {
				policy.Limits.Timeout = time.Duration(timeoutMS) * time.Millisecond
			}

			algorithm, err := guardfile.ParseAlgorithm(hashAlgo)
			if err != nil {
				return err
			}

			opts := []guardfile.Option{
				guardfile.WithLogger(log),
				guardfile.WithPolicy(policy),
				guardfile.WithDigestAlgorithm(algorithm),
				guardfile.WithWorkers(workers),
				guardfile.WithSampleCap(cfg.SampleCapBytes),
			}
			if auditDB != "" {
				store, err := guardfile.OpenAuditStore(auditDB)
				if err != nil {
					log.Warn("audit store unavailable", "path", auditDB, "err", err)
				} else {
					opts = append(opts, guardfile.WithAuditStore(store))
				}
			}

			engine, err := guardfile.New(opts...)
			if err != nil {
				return err
			}
			defer engine.Close()

			inputs, err := collectInputs(args)
			if err != nil {
				return err
			}

			emit, flush, err := reportEmitter(jsonOut, quiet)
			if err != nil {
				return err
			}

			summary, runErr := engine.Run(cmd.Context(), inputs, emit)
			if err := flush(); err != nil {
				return err
			}
			if runErr != nil {
				return runErr
			}

			if summaryOut != "" {
				if err := writeSummaryFile(summaryOut, summary); err != nil {
					return err
				}
			}
			log.Info("scan complete", "summary", summary.String())

			if code := guardfile.ExitCode(summary, policy.Defaults.FailOn); code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&policyPath, "policy", "", "base policy document (YAML); empty uses the built-in default policy")
	cmd.Flags().StringArrayVar(&overrides, "policy-override", nil, "override policy document, layered onto the base (repeatable, applied in order)")
	cmd.Flags().StringVar(&jsonOut, "json", "", "write per-file JSON lines to this file (\"-\" or empty: stdout)")
	cmd.Flags().StringVar(&summaryOut, "summary", "", "write the run summary as JSON to this file")
	cmd.Flags().StringVar(&failOn, "fail-on", "", "exit non-zero at this decision severity: none, warn or deny (default: policy setting)")
	cmd.Flags().IntVar(&timeoutMS, "timeout-ms", 0, "per-file validation deadline in milliseconds (default: policy setting)")
	cmd.Flags().IntVar(&workers, "workers", 0, "worker pool size (0: one per CPU)")
	cmd.Flags().StringVar(&hashAlgo, "hash", "sha256", "content digest algorithm: sha256, sha512, blake2b or xxh64")
	cmd.Flags().StringVar(&auditDB, "audit-db", "", "journal decisions to this SQLite database")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "suppress per-file report lines on stdout")
	return cmd
}

// loadEffectivePolicy layers override documents onto the base. Without a
// base path the built-in default policy applies, and overrides are layered
// as documents of their own.
func loadEffectivePolicy(base string, overrides []string) (*guardfile.Policy, error) {
	var paths []string
	if base != "" {
		paths = append(paths, base)
	}
	paths = append(paths, overrides...)

	if len(paths) == 0 {
		return guardfile.DefaultPolicy(), nil
	}
	return guardfile.LoadPolicy(paths...)
}

// collectInputs expands the argument list into scan inputs: files stay as
// given, directories are walked depth-first in lexical order, and "-" reads
// stdin. Walk order fixes report order, keeping runs reproducible.
func collectInputs(args []string) ([]guardfile.Input, error) {
	var inputs []guardfile.Input
	for _, arg := range args {
		if arg == "-" {
			inputs = append(inputs, guardfile.ReaderInput("stdin", os.Stdin))
			continue
		}

		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			inputs = append(inputs, guardfile.FileInput(arg))
			continue
		}

		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type().IsRegular() {
				inputs = append(inputs, guardfile.FileInput(path))
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return inputs, nil
}

// reportEmitter resolves the per-file report destination. The returned
// flush settles buffered output and surfaces any write failure.
func reportEmitter(jsonOut string, quiet bool) (func(*guardfile.FileReport), func() error, error) {
	if jsonOut == "" || jsonOut == "-" {
		if quiet {
			return nil, func() error { return nil }, nil
		}
		w := guardfile.NewReportWriter(os.Stdout)
		var failed error
		emit := func(r *guardfile.FileReport) {
			if err := w.Write(r); err != nil && failed == nil {
				failed = err
			}
		}
		return emit, func() error { return failed }, nil
	}

	f, err := os.Create(jsonOut)
	if err != nil {
		return nil, nil, fmt.Errorf("create report file: %w", err)
	}
	buf := bufio.NewWriter(f)
	w := guardfile.NewReportWriter(buf)

	var failed error
	emit := func(r *guardfile.FileReport) {
		if err := w.Write(r); err != nil && failed == nil {
			failed = err
		}
	}
	flush := func() error {
		if err := buf.Flush(); err != nil && failed == nil {
			failed = err
		}
		if err := f.Close(); err != nil && failed == nil {
			failed = err
		}
		return failed
	}
	return emit, flush, nil
}

// writeSummaryFile renders the summary as indented JSON.
func writeSummaryFile(path string, s *guardfile.Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
