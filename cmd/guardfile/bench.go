package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/guardfile/guardfile"
)

func newBenchCmd(log *slog.Logger) *cobra.Command {
	var (
		iterations int
		digestOnly bool
	)

	cmd := &cobra.Command{
		Use:   "bench [paths...]",
		Short: "Measure pipeline throughput over a corpus",
		Long: `Bench loads the given files into memory and runs them through the full
pipeline repeatedly, reporting files per second, byte throughput and
per-stage means. With --digest-only it instead compares every supported
digest algorithm over the same corpus.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			corpus, totalBytes, err := loadCorpus(args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "corpus: %d files, %s\n", len(corpus), humanize.IBytes(uint64(totalBytes)))

			if digestOnly {
				return benchDigests(out, corpus, totalBytes, iterations)
			}
			return benchPipeline(cmd, log, corpus, totalBytes, iterations)
		},
	}

	cmd.Flags().IntVar(&iterations, "iterations", 3, "passes over the corpus")
	cmd.Flags().BoolVar(&digestOnly, "digest-only", false, "compare digest algorithms instead of running the pipeline")
	return cmd
}

type corpusFile struct {
	name string
	data []byte
}

// loadCorpus reads every file under the given paths into memory so disk
// I/O stays out of the measurement.
func loadCorpus(args []string) ([]corpusFile, int64, error) {
	inputs, err := collectInputs(args)
	if err != nil {
		return nil, 0, err
	}

	var corpus []corpusFile
	var total int64
	for _, in := range inputs {
		data, err := os.ReadFile(in.Name)
		if err != nil {
			return nil, 0, err
		}
		corpus = append(corpus, corpusFile{name: in.Name, data: data})
		total += int64(len(data))
	}
	return corpus, total, nil
}

// benchDigests hashes the corpus once per algorithm per iteration.
func benchDigests(out io.Writer, corpus []corpusFile, totalBytes int64, iterations int) error {
	for _, algo := range guardfile.Algorithms() {
		start := time.Now()
		for i := 0; i < iterations; i++ {
			for _, f := range corpus {
				if _, err := guardfile.HashBytes(f.data, algo); err != nil {
					return err
				}
			}
		}
		elapsed := time.Since(start)
		processed := totalBytes * int64(iterations)
		fmt.Fprintf(out, "%-8s %10s in %8s  (%s/s)\n",
			algo, humanize.IBytes(uint64(processed)), elapsed.Round(time.Millisecond),
			humanize.IBytes(throughput(processed, elapsed)))
	}
	return nil
}

// benchPipeline runs the full scan pipeline over the in-memory corpus.
func benchPipeline(cmd *cobra.Command, log *slog.Logger, corpus []corpusFile, totalBytes int64, iterations int) error {
	engine, err := guardfile.New(guardfile.WithLogger(log))
	if err != nil {
		return err
	}

	inputs := make([]guardfile.Input, len(corpus))
	for i, f := range corpus {
		inputs[i] = guardfile.BytesInput(f.name, f.data)
	}

	var stages guardfile.Timings
	files := 0
	start := time.Now()
	for i := 0; i < iterations; i++ {
		summary, err := engine.Run(cmd.Context(), inputs, nil)
		if err != nil {
			return err
		}
		stages.Add(summary.Stages)
		files += summary.Scanned
	}
	elapsed := time.Since(start)

	out := cmd.OutOrStdout()
	processed := totalBytes * int64(iterations)
	fmt.Fprintf(out, "%d files in %s  (%.0f files/s, %s/s)\n",
		files, elapsed.Round(time.Millisecond),
		float64(files)/elapsed.Seconds(),
		humanize.IBytes(throughput(processed, elapsed)))

	if files > 0 {
		n := float64(files)
		fmt.Fprintf(out, "per-file means: sniff %.3fms, hash %.3fms, validate %.3fms, decide %.3fms\n",
			stages.SniffMS/n, stages.HashMS/n, stages.ValidateMS/n, stages.DecideMS/n)
	}
	return nil
}

func throughput(bytes int64, elapsed time.Duration) uint64 {
	if elapsed <= 0 {
		return 0
	}
	return uint64(float64(bytes) / elapsed.Seconds())
}
