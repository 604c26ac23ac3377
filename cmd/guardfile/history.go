package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/guardfile/guardfile"
)

func newHistoryCmd() *cobra.Command {
	var (
		dbPath string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent decisions from the audit journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				cfg, err := guardfile.GetConfig()
				if err != nil {
					return err
				}
				dbPath = cfg.AuditDBPath
			}
			if dbPath == "" {
				return fmt.Errorf("no audit database: pass --db or set BEAVER_GUARDFILE_AUDIT_DB")
			}

			store, err := guardfile.OpenAuditStore(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return renderHistory(cmd.OutOrStdout(), entries)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "audit database path (default: BEAVER_GUARDFILE_AUDIT_DB)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries to show")
	return cmd
}

func renderHistory(out io.Writer, entries []guardfile.AuditEntry) error {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No decisions recorded yet.")
		return nil
	}
	for _, e := range entries {
		digest := e.Digest
		if len(digest) > 12 {
			digest = digest[:12]
		}
		fmt.Fprintf(out, "%s  %-5s  %-24s  %-32s  %-12s  %s\n",
			e.CreatedAt.UTC().Format(time.RFC3339), e.Outcome, e.RuleID, e.MediaType, digest, e.Name)
	}
	return nil
}
