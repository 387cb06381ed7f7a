package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/phrazzld/matrix-outbox/internal/sendqueue"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

// newPendingCmd creates the "outbox pending" subcommand.
func newPendingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List the tasks recorded in the durable ledger",
		Long: "Prints the ledger snapshot that the next run will restore. With the badger\n" +
			"backend the store is locked while the daemon runs; use GET /v1/queue instead.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			store, closeStore, err := openSnapshotStore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, closeStore()) }()

			records, err := sendqueue.NewLedger(store, log, nil).Records(cmd.Context())
			if err != nil {
				return err
			}

			asJSON, _ := cmd.Flags().GetBool("json")
			if asJSON {
				return writeRecordsJSON(cmd, records)
			}

			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no queued tasks")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ORDER\tTYPE\tLOCAL ECHO\tENCRYPT")
			for _, rec := range records {
				id, encrypt := recordDetails(rec)
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", rec.RecordOrder(), rec.RecordType(), id, encrypt)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().Bool("json", false, "print records as JSON")
	return cmd
}

type pendingRecord struct {
	Order       int64  `json:"order"`
	Type        string `json:"type"`
	LocalEchoID string `json:"local_echo_id,omitempty"`
	Encrypt     *bool  `json:"encrypt,omitempty"`
}

func writeRecordsJSON(cmd *cobra.Command, records []sendqueue.Record) error {
	out := make([]pendingRecord, 0, len(records))
	for _, rec := range records {
		p := pendingRecord{Order: rec.RecordOrder(), Type: rec.RecordType()}
		switch r := rec.(type) {
		case sendqueue.SendRecord:
			p.LocalEchoID, p.Encrypt = r.LocalEchoID, r.Encrypt
		case sendqueue.RedactRecord:
			p.LocalEchoID = r.LocalEchoID
		}
		out = append(out, p)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// recordDetails renders the local echo id and encryption choice of rec.
func recordDetails(rec sendqueue.Record) (string, string) {
	switch r := rec.(type) {
	case sendqueue.SendRecord:
		encrypt := "room default"
		if r.Encrypt != nil {
			encrypt = fmt.Sprintf("%t", *r.Encrypt)
		}
		return r.LocalEchoID, encrypt
	case sendqueue.RedactRecord:
		return r.LocalEchoID, "-"
	default:
		return "-", "-"
	}
}
