package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/developingchet/logfallback/internal/metrics"
	"github.com/developingchet/logfallback/internal/storage"
)

var openSpool = func(path string) (storage.Store, error) {
	return storage.Open(path)
}

// newSpoolCmd returns the "spool" command group for inspecting and replaying
// the on-disk spool. Drained records are printed as JSON lines, so
//
//	logfallback spool drain --path spool.db | logfallback run
//
// re-routes them once the primary sinks are back.
func newSpoolCmd() *cobra.Command {
	var path string

	spoolCmd := &cobra.Command{
		Use:   "spool",
		Short: "Inspect or drain the on-disk spool",
	}
	spoolCmd.PersistentFlags().StringVar(&path, "path", "", "path to the spool database (required)")

	spoolCmd.AddCommand(&cobra.Command{
		Use:   "count",
		Short: "Print the number of spooled records",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openSpoolPath(path)
			if err != nil {
				return err
			}
			defer st.Close()
			fmt.Fprintln(cmd.OutOrStdout(), st.Count())
			return nil
		},
	})

	var limit int
	drainCmd := &cobra.Command{
		Use:   "drain",
		Short: "Remove spooled records, oldest first, and print them as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openSpoolPath(path)
			if err != nil {
				return err
			}
			defer st.Close()
			return drainSpool(cmd, st, limit)
		},
	}
	drainCmd.Flags().IntVar(&limit, "limit", 0, "maximum records to drain (0 = all)")
	spoolCmd.AddCommand(drainCmd)

	return spoolCmd
}

func openSpoolPath(path string) (storage.Store, error) {
	if path == "" {
		return nil, errors.New("--path is required")
	}
	st, err := openSpool(path)
	if err != nil {
		return nil, fmt.Errorf("open spool: %w", err)
	}
	return st, nil
}

const drainChunk = 500

// drainSpool drains in chunks so that a large spool is never held in memory
// at once. A record is removed from the spool only after it was written.
func drainSpool(cmd *cobra.Command, st storage.Store, limit int) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	drained := 0
	defer func() {
		metrics.SpoolRecords.Set(float64(st.Count()))
		fmt.Fprintf(cmd.ErrOrStderr(), "drained %d record(s)\n", drained)
	}()
	for limit <= 0 || drained < limit {
		n := drainChunk
		if limit > 0 && limit-drained < n {
			n = limit - drained
		}
		entries, err := st.Peek(n)
		if err != nil {
			return fmt.Errorf("read spool: %w", err)
		}
		if len(entries) == 0 {
			break
		}
		written := make([]uint64, 0, len(entries))
		var writeErr error
		for _, e := range entries {
			if writeErr = enc.Encode(e.Record); writeErr != nil {
				break
			}
			written = append(written, e.Seq)
		}
		if err := st.Remove(written); err != nil {
			return fmt.Errorf("remove drained records: %w", err)
		}
		drained += len(written)
		if writeErr != nil {
			return fmt.Errorf("write record: %w", writeErr)
		}
	}
	return nil
}
