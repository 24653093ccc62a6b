package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"ex-mimic/internal/archive"
	"ex-mimic/internal/mimic"
)

func newSnapshotCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect, migrate and download state snapshots",
	}
	cmd.AddCommand(newSnapshotInspectCommand())
	cmd.AddCommand(newSnapshotMigrateCommand())
	cmd.AddCommand(newSnapshotPullCommand(opts))

	return cmd
}

func newSnapshotInspectCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Summarize a snapshot file of either schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read snapshot %s: %w", args[0], err)
			}
			document, legacy, err := mimic.DecodeDocument(data)
			if err != nil {
				return fmt.Errorf("decode snapshot %s: %w", args[0], err)
			}
			if asJSON {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(document)
			}

			return writeSummary(cmd.OutOrStdout(), document, legacy)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the whole decoded document as JSON")

	return cmd
}

func newSnapshotMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate <in> <out>",
		Short: "Rewrite a snapshot in the current schema",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read snapshot %s: %w", args[0], err)
			}
			document, legacy, err := mimic.DecodeDocument(data)
			if err != nil {
				return fmt.Errorf("decode snapshot %s: %w", args[0], err)
			}
			encoded, err := mimic.EncodeDocument(document)
			if err != nil {
				return fmt.Errorf("encode snapshot: %w", err)
			}
			if err := os.WriteFile(args[1], encoded, 0o600); err != nil {
				return fmt.Errorf("write snapshot %s: %w", args[1], err)
			}

			from := "current"
			if legacy {
				from = "legacy"
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "migrated %s snapshot to version %d: %d scopes\n",
				from, mimic.SnapshotVersion, len(document.GuildsKeys))
			return err
		},
	}
}

func newSnapshotPullCommand(opts *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "pull [record-id]",
		Short: "Download the newest or the given archived snapshot",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, configFile, err := loadConfig(opts.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			store, err := archive.Open(cfg.archive, newLogger(cfg), os.Getenv)
			if err != nil {
				return fmt.Errorf("open archive: %w", err)
			}
			if store == nil {
				return fmt.Errorf("config file %s: archive.type is none", configFile)
			}
			defer store.Close()

			var (
				recordID string
				blob     []byte
			)
			if len(args) == 1 {
				recordID = args[0]
				blob, err = store.Get(cmd.Context(), recordID)
			} else {
				var record archive.Record
				record, blob, err = store.Latest(cmd.Context())
				recordID = record.ID
			}
			if errors.Is(err, archive.ErrNotFound) {
				return fmt.Errorf("snapshot not found")
			}
			if err != nil {
				return fmt.Errorf("pull snapshot: %w", err)
			}

			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(blob)
				return err
			}
			if err := os.WriteFile(output, blob, 0o600); err != nil {
				return fmt.Errorf("write snapshot %s: %w", output, err)
			}
			_, err = fmt.Fprintf(cmd.ErrOrStderr(), "pulled %s (%d bytes) to %s\n", recordID, len(blob), output)
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file, stdout when empty or -")

	return cmd
}

func writeSummary(out io.Writer, document mimic.SnapshotDocument, legacy bool) error {
	var builder strings.Builder
	schema := "current"
	if legacy {
		schema = "legacy"
	}
	fmt.Fprintf(&builder, "schema: %s, version %d\n", schema, document.Version)
	fmt.Fprintf(&builder, "whitelisted: %d  blacklisted: %d  moderators: %d\n",
		len(document.Whitelist), len(document.Blacklist), len(document.Modlist))

	order := make([]int, len(document.GuildsKeys))
	for index := range order {
		order[index] = index
	}
	slices.SortFunc(order, func(a, b int) int {
		return strings.Compare(document.GuildsKeys[a], document.GuildsKeys[b])
	})
	fmt.Fprintf(&builder, "scopes: %d\n", len(order))
	for _, index := range order {
		if index >= len(document.GuildsValues) {
			break
		}
		scope := document.GuildsValues[index]
		mutators := "(none)"
		if scope.AllowedMutators != nil && len(*scope.AllowedMutators) != 0 {
			mutators = strings.Join(*scope.AllowedMutators, ",")
		}
		fmt.Fprintf(&builder, "  %s: %d messages, proc %d..%d/%d current %d, asleep %t, mutators %s\n",
			document.GuildsKeys[index], len(scope.Messages),
			scope.MinProc, scope.MaxProc, scope.ProcOutOf, scope.Proc,
			scope.Asleep, mutators,
		)
	}

	_, err := io.WriteString(out, builder.String())
	return err
}
