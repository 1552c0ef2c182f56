// Package main implements the migrate command for the codepool CLI.
package main

import (
	"context"
	"fmt"

	"github.com/autonomous-bits/codepool/internal/poolenv"
	"github.com/autonomous-bits/codepool/pkg/migrate"
	"github.com/autonomous-bits/codepool/pkg/pool"
	"github.com/spf13/cobra"
)

// migrateCmd represents the migrate command.
var migrateCmd = &cobra.Command{
	Use:   "migrate [<hash>]",
	Short: "Upgrade legacy schema v0 records to v1",
	Long: `migrate upgrades one v0 record (when <hash> is given) or every v0
record under the pool (when it is omitted) to a v1 object plus one
mapping per recorded language. It never touches records already on
schema v1.`,
	Args: cobra.MaximumNArgs(1),
	RunE: migrateCommand,
}

var migrateFlags struct {
	dryRun bool
	keepV0 bool
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateFlags.dryRun, "dry-run", false, "report what would happen without writing anything")
	migrateCmd.Flags().BoolVar(&migrateFlags.keepV0, "keep-v0", false, "leave the v0 file in place instead of renaming it to a .bak sibling")
}

func migrateCommand(_ *cobra.Command, args []string) error {
	store, root, err := openStore()
	if err != nil {
		return err
	}

	opts := migrate.Options{
		DryRun: migrateFlags.dryRun,
		KeepV0: migrateFlags.keepV0,
		Author: poolenv.Author(),
	}

	if len(args) == 1 {
		hash := args[0]
		if err := pool.ValidateHash(hash); err != nil {
			return err
		}
		result, err := migrate.MigrateV0ToV1(store, root, hash, opts)
		if err != nil {
			return err
		}
		if !globalFlags.quiet {
			if result.Skipped {
				fmt.Printf("%s: already v1, skipped\n", hash)
			} else {
				fmt.Printf("%s: migrated\n", hash)
			}
		}
		return nil
	}

	summary, err := migrate.MigrateAll(context.Background(), store, root, opts)
	if err != nil {
		return err
	}
	if !globalFlags.quiet {
		fmt.Printf("migrated: %d, skipped: %d, failed: %d\n", summary.Migrated, summary.Skipped, summary.Failed)
		for _, failure := range summary.Failures {
			fmt.Printf("  failed: %v\n", failure)
		}
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d record(s) failed to migrate", summary.Failed)
	}
	return nil
}
