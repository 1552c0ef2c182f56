// Package main implements the validate command for the codepool CLI.
package main

import (
	"fmt"

	"github.com/autonomous-bits/codepool/pkg/migrate"
	"github.com/autonomous-bits/codepool/pkg/pool"
	"github.com/spf13/cobra"
)

// validateCmd represents the validate command.
var validateCmd = &cobra.Command{
	Use:   "validate [<hash>]",
	Short: "Check one or every stored function's structural integrity",
	Long: `validate checks that a stored object's hash matches its directory,
that it carries at least one language with at least one mapping, that
every mapping rehashes to its own path, that every canonical
identifier in the code is named by at least one mapping, and that every
pool-import reference in the code is covered by every mapping's
alias_mapping. With no <hash> given, every stored function is checked.`,
	Args: cobra.MaximumNArgs(1),
	RunE: validateCommand,
}

func validateCommand(_ *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}

	if len(args) == 1 {
		hash := args[0]
		if err := pool.ValidateHash(hash); err != nil {
			return err
		}
		if err := migrate.Validate(store, hash); err != nil {
			return err
		}
		if !globalFlags.quiet {
			fmt.Printf("%s: ok\n", hash)
		}
		return nil
	}

	hashes, err := store.AllHashes()
	if err != nil {
		return err
	}
	var failures int
	for _, hash := range hashes {
		if err := migrate.Validate(store, hash); err != nil {
			failures++
			fmt.Printf("%s: FAIL: %v\n", hash, err)
			continue
		}
		if !globalFlags.quiet {
			fmt.Printf("%s: ok\n", hash)
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d function(s) failed validation", failures)
	}
	return nil
}
