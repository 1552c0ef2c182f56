// Package main implements the get command for the codepool CLI.
package main

import (
	"fmt"

	"github.com/autonomous-bits/codepool/pkg/dispatch"
	"github.com/autonomous-bits/codepool/pkg/pool"
	"github.com/spf13/cobra"
)

// getCmd represents the get command.
var getCmd = &cobra.Command{
	Use:   "get <hash>@<language>",
	Short: "Print a function's source in one language",
	Long: `get reconstructs author-visible source for a stored function in the
requested language, reading whichever schema version is actually
stored without migrating anything.`,
	Args: cobra.ExactArgs(1),
	RunE: getCommand,
}

var getFlags struct {
	mapping string
}

func init() {
	getCmd.Flags().StringVar(&getFlags.mapping, "mapping", "", "specific mapping hash to use (defaults to the most recently written mapping)")
}

func getCommand(_ *cobra.Command, args []string) error {
	hash, lang, err := splitAtSign(args[0])
	if err != nil {
		return err
	}
	if err := pool.ValidateHash(hash); err != nil {
		return err
	}
	if err := pool.ValidateLanguage(lang); err != nil {
		return err
	}

	store, root, err := openStore()
	if err != nil {
		return err
	}

	code, err := dispatch.Get(store, root, hash, lang, getFlags.mapping)
	if err != nil {
		return err
	}
	fmt.Println(code)
	return nil
}
