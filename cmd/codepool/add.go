// Package main implements the add command for the codepool CLI.
package main

import (
	"fmt"

	"github.com/autonomous-bits/codepool/internal/config"
	"github.com/autonomous-bits/codepool/internal/poolenv"
	"github.com/autonomous-bits/codepool/pkg/hasher"
	"github.com/autonomous-bits/codepool/pkg/langparse"
	"github.com/autonomous-bits/codepool/pkg/normalize"
	"github.com/autonomous-bits/codepool/pkg/pool"
	"github.com/spf13/cobra"
)

// addCmd represents the add command.
var addCmd = &cobra.Command{
	Use:   "add <path>@<language>",
	Short: "Add a function's source to the pool",
	Long: `add parses a single source file containing exactly one function,
normalizes it, and writes the resulting object and language mapping to
the pool rooted at POOL_ROOT.`,
	Args: cobra.ExactArgs(1),
	RunE: addCommand,
}

var addFlags struct {
	comment string
	tags    []string
}

func init() {
	addCmd.Flags().StringVar(&addFlags.comment, "comment", "", "free-form variant label stored with the mapping")
	addCmd.Flags().StringSliceVar(&addFlags.tags, "tag", nil, "tag to attach to the object (repeatable)")
}

func addCommand(_ *cobra.Command, args []string) error {
	path, lang, err := splitAtSign(args[0])
	if err != nil {
		return err
	}
	if err := pool.ValidateLanguage(lang); err != nil {
		return err
	}

	mod, err := langparse.ParseFile(path)
	if err != nil {
		return err
	}
	result, err := normalize.Normalize(mod)
	if err != nil {
		return err
	}

	store, _, err := openStore()
	if err != nil {
		return err
	}

	hash := hasher.FunctionHash(result.NormalizedCodeNoDocstring)

	obj := pool.Object{
		Hash:           hash,
		HashAlgorithm:  config.SHA256,
		NormalizedCode: result.NormalizedCode,
		Metadata: pool.ObjectMetadata{
			Author: poolenv.Author(),
			Tags:   addFlags.tags,
		},
	}
	if err := store.SaveFunction(obj); err != nil {
		return err
	}

	mapping := pool.Mapping{
		Docstring:    result.Docstring,
		NameMapping:  result.NameMapping,
		AliasMapping: result.AliasMapping,
		Comment:      addFlags.comment,
	}
	mappingHash, err := store.SaveMapping(hash, lang, mapping)
	if err != nil {
		return err
	}

	if !globalFlags.quiet {
		fmt.Printf("hash:         %s\n", hash)
		fmt.Printf("language:     %s\n", lang)
		fmt.Printf("mapping hash: %s\n", mappingHash)
	}
	return nil
}
