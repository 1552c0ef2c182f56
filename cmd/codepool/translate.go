// Package main implements the translate command for the codepool CLI.
package main

import (
	"fmt"
	"strings"

	"github.com/autonomous-bits/codepool/pkg/pool"
	"github.com/spf13/cobra"
)

// translateCmd represents the translate command.
var translateCmd = &cobra.Command{
	Use:   "translate <hash>@<src-language> <dst-language>",
	Short: "Add a new language variant derived from an existing one",
	Long: `translate loads the chosen mapping for <hash> in <src-language> and
writes a new mapping for <dst-language> built from the provided
--name, --alias, --docstring, and --comment flags. The source mapping
is read-only; translate never overwrites it.`,
	Args: cobra.ExactArgs(2),
	RunE: translateCommand,
}

var translateFlags struct {
	srcMapping string
	docstring  string
	comment    string
	names      []string
	aliases    []string
}

func init() {
	translateCmd.Flags().StringVar(&translateFlags.srcMapping, "mapping", "", "specific source mapping hash to translate from (defaults to the most recently written mapping)")
	translateCmd.Flags().StringVar(&translateFlags.docstring, "docstring", "", "docstring for the new language variant")
	translateCmd.Flags().StringVar(&translateFlags.comment, "comment", "", "free-form variant label for the new mapping")
	translateCmd.Flags().StringArrayVar(&translateFlags.names, "name", nil, "canonical=original identifier rename (repeatable); unspecified canonical ids keep their source-mapping name")
	translateCmd.Flags().StringArrayVar(&translateFlags.aliases, "alias", nil, "hash=alias import-alias rename (repeatable); unspecified hashes keep their source-mapping alias")
}

func translateCommand(_ *cobra.Command, args []string) error {
	hash, srcLang, err := splitAtSign(args[0])
	if err != nil {
		return err
	}
	dstLang := args[1]
	if err := pool.ValidateHash(hash); err != nil {
		return err
	}
	if err := pool.ValidateLanguage(srcLang); err != nil {
		return err
	}
	if err := pool.ValidateLanguage(dstLang); err != nil {
		return err
	}

	store, _, err := openStore()
	if err != nil {
		return err
	}

	var src *pool.Mapping
	if translateFlags.srcMapping == "" {
		src, _, err = store.LatestMapping(hash, srcLang)
	} else {
		src, err = store.MappingLoad(hash, srcLang, translateFlags.srcMapping)
	}
	if err != nil {
		return err
	}

	nameOverrides, err := parseKeyValuePairs(translateFlags.names)
	if err != nil {
		return err
	}
	aliasOverrides, err := parseKeyValuePairs(translateFlags.aliases)
	if err != nil {
		return err
	}

	dst := pool.Mapping{
		Docstring:    src.Docstring,
		NameMapping:  overrideNameMapping(src.NameMapping, nameOverrides),
		AliasMapping: overrideAliasMapping(src.AliasMapping, aliasOverrides),
		Comment:      translateFlags.comment,
	}
	if translateFlags.docstring != "" {
		dst.Docstring = translateFlags.docstring
	}

	mappingHash, err := store.SaveMapping(hash, dstLang, dst)
	if err != nil {
		return err
	}

	if !globalFlags.quiet {
		fmt.Printf("hash:         %s\n", hash)
		fmt.Printf("language:     %s\n", dstLang)
		fmt.Printf("mapping hash: %s\n", mappingHash)
	}
	return nil
}

// parseKeyValuePairs parses a list of "key=value" flag values.
func parseKeyValuePairs(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		idx := strings.Index(p, "=")
		if idx <= 0 {
			return nil, newUsageError("expected \"key=value\", got %q", p)
		}
		out[p[:idx]] = p[idx+1:]
	}
	return out, nil
}

// overrideNameMapping rebuilds src with any canonical id present in
// overrides replaced, preserving src's canonical-id order (spec.md §3:
// "insertion-order = canonical-id order").
func overrideNameMapping(src pool.NameMapping, overrides map[string]string) pool.NameMapping {
	out := make(pool.NameMapping, len(src))
	for i, b := range src {
		if v, ok := overrides[b.Canonical]; ok {
			out[i] = pool.NameBinding{Canonical: b.Canonical, Original: v}
		} else {
			out[i] = b
		}
	}
	return out
}

// overrideAliasMapping rebuilds src with any hash present in overrides
// replaced.
func overrideAliasMapping(src map[string]string, overrides map[string]string) map[string]string {
	if len(src) == 0 && len(overrides) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for h, a := range src {
		out[h] = a
	}
	for h, a := range overrides {
		out[h] = a
	}
	return out
}
