// Package main implements the show command for the codepool CLI.
package main

import (
	"fmt"
	"os"

	"github.com/autonomous-bits/codepool/pkg/pool"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// showCmd represents the show command.
var showCmd = &cobra.Command{
	Use:   "show <hash>",
	Short: "Show a stored function's metadata and language mappings",
	Args:  cobra.ExactArgs(1),
	RunE:  showCommand,
}

func showCommand(_ *cobra.Command, args []string) error {
	hash := args[0]
	if err := pool.ValidateHash(hash); err != nil {
		return err
	}

	store, _, err := openStore()
	if err != nil {
		return err
	}

	obj, err := store.FunctionLoad(hash)
	if err != nil {
		return err
	}

	bold := color.New(color.Bold)
	bold.Printf("hash:       ")
	fmt.Println(obj.Hash)
	bold.Printf("author:     ")
	fmt.Println(obj.Metadata.Author)
	bold.Printf("created:    ")
	fmt.Println(obj.Metadata.Created.Format("2006-01-02T15:04:05Z07:00"))
	if len(obj.Metadata.Tags) > 0 {
		bold.Printf("tags:       ")
		fmt.Println(obj.Metadata.Tags)
	}
	if len(obj.Metadata.Dependencies) > 0 {
		bold.Printf("deps:       ")
		fmt.Println(obj.Metadata.Dependencies)
	}

	langs, err := store.Languages(hash)
	if err != nil {
		return err
	}
	if len(langs) == 0 {
		if !globalFlags.quiet {
			fmt.Println("\nno language mappings stored")
		}
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Language", "Mapping Hash", "Comment")
	for _, lang := range langs {
		hashes, err := store.Mappings(hash, lang)
		if err != nil {
			return err
		}
		for _, mh := range hashes {
			m, err := store.MappingLoad(hash, lang, mh)
			if err != nil {
				return err
			}
			if err := table.Append(lang, mh, m.Comment); err != nil {
				return err
			}
		}
	}
	fmt.Println()
	return table.Render()
}
