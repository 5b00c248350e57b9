package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List registered analysis templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		for _, desc := range svc.Templates() {
			fmt.Printf("%s  %s\n", cyan(desc.Slug), desc.Title)
			if desc.Description != "" {
				fmt.Printf("    %s\n", desc.Description)
			}
			for _, p := range desc.Parameters {
				required := ""
				if p.Required {
					required = " (required)"
				}
				fmt.Printf("    --%s %s%s\n", p.Name, p.Type, required)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(templatesCmd)
}
