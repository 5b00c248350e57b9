package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"rircore/pkg/domain"
)

var importCmd = &cobra.Command{
	Use:   "import <participants.json>",
	Short: "Import harmonized participant records",
	Long: `Import reads a JSON array of harmonized participant records and upserts
them by SEQN. Records for SEQNs already in the store are replaced.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read participants: %w", err)
		}
		var participants []domain.Participant
		if err := json.Unmarshal(payload, &participants); err != nil {
			return fmt.Errorf("parse participants: %w", err)
		}

		svc, err := openService()
		if err != nil {
			return err
		}
		imported, res, err := svc.ImportParticipants(cmd.Context(), participants)
		if err != nil {
			return err
		}
		printViolations(res.Violations)

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s imported %d participant(s) from %s\n", green("✓"), imported, args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
