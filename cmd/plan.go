package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crm-migrate/internal/statestore"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Preview the schema mapping without writing anything",
	Long: "Fetches custom fields and pipelines from both accounts, matches them, " +
		"and prints the proposed mapping with a readiness assessment. Read-only.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("plan"); err != nil {
			return err
		}

		// Planning never writes mappings, so no backend is opened.
		orch, err := initOrchestrator(statestore.NewMemory())
		if err != nil {
			return err
		}

		plan, err := orch.BuildPlan(ctx)
		if err != nil {
			return eris.Wrap(err, "build plan")
		}

		zap.L().Info("plan built",
			zap.Int("fields_matched", len(plan.Fields.Matches)),
			zap.Int("fields_unmatched", len(plan.Fields.Unmatched)),
			zap.Int("pipelines_matched", len(plan.Pipelines.Matches)),
			zap.Int("pipelines_unmatched", len(plan.Pipelines.Unmatched)),
			zap.String("readiness", plan.Assessment.Level),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	},
}

func init() {
	rootCmd.AddCommand(planCmd)
}
