package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crm-migrate/internal/model"
)

var (
	migratePhase string
	migrateTest  bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate child account records into the master account",
	Long: "Runs one migration phase, or all of them in dependency order. " +
		"Already-migrated records are skipped, so an interrupted run can be restarted safely.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		if migrateTest {
			cfg.Migration.TestMode = true
		}

		phase := model.Phase(migratePhase)
		switch phase {
		case model.PhaseFields, model.PhasePipelines, model.PhaseContacts,
			model.PhaseOpportunities, model.PhaseCombined:
		default:
			return eris.Errorf("unknown phase %q", migratePhase)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		orch, err := initOrchestrator(st)
		if err != nil {
			return err
		}

		report, err := orch.Run(ctx, phase)
		if report != nil {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(report)
		}
		if err != nil {
			return eris.Wrap(err, "migration run")
		}

		var succeeded, failed int
		for _, pr := range report.Phases {
			succeeded += pr.Succeeded
			failed += pr.Failed
		}
		zap.L().Info("migration complete",
			zap.String("phase", string(phase)),
			zap.Int("succeeded", succeeded),
			zap.Int("failed", failed),
		)
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migratePhase, "phase", string(model.PhaseCombined), "phase to run: fields, pipelines, contacts, opportunities, or combined")
	migrateCmd.Flags().BoolVar(&migrateTest, "test", false, "test mode: cap each phase at a handful of records")
	rootCmd.AddCommand(migrateCmd)
}
