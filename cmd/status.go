package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/crm-migrate/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-entity mapping counts from the state store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		counts, err := st.Counts(ctx)
		if err != nil {
			return eris.Wrap(err, "read mapping counts")
		}

		out := struct {
			Driver   string                   `json:"driver"`
			Mappings map[model.EntityKind]int `json:"mappings"`
		}{
			Driver:   cfg.Store.Driver,
			Mappings: counts,
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
