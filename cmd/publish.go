package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gradient-research/etwfe/internal/model"
	"github.com/gradient-research/etwfe/pkg/notion"
)

var publishKind string

var publishCmd = &cobra.Command{
	Use:   "publish <run-id>",
	Short: "Publish a run to the configured Notion database",
	Long: `Publish writes one Notion page per run with its specification and
an effects table. Re-publishing the same run refreshes the existing
page instead of creating a duplicate.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("publish"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		effects, err := st.ListEffects(ctx, run.ID, model.EffectKind(publishKind))
		if err != nil {
			return err
		}

		client := notion.NewClient(cfg.Notion.Token)
		page, created, err := notion.PublishRun(ctx, client, cfg.Notion.DatabaseID, run, effects)
		if err != nil {
			return err
		}

		action := "refreshed"
		if created {
			action = "created"
		}
		zap.L().Info("run published",
			zap.String("run_id", run.ID),
			zap.String("page_id", string(page.ID)),
			zap.String("action", action),
			zap.Int("effects", len(effects)),
		)

		return writeJSON(cmd.OutOrStdout(), publishResult{
			PageID:  string(page.ID),
			URL:     page.URL,
			Created: created,
		})
	},
}

type publishResult struct {
	PageID  string `json:"page_id"`
	URL     string `json:"url,omitempty"`
	Created bool   `json:"created"`
}

func init() {
	publishCmd.Flags().StringVar(&publishKind, "kind", "", "only effects of this kind (default all)")
	rootCmd.AddCommand(publishCmd)
}
