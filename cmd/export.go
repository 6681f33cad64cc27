package main

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gradient-research/etwfe/internal/export"
	"github.com/gradient-research/etwfe/internal/model"
)

var (
	exportFormat string
	exportWhat   string
	exportKind   string
	exportOut    string
)

var exportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export a stored run as CSV or XLSX",
	Long: `Export writes a stored run's results to a file. CSV emits either
the aggregated effects or the reported coefficients; XLSX writes a
workbook with summary, coefficient, and effect sheets.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return err
		}

		switch exportFormat {
		case "xlsx":
			if exportOut == "" {
				return eris.New("--out is required for xlsx export")
			}
			effects, err := st.ListEffects(ctx, run.ID, model.EffectKind(exportKind))
			if err != nil {
				return err
			}
			if err := export.WriteRunXLSX(exportOut, run, effects); err != nil {
				return err
			}
			zap.L().Info("workbook written",
				zap.String("run_id", run.ID),
				zap.String("path", exportOut),
				zap.Int("effects", len(effects)),
			)
			return nil

		case "csv":
			var w io.Writer = cmd.OutOrStdout()
			if exportOut != "" {
				f, err := os.Create(exportOut)
				if err != nil {
					return eris.Wrapf(err, "create %s", exportOut)
				}
				defer f.Close() //nolint:errcheck
				w = f
			}

			switch exportWhat {
			case "effects":
				effects, err := st.ListEffects(ctx, run.ID, model.EffectKind(exportKind))
				if err != nil {
					return err
				}
				return export.WriteEffectsCSV(w, effects)
			case "coefficients":
				return export.WriteCoefficientsCSV(w, run)
			default:
				return eris.Errorf("unknown export target %q; use effects or coefficients", exportWhat)
			}

		default:
			return eris.Errorf("unknown export format %q; use csv or xlsx", exportFormat)
		}
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "output format: csv or xlsx")
	exportCmd.Flags().StringVar(&exportWhat, "what", "effects", "csv content: effects or coefficients")
	exportCmd.Flags().StringVar(&exportKind, "kind", "", "only effects of this kind (default all)")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output path (default stdout for csv)")
	rootCmd.AddCommand(exportCmd)
}
