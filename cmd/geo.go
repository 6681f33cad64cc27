package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gradient-research/etwfe/internal/export"
	"github.com/gradient-research/etwfe/internal/geo"
)

var geoCmd = &cobra.Command{
	Use:   "geo",
	Short: "Geographic cohort assignment",
	Long:  "Assign treatment cohorts to panel units from policy-region shapefiles.",
}

var (
	geoData       string
	geoShapefile  string
	geoNameField  string
	geoValueField string
	geoLngCol     string
	geoLatCol     string
	geoGroupCol   string
	geoDefault    float64
	geoOut        string
)

var geoAssignCmd = &cobra.Command{
	Use:   "assign",
	Short: "Assign cohorts by point-in-polygon lookup",
	Long: `Assign locates each panel row's coordinates inside the policy
regions of a shapefile and writes the panel back out with the cohort
column set to the containing region's adoption period. Rows outside
every region get the default value.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		regions, err := geo.LoadRegions(geoShapefile, geo.RegionOptions{
			NameField:  geoNameField,
			ValueField: geoValueField,
		})
		if err != nil {
			return err
		}

		data, err := loadPanel(geoData, "", "", "")
		if err != nil {
			return err
		}

		out, matched, err := geo.AssignGroups(data, regions, geo.AssignOptions{
			LngCol:   geoLngCol,
			LatCol:   geoLatCol,
			GroupCol: geoGroupCol,
			Default:  geoDefault,
		})
		if err != nil {
			return err
		}

		zap.L().Info("cohorts assigned",
			zap.Int("rows", out.NRows()),
			zap.Int("matched", matched),
			zap.Int("regions", len(regions)),
		)

		if geoOut == "" {
			return export.WritePanelCSV(cmd.OutOrStdout(), out)
		}
		f, err := os.Create(geoOut)
		if err != nil {
			return eris.Wrapf(err, "create %s", geoOut)
		}
		defer f.Close() //nolint:errcheck
		return export.WritePanelCSV(f, out)
	},
}

func init() {
	geoAssignCmd.Flags().StringVar(&geoData, "data", "", "panel file with coordinate columns (required)")
	geoAssignCmd.Flags().StringVar(&geoShapefile, "shapefile", "", "policy-region shapefile (required)")
	geoAssignCmd.Flags().StringVar(&geoNameField, "name-field", "NAME", "shapefile attribute holding the region label")
	geoAssignCmd.Flags().StringVar(&geoValueField, "value-field", "ADOPT", "shapefile attribute holding the adoption period")
	geoAssignCmd.Flags().StringVar(&geoLngCol, "lng", "lng", "longitude column")
	geoAssignCmd.Flags().StringVar(&geoLatCol, "lat", "lat", "latitude column")
	geoAssignCmd.Flags().StringVar(&geoGroupCol, "group", "group", "cohort column to write")
	geoAssignCmd.Flags().Float64Var(&geoDefault, "default", 0, "cohort value for unmatched rows; 0 = never treated")
	geoAssignCmd.Flags().StringVar(&geoOut, "out", "", "output CSV path (default stdout)")
	_ = geoAssignCmd.MarkFlagRequired("data")
	_ = geoAssignCmd.MarkFlagRequired("shapefile")

	geoCmd.AddCommand(geoAssignCmd)
	rootCmd.AddCommand(geoCmd)
}
