package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/gradient-research/etwfe/internal/engine"
	"github.com/gradient-research/etwfe/internal/etwfe"
	"github.com/gradient-research/etwfe/internal/store"
)

var (
	batchStudies     string
	batchConcurrency int
	batchSave        bool
	batchOut         string
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Estimate a list of studies from a YAML file",
	Long: `Batch reads a YAML study list and estimates the studies in
parallel. Each study names a panel file and specification; failures are
reported per study without aborting the rest.

Study file format:

  studies:
    - name: employment
      data: mpdta.csv
      model: "lemp ~ lpop"
      group: first.treat
      time: year
      vcov: hc1
      effects: [event, group]`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		studies, err := loadStudies(batchStudies)
		if err != nil {
			return err
		}

		var st store.Store
		if batchSave {
			st, err = openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
		}

		results := processStudies(ctx, studies, batchConcurrency, func(ctx context.Context, s study) (*fitResult, error) {
			return runStudy(ctx, st, s)
		})

		var out io.Writer = cmd.OutOrStdout()
		if batchOut != "" {
			f, err := os.Create(batchOut)
			if err != nil {
				return eris.Wrapf(err, "create %s", batchOut)
			}
			defer f.Close() //nolint:errcheck
			out = f
		}
		return writeJSON(out, results)
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchStudies, "studies", "", "YAML study list (required)")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 4, "studies estimated in parallel")
	batchCmd.Flags().BoolVar(&batchSave, "save", false, "persist each run to the store")
	batchCmd.Flags().StringVar(&batchOut, "out", "", "results JSON path (default stdout)")
	_ = batchCmd.MarkFlagRequired("studies")
	rootCmd.AddCommand(batchCmd)
}

// study is one estimation request from a batch file.
type study struct {
	Name  string `yaml:"name"`
	Data  string `yaml:"data"`
	Model string `yaml:"model"`
	Group string `yaml:"group"`
	Time  string `yaml:"time"`

	GroupRef *float64 `yaml:"gref"`
	TimeRef  *float64 `yaml:"tref"`
	Policy   string   `yaml:"policy"`
	Mode     string   `yaml:"mode"`
	Family   string   `yaml:"family"`
	Vcov     string   `yaml:"vcov"`

	Effects []string `yaml:"effects"`
	Sheet   string   `yaml:"sheet"`
}

type studyFile struct {
	Studies []study `yaml:"studies"`
}

// studyResult is one line of the batch report.
type studyResult struct {
	Study  string     `json:"study"`
	RunID  string     `json:"run_id,omitempty"`
	Error  string     `json:"error,omitempty"`
	Result *fitResult `json:"result,omitempty"`
}

// runStudyFunc estimates one study.
type runStudyFunc func(ctx context.Context, s study) (*fitResult, error)

// loadStudies parses and validates a YAML study list. Unnamed studies
// get positional names.
func loadStudies(path string) ([]study, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read study file %s", path)
	}

	var file studyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, eris.Wrapf(err, "parse study file %s", path)
	}
	if len(file.Studies) == 0 {
		return nil, eris.Errorf("study file %s lists no studies", path)
	}

	for i := range file.Studies {
		s := &file.Studies[i]
		if s.Name == "" {
			s.Name = fmt.Sprintf("study-%d", i+1)
		}
		if s.Data == "" || s.Model == "" || s.Group == "" || s.Time == "" {
			return nil, eris.Errorf("study %q: data, model, group, and time are required", s.Name)
		}
	}
	return file.Studies, nil
}

// processStudies estimates studies concurrently. The result slice is
// indexed like the input, so output order is stable regardless of
// completion order.
func processStudies(ctx context.Context, studies []study, concurrency int, run runStudyFunc) []studyResult {
	if len(studies) == 0 {
		zap.L().Info("no studies to run")
		return nil
	}
	if concurrency < 1 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.Int("studies", len(studies)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	results := make([]studyResult, len(studies))
	var succeeded, failed atomic.Int64

	for i, s := range studies {
		g.Go(func() error {
			log := zap.L().With(zap.String("study", s.Name))

			res, err := run(gctx, s)
			if err != nil {
				failed.Add(1)
				log.Error("estimation failed", zap.Error(err))
				results[i] = studyResult{Study: s.Name, Error: err.Error()}
				return nil // one failed study does not abort the batch
			}

			succeeded.Add(1)
			log.Info("estimation complete",
				zap.String("run_id", res.Run.ID),
				zap.Int("n_obs", res.Run.NObs),
				zap.Int("effects", len(res.Effects)),
			)
			results[i] = studyResult{Study: s.Name, RunID: res.Run.ID, Result: res}
			return nil
		})
	}
	_ = g.Wait()

	zap.L().Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return results
}

// runStudy estimates one study and, when st is non-nil, persists the run
// and its effects.
func runStudy(ctx context.Context, st store.Store, s study) (*fitResult, error) {
	data, err := loadPanel(s.Data, s.Sheet, "", "")
	if err != nil {
		return nil, err
	}

	opts := etwfe.Options{
		ControlGroup: etwfe.ControlGroup(s.Policy),
		Mode:         etwfe.FEMode(s.Mode),
		Family:       engine.Family(s.Family),
		Fit:          engine.FitOptions{Vcov: engine.Vcov(s.Vcov)},
	}
	if s.GroupRef != nil {
		opts.GroupRef = etwfe.Ref(*s.GroupRef)
	}
	if s.TimeRef != nil {
		opts.TimeRef = etwfe.Ref(*s.TimeRef)
	}

	fit, err := etwfe.BuildAndFit(ctx, data, s.Model, s.Group, s.Time, opts)
	if err != nil {
		return nil, err
	}

	run := runFromFit(filepath.Base(s.Data), fit)
	effects, err := aggregateKinds(fit, run.ID, s.Effects)
	if err != nil {
		return nil, err
	}

	if st != nil {
		if err := st.SaveRun(ctx, run); err != nil {
			return nil, err
		}
		if len(effects) > 0 {
			if err := st.SaveEffects(ctx, run.ID, effects); err != nil {
				return nil, err
			}
		}
	}
	return &fitResult{Run: run, Effects: effects}, nil
}
