package main

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/gradient-research/etwfe/internal/model"
	"github.com/gradient-research/etwfe/pkg/anthropic"
)

// explainSystem is the cached system prompt for run narration.
const explainSystem = `You are a statistical consultant explaining difference-in-differences
estimates from a staggered-adoption design to a non-specialist audience.
You receive a model specification and its aggregated treatment effects.

Explain what the estimates say in plain language: direction, magnitude on
the outcome's scale, and precision. Point out estimates that are small
relative to their standard errors. Use only the numbers provided; never
invent values, and never speculate about mechanisms the design cannot
identify. Keep the explanation under 300 words.`

var (
	explainKind      string
	explainMaxTokens int64
)

var explainCmd = &cobra.Command{
	Use:   "explain <run-id>",
	Short: "Draft a plain-language summary of a run with Claude",
	Long: `Explain sends a stored run's specification and aggregated effects to
the Anthropic API and prints the returned narrative. Only summary
statistics leave the machine, never panel data.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("explain"); err != nil {
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
		effects, err := st.ListEffects(ctx, run.ID, model.EffectKind(explainKind))
		if err != nil {
			return err
		}

		client := anthropic.NewClient(cfg.Anthropic.APIKey)
		resp, err := client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     cfg.Anthropic.Model,
			MaxTokens: explainMaxTokens,
			System:    anthropic.BuildCachedSystemBlocks(explainSystem),
			Messages: []anthropic.Message{
				{Role: "user", Content: renderRunContext(run, effects)},
			},
		})
		if err != nil {
			return err
		}
		resp.Usage.LogCost(resp.Model, "explain")

		text := responseText(resp)
		if text == "" {
			return eris.New("explain: empty response")
		}
		fmt.Fprintln(cmd.OutOrStdout(), text)
		return nil
	},
}

// renderRunContext builds the user message sent to the model. It carries
// the specification and aggregated estimates only.
func renderRunContext(run *model.Run, effects []model.Effect) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Specification: %s\n", run.Formula)
	fmt.Fprintf(&sb, "Dataset: %s (%d observations)\n", run.Dataset, run.NObs)
	fmt.Fprintf(&sb, "Family: %s, covariance: %s\n", run.Family, run.Vcov)
	fmt.Fprintf(&sb, "Cohort column: %s (reference %s), period column: %s (reference %s)\n",
		run.GroupVar, run.GroupRef, run.TimeVar, run.TimeRef)
	fmt.Fprintf(&sb, "Control-group policy: %s, fixed-effects mode: %s\n", run.Policy, run.Mode)

	if len(effects) > 0 {
		sb.WriteString("\nAggregated treatment effects:\n")
		for _, e := range effects {
			label := e.KeyLabel()
			if label == "" {
				label = "overall"
			}
			fmt.Fprintf(&sb, "  %s %s: estimate %.6g, std. error %.6g, n=%d\n",
				e.Kind, label, e.Estimate, e.StdErr, e.N)
		}
	}
	return sb.String()
}

// responseText returns the concatenated text blocks from a message response.
func responseText(resp *anthropic.MessageResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "" || b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

func init() {
	explainCmd.Flags().StringVar(&explainKind, "kind", "event", "effect kind to summarize (empty for all)")
	explainCmd.Flags().Int64Var(&explainMaxTokens, "max-tokens", 1024, "response token budget")
	rootCmd.AddCommand(explainCmd)
}
