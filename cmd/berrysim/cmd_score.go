package main

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/spf13/cobra"
)

func newScoreCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a parameter vector against the dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			x, err := a.vectorFlag(cmd)
			if err != nil {
				return err
			}
			samples, _ := cmd.Flags().GetInt("samples")
			repeat, _ := cmd.Flags().GetInt("repeat")

			d, err := a.loadDataset()
			if err != nil {
				return err
			}
			obj, err := a.objective(d)
			if err != nil {
				return err
			}

			scores := make([]float64, 0, max(repeat, 1))
			for i := 0; i < max(repeat, 1); i++ {
				v, err := obj.Score(x)
				if err != nil {
					return err
				}
				scores = append(scores, v)
			}

			var averaged []float64
			if samples > 0 {
				averaged, err = obj.ScoreAveraged(cmd.Context(), x, samples)
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return json.NewEncoder(out).Encode(map[string]any{
					"seed":     obj.Seeder.Seed(),
					"scores":   jsonSafe(scores),
					"averaged": jsonSafe(averaged),
				})
			}
			for i, v := range scores {
				fmt.Fprintf(out, "score[%d] = %.6g\n", i, v)
			}
			if averaged != nil {
				fmt.Fprintf(out, "\naveraged totals over %d samples:\n", samples)
				for i, v := range averaged {
					fmt.Fprintf(out, "  day %-4d %.2f\n", d.Records[i].DaysSinceStart, v)
				}
			}
			return nil
		},
	}

	cmd.Flags().String("params", "", "Comma-separated 17-element parameter vector (default from config)")
	cmd.Flags().Int("repeat", 1, "Number of independent scores to print")
	cmd.Flags().Int("samples", 0, "Also print per-row totals averaged over this many runs")

	return cmd
}

// jsonSafe replaces NaN and infinities, which encoding/json rejects, with nil.
func jsonSafe(vs []float64) []any {
	if vs == nil {
		return nil
	}
	out := make([]any, len(vs))
	for i, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[i] = v
	}
	return out
}
