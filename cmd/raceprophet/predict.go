package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"example.com/raceprophet/internal/domain"
	"example.com/raceprophet/internal/predict"
)

var (
	baselineDistance string
	baselineTime     string
	goalDistance     string
	weeklyMileage    float64
	age              int
	experience       string
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict a finish time at a goal distance",
	Example: "  raceprophet predict --baseline 10k --time 42:30 --goal half --mileage 35 --age 41\n" +
		"  raceprophet predict --baseline 21.1 --time 1:38:00 --goal marathon --experience advanced",
	RunE: func(cmd *cobra.Command, args []string) error {
		input, err := buildInput()
		if err != nil {
			return err
		}

		engine := predict.NewEngine(predict.DefaultConfig())
		result, err := engine.Predict(input)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s in %s -> %s\n",
			distanceLabel(input.BaselineDistanceKm),
			domain.FormatSeconds(input.BaselineTimeSec),
			distanceLabel(input.GoalDistanceKm))
		fmt.Fprintf(out, "Predicted: %s (%s - %s, +/-%.1f%%)\n",
			result.PredictedFormatted, result.LowFormatted, result.HighFormatted, result.UncertaintyPct)
		fmt.Fprintf(out, "Pace: %s/mi (%s/km)\n", result.PacePerMile, result.PacePerKm)
		return nil
	},
}

var equivalentsCmd = &cobra.Command{
	Use:   "equivalents",
	Short: "Show equivalent times across all standard distances",
	Example: "  raceprophet equivalents --baseline 5k --time 19:45 --mileage 40",
	RunE: func(cmd *cobra.Command, args []string) error {
		// The goal distance is irrelevant here; reuse the baseline so
		// input validation passes.
		goalDistance = baselineDistance
		input, err := buildInput()
		if err != nil {
			return err
		}

		engine := predict.NewEngine(predict.DefaultConfig())
		result, err := engine.Predict(input)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "DISTANCE\tTIME\tPACE/MI")
		for _, dist := range domain.StandardDistances {
			eq := result.Equivalents[dist.Label]
			fmt.Fprintf(out, "%s\t%s\t%s\n", dist.Label, eq.TimeFormatted, eq.PacePerMile)
		}
		return nil
	},
}

func buildInput() (domain.PredictionInput, error) {
	baselineKm, err := parseDistance(baselineDistance)
	if err != nil {
		return domain.PredictionInput{}, err
	}
	baselineSec, err := parseDuration(baselineTime)
	if err != nil {
		return domain.PredictionInput{}, err
	}
	goalKm, err := parseDistance(goalDistance)
	if err != nil {
		return domain.PredictionInput{}, err
	}
	return domain.PredictionInput{
		BaselineDistanceKm: baselineKm,
		BaselineTimeSec:    baselineSec,
		GoalDistanceKm:     goalKm,
		WeeklyMileage:      weeklyMileage,
		Age:                age,
		Experience:         domain.ExperienceTier(experience),
	}, nil
}

func init() {
	for _, cmd := range []*cobra.Command{predictCmd, equivalentsCmd} {
		cmd.Flags().StringVar(&baselineDistance, "baseline", "", "Baseline race distance (e.g. 5k, half, 21.1)")
		cmd.Flags().StringVar(&baselineTime, "time", "", "Baseline finish time (h:mm:ss or m:ss)")
		cmd.Flags().Float64Var(&weeklyMileage, "mileage", 0, "Average weekly mileage in miles")
		cmd.Flags().IntVar(&age, "age", 0, "Athlete age in years")
		cmd.Flags().StringVar(&experience, "experience", "", "Experience tier: beginner, intermediate, advanced, elite")
		cmd.MarkFlagRequired("baseline")
		cmd.MarkFlagRequired("time")
	}
	predictCmd.Flags().StringVar(&goalDistance, "goal", "", "Goal race distance")
	predictCmd.MarkFlagRequired("goal")

	rootCmd.AddCommand(predictCmd)
	rootCmd.AddCommand(equivalentsCmd)
}
