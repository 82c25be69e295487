package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/auslex/auslex/internal/orchestrator"
)

var askFlags struct {
	jurisdiction string
	asAt         string
	stream       bool
	jsonOut      bool
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer one question from the command line",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAsk(cmd.Context(), strings.Join(args, " "))
	},
}

func init() {
	askCmd.Flags().StringVar(&askFlags.jurisdiction, "jurisdiction", "",
		"jurisdiction filter, e.g. Cth, NSW, Vic")
	askCmd.Flags().StringVar(&askFlags.asAt, "as-at", "",
		"point-in-time filter as a YYYY-MM-DD date")
	askCmd.Flags().BoolVar(&askFlags.stream, "stream", false,
		"stream prose to stdout while the answer is generated")
	askCmd.Flags().BoolVar(&askFlags.jsonOut, "json", false,
		"print the full validated answer as JSON")
	rootCmd.AddCommand(askCmd)
}

func runAsk(ctx context.Context, question string) error {
	logger := newLogger()

	a, err := setup(ctx, logger)
	if err != nil {
		return err
	}
	defer a.close()

	req := orchestrator.Request{
		Question:     question,
		Jurisdiction: askFlags.jurisdiction,
	}
	if askFlags.asAt != "" {
		t, err := time.Parse("2006-01-02", askFlags.asAt)
		if err != nil {
			return fmt.Errorf("--as-at must be a YYYY-MM-DD date: %w", err)
		}
		req.AsAt = &t
	}

	var result *orchestrator.Result
	if askFlags.stream {
		result, err = a.orchestrator.AnswerStream(ctx, req, nil, func(delta string) error {
			_, werr := fmt.Print(delta)
			return werr
		})
		fmt.Println()
	} else {
		result, err = a.orchestrator.Answer(ctx, req)
	}
	if err != nil {
		return err
	}

	if askFlags.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result.Answer)
	}

	if !askFlags.stream {
		fmt.Println(result.Answer.Answer)
	}
	printCitations(result)
	return nil
}

func printCitations(result *orchestrator.Result) {
	if len(result.Answer.Citations) > 0 {
		fmt.Println("\nCitations:")
		for _, c := range result.Answer.Citations {
			line := c.Citation
			if line == "" {
				line = c.Title
			}
			if c.Provision != "" {
				line += ", " + c.Provision
			}
			fmt.Printf("  - %s (%s)\n", line, c.Jurisdiction)
		}
	}
	fmt.Printf("\nConfidence: %.2f", result.Answer.Confidence)
	if len(result.Answer.Limitations) > 0 {
		fmt.Printf("  Limitations: %s", strings.Join(result.Answer.Limitations, ", "))
	}
	fmt.Println()
}
