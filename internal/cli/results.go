package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"exam-runner/internal/analytics"
	"exam-runner/internal/domain"
	"exam-runner/internal/gateway"
	"github.com/spf13/cobra"
)

// NewResultsCmd prints graded results with summary statistics.
func NewResultsCmd(configPath *string) *cobra.Command {
	var (
		local       bool
		passPercent float64
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Show exam results and analytics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			rt, err := loadRuntime(ctx, *configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			var results []domain.ExamResult
			if local {
				if rt.journal == nil {
					return errors.New("--local needs postgres.url in the config")
				}
				results, err = rt.journal.List(ctx)
			} else {
				viewer, verr := gateway.ViewerFromToken(rt.cfg.Gateway.Token)
				if verr != nil {
					return fmt.Errorf("exam token: %w", verr)
				}
				if verr := viewer.Require(domain.OpViewAnalytics); verr != nil {
					return verr
				}
				service := rt.newService()
				defer service.Shutdown()
				results, err = service.Results(ctx, viewer)
			}
			if err != nil {
				return err
			}

			summary := analytics.Summarize(results, passPercent)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"results": results, "summary": summary})
			}
			return printResults(cmd.OutOrStdout(), results, summary)
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "read the local receipt journal instead of the backend")
	cmd.Flags().Float64Var(&passPercent, "pass", analytics.DefaultPassPercent, "pass mark as a percentage")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printResults(out io.Writer, results []domain.ExamResult, s analytics.Summary) error {
	if s.Total == 0 {
		_, err := fmt.Fprintln(out, "No results.")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EXAM\tSTUDENT\tMARKS\tPERCENT\tGRADE")
	for _, r := range results {
		student := r.StudentName
		if student == "" {
			student = fmt.Sprint(r.StudentID)
		}
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%.1f%%\t%s\n",
			r.Exam.Title, student, r.TotalMarks, r.Exam.TotalMarks, r.Percentage(), analytics.Grade(r.Percentage()))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Results\t%d\n", s.Total)
	fmt.Fprintf(w, "Average\t%.1f%%\n", s.Average)
	fmt.Fprintf(w, "Highest\t%.1f%%\n", s.Highest)
	fmt.Fprintf(w, "Lowest\t%.1f%%\n", s.Lowest)
	fmt.Fprintf(w, "Pass rate\t%.1f%% (pass mark %.0f%%)\n", s.PassRate, s.PassPercent)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "GRADE\tCOUNT")
	for _, g := range s.Grades {
		fmt.Fprintf(w, "%s\t%d\n", g.Grade, g.Count)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "SUBJECT\tRESULTS\tAVERAGE")
	for _, g := range s.BySubject {
		fmt.Fprintf(w, "%s\t%d\t%.1f%%\n", g.Name, g.Count, g.Average)
	}
	return w.Flush()
}
