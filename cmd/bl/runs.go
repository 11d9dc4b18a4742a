package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bountyline/internal/app"
	"bountyline/internal/bounty"
	"bountyline/internal/domain"
	"bountyline/internal/repo"
	"bountyline/internal/workflow"
)

func discoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find and rank live bounties",
		Long:  "A discovery run fetches live listings, ranks them and waits until you pick the slugs worth executing.",
	}
	cmd.AddCommand(discoverStartCmd())
	cmd.AddCommand(discoverResumeCmd())
	return cmd
}

func discoverStartCmd() *cobra.Command {
	var in bounty.DiscoveryInput
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a discovery run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				run, err := a.Engine.Start(ctx, a.Workflows.Discovery(), in)
				if err != nil {
					return err
				}
				return printRun(run)
			})
		},
	}
	cmd.Flags().IntVar(&in.Take, "take", 20, "number of listings to fetch")
	cmd.Flags().StringVar(&in.Deadline, "deadline", "", "only listings with a deadline before this date")
	return cmd
}

func discoverResumeCmd() *cobra.Command {
	var slugs []string
	cmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Pick listings and finish a discovery run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resume any
			if cmd.Flags().Changed("select") {
				resume = bounty.Selection{SelectedSlugs: slugs}
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				run, err := a.Engine.Resume(ctx, a.Workflows.Discovery(), args[0], resume)
				if err != nil {
					return err
				}
				return printRun(run)
			})
		},
	}
	cmd.Flags().StringSliceVar(&slugs, "select", nil, "selected listing slugs")
	return cmd
}

func executeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Work on one bounty",
		Long:  "An execution run analyses a listing, generates the deliverable, publishes dev work and waits for your approval before submitting.",
	}
	cmd.AddCommand(executeStartCmd())
	cmd.AddCommand(executeResumeCmd())
	return cmd
}

func executeStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <slug>",
		Short: "Start an execution run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				run, err := a.Engine.Start(ctx, a.Workflows.Execution(), bounty.ExecutionInput{Slug: args[0]})
				if err != nil {
					return err
				}
				return printRun(run)
			})
		},
	}
}

func executeResumeCmd() *cobra.Command {
	var approve, reject bool
	var decision bounty.ReviewDecision
	var answers []string
	cmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Approve or reject the generated work",
		Long:  "Without --approve or --reject the run stays suspended and its review payload is printed again.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve && reject {
				return fmt.Errorf("--approve and --reject are mutually exclusive")
			}
			var resume any
			if approve || reject {
				parsed, err := parseAnswers(answers)
				if err != nil {
					return err
				}
				decision.Approved = approve
				decision.EligibilityAnswers = parsed
				resume = decision
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				run, err := a.Engine.Resume(ctx, a.Workflows.Execution(), args[0], resume)
				if err != nil {
					return err
				}
				return printRun(run)
			})
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "approve and submit")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject the submission")
	cmd.Flags().StringVar(&decision.Link, "link", "", "submission link (defaults to the published repository)")
	cmd.Flags().StringVar(&decision.OtherInfo, "other-info", "", "extra notes for the sponsor")
	cmd.Flags().StringVar(&decision.Telegram, "telegram", "", "contact handle (@name or t.me URL)")
	cmd.Flags().StringArrayVar(&answers, "answer", nil, "eligibility answer as question=answer (repeatable)")
	return cmd
}

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "runs", Short: "Inspect stored runs"}
	cmd.AddCommand(runsListCmd())
	cmd.AddCommand(runsShowCmd())
	return cmd
}

func runsListCmd() *cobra.Command {
	var f repo.RunFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				runs, err := r.ListRuns(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Workflow", "Status", "Step", "Slug", "Updated", "Error"})
				for _, run := range runs {
					tw.AppendRow(table.Row{run.ID, run.WorkflowID, run.Status, run.StepID, run.ListingSlug, run.UpdatedAt, run.Error})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.WorkflowID, "workflow", "", "workflow filter (discovery-workflow, execution-workflow)")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.ListingSlug, "slug", "", "listing slug filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum runs")
	return cmd
}

func runsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				run, err := a.Engine.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printRun(run)
			})
		},
	}
}

func parseAnswers(items []string) ([]domain.EligibilityAnswer, error) {
	if len(items) == 0 {
		return nil, nil
	}
	out := make([]domain.EligibilityAnswer, 0, len(items))
	for _, item := range items {
		q, a, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(q) == "" {
			return nil, fmt.Errorf("invalid --answer %q, want question=answer", item)
		}
		out = append(out, domain.EligibilityAnswer{Question: strings.TrimSpace(q), Answer: strings.TrimSpace(a)})
	}
	return out, nil
}

// printRun shows the run header and whatever it is waiting on or produced.
func printRun(run domain.Run) error {
	if viper.GetBool("json") {
		return printJSON(run)
	}
	fmt.Printf("run %s  %s  status=%s  step=%s\n", run.ID, run.WorkflowID, run.Status, run.StepID)
	if run.Error != "" {
		fmt.Println("error:", run.Error)
	}
	switch {
	case run.Status == workflow.StatusSuspended && run.WorkflowID == bounty.DiscoveryWorkflowID:
		var req bounty.SelectionRequest
		if err := workflow.Decode(run.Suspend, &req); err != nil {
			return err
		}
		printRanked(req.RankedListings)
		fmt.Println(req.Message)
		fmt.Printf("bl discover resume %s --select <slug>[,<slug>]\n", run.ID)
	case run.Status == workflow.StatusSuspended && run.WorkflowID == bounty.ExecutionWorkflowID:
		var req bounty.ReviewRequest
		if err := workflow.Decode(run.Suspend, &req); err != nil {
			return err
		}
		printReview(req)
		fmt.Printf("bl execute resume %s --approve|--reject [--link ...]\n", run.ID)
	case run.Status == workflow.StatusCompleted:
		var out any
		if err := workflow.Decode(run.Output, &out); err != nil {
			return err
		}
		return printJSON(out)
	}
	return nil
}

func printRanked(items []domain.RankedListing) {
	tw := newTable()
	tw.AppendHeader(table.Row{"Rank", "Slug", "Title", "Recommended", "Reasoning"})
	for _, l := range items {
		tw.AppendRow(table.Row{l.Rank, l.Slug, l.Title, l.Recommended, l.Reasoning})
	}
	tw.Render()
}

func printReview(req bounty.ReviewRequest) {
	tw := newTable()
	tw.AppendRows([]table.Row{
		{"Title", req.Title},
		{"Workspace", req.WorkspacePath},
		{"Success", req.Success},
		{"Repository", req.RepoURL},
		{"Artifacts", strings.Join(req.Artifacts, ", ")},
		{"Error", req.Error},
	})
	tw.Render()
	if req.Summary != "" {
		fmt.Println(req.Summary)
	}
	for _, q := range req.EligibilityQuestions {
		fmt.Println("eligibility question:", q)
	}
	fmt.Println(req.Message)
}
