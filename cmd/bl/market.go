package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bountyline/internal/app"
	"bountyline/internal/domain"
	"bountyline/internal/publish"
	"bountyline/internal/tools"
)

func listingsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "listings", Short: "Browse marketplace listings"}
	cmd.AddCommand(listingsListCmd())
	cmd.AddCommand(listingsShowCmd())
	return cmd
}

func listingsListCmd() *cobra.Command {
	var in tools.DiscoverInput
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List live listings open to agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out, err := a.Tools.DiscoverListings(ctx, in)
				if err != nil {
					return err
				}
				if viper.GetBool("json") || !out.Success {
					return printResult(out, out.Success, out.Error)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Slug", "Title", "Type", "Reward", "Token", "Deadline"})
				for _, l := range out.Listings {
					tw.AppendRow(table.Row{l.Slug, l.Title, l.Type, reward(l.RewardAmount), l.Token, l.Deadline})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&in.Take, "take", 20, "number of listings")
	cmd.Flags().StringVar(&in.Deadline, "deadline", "", "deadline filter")
	return cmd
}

func listingsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <slug>",
		Short: "Show listing details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out, err := a.Tools.GetListingDetails(ctx, args[0])
				if err != nil {
					return err
				}
				return printResult(out, out.Success, out.Error)
			})
		},
	}
}

func commentsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "comments", Short: "Read and write listing comments"}
	cmd.AddCommand(commentsListCmd())
	cmd.AddCommand(commentsPostCmd())
	return cmd
}

func commentsListCmd() *cobra.Command {
	var in tools.CommentsInput
	cmd := &cobra.Command{
		Use:   "list <listing-id>",
		Short: "List comments on a listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.ListingID = args[0]
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out, err := a.Tools.FetchComments(ctx, in)
				if err != nil {
					return err
				}
				if viper.GetBool("json") || !out.Success {
					return printResult(out, out.Success, out.Error)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Author", "Created", "Message"})
				for _, c := range out.Comments {
					tw.AppendRow(table.Row{c.ID, c.AuthorID, c.CreatedAt, c.Message})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&in.Skip, "skip", 0, "comments to skip")
	cmd.Flags().IntVar(&in.Take, "take", 50, "comments to return")
	return cmd
}

func commentsPostCmd() *cobra.Command {
	var in tools.PostCommentInput
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Post a comment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out, err := a.Tools.PostComment(ctx, in)
				if err != nil {
					return err
				}
				return printResult(out, out.Success, out.Error)
			})
		},
	}
	cmd.Flags().StringVar(&in.RefType, "ref-type", "BOUNTY", "BOUNTY or PROJECT")
	cmd.Flags().StringVar(&in.RefID, "ref-id", "", "listing id")
	cmd.Flags().StringVar(&in.Message, "message", "", "comment text")
	cmd.Flags().StringVar(&in.PocID, "poc-id", "", "point of contact id")
	cmd.Flags().StringVar(&in.ReplyToID, "reply-to", "", "comment id to reply to")
	cmd.Flags().StringVar(&in.ReplyToUserID, "reply-to-user", "", "user id to reply to")
	return cmd
}

func submissionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "submission", Short: "Submit or update work without a run"}
	cmd.AddCommand(submissionWriteCmd("submit", "Create a submission", func(ctx context.Context, t tools.Toolset, s domain.Submission) (any, bool, string, error) {
		out, err := t.SubmitWork(ctx, s)
		return out, out.Success, out.Error, err
	}))
	cmd.AddCommand(submissionWriteCmd("update", "Update a submission", func(ctx context.Context, t tools.Toolset, s domain.Submission) (any, bool, string, error) {
		out, err := t.UpdateSubmission(ctx, s)
		return out, out.Success, out.Error, err
	}))
	return cmd
}

type submissionFunc func(ctx context.Context, t tools.Toolset, s domain.Submission) (any, bool, string, error)

func submissionWriteCmd(use, short string, fn submissionFunc) *cobra.Command {
	var s domain.Submission
	var answers []string
	var ask float64
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseAnswers(answers)
			if err != nil {
				return err
			}
			s.EligibilityAnswers = parsed
			if cmd.Flags().Changed("ask") {
				s.Ask = &ask
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out, ok, msg, err := fn(ctx, a.Tools, s)
				if err != nil {
					return err
				}
				return printResult(out, ok, msg)
			})
		},
	}
	cmd.Flags().StringVar(&s.ListingID, "listing-id", "", "listing id")
	cmd.Flags().StringVar(&s.Link, "link", "", "submission link")
	cmd.Flags().StringVar(&s.OtherInfo, "other-info", "", "extra notes")
	cmd.Flags().StringVar(&s.Tweet, "tweet", "", "tweet link")
	cmd.Flags().StringVar(&s.Telegram, "telegram", "", "contact URL")
	cmd.Flags().Float64Var(&ask, "ask", 0, "requested amount")
	cmd.Flags().BoolVar(&s.ClearAsk, "clear-ask", false, "send an explicit null ask to remove a previous quote")
	cmd.MarkFlagsMutuallyExclusive("ask", "clear-ask")
	cmd.Flags().StringArrayVar(&answers, "answer", nil, "eligibility answer as question=answer (repeatable)")
	return cmd
}

func registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register <name>",
		Short: "Register a new agent identity",
		Long:  "Prints the new API key once. Store it as SUPERTEAM_API_KEY.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out, err := a.Tools.RegisterAgent(ctx, args[0])
				if err != nil {
					return err
				}
				return printResult(out, out.Success, out.Error)
			})
		},
	}
}

func heartbeatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "heartbeat",
		Short: "Report agent liveness",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return printJSON(a.Tools.Heartbeat())
			})
		},
	}
}

func publishCmd() *cobra.Command {
	var req publish.Request
	var slug string
	cmd := &cobra.Command{
		Use:   "publish <workspace-dir>",
		Short: "Publish a workspace as a new repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			req.WorkspacePath = dir
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if req.RepoName == "" {
					if slug == "" {
						slug = filepath.Base(dir)
					}
					req.RepoName = a.Publisher.RepoName(slug)
				}
				if !cmd.Flags().Changed("private") {
					req.Private = a.Config.Publish.Private
				}
				res := a.Publisher.Publish(ctx, req)
				return printResult(res, res.Success, res.Error)
			})
		},
	}
	cmd.Flags().StringVar(&req.RepoName, "name", "", "repository name (default prefix + slug)")
	cmd.Flags().StringVar(&slug, "slug", "", "listing slug used for the default name (default directory name)")
	cmd.Flags().StringVar(&req.Description, "description", "", "repository description")
	cmd.Flags().BoolVar(&req.Private, "private", false, "create a private repository")
	return cmd
}

// printResult prints a tool result and turns an upstream rejection into a
// non-zero exit.
func printResult(v any, ok bool, msg string) error {
	if err := printJSON(v); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s", msg)
	}
	return nil
}

func reward(amount *float64) string {
	if amount == nil {
		return ""
	}
	return fmt.Sprintf("%g", *amount)
}
