package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/rivalops/internal/config"
	"github.com/jonathan/rivalops/internal/db"
	"github.com/jonathan/rivalops/internal/observability"
	"github.com/jonathan/rivalops/internal/types"
)

// openStore opens the storage used by the admin commands. Tests replace it.
var openStore = func(ctx context.Context) (db.Store, func(), error) {
	database, err := openDB(ctx)
	if err != nil {
		return nil, nil, err
	}
	return database, database.Close, nil
}

func withStore(cmd *cobra.Command, fn func(ctx context.Context, store db.Store) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, closeFn, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, store)
}

// competitor

var (
	competitorName   string
	competitorDomain string
	competitorNotes  string
)

var competitorCmd = &cobra.Command{
	Use:   "competitor",
	Short: "Manage competitors",
}

var competitorAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a competitor",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd, func(ctx context.Context, store db.Store) error {
			c := &types.Competitor{
				Name:   strings.TrimSpace(competitorName),
				Domain: competitorDomain,
				Notes:  competitorNotes,
			}
			if c.Name == "" {
				return fmt.Errorf("--name is required")
			}
			if err := store.CreateCompetitor(ctx, c); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created competitor %s (%s)\n", c.Name, c.ID)
			return nil
		})
	},
}

var competitorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List competitors",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd, func(ctx context.Context, store db.Store) error {
			competitors, err := store.ListCompetitors(ctx)
			if err != nil {
				return err
			}
			for _, c := range competitors {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s  %-24s %s\n", c.ID, c.Name, c.Domain)
			}
			return nil
		})
	},
}

// target

var (
	targetCompetitor string
	targetURL        string
	targetLabel      string
	targetStrategy   string
	targetSchedule   int
	targetDisabled   bool
	targetListAll    bool
)

var targetCmd = &cobra.Command{
	Use:   "target",
	Short: "Manage monitored targets",
}

var targetAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a URL to monitor for a competitor",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		strategy, err := types.ParseCrawlStrategy(targetStrategy)
		if err != nil {
			return err
		}
		return withStore(cmd, func(ctx context.Context, store db.Store) error {
			competitor, err := store.GetCompetitorByName(ctx, targetCompetitor)
			if err != nil {
				return fmt.Errorf("competitor %q: %w", targetCompetitor, err)
			}
			t := &types.Target{
				CompetitorID:    competitor.ID,
				URL:             targetURL,
				Label:           targetLabel,
				CrawlStrategy:   strategy,
				ScheduleMinutes: targetSchedule,
				Enabled:         !targetDisabled,
			}
			if err := store.CreateTarget(ctx, t); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created target %s for %s (%s, every %d min)\n",
				t.ID, competitor.Name, t.CrawlStrategy, t.ScheduleMinutes)
			return nil
		})
	},
}

var targetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List targets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd, func(ctx context.Context, store db.Store) error {
			targets, err := store.ListTargets(ctx, !targetListAll)
			if err != nil {
				return err
			}
			observability.NewPrinter(cmd.OutOrStdout()).PrintTargets(targets)
			return nil
		})
	},
}

func setTargetEnabled(enabled bool) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid target id %q: %w", args[0], err)
		}
		return withStore(cmd, func(ctx context.Context, store db.Store) error {
			if err := store.SetTargetEnabled(ctx, id, enabled); err != nil {
				return err
			}
			state := "disabled"
			if enabled {
				state = "enabled"
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Target %s %s\n", id, state)
			return nil
		})
	}
}

var targetEnableCmd = &cobra.Command{
	Use:   "enable <target-id>",
	Short: "Resume scheduled runs of a target",
	Args:  cobra.ExactArgs(1),
	RunE:  setTargetEnabled(true),
}

var targetDisableCmd = &cobra.Command{
	Use:   "disable <target-id>",
	Short: "Stop scheduled runs of a target",
	Args:  cobra.ExactArgs(1),
	RunE:  setTargetEnabled(false),
}

// reviewer

var (
	reviewerEmail    string
	reviewerName     string
	reviewerPassword string
)

var reviewerCmd = &cobra.Command{
	Use:   "reviewer",
	Short: "Manage reviewers",
}

var reviewerAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a reviewer account",
	Long: `Create a reviewer who can log in to the review API. The password is taken from
--password or, if unset, from RIVALOPS_REVIEWER_PASSWORD.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		password := reviewerPassword
		if password == "" {
			password = os.Getenv("RIVALOPS_REVIEWER_PASSWORD")
		}
		req := types.CreateReviewerRequest{
			DisplayName: reviewerName,
			Email:       reviewerEmail,
			Password:    password,
		}
		if err := req.Validate(); err != nil {
			return fmt.Errorf("invalid reviewer: %w", err)
		}

		auth, err := config.NewReviewAuthConfig()
		if err != nil {
			return err
		}
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			return err
		}

		return withStore(cmd, func(ctx context.Context, store db.Store) error {
			r := &types.Reviewer{Email: req.Email, DisplayName: req.DisplayName, PasswordHash: hash}
			if err := store.CreateReviewer(ctx, r); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created reviewer %s (%s)\n", r.Email, r.ID)
			return nil
		})
	},
}

func init() {
	competitorAddCmd.Flags().StringVar(&competitorName, "name", "", "Competitor name (required)")
	competitorAddCmd.Flags().StringVar(&competitorDomain, "domain", "", "Primary domain")
	competitorAddCmd.Flags().StringVar(&competitorNotes, "notes", "", "Free-form notes")
	competitorCmd.AddCommand(competitorAddCmd, competitorListCmd)

	targetAddCmd.Flags().StringVar(&targetCompetitor, "competitor", "", "Competitor name (required)")
	targetAddCmd.Flags().StringVar(&targetURL, "url", "", "Page URL to monitor (required)")
	targetAddCmd.Flags().StringVar(&targetLabel, "label", "", "Human label, e.g. \"Pricing page\"")
	targetAddCmd.Flags().StringVar(&targetStrategy, "strategy", "markdown", "Crawl strategy: markdown, html or browser")
	targetAddCmd.Flags().IntVar(&targetSchedule, "schedule", 60, "Minutes between scheduled runs")
	targetAddCmd.Flags().BoolVar(&targetDisabled, "disabled", false, "Create the target without scheduling it")
	_ = targetAddCmd.MarkFlagRequired("competitor")
	_ = targetAddCmd.MarkFlagRequired("url")
	targetListCmd.Flags().BoolVar(&targetListAll, "all", false, "Include disabled targets")
	targetCmd.AddCommand(targetAddCmd, targetListCmd, targetEnableCmd, targetDisableCmd)

	reviewerAddCmd.Flags().StringVar(&reviewerEmail, "email", "", "Reviewer email (required)")
	reviewerAddCmd.Flags().StringVar(&reviewerName, "name", "", "Display name (required)")
	reviewerAddCmd.Flags().StringVar(&reviewerPassword, "password", "", "Password (min 8 characters)")
	reviewerCmd.AddCommand(reviewerAddCmd)

	rootCmd.AddCommand(competitorCmd, targetCmd, reviewerCmd)
}
