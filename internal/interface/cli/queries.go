package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/storyquest/progression-engine/internal/app"
	"github.com/storyquest/progression-engine/internal/application/engine"
	"github.com/storyquest/progression-engine/internal/domain/leaderboard"
)

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <user-id>",
		Short: "Show a user's points, level, streak and unlocks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				view, err := a.Engine.GetUserProgression(ctx, args[0])
				if err != nil {
					return err
				}
				unlocks, err := a.Engine.ListUnlocks(ctx, args[0])
				if err != nil {
					return err
				}
				data := map[string]interface{}{"user": view, "unlocks": unlocks}
				return out.Success(data, func(w io.Writer) {
					fmt.Fprintf(w, "user:     %s\n", view.UserID)
					fmt.Fprintf(w, "points:   %d\n", view.TotalPoints)
					fmt.Fprintf(w, "level:    %d (%d%%, %d to next)\n", view.Level, view.LevelProgress, view.PointsToNextLevel)
					fmt.Fprintf(w, "streak:   %d (longest %d, last active %s)\n", view.Streak, view.LongestStreak, dayOrNever(view.LastActiveDate.String()))
					fmt.Fprintf(w, "stories:  %d\n", view.StoryCount)
					if view.Cohort != "" {
						fmt.Fprintf(w, "cohort:   %s\n", view.Cohort)
					}
					for _, u := range unlocks {
						fmt.Fprintf(w, "unlocked: %s (%s) at %s\n", u.Definition.Name, u.AchievementID, u.UnlockedAt.Format("2006-01-02"))
					}
				})
			})
		},
	}
}

func dayOrNever(s string) string {
	if s == "" {
		return "never"
	}
	return s
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <user-id>",
		Short: "List point transactions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				txs, err := a.Engine.PointHistory(ctx, args[0], limit)
				if err != nil {
					return err
				}
				return out.Success(txs, func(io.Writer) {
					rows := make([]string, 0, len(txs))
					for _, tx := range txs {
						amount := fmt.Sprintf("%+d", tx.Amount)
						if tx.Clamped() {
							amount += fmt.Sprintf(" (asked %+d)", tx.Requested)
						}
						rows = append(rows, fmt.Sprintf("%s\t%s\t%s\t%d",
							tx.Timestamp.Format("2006-01-02 15:04:05"), amount, tx.Reason, tx.ResultingTotal))
					}
					out.Table("TIME\tAMOUNT\tREASON\tTOTAL", rows)
				})
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum rows (0 for all)")
	return cmd
}

// LeaderboardOptions holds flags for the leaderboard command.
type LeaderboardOptions struct {
	*RootOptions
	Cohort    string
	Limit     int
	As        string
	MinLevel  int
	MinStreak int
	Refresh   bool
}

// NewLeaderboardCommand creates the leaderboard command.
func NewLeaderboardCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LeaderboardOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Show the top of the leaderboard",
		Long: `Show the top of the leaderboard.

Ranking: points, then level, then published stories, then user id.
With --as the requester's own rank is shown even when off the page.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				return showLeaderboard(ctx, a, out, opts)
			})
		},
	}

	cmd.Flags().StringVarP(&opts.Cohort, "cohort", "c", "", "restrict to one cohort")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 0, "page size (default from config)")
	cmd.Flags().StringVar(&opts.As, "as", "", "user whose rank to report")
	cmd.Flags().IntVar(&opts.MinLevel, "min-level", 0, "only users at or above this level")
	cmd.Flags().IntVar(&opts.MinStreak, "min-streak", 0, "only users with at least this streak")
	cmd.Flags().BoolVar(&opts.Refresh, "refresh", false, "recompute and re-cache the page first")
	return cmd
}

func showLeaderboard(ctx context.Context, a *app.App, out *OutputFormatter, opts *LeaderboardOptions) error {
	if opts.Refresh {
		if _, err := a.Engine.RefreshLeaderboard(ctx, opts.Cohort, opts.Limit); err != nil {
			return err
		}
		out.VerboseLog("leaderboard page refreshed")
	}

	req := engine.LeaderboardRequest{Cohort: opts.Cohort, Limit: opts.Limit}
	if opts.MinLevel > 0 || opts.MinStreak > 0 {
		minLevel, minStreak := opts.MinLevel, opts.MinStreak
		req.Predicate = func(s leaderboard.Standing) bool {
			return s.Level >= minLevel && s.Streak >= minStreak
		}
	}

	res, err := a.Engine.GetLeaderboard(ctx, opts.As, req)
	if err != nil {
		return err
	}
	return out.Success(res, func(w io.Writer) {
		rows := make([]string, 0, len(res.Entries))
		for _, e := range res.Entries {
			rows = append(rows, fmt.Sprintf("%d\t%s\t%d\t%d\t%d\t%d", e.Rank, e.UserID, e.TotalPoints, e.Level, e.StoryCount, e.Streak))
		}
		out.Table("RANK\tUSER\tPOINTS\tLEVEL\tSTORIES\tSTREAK", rows)
		if opts.As == "" {
			return
		}
		if !res.RequesterRank.IsUnranked() {
			fmt.Fprintf(w, "%s is ranked #%d\n", opts.As, res.RequesterRank)
		} else {
			fmt.Fprintf(w, "%s is not ranked on this board\n", opts.As)
		}
	})
}

// NewAchievementsCommand creates the achievements command.
func NewAchievementsCommand(rootOpts *RootOptions) *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "achievements",
		Short: "List active achievements",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				defs, err := a.Engine.ListAchievements(ctx, category)
				if err != nil {
					return err
				}
				return out.Success(defs, func(io.Writer) {
					rows := make([]string, 0, len(defs))
					for _, d := range defs {
						rows = append(rows, fmt.Sprintf("%s\t%s\t%s\t%d", d.ID, d.Name, d.Category, d.PointsReward))
					}
					out.Table("ID\tNAME\tCATEGORY\tREWARD", rows)
				})
			})
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "only this category")
	return cmd
}
