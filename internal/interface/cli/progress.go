package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/storyquest/progression-engine/internal/app"
	"github.com/storyquest/progression-engine/internal/application/query"
	"github.com/storyquest/progression-engine/pkg/timeutil"
)

// NewEnsureCommand creates the ensure command.
func NewEnsureCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ensure <user-id>",
		Short: "Create a progression record if the user has none",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				view, created, err := a.Engine.EnsureUser(ctx, args[0])
				if err != nil {
					return err
				}
				data := struct {
					Created bool                       `json:"created"`
					User    *query.UserProgressionView `json:"user"`
				}{created, view}
				return out.Success(data, func(w io.Writer) {
					if created {
						fmt.Fprintf(w, "created progression record for %s\n", view.UserID)
						return
					}
					fmt.Fprintf(w, "%s already has a progression record\n", view.UserID)
				})
			})
		},
	}
}

// NewAwardCommand creates the award command.
func NewAwardCommand(rootOpts *RootOptions) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "award <user-id> <amount>",
		Short: "Credit or deduct points",
		Long: `Credit or deduct points.

A negative amount deducts; the total never drops below zero. Use -- before
a negative amount:
  progressionctl award writer-1 --reason correction -- -50`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return WrapExitError(ExitCommandError, "amount must be an integer", err)
			}
			return rootOpts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				res, err := a.Engine.AwardPoints(ctx, args[0], amount, reason)
				if err != nil {
					return err
				}
				data := map[string]interface{}{
					"user_id":   res.UserID,
					"applied":   res.Applied,
					"new_total": res.NewTotal,
					"new_level": res.NewLevel,
					"level_up":  res.LevelUp,
					"clamped":   res.Clamped,
				}
				return out.Success(data, func(w io.Writer) {
					fmt.Fprintf(w, "%s: %+d points, total %d, level %d\n", res.UserID, res.Applied, res.NewTotal, res.NewLevel)
					if res.Clamped {
						fmt.Fprintf(w, "deduction clamped: requested %d\n", amount)
					}
					if res.LevelUp {
						fmt.Fprintf(w, "level up: %d -> %d\n", res.PreviousLevel, res.NewLevel)
					}
				})
			})
		},
	}

	cmd.Flags().StringVarP(&reason, "reason", "r", "manual", "ledger reason")
	return cmd
}

// NewUnlockCommand creates the unlock command.
func NewUnlockCommand(rootOpts *RootOptions) *cobra.Command {
	var rawContext string

	cmd := &cobra.Command{
		Use:   "unlock <user-id> <achievement-id>",
		Short: "Unlock an achievement and credit its reward once",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var unlockContext interface{}
			if rawContext != "" {
				if !json.Valid([]byte(rawContext)) {
					return NewExitError(ExitCommandError, "invalid --context JSON")
				}
				unlockContext = json.RawMessage(rawContext)
			}
			return rootOpts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				res, err := a.Engine.UnlockAchievement(ctx, args[0], args[1], unlockContext)
				if err != nil {
					return err
				}
				data := map[string]interface{}{
					"success":          res.Success,
					"already_unlocked": res.AlreadyUnlocked,
					"achievement_id":   res.Achievement.ID,
					"points_awarded":   res.PointsAwarded,
					"new_total":        res.NewTotal,
					"new_level":        res.NewLevel,
				}
				return out.Success(data, func(w io.Writer) {
					if res.AlreadyUnlocked {
						fmt.Fprintf(w, "%s already unlocked %q\n", args[0], res.Achievement.Name)
						return
					}
					fmt.Fprintf(w, "unlocked %q: +%d points, total %d, level %d\n",
						res.Achievement.Name, res.PointsAwarded, res.NewTotal, res.NewLevel)
				})
			})
		},
	}

	cmd.Flags().StringVar(&rawContext, "context", "", "unlock context as JSON")
	return cmd
}

// NewStreakCommand creates the streak command.
func NewStreakCommand(rootOpts *RootOptions) *cobra.Command {
	var day string

	cmd := &cobra.Command{
		Use:   "streak <user-id>",
		Short: "Record writing activity for a day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var parsed timeutil.Day
			if day != "" {
				var err error
				if parsed, err = timeutil.ParseDay(day); err != nil {
					return WrapExitError(ExitCommandError, "invalid --day", err)
				}
			}
			return rootOpts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				var today *time.Time
				if !parsed.IsZero() {
					t := atNoon(parsed, a.Config.Progression.Location)
					today = &t
				}
				res, err := a.Engine.UpdateWritingStreak(ctx, args[0], today)
				if err != nil {
					return err
				}
				data := map[string]interface{}{
					"today":          res.Today,
					"streak":         res.Streak,
					"longest_streak": res.LongestStreak,
					"streak_broken":  res.StreakBroken,
					"points_awarded": res.PointsAwarded,
					"new_total":      res.NewTotal,
				}
				return out.Success(data, func(w io.Writer) {
					fmt.Fprintf(w, "%s: %d day streak (longest %d) on %s\n", res.UserID, res.Streak, res.LongestStreak, res.Today)
					if res.StreakBroken {
						fmt.Fprintf(w, "streak of %d broken after %d days away\n", res.PreviousStreak, res.DaysSinceLastActive)
					}
					if res.PointsAwarded > 0 {
						fmt.Fprintf(w, "+%d bonus points, total %d\n", res.PointsAwarded, res.NewTotal)
					}
				})
			})
		},
	}

	cmd.Flags().StringVar(&day, "day", "", "activity day as YYYY-MM-DD (default today)")
	return cmd
}

// NewStoryCommand creates the story command.
func NewStoryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "story <user-id>",
		Short: "Count a published story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				view, err := a.Engine.RecordStory(ctx, args[0])
				if err != nil {
					return err
				}
				return out.Success(view, func(w io.Writer) {
					fmt.Fprintf(w, "%s has published %d stories\n", view.UserID, view.StoryCount)
				})
			})
		},
	}
}

// NewCohortCommand creates the cohort command.
func NewCohortCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cohort <user-id> <cohort>",
		Short: "Move a user into a cohort; an empty cohort removes it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.run(cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				view, err := a.Engine.AssignCohort(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return out.Success(view, func(w io.Writer) {
					if view.Cohort == "" {
						fmt.Fprintf(w, "%s has no cohort\n", view.UserID)
						return
					}
					fmt.Fprintf(w, "%s is in cohort %s\n", view.UserID, view.Cohort)
				})
			})
		},
	}
}

// atNoon returns midday of d in loc, which maps back to d in loc.
func atNoon(d timeutil.Day, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t := d.Time()
	return time.Date(t.Year(), t.Month(), t.Day(), 12, 0, 0, 0, loc)
}
