package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/lazypower/foresight/internal/models"
)

const commandTimeout = 10 * time.Minute

// withRuntime opens the runtime, runs fn, and closes everything afterwards.
func withRuntime(fn func(ctx context.Context, rt *runtime) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

// --- detect ---

var detectCmd = &cobra.Command{
	Use:   "detect [user-id]",
	Short: "Run pattern detection for one user, or every active user",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(ctx context.Context, rt *runtime) error {
			if len(args) == 0 {
				sum, err := rt.engine.RunDetectionAll(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("users: %d  patterns: %d  failed: %d  pruned events: %d\n",
					sum.Users, sum.Patterns, sum.Failed, sum.Pruned)
				return nil
			}
			res, err := rt.engine.RunPatternDetection(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("history span: %dh\n", res.SpanHours)
			printPatterns(res.Patterns)
			for _, s := range res.Skipped {
				fmt.Printf("  skipped %dh: %v\n", s.PeriodHours, s.Reason)
			}
			return nil
		})
	},
}

// --- sweep ---

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Demote items unread for longer than tier.cold_after",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(ctx context.Context, rt *runtime) error {
			res, err := rt.engine.RunDemotionSweep(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("scanned: %d  demoted: %d  failed: %d\n", res.Scanned, res.Demoted, res.Failed)
			return nil
		})
	},
}

// --- predict ---

var (
	predictActivity string
	predictLocation string
	predictPeople   []string
	predictLimit    int
	predictAhead    time.Duration
)

var predictCmd = &cobra.Command{
	Use:   "predict <user-id>",
	Short: "Rank a user's content by predicted need",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		frame := models.ContextFrame{
			Activity: predictActivity,
			Location: predictLocation,
			People:   predictPeople,
		}
		return withRuntime(func(ctx context.Context, rt *runtime) error {
			at := time.Now().Add(predictAhead)
			results, err := rt.engine.RankAt(ctx, args[0], frame, at, predictLimit)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("No predictions.")
				return nil
			}
			for i, r := range results {
				fmt.Printf("%d. [%.3f] %s  (temporal %.2f, context %.2f, recency %.2f)\n",
					i+1, r.Score, r.ContentID, r.Factors.Temporal, r.Factors.ContextGate, r.Factors.Recency)
			}
			return nil
		})
	},
}

// --- patterns ---

var patternsJSON bool

var patternsCmd = &cobra.Command{
	Use:   "patterns <user-id>",
	Short: "Show a user's detected patterns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(ctx context.Context, rt *runtime) error {
			patterns, err := rt.engine.Patterns(ctx, args[0])
			if err != nil {
				return err
			}
			if patternsJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(patterns)
			}
			printPatterns(patterns)
			return nil
		})
	},
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store, tier and pattern counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(ctx context.Context, rt *runtime) error {
			st, err := rt.engine.Status(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("schema version: %d\n", st.SchemaVersion)
			fmt.Printf("content: %d  patterns: %d\n", st.Content, st.Patterns)
			tiers := make([]string, 0, len(st.Tiers))
			for t := range st.Tiers {
				tiers = append(tiers, t)
			}
			sort.Strings(tiers)
			for _, t := range tiers {
				fmt.Printf("  %-9s %d\n", t, st.Tiers[t])
			}
			return nil
		})
	},
}

func printPatterns(patterns []models.Pattern) {
	if len(patterns) == 0 {
		fmt.Println("No patterns.")
		return
	}
	for _, p := range patterns {
		peaks := make([]string, len(p.PeakTimes))
		for i, h := range p.PeakTimes {
			peaks[i] = fmt.Sprintf("%dh", h)
		}
		fmt.Printf("%-8s period %4dh  confidence %.2f  peaks [%s]  items %d\n",
			p.Type, p.PeriodHours, p.Confidence, strings.Join(peaks, " "), len(p.ContentIDs))
	}
}

func init() {
	predictCmd.Flags().StringVar(&predictActivity, "activity", "", "current activity")
	predictCmd.Flags().StringVar(&predictLocation, "location", "", "current location")
	predictCmd.Flags().StringSliceVar(&predictPeople, "people", nil, "people present (comma separated)")
	predictCmd.Flags().IntVarP(&predictLimit, "limit", "n", 10, "maximum number of results")
	predictCmd.Flags().DurationVar(&predictAhead, "ahead", 0, "rank as of now plus this duration")

	patternsCmd.Flags().BoolVar(&patternsJSON, "json", false, "print patterns as JSON")
}
