package main

import (
	"fmt"
	"os"
	"os/user"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadscout-cli/internal/discovery"
	"github.com/sells-group/leadscout-cli/internal/model"
	"github.com/sells-group/leadscout-cli/internal/store"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run and inspect discovery runs",
}

var discoverStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a discovery run for a profile",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		profileID, _ := cmd.Flags().GetInt64("profile")
		if profileID == 0 {
			return eris.New("--profile is required")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		exec, err := initSearchExec()
		if err != nil {
			return err
		}

		run, err := discovery.New(st, exec).CreateRun(ctx, profileID, currentUser())
		if err != nil {
			return err
		}

		if run.ExecutorHandle == "" {
			fmt.Printf("run %s created (queued; executor unreachable, the monitor will dispatch it)\n", run.ID)
			return nil
		}
		fmt.Printf("run %s dispatched (handle %s)\n", run.ID, run.ExecutorHandle)
		return nil
	},
}

var discoverListCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovery runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		profileID, _ := cmd.Flags().GetInt64("profile")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			ProfileID: profileID,
			Status:    model.RunStatus(status),
			Limit:     limit,
		})
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tPROFILE\tSTATUS\tFOUND\tSELECTED\tELAPSED\tCREATED")
		now := time.Now()
		for i := range runs {
			r := &runs[i]
			fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%d\t%s\t%s\n",
				r.ID, r.ProfileID, r.Status, r.SitesFound, r.SitesSelected,
				r.Elapsed(now).Round(time.Second), r.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var discoverShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a discovery run with per-source stats",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Run:        %s\n", run.ID)
		fmt.Printf("Profile:    %d\n", run.ProfileID)
		fmt.Printf("Status:     %s\n", run.Status)
		fmt.Printf("Found:      %d\n", run.SitesFound)
		fmt.Printf("Selected:   %d\n", run.SitesSelected)
		fmt.Printf("Elapsed:    %s\n", run.Elapsed(time.Now()).Round(time.Second))
		if run.ErrorMessage != "" {
			fmt.Printf("Error:      %s\n", run.ErrorMessage)
		}
		if len(run.SourceStats) > 0 {
			fmt.Println("Sources:")
			for src, s := range run.SourceStats {
				fmt.Printf("  %-12s queries=%d raw=%d inserted=%d filtered=%d\n",
					src, s.QueriesIssued, s.RawResults, s.RowsInserted, s.RowsFiltered)
			}
		}
		return nil
	},
}

var discoverCandidatesCmd = &cobra.Command{
	Use:   "candidates <run-id>",
	Short: "List a run's site candidates",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		f := store.CandidateFilter{}
		if minScore, _ := cmd.Flags().GetInt("min-score"); cmd.Flags().Changed("min-score") {
			f.MinScore = &minScore
		}
		if unselected, _ := cmd.Flags().GetBool("unselected"); unselected {
			sel := false
			f.Selected = &sel
		}
		f.SortBy, _ = cmd.Flags().GetString("sort")
		f.Limit, _ = cmd.Flags().GetInt("limit")

		cands, err := st.ListCandidates(ctx, args[0], f)
		if err != nil {
			return err
		}
		if len(cands) == 0 {
			fmt.Fprintln(os.Stderr, "No candidates found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSCORE\tDOMAIN\tCOMPANY\tSOURCE\tSELECTED")
		for _, c := range cands {
			fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%t\n",
				c.ID, c.MatchScore, c.Domain, c.CompanyName, c.SourceType, c.Selected)
		}
		return w.Flush()
	},
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}

func init() {
	discoverStartCmd.Flags().Int64("profile", 0, "discovery profile id")

	discoverListCmd.Flags().String("status", "", "filter by run status (queued, running, completed, failed)")
	discoverListCmd.Flags().Int64("profile", 0, "filter by profile id")
	discoverListCmd.Flags().Int("limit", 50, "max number of runs to display")

	discoverCandidatesCmd.Flags().Int("min-score", 0, "only candidates at or above this score")
	discoverCandidatesCmd.Flags().Bool("unselected", false, "only candidates not yet claimed by a scrape job")
	discoverCandidatesCmd.Flags().String("sort", "score", "sort order: score, name, created")
	discoverCandidatesCmd.Flags().Int("limit", 100, "max number of candidates to display")

	discoverCmd.AddCommand(discoverStartCmd)
	discoverCmd.AddCommand(discoverListCmd)
	discoverCmd.AddCommand(discoverShowCmd)
	discoverCmd.AddCommand(discoverCandidatesCmd)
	rootCmd.AddCommand(discoverCmd)
}
