package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadscout-cli/internal/model"
	"github.com/sells-group/leadscout-cli/internal/scrape"
	"github.com/sells-group/leadscout-cli/internal/store"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Start and inspect scrape jobs",
}

func scrapeEngine(cmd *cobra.Command) (*scrape.Engine, store.Store, error) {
	st, err := openStore(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	exec, err := initCrawlExec()
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return scrape.New(st, exec), st, nil
}

var scrapeStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a scrape job from a completed discovery run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		runID, _ := cmd.Flags().GetString("run")
		profileID, _ := cmd.Flags().GetInt64("profile")
		if runID == "" || profileID == 0 {
			return eris.New("--run and --profile are required")
		}

		sel := scrape.Selection{}
		if ids, _ := cmd.Flags().GetString("candidates"); ids != "" {
			parsed, err := parseIDList(ids)
			if err != nil {
				return err
			}
			sel.CandidateIDs = parsed
		} else if minScore, _ := cmd.Flags().GetInt("min-score"); cmd.Flags().Changed("min-score") {
			sel.MinScore = &minScore
		}
		// Neither flag: the engine falls back to the run profile's floor.

		eng, st, err := scrapeEngine(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		job, err := eng.StartFromDiscovery(ctx, runID, profileID, sel, nil, currentUser())
		if err != nil {
			return err
		}
		printJobStarted(job)
		return maybeWait(cmd, eng, job)
	},
}

var scrapeSourceCmd = &cobra.Command{
	Use:   "from-source",
	Short: "Start a scrape job from a legacy scrape source",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		sourceID, _ := cmd.Flags().GetInt64("source")
		profileID, _ := cmd.Flags().GetInt64("profile")
		if sourceID == 0 || profileID == 0 {
			return eris.New("--source and --profile are required")
		}

		eng, st, err := scrapeEngine(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		job, err := eng.StartFromSource(ctx, sourceID, profileID, nil, currentUser())
		if err != nil {
			return err
		}
		printJobStarted(job)
		return maybeWait(cmd, eng, job)
	},
}

var scrapeRetryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Retry the unprocessed sites of a terminal job as a new job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, st, err := scrapeEngine(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		job, err := eng.RetryJob(cmd.Context(), args[0], currentUser())
		if err != nil {
			return err
		}
		fmt.Printf("job %s retries %s (%d sites)\n", job.ID, job.RetryOf, job.Stats.SitesTotal)
		return nil
	},
}

var scrapeCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Request cancellation of an active job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, st, err := scrapeEngine(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := eng.CancelJob(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("cancel requested for job %s\n", args[0])
		return nil
	},
}

var scrapeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scrape jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		runID, _ := cmd.Flags().GetString("run")
		limit, _ := cmd.Flags().GetInt("limit")

		jobs, err := st.ListJobs(ctx, store.JobFilter{
			RunID:  runID,
			Status: model.JobStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "JOB\tKIND\tSTATUS\tSITES\tLEADS\tELAPSED\tCREATED")
		now := time.Now()
		for i := range jobs {
			j := &jobs[i]
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%s\t%s\n",
				j.ID, j.Kind, j.Status, j.Stats.SitesScraped, j.Stats.SitesTotal,
				j.Stats.LeadsFound, j.Elapsed(now).Round(time.Second),
				j.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var scrapeShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show a scrape job with full counters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		job, err := st.GetJob(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Job:       %s (%s)\n", job.ID, job.Kind)
		if job.RunID != nil {
			fmt.Printf("Run:       %s\n", *job.RunID)
		}
		if job.SourceID != nil {
			fmt.Printf("Source:    %d\n", *job.SourceID)
		}
		if job.RetryOf != "" {
			fmt.Printf("Retry of:  %s\n", job.RetryOf)
		}
		fmt.Printf("Status:    %s", job.Status)
		if job.CancelRequested && !job.Status.Terminal() {
			fmt.Printf(" (cancel requested)")
		}
		fmt.Println()
		fmt.Printf("Elapsed:   %s\n", job.Elapsed(time.Now()).Round(time.Second))
		s := job.Stats
		fmt.Printf("Sites:     %d scraped, %d skipped of %d\n", s.SitesScraped, s.SitesSkipped, s.SitesTotal)
		fmt.Printf("Pages:     %d scraped, %d failed\n", s.PagesScraped, s.PagesFailed)
		fmt.Printf("Leads:     %d staged, %d filtered, %d duplicates\n", s.LeadsFound, s.LeadsFiltered, s.DuplicatesSkipped)
		if job.ErrorMessage != "" {
			fmt.Printf("Error:     %s\n", job.ErrorMessage)
		}
		return nil
	},
}

var scrapeLeadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "List staged leads",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		f := store.LeadFilter{}
		f.JobID, _ = cmd.Flags().GetString("job")
		status, _ := cmd.Flags().GetString("status")
		f.Status = model.LeadStatus(status)
		f.MissingEmail, _ = cmd.Flags().GetBool("missing-email")
		f.MissingPhone, _ = cmd.Flags().GetBool("missing-phone")
		f.Limit, _ = cmd.Flags().GetInt("limit")

		leads, err := st.ListLeads(ctx, f)
		if err != nil {
			return err
		}
		if len(leads) == 0 {
			fmt.Fprintln(os.Stderr, "No leads found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSCORE\tSTATUS\tCOMPANY\tWEBSITE\tEMAIL\tPHONE")
		for i := range leads {
			l := &leads[i]
			fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\t%s\n",
				l.ID, l.MatchScore, l.Status, l.CompanyName, l.WebsiteNorm, l.Email(), l.Phone())
		}
		return w.Flush()
	},
}

// maybeWait polls the executor in the foreground when --wait is set. A
// queued job has nothing to poll; the monitor picks it up instead.
func maybeWait(cmd *cobra.Command, eng *scrape.Engine, job *model.ScrapeJob) error {
	if wait, _ := cmd.Flags().GetBool("wait"); !wait {
		return nil
	}
	if job.ExecutorHandle == "" {
		return nil
	}
	settled, err := eng.WaitJob(cmd.Context(), job.ID)
	if err != nil {
		return err
	}
	s := settled.Stats
	fmt.Printf("job %s %s: %d/%d sites, %d leads staged\n",
		settled.ID, settled.Status, s.SitesScraped, s.SitesTotal, s.LeadsFound)
	if settled.ErrorMessage != "" {
		fmt.Fprintf(os.Stderr, "error: %s\n", settled.ErrorMessage)
	}
	return nil
}

func printJobStarted(job *model.ScrapeJob) {
	if job.ExecutorHandle == "" {
		fmt.Printf("job %s created (queued; executor unreachable, the monitor will dispatch it)\n", job.ID)
		return
	}
	fmt.Printf("job %s dispatched (handle %s, %d sites)\n", job.ID, job.ExecutorHandle, job.Stats.SitesTotal)
}

func init() {
	scrapeStartCmd.Flags().String("run", "", "discovery run id")
	scrapeStartCmd.Flags().Int64("profile", 0, "scrape profile id")
	scrapeStartCmd.Flags().Int("min-score", 0, "claim candidates at or above this score")
	scrapeStartCmd.Flags().String("candidates", "", "comma-separated candidate ids to claim")
	scrapeStartCmd.Flags().Bool("wait", false, "poll in the foreground until the job settles")

	scrapeSourceCmd.Flags().Int64("source", 0, "scrape source id")
	scrapeSourceCmd.Flags().Int64("profile", 0, "scrape profile id")
	scrapeSourceCmd.Flags().Bool("wait", false, "poll in the foreground until the job settles")

	scrapeListCmd.Flags().String("status", "", "filter by job status")
	scrapeListCmd.Flags().String("run", "", "filter by discovery run id")
	scrapeListCmd.Flags().Int("limit", 50, "max number of jobs to display")

	scrapeLeadsCmd.Flags().String("job", "", "filter by job id")
	scrapeLeadsCmd.Flags().String("status", "", "filter by lead status (pending, approved, rejected, merged)")
	scrapeLeadsCmd.Flags().Bool("missing-email", false, "only leads without an email")
	scrapeLeadsCmd.Flags().Bool("missing-phone", false, "only leads without a phone")
	scrapeLeadsCmd.Flags().Int("limit", 100, "max number of leads to display")

	scrapeCmd.AddCommand(scrapeStartCmd)
	scrapeCmd.AddCommand(scrapeSourceCmd)
	scrapeCmd.AddCommand(scrapeRetryCmd)
	scrapeCmd.AddCommand(scrapeCancelCmd)
	scrapeCmd.AddCommand(scrapeListCmd)
	scrapeCmd.AddCommand(scrapeShowCmd)
	scrapeCmd.AddCommand(scrapeLeadsCmd)
	rootCmd.AddCommand(scrapeCmd)
}
