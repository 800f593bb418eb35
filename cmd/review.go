package main

import (
	"fmt"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadscout-cli/internal/model"
	"github.com/sells-group/leadscout-cli/internal/review"
	"github.com/sells-group/leadscout-cli/internal/scrape"
	"github.com/sells-group/leadscout-cli/internal/store"
	"github.com/sells-group/leadscout-cli/pkg/salesforce"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Approve, reject, merge, and rescrape staged leads",
}

func reviewService(cmd *cobra.Command) (*review.Service, store.Store, error) {
	st, err := openStore(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	sf, err := initSalesforce()
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	exec, err := initCrawlExec()
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return review.New(st, sf, scrape.New(st, exec), cfg.Review), st, nil
}

func printReviewResult(res *review.Result) {
	fmt.Printf("approved=%d rejected=%d failed=%d\n",
		res.Approved, res.Rejected, len(res.Errors))
	for _, e := range res.Errors {
		fmt.Printf("  lead %d: %v\n", e.LeadID, e.Err)
	}
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve --ids <id,id,...>",
	Short: "Approve pending leads into Salesforce contacts",
	Long:  "Creates a contact per lead; leads that trip Salesforce duplicate rules are reported and stay pending for an explicit merge or reject.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		raw, _ := cmd.Flags().GetString("ids")
		ids, err := parseIDList(raw)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return eris.New("--ids is required")
		}
		tags, _ := cmd.Flags().GetStringSlice("tags")

		svc, st, err := reviewService(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := svc.Approve(cmd.Context(), ids, tags)
		if err != nil {
			return err
		}
		printReviewResult(res)
		return nil
	},
}

var reviewRejectCmd = &cobra.Command{
	Use:   "reject --ids <id,id,...>",
	Short: "Reject pending leads",
	RunE: func(cmd *cobra.Command, _ []string) error {
		raw, _ := cmd.Flags().GetString("ids")
		ids, err := parseIDList(raw)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return eris.New("--ids is required")
		}

		// Rejection never touches the CRM.
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		svc := review.New(st, nil, nil, cfg.Review)
		res, err := svc.Reject(cmd.Context(), ids)
		if err != nil {
			return err
		}
		printReviewResult(res)
		return nil
	},
}

var reviewMergeCmd = &cobra.Command{
	Use:   "merge <lead-id> [contact-id]",
	Short: "Link a pending lead to an existing Salesforce contact",
	Long:  "Pass the contact id directly, or --email to look the contact up in Salesforce.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		leadID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Errorf("invalid lead id %q", args[0])
		}
		email, _ := cmd.Flags().GetString("email")
		if (len(args) == 2) == (email != "") {
			return eris.New("pass either a contact id or --email")
		}

		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		var contactID string
		if len(args) == 2 {
			contactID = args[1]
		} else {
			sf, err := initSalesforce()
			if err != nil {
				return err
			}
			contactID, err = salesforce.FindContactByEmail(cmd.Context(), sf, email)
			if err != nil {
				return err
			}
			if contactID == "" {
				return eris.Errorf("no contact has email %s", email)
			}
		}

		svc := review.New(st, nil, nil, cfg.Review)
		if err := svc.Merge(cmd.Context(), leadID, contactID); err != nil {
			return err
		}
		fmt.Printf("lead %d merged with contact %s\n", leadID, contactID)
		return nil
	},
}

var reviewRescrapeCmd = &cobra.Command{
	Use:   "rescrape",
	Short: "Re-crawl the source sites of leads matching a filter",
	Long:  "Starts a rescrape job over leads selected by the filter flags, typically to fill in missing contact fields with a more thorough crawl.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		profileID, _ := cmd.Flags().GetInt64("profile")
		if profileID == 0 {
			return eris.New("--profile is required")
		}

		f := store.LeadFilter{}
		f.JobID, _ = cmd.Flags().GetString("job")
		status, _ := cmd.Flags().GetString("status")
		f.Status = model.LeadStatus(status)
		f.MissingEmail, _ = cmd.Flags().GetBool("missing-email")
		f.MissingPhone, _ = cmd.Flags().GetBool("missing-phone")
		f.MissingCountry, _ = cmd.Flags().GetBool("missing-country")
		if below, _ := cmd.Flags().GetInt("score-below"); cmd.Flags().Changed("score-below") {
			f.ScoreBelow = &below
		}

		thoroughness, _ := cmd.Flags().GetString("thoroughness")

		svc, st, err := reviewService(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		job, err := svc.Rescrape(cmd.Context(), f, profileID, model.Thoroughness(thoroughness), currentUser())
		if err != nil {
			return err
		}
		printJobStarted(job)
		return nil
	},
}

func init() {
	reviewApproveCmd.Flags().String("ids", "", "comma-separated lead ids")
	reviewApproveCmd.Flags().StringSlice("tags", nil, "extra tags for the created contacts")
	reviewRejectCmd.Flags().String("ids", "", "comma-separated lead ids")
	reviewMergeCmd.Flags().String("email", "", "look up the merge target contact by email")

	reviewRescrapeCmd.Flags().Int64("profile", 0, "scrape profile id")
	reviewRescrapeCmd.Flags().String("job", "", "filter by source job id")
	reviewRescrapeCmd.Flags().String("status", "", "filter by lead status")
	reviewRescrapeCmd.Flags().Bool("missing-email", false, "leads without an email")
	reviewRescrapeCmd.Flags().Bool("missing-phone", false, "leads without a phone")
	reviewRescrapeCmd.Flags().Bool("missing-country", false, "leads without a country")
	reviewRescrapeCmd.Flags().Int("score-below", 0, "leads scored below this value")
	reviewRescrapeCmd.Flags().String("thoroughness", "standard", "crawl preset: quick, standard, thorough, deep")

	reviewCmd.AddCommand(reviewApproveCmd)
	reviewCmd.AddCommand(reviewRejectCmd)
	reviewCmd.AddCommand(reviewMergeCmd)
	reviewCmd.AddCommand(reviewRescrapeCmd)
	rootCmd.AddCommand(reviewCmd)
}
