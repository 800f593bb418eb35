package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadscout-cli/internal/leadlist"
	"github.com/sells-group/leadscout-cli/internal/model"
	"github.com/sells-group/leadscout-cli/internal/store"
	"github.com/sells-group/leadscout-cli/internal/tabular"
	"github.com/sells-group/leadscout-cli/pkg/salesforce"
)

var listsCmd = &cobra.Command{
	Use:   "lists",
	Short: "Manage lead lists through the export/clean/import round trip",
}

// listService builds the service; withCRM controls whether a Salesforce
// client is required (only import needs one).
func listService(cmd *cobra.Command, withCRM bool) (*leadlist.Service, store.Store, error) {
	st, err := openStore(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	var sf salesforce.Client
	if withCRM {
		sf, err = initSalesforce()
		if err != nil {
			_ = st.Close()
			return nil, nil, err
		}
	}
	return leadlist.New(st, sf, tabular.NewVendorFTP(cfg.Lists.VendorFTP), cfg.Lists), st, nil
}

var listsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a lead list",
	RunE: func(cmd *cobra.Command, _ []string) error {
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			return eris.New("--name is required")
		}
		desc, _ := cmd.Flags().GetString("description")
		rawIDs, _ := cmd.Flags().GetString("lead-ids")
		ids, err := parseIDList(rawIDs)
		if err != nil {
			return err
		}

		svc, st, err := listService(cmd, false)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		list, err := svc.Create(cmd.Context(), name, desc, model.ListTypeManual, ids)
		if err != nil {
			return err
		}
		fmt.Printf("list %s created (%d members)\n", list.ID, list.MemberCount)
		return nil
	},
}

var listsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List lead lists",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		lists, err := st.ListLists(cmd.Context())
		if err != nil {
			return err
		}
		if len(lists) == 0 {
			fmt.Fprintln(os.Stderr, "No lists found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tSTATUS\tMEMBERS")
		for _, l := range lists {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", l.ID, l.Name, l.Type, l.Status, l.MemberCount)
		}
		return w.Flush()
	},
}

var listsAddCmd = &cobra.Command{
	Use:   "add <list-id> --lead-ids <id,id,...>",
	Short: "Add leads to a not-yet-imported list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rawIDs, _ := cmd.Flags().GetString("lead-ids")
		ids, err := parseIDList(rawIDs)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return eris.New("--lead-ids is required")
		}

		svc, st, err := listService(cmd, false)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		added, err := svc.AddLeads(cmd.Context(), args[0], ids)
		if err != nil {
			return err
		}
		fmt.Printf("added %d leads\n", added)
		return nil
	},
}

var listsRemoveCmd = &cobra.Command{
	Use:   "remove <list-id> --lead-ids <id,id,...>",
	Short: "Remove leads from a not-yet-imported list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rawIDs, _ := cmd.Flags().GetString("lead-ids")
		ids, err := parseIDList(rawIDs)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return eris.New("--lead-ids is required")
		}

		svc, st, err := listService(cmd, false)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		removed, err := svc.RemoveLeads(cmd.Context(), args[0], ids)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d leads\n", removed)
		return nil
	},
}

var listsExportCmd = &cobra.Command{
	Use:   "export <list-id>",
	Short: "Export a list for the cleaning vendor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")

		svc, st, err := listService(cmd, false)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		path, err := svc.Export(cmd.Context(), args[0], tabular.Format(format))
		if err != nil {
			return err
		}
		fmt.Printf("exported to %s\n", path)
		return nil
	},
}

var listsMarkExportedCmd = &cobra.Command{
	Use:   "mark-exported <list-id>",
	Short: "Record that the exported file has been handed off",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, st, err := listService(cmd, false)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		return svc.MarkExported(cmd.Context(), args[0])
	},
}

var listsMarkCleaningCmd = &cobra.Command{
	Use:   "mark-cleaning <list-id>",
	Short: "Record that the exported file is with the vendor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, st, err := listService(cmd, false)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		return svc.MarkCleaning(cmd.Context(), args[0])
	},
}

var listsMarkCleanedCmd = &cobra.Command{
	Use:   "mark-cleaned <list-id>",
	Short: "Record that the vendor returned a cleaned file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, st, err := listService(cmd, false)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		return svc.MarkCleaned(cmd.Context(), args[0])
	},
}

var listsFetchCmd = &cobra.Command{
	Use:   "fetch <remote-name>",
	Short: "Download a cleaned file from the vendor FTP drop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, st, err := listService(cmd, false)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		local, err := svc.DownloadCleaned(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("downloaded to %s\n", local)
		return nil
	},
}

var listsImportCmd = &cobra.Command{
	Use:   "import <list-id> <file>",
	Short: "Import a cleaned file, creating Salesforce contacts",
	Long:  "Each row is fingerprinted on company and email; re-running an import skips rows already processed.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tags, _ := cmd.Flags().GetStringSlice("tags")

		svc, st, err := listService(cmd, true)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := svc.Import(cmd.Context(), args[0], args[1], tags)
		if err != nil {
			return err
		}
		fmt.Printf("created=%d skipped=%d failed=%d\n", res.Created, res.Skipped, len(res.Errors))
		for _, e := range res.Errors {
			fmt.Printf("  row %d (%s): %s\n", e.Row, e.Company, e.Err)
		}
		return nil
	},
}

func init() {
	listsCreateCmd.Flags().String("name", "", "list name")
	listsCreateCmd.Flags().String("description", "", "list description")
	listsCreateCmd.Flags().String("lead-ids", "", "comma-separated initial member lead ids")

	listsAddCmd.Flags().String("lead-ids", "", "comma-separated lead ids")
	listsRemoveCmd.Flags().String("lead-ids", "", "comma-separated lead ids")

	listsExportCmd.Flags().String("format", "csv", "export format: csv or xlsx")
	listsImportCmd.Flags().StringSlice("tags", nil, "extra tags for the created contacts")

	listsCmd.AddCommand(listsCreateCmd)
	listsCmd.AddCommand(listsListCmd)
	listsCmd.AddCommand(listsAddCmd)
	listsCmd.AddCommand(listsRemoveCmd)
	listsCmd.AddCommand(listsExportCmd)
	listsCmd.AddCommand(listsMarkExportedCmd)
	listsCmd.AddCommand(listsMarkCleaningCmd)
	listsCmd.AddCommand(listsMarkCleanedCmd)
	listsCmd.AddCommand(listsFetchCmd)
	listsCmd.AddCommand(listsImportCmd)
	rootCmd.AddCommand(listsCmd)
}
