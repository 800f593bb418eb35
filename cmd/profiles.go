package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/leadscout-cli/internal/model"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage discovery profiles, scrape profiles, and scrape sources",
}

// profileFile is the YAML document accepted by `profiles apply`. Keys use
// the same snake_case names as the JSON serialization of the models.
type profileFile struct {
	DiscoveryProfiles []yaml.Node `yaml:"discovery_profiles"`
	ScrapeProfiles    []yaml.Node `yaml:"scrape_profiles"`
	ScrapeSources     []yaml.Node `yaml:"scrape_sources"`
}

// decodeNode re-serializes a YAML node through JSON so the models' json
// tags apply.
func decodeNode(node yaml.Node, out any) error {
	var raw map[string]any
	if err := node.Decode(&raw); err != nil {
		return eris.Wrap(err, "decode yaml")
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return eris.Wrap(err, "re-encode yaml")
	}
	return eris.Wrap(json.Unmarshal(buf, out), "decode profile")
}

var profilesApplyCmd = &cobra.Command{
	Use:   "apply <file.yaml>",
	Short: "Create or update profiles from a YAML file",
	Long:  "Upserts every discovery profile, scrape profile, and scrape source in the file, keyed by name.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "read profile file")
		}
		var file profileFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return eris.Wrap(err, "parse profile file")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		for _, node := range file.DiscoveryProfiles {
			var p model.DiscoveryProfile
			if err := decodeNode(node, &p); err != nil {
				return err
			}
			id, err := st.PutDiscoveryProfile(ctx, &p)
			if err != nil {
				return err
			}
			fmt.Printf("discovery profile %q -> id %d\n", p.Name, id)
		}
		for _, node := range file.ScrapeProfiles {
			var p model.ScrapeProfile
			if err := decodeNode(node, &p); err != nil {
				return err
			}
			id, err := st.PutScrapeProfile(ctx, &p)
			if err != nil {
				return err
			}
			fmt.Printf("scrape profile %q -> id %d\n", p.Name, id)
		}
		for _, node := range file.ScrapeSources {
			var s model.ScrapeSource
			if err := decodeNode(node, &s); err != nil {
				return err
			}
			id, err := st.PutScrapeSource(ctx, &s)
			if err != nil {
				return err
			}
			fmt.Printf("scrape source %q -> id %d\n", s.Name, id)
		}
		return nil
	},
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured profiles and sources",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		dps, err := st.ListDiscoveryProfiles(ctx)
		if err != nil {
			return err
		}
		sps, err := st.ListScrapeProfiles(ctx)
		if err != nil {
			return err
		}
		srcs, err := st.ListScrapeSources(ctx, false)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tID\tNAME\tENABLED\tDETAILS")
		for _, p := range dps {
			fmt.Fprintf(w, "discovery\t%d\t%s\t%t\t%d keywords, min score %d\n",
				p.ID, p.Name, p.Enabled, len(p.Keywords), p.MinDiscoveryScore)
		}
		for _, p := range sps {
			fmt.Fprintf(w, "scrape\t%d\t%s\t\tmax %d pages/site, min match %d\n",
				p.ID, p.Name, p.MaxPagesPerSite, p.MinMatchScore)
		}
		for _, s := range srcs {
			fmt.Fprintf(w, "source\t%d\t%s\t%t\t%s\n", s.ID, s.Name, s.Enabled, s.BaseURL)
		}
		return w.Flush()
	},
}

var profilesDeleteCmd = &cobra.Command{
	Use:   "delete <discovery-profile-id>",
	Short: "Delete a discovery profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Errorf("invalid profile id %q", args[0])
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.DeleteDiscoveryProfile(ctx, id); err != nil {
			return err
		}
		fmt.Printf("deleted discovery profile %d\n", id)
		return nil
	},
}

func init() {
	profilesCmd.AddCommand(profilesApplyCmd)
	profilesCmd.AddCommand(profilesListCmd)
	profilesCmd.AddCommand(profilesDeleteCmd)
	rootCmd.AddCommand(profilesCmd)
}
