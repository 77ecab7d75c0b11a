package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tailored-agentic-units/dispatch/tools"
)

func newStateCmd(opts *options) *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "state <thread>",
		Short: "Print the checkpointed state of a thread as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := opts.dispatcher(server)
			if err != nil {
				return err
			}
			defer closeDispatcher(d)

			st, err := d.GetState(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "Base URL of a dispatch server (default: read the local store)")
	return cmd
}

func newSpecialistsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "specialists",
		Short: "List the router and specialists with their tool tiers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			set, err := opts.specialists(cfg)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSAFE\tSENSITIVE\tCONTROL")

			router := set.Router()
			units := []*specialistView{viewOf(router.ID, router.Name, router.Registry)}
			for _, s := range set.Specialists() {
				units = append(units, viewOf(s.ID, s.Name, s.Registry))
			}
			for _, u := range units {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", u.id, u.name, u.safe, u.sensitive, u.control)
			}
			return w.Flush()
		},
	}
}

type specialistView struct {
	id, name                 string
	safe, sensitive, control string
}

func viewOf(id, name string, reg *tools.Registry) *specialistView {
	list := func(tier tools.Tier) string {
		names := reg.NamesByTier(tier)
		if len(names) == 0 {
			return "-"
		}
		return strings.Join(names, ",")
	}
	return &specialistView{
		id:        id,
		name:      name,
		safe:      list(tools.TierSafe),
		sensitive: list(tools.TierSensitive),
		control:   list(tools.TierControl),
	}
}
