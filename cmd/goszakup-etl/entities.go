package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/qazdata/goszakup-etl/pkg/etl"
)

func newEntitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "entities",
		Short: "List the entity catalog and its load order",
		RunE: func(cmd *cobra.Command, args []string) error {
			graph, err := etl.NewGraph(etl.Catalog())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ENTITY\tENDPOINT\tTABLE\tDEPENDS ON\tNOTES")
			for _, e := range graph.Nodes() {
				endpoint := e.Endpoint
				table := e.Table.Name
				var notes []string
				if e.Composite() {
					endpoint = "/v3/refs/*"
					table = fmt.Sprintf("%d tables", len(e.Refs))
					notes = append(notes, "composite")
				}
				if e.OnDemand {
					notes = append(notes, "on demand")
				}
				deps := strings.Join(e.DependsOn, ", ")
				if deps == "" {
					deps = "-"
				}
				note := strings.Join(notes, ", ")
				if note == "" {
					note = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Name, endpoint, table, deps, note)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			fmt.Println("\nLoad order:")
			for i, wave := range graph.TopoWaves() {
				fmt.Printf("  %d. %s\n", i+1, strings.Join(wave, ", "))
			}
			return nil
		},
	}
}
