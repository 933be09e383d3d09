package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/qazdata/goszakup-etl/pkg/etl"
	"github.com/qazdata/goszakup-etl/pkg/storage"
)

func newStatsCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show row counts for the destination tables",
		Long: `Stats prints the row count of every fact table. Tables that do not
exist yet show "-". With --all the journal and the reference tables are
included.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := initLogger(cfg); err != nil {
				return err
			}

			ctx := context.Background()
			store, err := storage.Open(ctx, cfg.DB)
			if err != nil {
				return err
			}
			defer store.Close()

			tables := etl.FactTables()
			if all {
				for _, e := range etl.Catalog() {
					switch {
					case e.Composite():
						for _, ref := range e.Refs {
							tables = append(tables, ref.Name)
						}
					case e.OnDemand:
						tables = append(tables, e.Table.Name)
					}
				}
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TABLE\tROWS")

			var total int64
			for _, name := range tables {
				exists, err := store.TableExists(ctx, name)
				if err != nil {
					return err
				}
				if !exists {
					fmt.Fprintf(tw, "%s\t-\n", name)
					continue
				}
				count, err := store.RowCount(ctx, name)
				if err != nil {
					return err
				}
				total += count
				fmt.Fprintf(tw, "%s\t%d\n", name, count)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			fmt.Printf("\n%d rows total\n", total)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Include the journal and reference tables")
	return cmd
}
