package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var charactersCmd = &cobra.Command{
	Use:   "characters",
	Short: "List the available historical figures",
	Args:  cobra.NoArgs,
	RunE:  runCharacters,
}

func init() {
	rootCmd.AddCommand(charactersCmd)
}

func runCharacters(cmd *cobra.Command, _ []string) error {
	rt, err := openRuntime(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer rt.close()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPERIOD\tFIELD")
	for _, c := range rt.catalog.All() {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", c.ID, c.Name, c.Period, c.Field)
	}
	return w.Flush()
}
