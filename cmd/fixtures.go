package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"testkit/internal/fixtures"
)

var fixturesDir string

var fixturesCmd = &cobra.Command{
	Use:   "fixtures",
	Short: "Inspect fixture catalogs",
}

var fixturesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List static fixtures in a directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		loader := fixtures.NewLoader(fixturesDir, "inspect")
		names, err := loader.ListStaticFixtures()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("No fixtures found")
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"FIXTURE"})
		for _, name := range names {
			t.AppendRow(table.Row{name})
		}
		t.Render()
		return nil
	},
}

func init() {
	fixturesCmd.PersistentFlags().StringVar(&fixturesDir, "dir", "fixtures", "static fixture directory")
	fixturesCmd.AddCommand(fixturesListCmd)
	rootCmd.AddCommand(fixturesCmd)
}
