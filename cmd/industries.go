package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/prospector/internal/discovery"
)

var industriesCmd = &cobra.Command{
	Use:   "list-industries",
	Short: "List catalog industries and groups",
	RunE: func(cmd *cobra.Command, _ []string) error {
		catalog, err := discovery.LoadCatalog(cfg.Discovery.CatalogPath)
		if err != nil {
			return err
		}
		formatCatalog(os.Stdout, catalog)
		return nil
	},
}

func formatCatalog(out io.Writer, c *discovery.Catalog) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "INDUSTRY\tACTIVITY CODES\tKEYWORDS")
	for _, name := range c.IndustryNames() {
		e := c.Industries[name]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", name, strings.Join(e.ActivityCodes, ","), strings.Join(e.Keywords, ","))
	}
	_ = w.Flush()

	if len(c.Groups) == 0 {
		return
	}
	groups := make([]string, 0, len(c.Groups))
	for g := range c.Groups {
		groups = append(groups, g)
	}
	sort.Strings(groups)

	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "GROUP\tINDUSTRIES")
	for _, g := range groups {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", g, strings.Join(c.Groups[g], ","))
	}
	_ = w.Flush()
}

func init() {
	rootCmd.AddCommand(industriesCmd)
}
