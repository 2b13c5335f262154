package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"

	orm "github.com/medatechnology/polyorm"
	"github.com/medatechnology/polyorm/mapper"
	"github.com/medatechnology/polyorm/metrics"
	"github.com/medatechnology/polyorm/raw"
	"github.com/medatechnology/polyorm/tracking"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gorm.io/gorm/clause"
)

// Widget is the demo entity.
type Widget struct {
	Id    int
	Name  string
	Price float64
}

func newDemoCommand(c *cli) *cobra.Command {
	var showMetrics bool
	ccmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a Widget create/read/update/delete round trip on a provider.",
		Long: `
Creates the Widget table when missing, then adds, reads, updates, queries and
deletes three widgets, saving changes after every step. The table is left
empty.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := c.openProvider(ctx)
			if err != nil {
				return err
			}
			reg := prometheus.NewRegistry()
			ip, err := metrics.Instrument(p, reg)
			if err != nil {
				p.Close()
				return err
			}
			defer ip.Close()

			if err := createWidgetTable(ctx, p); err != nil {
				return err
			}
			if err := runDemo(ctx, c.stdout, ip); err != nil {
				return err
			}
			if showMetrics {
				return printMetrics(c.stdout, reg)
			}
			return nil
		},
	}
	ccmd.Flags().BoolVar(&showMetrics, "metrics", false, "print the collected operation counters")
	return ccmd
}

const widgetDDL = "CREATE TABLE IF NOT EXISTS Widget (Id INTEGER PRIMARY KEY, Name VARCHAR(255), Price REAL)"

func createWidgetTable(ctx context.Context, p orm.EntityProvider) error {
	var err error
	switch p := p.(type) {
	case *raw.Provider:
		_, err = p.Database().ExecuteNonQuery(ctx, widgetDDL)
	case *mapper.Provider:
		_, err = p.DB().ExecContext(ctx, widgetDDL)
	case *tracking.Provider:
		// gorm quotes the names it generates, so the table has to be created
		// with the same quoting.
		err = p.DB().WithContext(ctx).Exec("CREATE TABLE IF NOT EXISTS ? (? INTEGER PRIMARY KEY, ? VARCHAR(255), ? REAL)",
			clause.Table{Name: "Widget"},
			clause.Column{Name: "Id"}, clause.Column{Name: "Name"}, clause.Column{Name: "Price"}).Error
	default:
		return fmt.Errorf("cannot create tables through %T", p)
	}
	if err != nil {
		return fmt.Errorf("create Widget table: %w", err)
	}
	return nil
}

func runDemo(ctx context.Context, w io.Writer, p orm.EntityProvider) error {
	repo, err := orm.NewRepository[Widget](p)
	if err != nil {
		return err
	}
	save := func(step string) error {
		n, err := p.SaveChanges(ctx)
		if err != nil {
			return fmt.Errorf("%s: save changes: %w", step, err)
		}
		fmt.Fprintf(w, "%-8s saved %d\n", step, n)
		return nil
	}

	widgets := []Widget{{1, "bolt", 0.25}, {2, "gear", 12.5}, {3, "spring", 3}}
	if err := repo.AddRange(ctx, widgets); err != nil {
		return fmt.Errorf("add: %w", err)
	}
	if err := save("add"); err != nil {
		return err
	}

	got, err := repo.GetByID(ctx, 2)
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	if got == nil {
		return fmt.Errorf("get: widget 2 not found after add")
	}
	fmt.Fprintf(w, "get      %+v\n", *got)

	got.Price = 9.75
	if err := repo.Update(ctx, got); err != nil {
		return fmt.Errorf("update: %w", err)
	}
	if err := save("update"); err != nil {
		return err
	}

	cheap, err := repo.Find(ctx, &orm.Condition{Field: "Price", Operator: "<", Value: 5, OrderBy: []string{"Id"}})
	if err != nil {
		return fmt.Errorf("find: %w", err)
	}
	fmt.Fprintf(w, "find     %d under 5\n", len(cheap))

	if err := repo.DeleteRange(ctx, widgets); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if err := save("delete"); err != nil {
		return err
	}
	left, err := repo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}
	fmt.Fprintf(w, "left     %d\n", len(left))
	return nil
}

func printMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	var lines []string
	for _, mf := range families {
		if mf.GetName() != metrics.Namespace+"_"+metrics.MetricOperations {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := ""
			for _, l := range m.GetLabel() {
				if l.GetName() == "strategy" {
					continue
				}
				labels += " " + l.GetValue()
			}
			lines = append(lines, fmt.Sprintf("  %-24s %v", labels[1:], m.GetCounter().GetValue()))
		}
	}
	sort.Strings(lines)
	fmt.Fprintln(w, "Operations:")
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
	return nil
}
