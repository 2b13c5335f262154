package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	orm "github.com/medatechnology/polyorm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newExecCommand(c *cli, stdin io.Reader) *cobra.Command {
	var file, query, rows, table string
	var batch int
	ccmd := &cobra.Command{
		Use:   "exec",
		Short: "Run a SQL script, load rows, then optionally a scalar query, in one connection.",
		Long: `
Run every statement of a SQL script (--file, or - for stdin) against the
engine, then insert the rows of a YAML file (--rows, a list of column maps)
into --table as multi-row INSERTs of at most --batch rows. Both run inside one
transaction. With --query, the query runs afterwards on the same connection
and its scalar result is printed.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" && rows == "" && query == "" {
				return errors.New("nothing to run: pass --file, --rows or --query")
			}
			if rows != "" && table == "" {
				return errors.New("--rows needs --table")
			}
			if file == "-" && rows == "-" {
				return errors.New("only one of --file and --rows can read stdin")
			}
			if batch > 0 {
				orm.MAX_MULTIPLE_INSERTS = batch
			}

			var script string
			var recs orm.DBRecords
			var err error
			if file != "" {
				if script, err = readScript(file, stdin); err != nil {
					return err
				}
			}
			if rows != "" {
				if recs, err = readRows(rows, table, stdin); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			db, err := c.openDatabase(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			if file != "" || rows != "" {
				var total int64
				err = orm.NewUnitOfWork(db).Do(ctx, func(ctx context.Context) error {
					n, err := orm.ExecScript(ctx, db, script)
					total += n
					if err != nil {
						return err
					}
					stmts, err := recs.ToInsertSQLParameterized(db.Placeholder)
					if err != nil {
						return err
					}
					n, err = orm.ExecStatements(ctx, db, stmts)
					total += n
					return err
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(c.stdout, "%d rows affected\n", total)
			}
			if query != "" {
				v, err := db.ExecuteScalar(ctx, query)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.stdout, v)
			}
			return nil
		},
	}
	flags := ccmd.Flags()
	flags.StringVarP(&file, "file", "f", "", "SQL script to run, - for stdin")
	flags.StringVar(&rows, "rows", "", "YAML list of rows to insert, - for stdin")
	flags.StringVarP(&table, "table", "t", "", "table the rows go to")
	flags.IntVar(&batch, "batch", 0, "rows per INSERT statement (default 100)")
	flags.StringVarP(&query, "query", "q", "", "scalar query to print")
	return ccmd
}

func readScript(file string, stdin io.Reader) (string, error) {
	data, err := readInput(file, stdin)
	if err != nil {
		return "", fmt.Errorf("read script: %w", err)
	}
	return string(data), nil
}

// readRows decodes a YAML list of column maps into records of table.
func readRows(file, table string, stdin io.Reader) (orm.DBRecords, error) {
	data, err := readInput(file, stdin)
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	var rows []map[string]interface{}
	if err := yaml.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parse rows: %w", err)
	}
	recs := make(orm.DBRecords, 0, len(rows))
	for _, row := range rows {
		recs = append(recs, orm.DBRecord{TableName: table, Data: row})
	}
	return recs, nil
}

func readInput(file string, stdin io.Reader) ([]byte, error) {
	if file == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(file)
}
