package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/malbeclabs/pulse/client/pkg/pulseapi"
	"github.com/malbeclabs/pulse/handoff/pkg/handoff"
)

func cmdQuery(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "query", "--connection ID (--sql SQL | --take)")
	connectionFlag := fs.StringP("connection", "c", "", "Stored connection to run the query on")
	sqlFlag := fs.String("sql", "", "SQL to run")
	takeFlag := fs.Bool("take", false, "Run the prefilled query from the handoff store")
	if ok, err := parseFlags(fs, args); !ok {
		return err
	}
	if *connectionFlag == "" {
		return errors.New("--connection is required")
	}
	if (*sqlFlag == "") == !*takeFlag {
		return errors.New("exactly one of --sql or --take is required")
	}

	sql := *sqlFlag
	if *takeFlag {
		store, closeStore, err := a.handoffStore(ctx)
		if err != nil {
			return err
		}
		taken, ok, err := handoff.Take(ctx, store)
		closeStore()
		if err != nil {
			return err
		}
		if !ok {
			return ErrNothingToTake
		}
		sql = taken
		fmt.Fprintln(a.errOut, sql)
	}

	client, err := a.apiClient()
	if err != nil {
		return err
	}
	resp, err := client.ExecuteQuery(ctx, pulseapi.QueryRequest{ConnectionID: *connectionFlag, SQL: sql})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("query failed: %s", resp.Error)
	}
	return printResult(a, resp.Data)
}

func printResult(a *app, res *pulseapi.QueryResult) error {
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(res.Columns, "\t"))
	for _, row := range res.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				cells[i] = "NULL"
				continue
			}
			cells[i] = fmt.Sprint(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "(%d rows, %.1f ms)\n", res.RowCount, res.ExecutionTimeMs)
	return nil
}
