package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"text/tabwriter"

	"github.com/malbeclabs/pulse/client/pkg/pulseapi"
)

func cmdInstances(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "instances", "[test ID | schema ID]")
	if ok, err := parseFlags(fs, args); !ok {
		return err
	}

	client, err := a.apiClient()
	if err != nil {
		return err
	}

	switch fs.NArg() {
	case 0:
		return listInstances(ctx, a, client)
	case 2:
		switch fs.Arg(0) {
		case "test":
			return testInstance(ctx, a, client, fs.Arg(1))
		case "schema":
			return showSchema(ctx, a, client, fs.Arg(1))
		}
	}
	return errors.New("usage: pulse instances [test ID | schema ID]")
}

func listInstances(ctx context.Context, a *app, client *pulseapi.Client) error {
	instances, err := client.ListInstances(ctx)
	if err != nil {
		return err
	}
	if len(instances) == 0 {
		fmt.Fprintln(a.out, "No connections configured")
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tHOST\tDATABASE")
	for _, inst := range instances {
		host := inst.Host
		if inst.Port > 0 {
			host += ":" + strconv.Itoa(inst.Port)
		}
		if host == "" {
			host = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", inst.ID, inst.Name, inst.DBType, host, inst.Database)
	}
	return tw.Flush()
}

func testInstance(ctx context.Context, a *app, client *pulseapi.Client, id string) error {
	result, err := client.TestInstance(ctx, id)
	if err != nil {
		return err
	}
	if result.Status != pulseapi.SchemaStatusOK {
		return fmt.Errorf("connection test failed: %s", result.Message)
	}
	fmt.Fprintln(a.out, result.Message)
	return nil
}

func showSchema(ctx context.Context, a *app, client *pulseapi.Client, id string) error {
	resp, err := client.GetSchema(ctx, id)
	if err != nil {
		return err
	}
	if resp.Status != pulseapi.SchemaStatusOK || resp.Schema == nil {
		return fmt.Errorf("schema unavailable: %s", resp.Message)
	}

	names := make([]string, 0, len(resp.Schema.Tables))
	for name := range resp.Schema.Tables {
		names = append(names, name)
	}
	slices.Sort(names)

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	for _, name := range names {
		fmt.Fprintf(tw, "%s\n", name)
		for _, col := range resp.Schema.Tables[name].Columns {
			nullable := ""
			if col.Nullable != nil && !*col.Nullable {
				nullable = "not null"
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", col.Name, col.Type, nullable)
		}
	}
	return tw.Flush()
}
