package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kaoslabsinc/remote-resources/internal/etl"
	"github.com/kaoslabsinc/remote-resources/internal/ui"
)

var remoteCmd = &cobra.Command{
	Use:     "remote",
	GroupID: "data",
	Short:   "Work with remote objects directly",
	Long: `Run entity operations against the remote service without touching the
local store. Field names are the resource's column names; values are given as
key=value and parsed as JSON when possible (likes=3 is a number, draft=false a
boolean, anything else a string).

Examples:
  rr remote list posts userId=1
  rr remote get posts 7
  rr remote get posts title="hello"
  rr remote create posts title=hello body=world
  rr remote update posts 7 title=renamed
  rr remote delete posts 7
  rr remote get-or-create posts title=hello --set body=world
  rr remote update-or-create posts title=hello --set body=updated`,
}

// entityResource binds the mapped resource name to its remote client.
func entityResource(name string) *etl.Resource {
	r, err := loadResources().Resource(name)
	if err != nil {
		fatalf("%v", err)
	}
	entity, err := r.EntitySchema()
	if err != nil {
		fatalf("%v", err)
	}
	c, err := remoteFor(r)
	if err != nil {
		fatalf("%v", err)
	}
	return etl.NewResource(entity, c)
}

// parseID reads an id argument, keeping numeric ids numeric.
func parseID(s string) any {
	v, err := parseKeyValues([]string{"id=" + s})
	if err != nil {
		return s
	}
	return v["id"]
}

func mustKeyValues(args []string) map[string]any {
	kv, err := parseKeyValues(args)
	if err != nil {
		fatalf("%v", err)
	}
	return kv
}

func printObjects(objs []*etl.Object, s *etl.Schema) {
	headers := s.Names()
	rows := make([][]any, len(objs))
	for i, o := range objs {
		rows[i] = make([]any, len(headers))
		for j, name := range headers {
			rows[i][j], _ = o.Get(name)
		}
	}
	fmt.Println(ui.Table(headers, rows, ui.Width(os.Stdout)))
}

func printObject(o *etl.Object, verb string) {
	fmt.Printf("%s %s %s\n", ui.RenderPass("✓"), verb, o)
	pairs := make([]any, 0, 2*o.Schema().Len())
	for _, name := range o.Schema().Names() {
		v, _ := o.Get(name)
		pairs = append(pairs, name, v)
	}
	ui.KeyValues(os.Stdout, pairs...)
}

var remoteListCmd = &cobra.Command{
	Use:   "list RESOURCE [key=value...]",
	Short: "List remote objects matching the filters",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		res := entityResource(args[0])

		it := res.List(context.Background(), etl.Query(mustKeyValues(args[1:])))
		var objs []*etl.Object
		for (limit <= 0 || len(objs) < limit) && it.Next() {
			objs = append(objs, it.Object())
		}
		if err := it.Err(); err != nil {
			fatalf("%v", err)
		}
		printObjects(objs, res.Schema())
		fmt.Println(ui.RenderMuted(fmt.Sprintf("%d objects from %d pages", len(objs), it.Pages())))
	},
}

var remoteGetCmd = &cobra.Command{
	Use:   "get RESOURCE (ID | key=value...)",
	Short: "Retrieve one remote object by id or by filters",
	Long: `Retrieve one object. With an id it is fetched directly; with key=value
filters the listing must match exactly one object.`,
	Args: cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		res := entityResource(args[0])
		ctx := context.Background()

		var (
			obj *etl.Object
			err error
		)
		if len(args) == 2 && !strings.Contains(args[1], "=") {
			obj, err = res.Retrieve(ctx, parseID(args[1]))
		} else {
			obj, err = etl.Get(ctx, res, etl.Query(mustKeyValues(args[1:])))
		}
		if err != nil {
			fatalf("%v", err)
		}
		printObject(obj, "Found")
	},
}

var remoteCreateCmd = &cobra.Command{
	Use:   "create RESOURCE key=value...",
	Short: "Create a remote object",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		res := entityResource(args[0])
		obj, err := res.New(mustKeyValues(args[1:]))
		if err != nil {
			fatalf("%v", err)
		}
		if err := res.Create(context.Background(), obj); err != nil {
			fatalf("%v", err)
		}
		printObject(obj, "Created")
	},
}

var remoteUpdateCmd = &cobra.Command{
	Use:   "update RESOURCE ID key=value...",
	Short: "Update fields of a remote object",
	Long:  `Retrieve the object, apply the given values and send only those fields.`,
	Args:  cobra.MinimumNArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		res := entityResource(args[0])
		ctx := context.Background()

		obj, err := res.Retrieve(ctx, parseID(args[1]))
		if err != nil {
			fatalf("%v", err)
		}
		applied := obj.Apply(mustKeyValues(args[2:]))
		if len(applied) == 0 || !obj.IsEdited() {
			fmt.Printf("%s %s unchanged\n", ui.RenderMuted("-"), obj)
			return
		}
		if err := res.Update(ctx, obj, etl.Only(applied...)); err != nil {
			fatalf("%v", err)
		}
		printObject(obj, "Updated")
	},
}

var remoteDeleteCmd = &cobra.Command{
	Use:   "delete RESOURCE ID",
	Short: "Delete a remote object",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		res := entityResource(args[0])
		ctx := context.Background()

		obj, err := res.Retrieve(ctx, parseID(args[1]))
		if err != nil {
			fatalf("%v", err)
		}
		if err := res.Delete(ctx, obj); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Deleted %s\n", ui.RenderPass("✓"), obj)
	},
}

var remoteGetOrCreateCmd = &cobra.Command{
	Use:   "get-or-create RESOURCE key=value... [--set key=value...]",
	Short: "Find the object matching the filters or create it",
	Long: `Look up the single object matching the key=value filters. When none
exists it is created from the filters plus the --set values.`,
	Args: cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		runLookup(cmd, args, func(ctx context.Context, r *etl.Resource, defaults, filter map[string]any) (*etl.Object, bool, error) {
			return etl.GetOrCreate(ctx, r, defaults, filter)
		})
	},
}

var remoteUpdateOrCreateCmd = &cobra.Command{
	Use:   "update-or-create RESOURCE key=value... [--set key=value...]",
	Short: "Update the object matching the filters or create it",
	Long: `Look up the single object matching the key=value filters. A match gets
the --set values applied and sent; no match is created from the filters plus
the --set values.`,
	Args: cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		runLookup(cmd, args, func(ctx context.Context, r *etl.Resource, defaults, filter map[string]any) (*etl.Object, bool, error) {
			return etl.UpdateOrCreate(ctx, r, defaults, filter)
		})
	},
}

type lookupFunc func(ctx context.Context, r *etl.Resource, defaults, filter map[string]any) (*etl.Object, bool, error)

func runLookup(cmd *cobra.Command, args []string, fn lookupFunc) {
	set, _ := cmd.Flags().GetStringArray("set")
	res := entityResource(args[0])

	obj, created, err := fn(context.Background(), res, mustKeyValues(set), mustKeyValues(args[1:]))
	if err != nil {
		fatalf("%v", err)
	}
	verb := "Found"
	if created {
		verb = "Created"
	}
	printObject(obj, verb)
}

func init() {
	remoteListCmd.Flags().Int("limit", 50, "Stop after this many objects (0 = all)")
	remoteGetOrCreateCmd.Flags().StringArray("set", nil, "Value used when creating, as key=value (repeatable)")
	remoteUpdateOrCreateCmd.Flags().StringArray("set", nil, "Value applied or used when creating, as key=value (repeatable)")

	remoteCmd.AddCommand(remoteListCmd)
	remoteCmd.AddCommand(remoteGetCmd)
	remoteCmd.AddCommand(remoteCreateCmd)
	remoteCmd.AddCommand(remoteUpdateCmd)
	remoteCmd.AddCommand(remoteDeleteCmd)
	remoteCmd.AddCommand(remoteGetOrCreateCmd)
	remoteCmd.AddCommand(remoteUpdateOrCreateCmd)
	rootCmd.AddCommand(remoteCmd)
}
