package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"printflow/internal/app"
	"printflow/internal/domain"
	"printflow/internal/engine"
	"printflow/internal/report"
	"printflow/internal/repo"
	"printflow/internal/workflow"
)

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users and roles",
		Long:  "Roles: ADMIN, COMMERCIAL, DESIGNER, IMPRIMEUR, LOGISTIQUE. Only ADMIN may add users or change roles.",
	}
	cmd.AddCommand(userAddCmd())
	cmd.AddCommand(userListCmd())
	cmd.AddCommand(userRoleCmd("grant", true))
	cmd.AddCommand(userRoleCmd("revoke", false))
	cmd.AddCommand(userKeyCmd())
	return cmd
}

func userAddCmd() *cobra.Command {
	var opts engine.CreateUserOptions
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				actor, err := actingUser(ctx, rt)
				if err != nil {
					return err
				}
				opts.ActorID = actor
				u, err := rt.Engine.CreateUser(ctx, opts)
				if err != nil {
					return err
				}
				return printUsers([]domain.User{u})
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email")
	cmd.Flags().StringArrayVar(&opts.Roles, "role", nil, "role (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func userListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				var r domain.Role
				if role != "" {
					parsed, err := domain.ParseRole(role)
					if err != nil {
						return err
					}
					r = parsed
				}
				users, err := rt.Engine.Repo.ListUsers(ctx, r)
				if err != nil {
					return err
				}
				return printUsers(users)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	return cmd
}

func userRoleCmd(use string, grant bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <user-id> <role>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				actor, err := actingUser(ctx, rt)
				if err != nil {
					return err
				}
				u, err := rt.Engine.SetRole(ctx, actor, id, args[1], grant)
				if err != nil {
					return err
				}
				return printUsers([]domain.User{u})
			})
		},
	}
}

func userKeyCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "key [user-id]",
		Short: "Issue an API key (printed once)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var target int64
			if len(args) == 1 {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				target = id
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				actor, err := actingUser(ctx, rt)
				if err != nil {
					return err
				}
				plain, key, err := rt.Engine.CreateAPIKey(ctx, actor, target, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "user_id": key.UserID, "name": key.Name, "key": plain})
				}
				fmt.Printf("API key for user #%d: %s\n", key.UserID, plain)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	cmd.AddCommand(userKeyListCmd(), userKeyRevokeCmd())
	return cmd
}

func userKeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [user-id]",
		Short: "List API keys",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var target int64
			if len(args) == 1 {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				target = id
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				actor, err := actingUser(ctx, rt)
				if err != nil {
					return err
				}
				keys, err := rt.Engine.ListAPIKeys(ctx, actor, target)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					out := make([]map[string]any, 0, len(keys))
					for _, k := range keys {
						out = append(out, map[string]any{"id": k.ID, "user_id": k.UserID, "name": k.Name, "created_at": k.CreatedAt})
					}
					return printJSON(out)
				}
				tw := newTable(table.Row{"ID", "User", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.UserID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func userKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				actor, err := actingUser(ctx, rt)
				if err != nil {
					return err
				}
				if err := rt.Engine.RevokeAPIKey(ctx, actor, args[0]); err != nil {
					return err
				}
				fmt.Printf("API key %s revoked\n", args[0])
				return nil
			})
		},
	}
}

func printUsers(users []domain.User) error {
	if viper.GetBool("json") {
		return printJSON(users)
	}
	tw := newTable(table.Row{"ID", "Name", "Email", "Roles"})
	for _, u := range users {
		tw.AppendRow(table.Row{u.ID, u.Name, u.Email, strings.Join(u.Roles, ",")})
	}
	tw.Render()
	return nil
}

func orderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Create and move orders",
	}
	cmd.AddCommand(orderCreateCmd())
	cmd.AddCommand(orderListCmd())
	cmd.AddCommand(orderShowCmd())
	cmd.AddCommand(orderActionsCmd())
	cmd.AddCommand(orderReviewsCmd())
	cmd.AddCommand(orderAssignCmd())
	cmd.AddCommand(orderStageCmd(workflow.ActionStart, "start", "Start working on a task"))
	cmd.AddCommand(orderStageCmd(workflow.ActionComplete, "complete", "Mark a task done"))
	cmd.AddCommand(orderStageCmd(workflow.ActionValidate, "validate", "Validate finished work (ADMIN)"))
	cmd.AddCommand(orderStageCmd(workflow.ActionReject, "reject", "Send finished work back (ADMIN)"))
	cmd.AddCommand(orderStockCmd())
	cmd.AddCommand(orderUploadCmd())
	return cmd
}

func orderCreateCmd() *cobra.Command {
	var opts engine.CreateOrderOptions
	var panels, oneways []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an order (COMMERCIAL or ADMIN)",
		Long: `Items are given with --panel TYPE:HEIGHTxWIDTH[:tag,tag] and --oneway TYPE:MANUSCRIPT.
Example: printflow order create --customer "Garage Renaud" --panel 4x3:3x4:logo,promo --oneway vitrine:"Vidange offerte"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := parseItems(panels, oneways)
			if err != nil {
				return err
			}
			opts.Items = items
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				actor, err := actingUser(ctx, rt)
				if err != nil {
					return err
				}
				opts.ActorID = actor
				v, err := rt.Engine.CreateOrder(ctx, opts)
				if err != nil {
					return err
				}
				return printOrder(v)
			})
		},
	}
	cmd.Flags().StringVar(&opts.CustomerName, "customer", "", "customer name")
	cmd.Flags().StringVar(&opts.Zone, "zone", "", "zone")
	cmd.Flags().StringVar(&opts.PropertyName, "property", "", "property name")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "free notes")
	cmd.Flags().StringArrayVar(&panels, "panel", nil, "panel item TYPE:HEIGHTxWIDTH[:tags] (repeatable)")
	cmd.Flags().StringArrayVar(&oneways, "oneway", nil, "oneway item TYPE:MANUSCRIPT (repeatable)")
	_ = cmd.MarkFlagRequired("customer")
	return cmd
}

func parseItems(panels, oneways []string) ([]domain.Item, error) {
	var items []domain.Item
	for _, p := range panels {
		parts := strings.SplitN(p, ":", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("panel %q: want TYPE:HEIGHTxWIDTH[:tags]", p)
		}
		dims := strings.SplitN(strings.ToLower(parts[1]), "x", 2)
		if len(dims) != 2 {
			return nil, fmt.Errorf("panel %q: dimensions must be HEIGHTxWIDTH", p)
		}
		h, err := strconv.ParseFloat(dims[0], 64)
		if err != nil {
			return nil, fmt.Errorf("panel %q: height: %w", p, err)
		}
		w, err := strconv.ParseFloat(dims[1], 64)
		if err != nil {
			return nil, fmt.Errorf("panel %q: width: %w", p, err)
		}
		item := domain.Item{Kind: domain.ItemPanel, Type: parts[0], Height: h, Width: w}
		if len(parts) == 3 && parts[2] != "" {
			item.ContentTags = strings.Split(parts[2], ",")
		}
		items = append(items, item)
	}
	for _, o := range oneways {
		parts := strings.SplitN(o, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("oneway %q: want TYPE:MANUSCRIPT", o)
		}
		items = append(items, domain.Item{Kind: domain.ItemOneway, Type: parts[0], Manuscript: parts[1]})
	}
	return items, nil
}

func orderListCmd() *cobra.Command {
	var f repo.OrderFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List orders, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				f.Status = strings.ToUpper(f.Status)
				views, err := rt.Engine.ListOrders(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(views)
				}
				tw := newTable(table.Row{"ID", "Customer", "Zone", "Status", "Updated"})
				for _, v := range views {
					tw.AppendRow(table.Row{v.ID, v.CustomerName, v.Zone, v.Observed, v.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "stored or observed status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max orders")
	cmd.Flags().Int64Var(&f.Cursor, "cursor", 0, "continue below this order id")
	return cmd
}

func orderShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <order-id>",
		Short: "Show an order with its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				v, err := rt.Engine.GetOrder(ctx, id)
				if err != nil {
					return err
				}
				return printOrder(v)
			})
		},
	}
}

func orderActionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "actions <order-id>",
		Short: "List actions the acting user may take",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				actor, err := actingUser(ctx, rt)
				if err != nil {
					return err
				}
				actions, err := rt.Engine.AvailableActions(ctx, id, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(actions)
				}
				if len(actions) == 0 {
					fmt.Println("no actions available")
				}
				for _, a := range actions {
					fmt.Println(a.String())
				}
				return nil
			})
		},
	}
}

func orderReviewsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reviews <order-id>",
		Short: "Show validation and rejection history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				reviews, err := rt.Engine.Reviews(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(reviews)
				}
				tw := newTable(table.Row{"Task", "Decision", "Reviewer", "Comment", "At"})
				for _, r := range reviews {
					tw.AppendRow(table.Row{r.TaskType, r.Decision, r.ReviewerID, r.Comment, r.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

// transitionFlags are shared by every order mutation command.
type transitionFlags struct {
	fileRef         string
	comment         string
	expectedVersion int64
}

func (f *transitionFlags) bind(cmd *cobra.Command, withFile, withComment bool) {
	if withFile {
		cmd.Flags().StringVar(&f.fileRef, "file", "", "file reference produced by the stage")
	}
	if withComment {
		cmd.Flags().StringVar(&f.comment, "comment", "", "review comment")
	}
	cmd.Flags().Int64Var(&f.expectedVersion, "expected-version", 0, "refuse unless the order is at this version")
}

func runTransition(cmd *cobra.Command, orderID int64, action workflow.Action, assignee int64, f transitionFlags) error {
	return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
		actor, err := actingUser(ctx, rt)
		if err != nil {
			return err
		}
		v, err := rt.Engine.Transition(ctx, engine.TransitionOptions{
			OrderID:         orderID,
			ActorID:         actor,
			Action:          action,
			AssigneeID:      assignee,
			FileRef:         f.fileRef,
			Comment:         f.comment,
			ExpectedVersion: f.expectedVersion,
		})
		if err != nil {
			return err
		}
		return printOrder(v)
	})
}

func orderAssignCmd() *cobra.Command {
	var f transitionFlags
	cmd := &cobra.Command{
		Use:   "assign <order-id> <stage> <user-id>",
		Short: "Assign a stage to a user (ADMIN)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			action, err := workflow.ParseAction("ASSIGN:" + args[1])
			if err != nil {
				return err
			}
			assignee, err := parseID(args[2])
			if err != nil {
				return err
			}
			return runTransition(cmd, id, action, assignee, f)
		},
	}
	f.bind(cmd, false, false)
	return cmd
}

func orderStageCmd(kind workflow.ActionKind, use, short string) *cobra.Command {
	var f transitionFlags
	cmd := &cobra.Command{
		Use:   use + " <order-id> <stage>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			action, err := workflow.ParseAction(string(kind) + ":" + args[1])
			if err != nil {
				return err
			}
			return runTransition(cmd, id, action, 0, f)
		},
	}
	f.bind(cmd, kind == workflow.ActionComplete, kind == workflow.ActionReject || kind == workflow.ActionValidate)
	return cmd
}

func orderStockCmd() *cobra.Command {
	var f transitionFlags
	cmd := &cobra.Command{
		Use:   "stock <order-id>",
		Short: "Move a delivered order to stock (ADMIN)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return runTransition(cmd, id, workflow.Action{Kind: workflow.ActionMoveToStock}, 0, f)
		},
	}
	f.bind(cmd, false, false)
	return cmd
}

func orderUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <order-id> <file>",
		Short: "Upload the design file and complete the DESIGN task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			content, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				actor, err := actingUser(ctx, rt)
				if err != nil {
					return err
				}
				v, err := rt.Engine.UploadDesign(ctx, engine.UploadOptions{OrderID: id, ActorID: actor, Filename: filepath.Base(args[1]), Content: content})
				if err != nil {
					return err
				}
				return printOrder(v)
			})
		},
	}
}

func printOrder(v engine.OrderView) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	fmt.Printf("Order #%d  %s  [%s]  v%d\n", v.ID, v.CustomerName, v.Observed, v.Version)
	if v.Zone != "" || v.PropertyName != "" {
		fmt.Printf("Zone: %s  Property: %s\n", v.Zone, v.PropertyName)
	}
	if len(v.Items) > 0 {
		tw := newTable(table.Row{"#", "Kind", "Type", "Size", "Content"})
		for _, it := range v.Items {
			size, content := "", it.Manuscript
			if it.Kind == domain.ItemPanel {
				size = fmt.Sprintf("%gx%g", it.Height, it.Width)
				content = strings.Join(it.ContentTags, ",")
			}
			tw.AppendRow(table.Row{it.Position, it.Kind, it.Type, size, content})
		}
		tw.Render()
	}
	if len(v.Tasks) > 0 {
		tw := newTable(table.Row{"Task", "Type", "Assignee", "Status", "File", "Updated"})
		for _, t := range v.Tasks {
			tw.AppendRow(table.Row{t.ID, t.Type, deref(t.AssigneeID), t.Status, deref(t.UploadedFile), t.UpdatedAt})
		}
		tw.Render()
	}
	return nil
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect tasks",
	}
	var user int64
	pending := &cobra.Command{
		Use:   "pending",
		Short: "Tasks waiting on a user (ASSIGNED or REJECTED)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if user == 0 {
					actor, err := actingUser(ctx, rt)
					if err != nil {
						return err
					}
					user = actor
				}
				tasks, err := rt.Engine.PendingTasks(ctx, user)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := newTable(table.Row{"Order", "Customer", "Task", "Status", "Comment"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.OrderID, t.CustomerName, t.Type, t.Status, t.RejectComment})
				}
				tw.Render()
				return nil
			})
		},
	}
	pending.Flags().Int64Var(&user, "user", 0, "user id (defaults to the acting user)")
	cmd.AddCommand(pending)
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Inspect the event log",
	}
	var (
		f        repo.EventFilters
		follow   bool
		interval time.Duration
	)
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				events, err := rt.Engine.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if !follow {
					if viper.GetBool("json") {
						return printJSON(events)
					}
					tw := newTable(table.Row{"ID", "TS", "Type", "Order", "Actor", "Payload"})
					for _, e := range events {
						tw.AppendRow(table.Row{e.ID, e.TS, e.Type, deref(e.OrderID), e.ActorID, e.Payload})
					}
					tw.Render()
					return nil
				}
				// Oldest first, then stream whatever lands after the newest one.
				var cursor int64
				for i := len(events) - 1; i >= 0; i-- {
					if err := printEventLine(events[i]); err != nil {
						return err
					}
					cursor = events[i].ID
				}
				return followEvents(ctx, rt.Engine.Repo, f, cursor, interval)
			})
		},
	}
	tail.Flags().IntVarP(&f.Limit, "n", "n", 20, "number of events")
	tail.Flags().StringVar(&f.Type, "type", "", "event type filter")
	tail.Flags().Int64Var(&f.OrderID, "order", 0, "order id filter")
	tail.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new events until interrupted")
	tail.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval with --follow")
	cmd.AddCommand(tail)
	return cmd
}

func followEvents(ctx context.Context, r repo.Repo, f repo.EventFilters, cursor int64, interval time.Duration) error {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if cursor == 0 {
		// Nothing matched the filters yet; start from the current head.
		latest, err := r.LatestEvents(ctx, repo.EventFilters{Limit: 1})
		if err != nil {
			return err
		}
		if len(latest) > 0 {
			cursor = latest[0].ID
		}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		for {
			batch, err := r.EventsAfter(ctx, 100, cursor)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			for _, e := range batch {
				cursor = e.ID
				if (f.Type != "" && e.Type != f.Type) || (f.OrderID > 0 && (e.OrderID == nil || *e.OrderID != f.OrderID)) {
					continue
				}
				if err := printEventLine(e); err != nil {
					return err
				}
			}
			if len(batch) < 100 {
				break
			}
		}
	}
}

func printEventLine(e domain.Event) error {
	if viper.GetBool("json") {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	fmt.Printf("%d\t%s\t%s\torder=%d\tactor=%d\t%s\n", e.ID, e.TS, e.Type, deref(e.OrderID), e.ActorID, e.Payload)
	return nil
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Status breakdown reports",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "breakdown",
		Short: "Order counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				b, err := report.Summarize(ctx, rt.Engine.Repo, time.Now())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(b)
				}
				tw := newTable(table.Row{"Status", "Orders"})
				for _, s := range domain.ObservedStatuses {
					tw.AppendRow(table.Row{s, b.Orders[s]})
				}
				tw.AppendFooter(table.Row{"TOTAL", b.Total})
				tw.Render()
				return nil
			})
		},
	})
	var out string
	export := &cobra.Command{
		Use:   "export",
		Short: "Write the breakdown and order list to an XLSX file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				now := time.Now()
				b, err := report.Build(ctx, rt.Engine.Repo, now)
				if err != nil {
					return err
				}
				if out == "" {
					out = fmt.Sprintf("printflow-%s.xlsx", now.Format("20060102"))
				}
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				if err := report.WriteXLSX(f, b); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Printf("Wrote %s (%d orders)\n", out, b.Total)
				return nil
			})
		},
	}
	export.Flags().StringVarP(&out, "out", "o", "", "output path")
	cmd.AddCommand(export)
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
