package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"deliverline/internal/access"
	"deliverline/internal/config"
	"deliverline/internal/db"
	"deliverline/internal/domain"
	"deliverline/internal/history"
	"deliverline/internal/migrate"
	"deliverline/internal/notify"
	"deliverline/internal/repo"
	"deliverline/internal/server"
	"deliverline/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "dlv",
	Short: "Deliverline CLI",
	Long: `Deliverline tracks software deliveries from partner organizations.
Modules and user stories move planning -> in_development -> delivered and wait
for the project manager's decision: accepted (then closed) or rejected, after
which the partner may redeliver. Every transition lands in an append-only
history, and partner rollups are recomputed from source rows on acceptance.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("DELIVERLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "", "acting user id")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(partnerCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(moduleCmd())
	rootCmd.AddCommand(storyCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(bugCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func withEngine(ctx context.Context, fn func(context.Context, workflow.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	e := workflow.New(conn, cfg)
	return fn(ctx, e)
}

func currentActor(ctx context.Context, e workflow.Engine) (access.Actor, error) {
	id := viper.GetString("actor-id")
	if id == "" {
		return access.Actor{}, fmt.Errorf("--actor-id required (or DELIVERLINE_ACTOR_ID)")
	}
	actor, err := e.ResolveActor(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return access.Actor{}, fmt.Errorf("actor %s is not a known user", id)
		}
		return access.Actor{}, err
	}
	return actor, nil
}

func actorID() string {
	if id := viper.GetString("actor-id"); id != "" {
		return id
	}
	return "local-user"
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func printJSONOrTable(v any, render func(table.Writer)) error {
	if viper.GetBool("json") || render == nil {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	render(tw)
	tw.Render()
	return nil
}

func colorStatus(status string) string {
	switch status {
	case "accepted", "done", "resolved", "active":
		return color.GreenString(status)
	case "delivered", "pending", "in_progress", "in_development":
		return color.YellowString(status)
	case "rejected", "reopened":
		return color.RedString(status)
	default:
		return status
	}
}

func initCmd() *cobra.Command {
	var orgID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(path, []byte(config.GenerateDefault(orgID)), 0o644); err != nil {
					return err
				}
				fmt.Println("wrote", path)
			}
			fmt.Println("workspace ready:", db.Path(workspace))
			return nil
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "default-org", "organization id")
	return cmd
}

func partnerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "partner", Short: "Manage partner organizations"}
	cmd.AddCommand(partnerCreateCmd())
	cmd.AddCommand(partnerListCmd())
	cmd.AddCommand(partnerShowCmd())
	cmd.AddCommand(partnerStatsCmd())
	cmd.AddCommand(partnerRecomputeCmd())
	return cmd
}

func partnerCreateCmd() *cobra.Command {
	var code, name, contact string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register partner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				p, err := e.CreatePartner(ctx, actorID(), workflow.PartnerInput{Code: code, Name: name, Contact: contact})
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "unique partner code")
	cmd.Flags().StringVar(&name, "name", "", "partner name")
	cmd.Flags().StringVar(&contact, "contact", "", "contact")
	_ = cmd.MarkFlagRequired("code")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func partnerListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List partners",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				items, err := e.Repo.ListPartners(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"ID", "Code", "Name", "Status"})
					for _, p := range items {
						tw.AppendRow(table.Row{p.ID, p.Code, p.Name, colorStatus(p.Status)})
					}
				})
			})
		},
	}
}

func partnerShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <partner-id-or-code>",
		Short: "Show partner by id or code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				p, err := e.Repo.GetPartner(ctx, args[0])
				if errors.Is(err, repo.ErrNotFound) {
					p, err = e.Repo.GetPartnerByCode(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
}

func partnerStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats <partner-id>",
		Short: "Show partner rollup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				st, err := e.Repo.GetPartnerStats(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(st)
			})
		},
	}
	return cmd
}

func partnerRecomputeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recompute <partner-id>",
		Short: "Recompute partner rollup from source rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				st, err := e.Stats.RecomputePartner(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(st)
			})
		},
	}
	return cmd
}

func projectCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "project", Short: "Manage projects"}
	cmd.AddCommand(projectCreateCmd())
	cmd.AddCommand(projectListCmd())
	cmd.AddCommand(projectShowCmd())
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var name, partnerID, managerID, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				p, err := e.CreateProject(ctx, actorID(), workflow.ProjectInput{
					Name: name, PartnerID: partnerID, ManagerID: managerID, Description: desc,
				})
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&partnerID, "partner", "", "delivering partner id")
	cmd.Flags().StringVar(&managerID, "manager", "", "project manager user id")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	var partnerID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				items, err := e.Repo.ListProjects(ctx, partnerID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"ID", "Name", "Partner", "Manager", "Status"})
					for _, p := range items {
						tw.AppendRow(table.Row{p.ID, p.Name, p.PartnerName, p.ManagerID, colorStatus(p.Status)})
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&partnerID, "partner", "", "filter by partner id")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				p, err := e.Repo.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
}

func moduleCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "module", Short: "Manage modules"}
	cmd.AddCommand(moduleCreateCmd())
	cmd.AddCommand(moduleListCmd())
	cmd.AddCommand(showEntityCmd(workflow.KindModule))
	for _, verb := range []string{"start", "deliver", "approve", "reject", "close"} {
		cmd.AddCommand(transitionCmd(workflow.KindModule, verb))
	}
	return cmd
}

func moduleCreateCmd() *cobra.Command {
	var projectID, code, name, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create module",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				m, err := e.CreateModule(ctx, actorID(), workflow.ModuleInput{
					ProjectID: projectID, Code: code, Name: name, Description: desc,
				})
				if err != nil {
					return err
				}
				return printJSON(m)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "owning project id")
	cmd.Flags().StringVar(&code, "code", "", "module code, unique per project")
	cmd.Flags().StringVar(&name, "name", "", "module name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("code")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func moduleListCmd() *cobra.Command {
	var projectID, status, deliveryStatus string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List modules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				items, err := e.Repo.ListModules(ctx, repo.ModuleFilters{
					ProjectID: projectID, Status: status, DeliveryStatus: deliveryStatus,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(items, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"ID", "Code", "Name", "Status", "Delivery"})
					for _, m := range items {
						tw.AppendRow(table.Row{m.ID, m.Code, m.Name, colorStatus(m.Status), colorStatus(m.DeliveryStatus)})
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "filter by project")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&deliveryStatus, "delivery-status", "", "filter by delivery status")
	return cmd
}

func storyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "story", Short: "Manage user stories"}
	cmd.AddCommand(storyCreateCmd())
	cmd.AddCommand(storyListCmd())
	cmd.AddCommand(showEntityCmd(workflow.KindStory))
	cmd.AddCommand(storyStatsCmd())
	for _, verb := range []string{"start", "deliver", "approve", "reject", "close"} {
		cmd.AddCommand(transitionCmd(workflow.KindStory, verb))
	}
	return cmd
}

func storyCreateCmd() *cobra.Command {
	var moduleID, title, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create user story",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				s, err := e.CreateStory(ctx, actorID(), workflow.StoryInput{
					ModuleID: moduleID, Title: title, Description: desc,
				})
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	cmd.Flags().StringVar(&moduleID, "module", "", "owning module id")
	cmd.Flags().StringVar(&title, "title", "", "story title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("module")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func storyListCmd() *cobra.Command {
	var moduleID, projectID, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List user stories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				items, err := e.Repo.ListStories(ctx, repo.StoryFilters{
					ModuleID: moduleID, ProjectID: projectID, Status: status,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(items, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"ID", "Title", "Status", "Delivery"})
					for _, s := range items {
						tw.AppendRow(table.Row{s.ID, s.Title, colorStatus(s.Status), colorStatus(s.DeliveryStatus)})
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&moduleID, "module", "", "filter by module")
	cmd.Flags().StringVar(&projectID, "project", "", "filter by project")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func storyStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <story-id>",
		Short: "Show story work-item rollup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				st, err := e.Stats.RecomputeStory(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(st)
			})
		},
	}
}

func showEntityCmd(kind string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show " + kind,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				switch kind {
				case workflow.KindModule:
					m, err := e.Repo.GetModule(ctx, args[0])
					if err != nil {
						return err
					}
					return printJSON(m)
				default:
					s, err := e.Repo.GetStory(ctx, args[0])
					if err != nil {
						return err
					}
					return printJSON(s)
				}
			})
		},
	}
}

func transitionCmd(kind, verb string) *cobra.Command {
	var note, commitRef string
	cmd := &cobra.Command{
		Use:   fmt.Sprintf("%s <id>", verb),
		Short: fmt.Sprintf("%s a %s", strings.ToUpper(verb[:1])+verb[1:], kind),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				actor, err := currentActor(ctx, e)
				if err != nil {
					return err
				}
				var res workflow.TransitionResult
				switch verb {
				case "start":
					res, err = e.Start(ctx, actor, kind, args[0])
				case "deliver":
					res, err = e.Deliver(ctx, actor, kind, args[0], workflow.DeliverInput{Note: note, CommitRef: commitRef})
				case "approve":
					res, err = e.Approve(ctx, actor, kind, args[0], note)
				case "reject":
					res, err = e.Reject(ctx, actor, kind, args[0], note)
				case "close":
					res, err = e.Close(ctx, actor, kind, args[0], note)
				}
				if err != nil {
					return err
				}
				fmt.Printf("%s %s -> %s (delivery %s, history #%d)\n",
					kind, args[0], colorStatus(res.Status), colorStatus(res.DeliveryStatus), res.HistoryID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "note recorded with the transition")
	if verb == "deliver" {
		cmd.Flags().StringVar(&commitRef, "commit", "", "commit or release reference")
	}
	return cmd
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Manage tasks"}
	cmd.AddCommand(taskCreateCmd())
	cmd.AddCommand(workItemStatusCmd("task"))
	return cmd
}

func taskCreateCmd() *cobra.Command {
	var storyID, title, assignee string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				t, err := e.CreateTask(ctx, actorID(), workflow.TaskInput{
					StoryID: storyID, Title: title, AssigneeID: assignee,
				})
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&storyID, "story", "", "owning story id")
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee user id")
	_ = cmd.MarkFlagRequired("story")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func bugCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "bug", Short: "Manage bugs"}
	cmd.AddCommand(bugCreateCmd())
	cmd.AddCommand(workItemStatusCmd("bug"))
	return cmd
}

func bugCreateCmd() *cobra.Command {
	var storyID, title, severity, assignee string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Report bug",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				b, err := e.CreateBug(ctx, actorID(), workflow.BugInput{
					StoryID: storyID, Title: title, Severity: severity, AssigneeID: assignee,
				})
				if err != nil {
					return err
				}
				return printJSON(b)
			})
		},
	}
	cmd.Flags().StringVar(&storyID, "story", "", "owning story id")
	cmd.Flags().StringVar(&title, "title", "", "bug title")
	cmd.Flags().StringVar(&severity, "severity", "", "low|medium|high|critical")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee user id")
	_ = cmd.MarkFlagRequired("story")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func workItemStatusCmd(kind string) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Move a " + kind,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				actor, err := currentActor(ctx, e)
				if err != nil {
					return err
				}
				var res workflow.TransitionResult
				if kind == "task" {
					res, err = e.SetTaskStatus(ctx, actor, args[0], args[1], note)
				} else {
					res, err = e.SetBugStatus(ctx, actor, args[0], args[1], note)
				}
				if err != nil {
					return err
				}
				fmt.Printf("%s %s -> %s (history #%d)\n", kind, args[0], colorStatus(res.Status), res.HistoryID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "note recorded with the move")
	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage users and credentials"}
	cmd.AddCommand(userCreateCmd())
	cmd.AddCommand(userListCmd())
	cmd.AddCommand(userAPIKeyCmd())
	return cmd
}

func userCreateCmd() *cobra.Command {
	var name, role, partnerID string
	var projects, modules, partners []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				u, err := e.CreateUser(ctx, actorID(), workflow.UserInput{
					Name: name, Role: role, PartnerID: partnerID,
					Scope: domain.DataScope{ProjectIDs: projects, ModuleIDs: modules, PartnerIDs: partners},
				})
				if err != nil {
					return err
				}
				return printJSON(u)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "", "partner|ba|po|pm|dev|qa|devops|admin")
	cmd.Flags().StringVar(&partnerID, "partner", "", "partner link (required for partner role)")
	cmd.Flags().StringSliceVar(&projects, "scope-project", nil, "restrict to project ids")
	cmd.Flags().StringSliceVar(&modules, "scope-module", nil, "restrict to module ids")
	cmd.Flags().StringSliceVar(&partners, "scope-partner", nil, "restrict to partner ids")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func userListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				items, err := e.Repo.ListUsers(ctx, role)
				if err != nil {
					return err
				}
				return printJSONOrTable(items, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"ID", "Name", "Role", "Partner"})
					for _, u := range items {
						partner := ""
						if u.PartnerID != nil {
							partner = *u.PartnerID
						}
						tw.AppendRow(table.Row{u.ID, u.Name, u.Role, partner})
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "filter by role")
	return cmd
}

func userAPIKeyCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "apikey <user-id>",
		Short: "Issue an API key for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				if _, err := e.Repo.GetUser(ctx, args[0]); err != nil {
					return err
				}
				raw := make([]byte, 24)
				if _, err := rand.Read(raw); err != nil {
					return err
				}
				key := "dlv_" + hex.EncodeToString(raw)
				rec := domain.APIKey{
					ID:        uuid.New().String(),
					ActorID:   args[0],
					Name:      name,
					KeyHash:   repo.HashAPIKey(key),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := e.Repo.InsertAPIKey(ctx, rec); err != nil {
					return err
				}
				fmt.Println("api key (store it now, it is not retrievable):", key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "key-name", "", "label for the key")
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Audit history"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var kind, entityID, action string
	var limit int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent history entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				entries, err := e.Log.List(ctx, history.Filters{
					EntityKind: kind, EntityID: entityID, Action: action, Limit: limit,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(entries, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"#", "TS", "Kind", "Entity", "Actor", "Action", "Note"})
					for _, en := range entries {
						tw.AppendRow(table.Row{en.ID, en.TS, en.EntityKind, en.EntityID, en.ActorID, en.Action, en.Note})
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "filter by entity kind")
	cmd.Flags().StringVar(&entityID, "entity", "", "filter by entity id")
	cmd.Flags().StringVar(&action, "action", "", "filter by action")
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var insecureActors bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			e := workflow.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:                os.Getenv("DELIVERLINE_JWT_SECRET"),
				AllowInsecureActorHeader: insecureActors,
			}
			if authCfg.JWTSecret == "" && !insecureActors {
				return fmt.Errorf("DELIVERLINE_JWT_SECRET is required (or pass --insecure-actor-header for local use)")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			notify.StartWebhookDispatcher(conn, cfg)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Deliverline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&insecureActors, "insecure-actor-header", false, "accept X-Actor-Id without credentials (dev only)")
	return cmd
}
