package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"lettertrack/internal/app"
	"lettertrack/internal/blob"
	"lettertrack/internal/config"
	"lettertrack/internal/db"
	"lettertrack/internal/domain"
	"lettertrack/internal/engine"
	"lettertrack/internal/identity"
	"lettertrack/internal/migrate"
	"lettertrack/internal/server"
	"lettertrack/internal/workflow"
)

const maxUploadBytes = 25 << 20

var rootCmd = &cobra.Command{
	Use:   "lt",
	Short: "Lettertrack CLI",
	Long: `Lettertrack routes incoming letters ("reports") between administration (TU),
coordinators and staff.
- Reports move draft -> pending_coordinator_review -> in_progress/revision_required -> completed.
- Exactly one person holds a report at a time, except while it waits for coordinator review.
- Coordinators hand staff a checklist (task assignment); staff tick items off and send the report back.
- Every change is written to an append-only history, view it with 'lt report history'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("LETTERTRACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("as", "", "profile id to act as")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error); overrides config")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("as", rootCmd.PersistentFlags().Lookup("as"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(transitionCmd())
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(assignmentCmd())
}

// --- config / migrate / serve ---

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage lettertrack.yml",
		Long:  "lettertrack.yml lives in the workspace root. Every key can be overridden with LETTERTRACK_<SECTION>_<KEY>, for example LETTERTRACK_SERVER_JWT_SECRET.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default lettertrack.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			shown := *cfg
			if shown.Server.JWTSecret != "" {
				shown.Server.JWTSecret = "********"
			}
			return printJSONOrTable(shown)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace, BusyTimeoutMS: cfg.Database.BusyTimeoutMS})
			if err != nil {
				return err
			}
			defer conn.Close()
			applied, err := migrate.Apply(conn)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"applied": nonNil(applied), "db": db.Path(workspace)})
			}
			if len(applied) == 0 {
				fmt.Println("schema up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Println("applied", name)
			}
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				sc := a.Config.Server
				if sc.JWTSecret == "" && !sc.AllowLegacyActorHeader {
					a.Logger.Warn("no jwt secret configured; only X-Api-Key authentication is available")
				}
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					BasePath: sc.BasePath,
					Auth: server.AuthConfig{
						JWTSecret:              sc.JWTSecret,
						AllowLegacyActorHeader: sc.AllowLegacyActorHeader,
						Logger:                 a.Logger.Named("auth"),
					},
					Resolver: a.Resolver(),
					Metrics:  a.Metrics,
					Logger:   a.Logger.Named("http"),
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: sc.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Logger.Info("serving lettertrack api",
					zap.String("addr", sc.Addr),
					zap.String("base_path", sc.BasePath),
					zap.String("docs", "/docs"),
					zap.String("metrics", "/metrics"))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				a.Logger.Info("server stopped")
				return nil
			})
		},
	}
	cmd.Flags().String("addr", "", "listen address (default from config)")
	cmd.Flags().String("base-path", "", "API base path (default from config)")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	cmd.Flags().Bool("allow-legacy-actor-header", false, "trust X-Actor-Id without authentication (development only)")
	_ = viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("server.base_path", cmd.Flags().Lookup("base-path"))
	_ = viper.BindPFlag("server.jwt_secret", cmd.Flags().Lookup("jwt-secret"))
	_ = viper.BindPFlag("server.allow_legacy_actor_header", cmd.Flags().Lookup("allow-legacy-actor-header"))
	return cmd
}

// --- profiles and api keys ---

func profileCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "profile",
		Short: "Manage people and their roles",
		Long:  "Profiles carry the role (Admin, TU, Coordinator/Koordinator, Staff) every workflow check uses. The CLI writes them directly, which is how the first Admin is created.",
	}
	p.AddCommand(profileUpsertCmd())
	p.AddCommand(profileListCmd())
	return p
}

func profileUpsertCmd() *cobra.Command {
	var in engine.ProfileInput
	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Create or update a profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.BootstrapProfile(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&in.ID, "id", "", "profile id (generated if omitted)")
	cmd.Flags().StringVar(&in.Name, "name", "", "display name")
	cmd.Flags().StringVar(&in.Role, "role", "", "Admin, TU, Coordinator (Koordinator) or Staff")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func profileListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListProfiles(ctx, role)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "Role", "Created")
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Role, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP API"}
	k.AddCommand(apiKeyCreateCmd())
	k.AddCommand(apiKeyListCmd())
	k.AddCommand(apiKeyRevokeCmd())
	return k
}

func apiKeyCreateCmd() *cobra.Command {
	var profileID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key (shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				key, plain, err := a.Engine.CreateAPIKey(ctx, profileID, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "profile_id": key.ActorID, "name": key.Name, "key": plain})
				}
				fmt.Printf("API key for %s (id %s):\n%s\nStore it now, it cannot be shown again.\n", key.ActorID, key.ID, plain)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&profileID, "profile", "", "profile id the key acts as")
	cmd.Flags().StringVar(&name, "name", "", "label")
	_ = cmd.MarkFlagRequired("profile")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var profileID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				keys, err := a.Engine.ListAPIKeys(ctx, profileID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable("ID", "Profile", "Name", "Created")
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&profileID, "profile", "", "profile filter")
	return cmd
}

func apiKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.RevokeAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	}
}

// --- reports ---

func reportCmd() *cobra.Command {
	r := &cobra.Command{
		Use:   "report",
		Short: "Create and inspect letters",
	}
	r.AddCommand(reportCreateCmd())
	r.AddCommand(reportListCmd())
	r.AddCommand(reportShowCmd())
	r.AddCommand(reportHistoryCmd())
	r.AddCommand(reportUploadCmd())
	return r
}

func reportCreateCmd() *cobra.Command {
	var in engine.ReportInput
	var attachments []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new letter",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, raw := range attachments {
				a, err := parseAttachment(raw)
				if err != nil {
					return err
				}
				in.Attachments = append(in.Attachments, a)
			}
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, caller identity.Identity) error {
				rp, err := a.Engine.CreateReport(ctx, caller, in)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rp)
				}
				printReports([]domain.Report{rp})
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.LetterNumber, "letter-number", "", "letter number")
	cmd.Flags().StringVar(&in.Subject, "subject", "", "subject")
	cmd.Flags().StringVar(&in.Service, "service", "", "service / unit")
	cmd.Flags().StringVar(&in.Sender, "sender", "", "sender")
	cmd.Flags().StringVar(&in.LetterDate, "letter-date", "", "letter date")
	cmd.Flags().StringVar(&in.AgendaDate, "agenda-date", "", "agenda date")
	cmd.Flags().StringVar(&in.Status, "status", "draft", "initial status (draft or in_progress)")
	cmd.Flags().StringVar(&in.Priority, "priority", "medium", "low, medium, high (rendah, sedang, tinggi)")
	cmd.Flags().StringArrayVar(&attachments, "attachment", nil, "name=url[,type] (repeatable)")
	return cmd
}

// parseAttachment reads name=url[,type].
func parseAttachment(raw string) (engine.AttachmentInput, error) {
	name, rest, ok := strings.Cut(raw, "=")
	if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(rest) == "" {
		return engine.AttachmentInput{}, fmt.Errorf("invalid --attachment %q, want name=url[,type]", raw)
	}
	url, fileType, _ := strings.Cut(rest, ",")
	return engine.AttachmentInput{
		FileName: strings.TrimSpace(name),
		FileURL:  strings.TrimSpace(url),
		FileType: strings.TrimSpace(fileType),
	}, nil
}

func reportListCmd() *cobra.Command {
	var q engine.ReportQuery
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reports, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListReports(ctx, q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				printReports(items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&q.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&q.CreatedBy, "created-by", "", "creator filter")
	cmd.Flags().StringVar(&q.Holder, "holder", "", "current holder filter")
	cmd.Flags().IntVar(&q.Limit, "limit", 50, "max rows")
	return cmd
}

func reportShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <report-id>",
		Short: "Show a report with its attachments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rp, err := a.Engine.GetReport(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rp)
			})
		},
	}
}

func reportHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <report-id>",
		Short: "Show the workflow history, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				entries, err := a.Engine.History(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := newTable("#", "Time", "Action", "By", "Status", "Notes")
				for _, h := range entries {
					by := h.UserID
					if h.User != nil && h.User.Name != "" {
						by = fmt.Sprintf("%s (%s)", h.User.Name, h.User.Role)
					}
					tw.AppendRow(table.Row{h.Seq, h.Timestamp, h.Action, by, h.Status, h.Notes})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func reportUploadCmd() *cobra.Command {
	var filePath, fileType, contentType string
	cmd := &cobra.Command{
		Use:   "upload <report-id>",
		Short: "Store a file in the blob store and attach it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(filePath)
			if err != nil {
				return err
			}
			defer f.Close()
			body, err := blob.ReadAll(f, maxUploadBytes)
			if err != nil {
				return err
			}
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, caller identity.Identity) error {
				att, err := a.Engine.Upload(ctx, caller, engine.UploadInput{
					ReportID:    args[0],
					FileName:    filepath.Base(filePath),
					FileType:    fileType,
					ContentType: contentType,
					Body:        body,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(att)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "file to upload")
	cmd.Flags().StringVar(&fileType, "type", "original", "original, response or revision")
	cmd.Flags().StringVar(&contentType, "content-type", "application/octet-stream", "content type")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// --- transitions / workflow ---

func transitionCmd() *cobra.Command {
	t := &cobra.Command{
		Use:   "transition",
		Short: "Move reports through the workflow",
		Long:  "Named transitions: send_to_coordinator, assign_to_staff, complete_to_tu, request_revision, return_to_coordinator.",
	}
	t.AddCommand(transitionApplyCmd())
	t.AddCommand(transitionListCmd())
	return t
}

func transitionApplyCmd() *cobra.Command {
	var req engine.TransitionRequest
	cmd := &cobra.Command{
		Use:   "apply <report-id> <transition>",
		Short: "Apply a named transition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.ReportID = args[0]
			req.Key = workflow.Key(args[1])
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, caller identity.Identity) error {
				res, err := a.Engine.ApplyTransition(ctx, caller, req)
				if err != nil {
					return err
				}
				return printTransition(res)
			})
		},
	}
	cmd.Flags().StringVar(&req.Notes, "notes", "", "notes for the history entry")
	cmd.Flags().StringVar(&req.TargetHolder, "target", "", "profile that receives the report (assign_to_staff, request_revision)")
	cmd.Flags().Int64Var(&req.ExpectedVersion, "expected-version", 0, "fail unless the report is at this version")
	return cmd
}

func transitionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <report-id>",
		Short: "List transitions you may apply now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, caller identity.Identity) error {
				keys, err := a.Engine.AvailableTransitions(ctx, caller, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				if len(keys) == 0 {
					fmt.Println("no transitions available")
				}
				for _, k := range keys {
					fmt.Println(k)
				}
				return nil
			})
		},
	}
}

func workflowCmd() *cobra.Command {
	w := &cobra.Command{Use: "workflow", Short: "Free-form workflow events"}
	w.AddCommand(workflowPostCmd())
	return w
}

func workflowPostCmd() *cobra.Command {
	var ev engine.WorkflowEvent
	cmd := &cobra.Command{
		Use:   "post <report-id>",
		Short: "Record an event; with --intended-status it applies the matching transition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ev.ReportID = args[0]
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, caller identity.Identity) error {
				res, err := a.Engine.PostWorkflowEvent(ctx, caller, ev)
				if err != nil {
					return err
				}
				return printTransition(res)
			})
		},
	}
	cmd.Flags().StringVar(&ev.Action, "action", "", "action label for the history")
	cmd.Flags().StringVar(&ev.IntendedStatus, "intended-status", "", "target status")
	cmd.Flags().StringVar(&ev.Notes, "notes", "", "notes")
	cmd.Flags().StringVar(&ev.NextHolderID, "next-holder", "", "profile that receives the report")
	cmd.Flags().Int64Var(&ev.ExpectedVersion, "expected-version", 0, "fail unless the report is at this version")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

// --- task assignments ---

func assignmentCmd() *cobra.Command {
	as := &cobra.Command{
		Use:     "assignment",
		Aliases: []string{"assign"},
		Short:   "Manage staff task assignments",
	}
	as.AddCommand(assignmentCreateCmd())
	as.AddCommand(assignmentListCmd())
	as.AddCommand(assignmentShowCmd())
	as.AddCommand(assignmentUpdateCmd())
	as.AddCommand(assignmentDeleteCmd())
	return as
}

func assignmentCreateCmd() *cobra.Command {
	var in engine.AssignmentInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Give a staff member a checklist on a report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, caller identity.Identity) error {
				v, err := a.Engine.CreateAssignment(ctx, caller, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().StringVar(&in.ReportID, "report", "", "report id")
	cmd.Flags().StringVar(&in.StaffID, "staff", "", "staff profile id")
	cmd.Flags().StringArrayVar(&in.TodoList, "task", nil, "checklist item (repeatable)")
	cmd.Flags().StringVar(&in.Notes, "notes", "", "notes")
	_ = cmd.MarkFlagRequired("report")
	_ = cmd.MarkFlagRequired("staff")
	return cmd
}

func assignmentListCmd() *cobra.Command {
	var q engine.AssignmentQuery
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List assignments visible to you",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, caller identity.Identity) error {
				items, err := a.Engine.ListAssignments(ctx, caller, q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Report", "Staff", "Coordinator", "Done", "Progress", "Status")
				for _, v := range items {
					tw.AppendRow(table.Row{
						v.ID,
						firstNonEmpty(v.Report.LetterNumber, v.ReportID),
						firstNonEmpty(v.Staff.Name, v.StaffID),
						firstNonEmpty(v.Coordinator.Name, v.CoordinatorID),
						fmt.Sprintf("%d/%d", len(v.CompletedTasks), len(v.TodoList)),
						fmt.Sprintf("%d%%", v.Progress),
						v.Status,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&q.ReportID, "report", "", "report filter")
	cmd.Flags().StringVar(&q.StaffID, "staff", "", "staff filter")
	return cmd
}

func assignmentShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <assignment-id>",
		Short: "Show an assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, caller identity.Identity) error {
				v, err := a.Engine.GetAssignment(ctx, caller, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
}

func assignmentUpdateCmd() *cobra.Command {
	var done []string
	var progress int
	var status, revisionNotes string
	cmd := &cobra.Command{
		Use:   "update <assignment-id>",
		Short: "Tick off tasks or change an assignment's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p engine.AssignmentPatch
			if cmd.Flags().Changed("done") {
				p.CompletedTasks = &done
			}
			if cmd.Flags().Changed("progress") {
				p.Progress = &progress
			}
			p.Status = optionalString(status)
			if cmd.Flags().Changed("revision-notes") {
				p.RevisionNotes = &revisionNotes
			}
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, caller identity.Identity) error {
				v, err := a.Engine.UpdateAssignment(ctx, caller, args[0], p)
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().StringArrayVar(&done, "done", nil, "completed checklist item (repeatable; replaces the completed set)")
	cmd.Flags().IntVar(&progress, "progress", 0, "explicit progress 0-100")
	cmd.Flags().StringVar(&status, "status", "", "pending, in_progress, completed or revision_required")
	cmd.Flags().StringVar(&revisionNotes, "revision-notes", "", "revision notes")
	return cmd
}

func assignmentDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <assignment-id>",
		Short: "Remove an assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, caller identity.Identity) error {
				if err := a.Engine.DeleteAssignment(ctx, caller, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

// --- helpers ---

// loadConfig reads lettertrack.yml and applies LETTERTRACK_* env and flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if viper.IsSet("server.addr") {
		cfg.Server.Addr = viper.GetString("server.addr")
	}
	if viper.IsSet("server.base_path") {
		cfg.Server.BasePath = viper.GetString("server.base_path")
	}
	if viper.IsSet("server.jwt_secret") {
		cfg.Server.JWTSecret = viper.GetString("server.jwt_secret")
	}
	if viper.IsSet("server.allow_legacy_actor_header") {
		cfg.Server.AllowLegacyActorHeader = viper.GetBool("server.allow_legacy_actor_header")
	}
	if viper.IsSet("blob.driver") {
		cfg.Blob.Driver = viper.GetString("blob.driver")
	}
	if viper.IsSet("blob.bucket") {
		cfg.Blob.Bucket = viper.GetString("blob.bucket")
	}
	if viper.IsSet("blob.region") {
		cfg.Blob.Region = viper.GetString("blob.region")
	}
	if viper.IsSet("blob.endpoint") {
		cfg.Blob.Endpoint = viper.GetString("blob.endpoint")
	}
	if viper.IsSet("log.level") && viper.GetString("log.level") != "" {
		cfg.Log.Level = viper.GetString("log.level")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()
	a, err := app.Open(ctx, viper.GetString("workspace"), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// withCaller resolves --as (or LETTERTRACK_AS) to a profile before running fn.
func withCaller(ctx context.Context, fn func(context.Context, *app.App, identity.Identity) error) error {
	actor := strings.TrimSpace(viper.GetString("as"))
	if actor == "" {
		return fmt.Errorf("--as <profile-id> is required")
	}
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		caller, err := a.Caller(ctx, actor)
		if err != nil {
			return err
		}
		return fn(ctx, a, caller)
	})
}

func newTable(headers ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(headers))
	return tw
}

func printReports(items []domain.Report) {
	tw := newTable("ID", "Tracking", "Letter", "Subject", "Status", "Priority", "Holder", "Progress", "Version")
	for _, rp := range items {
		holder := "-"
		if rp.CurrentHolder != nil {
			holder = *rp.CurrentHolder
		}
		tw.AppendRow(table.Row{rp.ID, rp.TrackingNumber, rp.LetterNumber, rp.Subject, rp.Status, rp.Priority, holder, fmt.Sprintf("%d%%", rp.Progress), rp.Version})
	}
	tw.Render()
}

func printTransition(res engine.TransitionResult) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	holder := "-"
	if res.Report.CurrentHolder != nil {
		holder = *res.Report.CurrentHolder
	}
	fmt.Printf("%s: %s now %s (holder %s, version %d)\n", res.Message, res.Report.ID, res.NewStatus, holder, res.Report.Version)
	return nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
