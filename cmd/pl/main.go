package main

import (
	"context"
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
	"gopkg.in/yaml.v3"

	"planline/internal/app"
	"planline/internal/config"
	"planline/internal/db"
	"planline/internal/domain"
	"planline/internal/engine"
	"planline/internal/migrate"
	"planline/internal/repo"
	"planline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pl",
	Short: "Planline CLI",
	Long: `Planline plans and runs operations as dependency graphs with risk-aware schedules.
Core concepts (kid-friendly):
- Why it matters: plans are promises with dice attached; simulation rolls the dice before you do, so surprises happen on paper instead of on-site.
- Workspace: your .planline toy box with only the database; configs are stored in the DB and seeded from planline.yml.
- Operation: the one big job inside that box that owns resources, activities, stages, plans, and evidence.
- Activities: steps with a duration, exactly one resource, ordered dependencies, and two 0-100 risk dials (impounding, extended duration).
- Resources: the gear an activity holds while it runs; impounded gear blocks any start.
- Stages: chapters of the operation that move pending -> active -> completed/aborted.
- Plans: schedules built by a strategy (earliest, buffered, leveling); risk policies adjust the dials first.
- Simulation: Monte Carlo trials over a plan to estimate compromise odds and P50/P90 finish times.
- Confirmations: proof stickers like cargo.sealed or route.cleared that gate completion.
- Leases: temporary "I'm on it" tags (pl activity claim/release).
- Event log: diary of changes, view with 'pl log tail'.`,
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
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PLANLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().Bool("force", false, "force operation")
	rootCmd.PersistentFlags().String("operation", "", "operation id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
	_ = viper.BindPFlag("operation", rootCmd.PersistentFlags().Lookup("operation"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(operationCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(resourceCmd())
	rootCmd.AddCommand(activityCmd())
	rootCmd.AddCommand(stageCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(simulateCmd())
	rootCmd.AddCommand(decisionCmd())
	rootCmd.AddCommand(confirmCmd())
	rootCmd.AddCommand(crewCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(rbacCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "init [operation-id]",
		Short: "Initialize a workspace and its first operation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			operationID := "planline"
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				operationID = strings.TrimSpace(args[0])
			}
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault(operationID)), 0o644); err != nil {
					return err
				}
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			if _, err := r.GetOperation(cmd.Context(), operationID); err == nil {
				return fmt.Errorf("operation %s already exists", operationID)
			} else if !errors.Is(err, repo.ErrNotFound) {
				return err
			}
			cfg := config.Default(operationID)
			cfg.Operation.Description = description
			e := engine.New(conn, cfg)
			op, err := e.InitOperation(cmd.Context(), operationID, description, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(op)
			}
			fmt.Printf("Initialized operation %s\n", op.ID)
			fmt.Printf("Config: %s\n", cfgPath)
			fmt.Printf("Database: %s\n", db.Path(workspace))
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "operation description")
	return cmd
}

func operationCmd() *cobra.Command {
	op := &cobra.Command{Use: "operation", Short: "Manage operations"}
	op.AddCommand(operationListCmd())
	op.AddCommand(operationCreateCmd())
	op.AddCommand(operationShowCmd())
	op.AddCommand(operationUpdateCmd())
	op.AddCommand(operationDeleteCmd())
	op.AddCommand(operationConfigCmd())
	op.AddCommand(operationUseCmd())
	return op
}

func operationListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListOperations(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func operationCreateCmd() *cobra.Command {
	var id, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create operation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg := config.Default(id)
			e := engine.New(conn, cfg)
			op, err := e.InitOperation(cmd.Context(), id, desc, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(op)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "operation id")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func operationShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show an operation",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := viper.GetString("operation")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if target == "" {
					target = e.Config.Operation.ID
				}
				op, err := e.Repo.GetOperation(ctx, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(op)
			})
		},
	}
	return cmd
}

func operationUpdateCmd() *cobra.Command {
	var status string
	var description string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update an operation",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := viper.GetString("operation")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if target == "" {
					target = e.Config.Operation.ID
				}
				var descPtr *string
				if cmd.Flags().Changed("description") {
					descPtr = &description
				}
				if err := e.Repo.UpdateOperation(ctx, target, status, descPtr); err != nil {
					return err
				}
				op, err := e.Repo.GetOperation(ctx, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(op)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status (active, paused, closed)")
	cmd.Flags().StringVar(&description, "description", "", "description")
	return cmd
}

func operationDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete an operation",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := viper.GetString("operation")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if target == "" {
					target = e.Config.Operation.ID
				}
				return e.Repo.DeleteOperation(ctx, target)
			})
		},
	}
	return cmd
}

func operationUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Set current operation for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			operationID := strings.TrimSpace(args[0])
			if operationID == "" {
				return fmt.Errorf("operation id is required")
			}
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			var data []byte
			if cfg == nil {
				data = []byte(config.GenerateDefault(operationID))
			} else {
				cfg.Operation.ID = operationID
				if data, err = yaml.Marshal(cfg); err != nil {
					return err
				}
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("Set operation %s in %s\n", operationID, path)
			return nil
		},
	}
	return cmd
}

func operationConfigCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage operation config",
	}
	cfg.AddCommand(operationConfigShowCmd())
	cfg.AddCommand(operationConfigImportCmd())
	return cfg
}

func operationConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show operation config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func operationConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import operation config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			operationID := cfg.Operation.ID
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if operationID == "" {
					operationID = e.Config.Operation.ID
				}
				if err := e.Repo.UpsertOperationConfig(ctx, operationID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect operation config",
		Long:  "Config is the rulebook (stored in DB): operation id, planning defaults, confirmation catalog, simulation knobs, and RBAC roles. Import from planline.yml if desired.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
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
	return cmd
}

func statusCmd() *cobra.Command {
	var operationID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show operation status",
		Long:  "See the scoreboard for your operation: active stage, activity counts, and the latest plan and simulation.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				operationID = strings.TrimSpace(operationID)
				if operationID == "" {
					operationID = e.Config.Operation.ID
				}
				op, err := e.Repo.GetOperation(ctx, operationID)
				if err != nil {
					return err
				}
				counts, err := e.Repo.CountActivitiesByStatus(ctx, operationID)
				if err != nil {
					return err
				}
				stage, err := e.Repo.ActiveStage(ctx, operationID)
				if err != nil {
					return err
				}
				out := map[string]any{
					"operation_id":    op.ID,
					"status":          op.Status,
					"stage":           stage,
					"activity_counts": counts,
				}
				latestPlan, err := e.Repo.LatestPlan(ctx, operationID)
				if err == nil {
					out["latest_plan"] = latestPlan
				} else if !errors.Is(err, repo.ErrNotFound) {
					return err
				}
				latestSim, err := e.Repo.LatestSimulation(ctx, operationID)
				if err == nil {
					out["latest_simulation"] = latestSim
				} else if !errors.Is(err, repo.ErrNotFound) {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Operation: %s (%s)\n", op.ID, colorStatus(op.Status))
				if stage != nil {
					fmt.Printf("Active stage: %s - %s\n", stage.ID, stage.Objective)
				} else {
					fmt.Println("Active stage: none")
				}
				fmt.Println("Activities:")
				for status, c := range counts {
					fmt.Printf("  %s: %d\n", colorStatus(status), c)
				}
				if _, ok := out["latest_plan"]; ok {
					fmt.Printf("Latest plan: %s (%s/%s, makespan %s)\n",
						latestPlan.ID, latestPlan.Strategy, latestPlan.RiskPolicy, durationString(latestPlan.MakespanS))
				}
				if _, ok := out["latest_simulation"]; ok {
					fmt.Printf("Latest simulation: %s compromise %s p90 %s\n",
						latestSim.ID, colorPct(latestSim.CompromisePct), durationString(latestSim.P90Seconds))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&operationID, "operation", "", "operation id")
	return cmd
}

func resourceCmd() *cobra.Command {
	res := &cobra.Command{
		Use:   "resource",
		Short: "Manage resources",
		Long:  "Resources are the gear activities hold while running (vehicles, tools, crews). An impounded resource blocks every activity that needs it until released.",
	}
	res.AddCommand(resourceCreateCmd())
	res.AddCommand(resourceListCmd())
	res.AddCommand(resourceImpoundCmd())
	res.AddCommand(resourceReleaseCmd())
	return res
}

func resourceCreateCmd() *cobra.Command {
	var opts engine.ResourceCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a resource",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.OperationID == "" {
					opts.OperationID = e.Config.Operation.ID
				}
				res, err := e.CreateResource(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "resource id (optional, deterministic UUID if omitted)")
	cmd.Flags().StringVar(&opts.OperationID, "operation", "", "operation id")
	cmd.Flags().StringVar(&opts.Name, "name", "", "name (unique per operation)")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "kind (vehicle, tool, crew, ...)")
	cmd.Flags().StringVar(&opts.OutfitID, "outfit", "", "owning outfit id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func resourceListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List resources",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListResources(ctx, e.Config.Operation.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Kind", "State"})
				for _, res := range items {
					state := "available"
					if res.Impounded {
						state = color.RedString("impounded")
					}
					tw.AppendRow(table.Row{res.ID, res.Name, res.Kind, state})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func resourceImpoundCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "impound <id>",
		Short: "Mark a resource impounded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ImpoundResource(ctx, id, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	return cmd
}

func resourceReleaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release <id>",
		Short: "Release an impounded resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ReleaseResource(ctx, id, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	return cmd
}

func activityCmd() *cobra.Command {
	act := &cobra.Command{
		Use:   "activity",
		Short: "Manage activities",
		Long:  "Activities are the steps of the operation. They flow planned -> underway -> completed (impounded/aborted are detours), hold one resource each, and may need confirmations before completion. Leases prevent two actors working the same step.",
	}
	act.AddCommand(activityCreateCmd())
	act.AddCommand(activityListCmd())
	act.AddCommand(activityGetCmd())
	act.AddCommand(activityUpdateCmd())
	act.AddCommand(activityStartCmd())
	act.AddCommand(activityCompleteCmd())
	act.AddCommand(activityImpoundCmd())
	act.AddCommand(activityAbortCmd())
	act.AddCommand(activityClaimCmd())
	act.AddCommand(activityReleaseCmd())
	act.AddCommand(activityNextCmd())
	act.AddCommand(activityOrderCmd())
	act.AddCommand(activityCheckCmd())
	return act
}

func activityCreateCmd() *cobra.Command {
	var opts engine.ActivityCreateOptions
	var requires []string
	var dependsOn []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			opts.RequiredConfirmations = requires
			opts.DependsOn = dependsOn
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.OperationID == "" {
					opts.OperationID = e.Config.Operation.ID
				}
				a, err := e.CreateActivity(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "activity id (optional, deterministic UUID if omitted)")
	cmd.Flags().StringVar(&opts.OperationID, "operation", "", "operation id")
	cmd.Flags().StringVar(&opts.StageID, "stage", "", "stage id")
	cmd.Flags().StringVar(&opts.Name, "name", "", "name (unique per operation)")
	cmd.Flags().Int64Var(&opts.DurationSeconds, "duration-seconds", 0, "planned duration in seconds")
	cmd.Flags().StringVar(&opts.Resource, "resource", "", "resource name or id")
	cmd.Flags().IntVar(&opts.RiskOfImpounding, "risk-impounding", 0, "risk of impounding (0-100)")
	cmd.Flags().IntVar(&opts.RiskOfExtendedDuration, "risk-extended", 0, "risk of extended duration (0-100)")
	cmd.Flags().BoolVar(&opts.Revealing, "revealing", false, "activity reveals the operation")
	cmd.Flags().StringArrayVar(&dependsOn, "depends-on", []string{}, "dependency activity name or id (repeatable)")
	cmd.Flags().StringArrayVar(&requires, "require", []string{}, "required confirmation kind (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("resource")
	return cmd
}

func activityListCmd() *cobra.Command {
	var f repo.ActivityFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List activities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.OperationID == "" {
					f.OperationID = e.Config.Operation.ID
				}
				items, err := e.Repo.ListActivities(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Duration", "Resource", "Stage"})
				for _, a := range items {
					stage := ""
					if a.StageID != nil {
						stage = *a.StageID
					}
					tw.AppendRow(table.Row{a.ID, a.Name, colorStatus(a.Status), durationString(a.DurationSeconds), a.ResourceID, stage})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.OperationID, "operation", "", "operation id")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Stage, "stage", "", "stage filter")
	cmd.Flags().StringVar(&f.ResourceID, "resource", "", "resource id filter")
	return cmd
}

func activityGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Repo.GetActivity(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func activityUpdateCmd() *cobra.Command {
	var opts engine.ActivityUpdateOptions
	var addDeps, removeDeps, requires []string
	var setStage string
	var durationSeconds int64
	var riskImpounding, riskExtended int
	var revealing bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ID = args[0]
			opts.ActorID = viper.GetString("actor-id")
			opts.AddDeps = addDeps
			opts.RemoveDeps = removeDeps
			if cmd.Flags().Changed("set-stage") {
				opts.SetStage = &setStage
			}
			if cmd.Flags().Changed("duration-seconds") {
				opts.DurationSeconds = &durationSeconds
			}
			if cmd.Flags().Changed("risk-impounding") {
				opts.RiskOfImpounding = &riskImpounding
			}
			if cmd.Flags().Changed("risk-extended") {
				opts.RiskOfExtendedDuration = &riskExtended
			}
			if cmd.Flags().Changed("revealing") {
				opts.Revealing = &revealing
			}
			if cmd.Flags().Changed("require") {
				opts.RequiredConfirmations = requires
				opts.SetConfirmations = true
			}
			opts.Force = viper.GetBool("force")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.UpdateActivity(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Status, "status", "", "new status")
	cmd.Flags().StringVar(&setStage, "set-stage", "", "set stage id (empty for none)")
	cmd.Flags().Int64Var(&durationSeconds, "duration-seconds", 0, "planned duration in seconds")
	cmd.Flags().IntVar(&riskImpounding, "risk-impounding", 0, "risk of impounding (0-100)")
	cmd.Flags().IntVar(&riskExtended, "risk-extended", 0, "risk of extended duration (0-100)")
	cmd.Flags().BoolVar(&revealing, "revealing", false, "activity reveals the operation")
	cmd.Flags().StringArrayVar(&addDeps, "add-depends-on", []string{}, "add dependency")
	cmd.Flags().StringArrayVar(&removeDeps, "remove-depends-on", []string{}, "remove dependency")
	cmd.Flags().StringArrayVar(&requires, "require", []string{}, "required confirmation kind (replaces the set)")
	return cmd
}

func activityStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <id>",
		Short: "Start activity (requires a lease)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.StartActivity(ctx, id, viper.GetString("actor-id"), viper.GetBool("force"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func activityCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete activity (confirmations must be satisfied)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.CompleteActivity(ctx, id, viper.GetString("actor-id"), viper.GetBool("force"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func activityImpoundCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "impound <id>",
		Short: "Mark an underway activity impounded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.ImpoundActivity(ctx, id, viper.GetString("actor-id"), viper.GetBool("force"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func activityAbortCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "abort <id>",
		Short: "Abort activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.UpdateActivity(ctx, engine.ActivityUpdateOptions{
					ID:      id,
					Status:  "aborted",
					ActorID: viper.GetString("actor-id"),
					Force:   viper.GetBool("force"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func activityClaimCmd() *cobra.Command {
	var leaseSeconds int
	cmd := &cobra.Command{
		Use:   "claim <id>",
		Short: "Claim activity lease",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				lease, err := e.ClaimActivity(ctx, id, viper.GetString("actor-id"), leaseSeconds)
				if err != nil {
					return err
				}
				return printJSONOrTable(lease)
			})
		},
	}
	cmd.Flags().IntVar(&leaseSeconds, "lease-seconds", 0, "lease duration seconds (0 uses config TTL)")
	return cmd
}

func activityReleaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release <id>",
		Short: "Release lease",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.ReleaseActivity(ctx, id, viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func activityNextCmd() *cobra.Command {
	var stageID string
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Show the next startable activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.NextActivity(ctx, e.Config.Operation.ID, stageID)
				if errors.Is(err, repo.ErrNotFound) {
					if viper.GetBool("json") {
						return printJSON(nil)
					}
					fmt.Println("no startable activity")
					return nil
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&stageID, "stage", "", "restrict to stage")
	return cmd
}

func activityOrderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Show activities in execution order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Order(ctx, e.Config.Operation.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Name", "Status", "Duration", "Depends on"})
				for i, a := range items {
					tw.AppendRow(table.Row{i + 1, a.Name, colorStatus(a.Status), durationString(a.DurationSeconds), len(a.DependsOn)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func activityCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <id>",
		Short: "Report what blocks an activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Repo.GetActivity(ctx, id)
				if err != nil {
					return err
				}
				var blockers []string
				var leaseOwner string
				if a.Status == "planned" || a.Status == "underway" {
					for _, depID := range a.DependsOn {
						dep, err := e.Repo.GetActivity(ctx, depID)
						if err != nil {
							return err
						}
						if dep.Status != "completed" {
							blockers = append(blockers, fmt.Sprintf("dependency %s is %s", dep.Name, dep.Status))
						}
					}
					res, err := e.Repo.GetResource(ctx, a.ResourceID)
					if err != nil {
						return err
					}
					if res.Impounded {
						blockers = append(blockers, fmt.Sprintf("resource %s is impounded", res.Name))
					}
					lease, err := e.Repo.GetLease(ctx, a.ID)
					switch {
					case err == nil:
						leaseOwner = lease.OwnerID
						if exp, perr := time.Parse(time.RFC3339, lease.ExpiresAt); perr == nil && exp.Before(time.Now().UTC()) {
							blockers = append(blockers, fmt.Sprintf("lease by %s expired; reacquire", lease.OwnerID))
						}
					case errors.Is(err, repo.ErrNotFound):
						blockers = append(blockers, "no lease held; claim before starting")
					default:
						return err
					}
					confs, err := e.Repo.ListConfirmations(ctx, repo.ConfirmationFilters{ActivityID: a.ID})
					if err != nil {
						return err
					}
					confirmed := map[string]bool{}
					for _, c := range confs {
						confirmed[c.Kind] = true
					}
					for _, kind := range a.RequiredConfirmations {
						if !confirmed[kind] {
							blockers = append(blockers, fmt.Sprintf("confirmation %s missing", kind))
						}
					}
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"activity_id": a.ID,
						"name":        a.Name,
						"status":      a.Status,
						"lease_owner": leaseOwner,
						"blockers":    blockers,
						"ready":       len(blockers) == 0,
					})
				}
				fmt.Printf("Activity: %s (%s)\n", a.Name, colorStatus(a.Status))
				if leaseOwner != "" {
					fmt.Printf("Lease: held by %s\n", leaseOwner)
				}
				if len(blockers) == 0 {
					fmt.Println(color.GreenString("ready"))
					return nil
				}
				for _, b := range blockers {
					fmt.Printf("%s %s\n", color.RedString("blocked:"), b)
				}
				return nil
			})
		},
	}
	return cmd
}

func stageCmd() *cobra.Command {
	st := &cobra.Command{
		Use:   "stage",
		Short: "Manage stages",
		Long:  "Stages are chapters of the operation: pending -> active -> completed/aborted. Completing a stage requires its activities done (or --force).",
	}
	st.AddCommand(stageCreateCmd())
	st.AddCommand(stageListCmd())
	st.AddCommand(stageStatusCmd())
	return st
}

func stageCreateCmd() *cobra.Command {
	var st domain.Stage
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if st.OperationID == "" {
					st.OperationID = e.Config.Operation.ID
				}
				st.Status = "pending"
				res, err := e.CreateStage(ctx, st, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&st.ID, "id", "", "stage id")
	cmd.Flags().StringVar(&st.OperationID, "operation", "", "operation id")
	cmd.Flags().StringVar(&st.Objective, "objective", "", "objective")
	_ = cmd.MarkFlagRequired("objective")
	return cmd
}

func stageListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListStages(ctx, e.Config.Operation.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Objective", "Status"})
				for _, st := range items {
					tw.AppendRow(table.Row{st.ID, st.Objective, colorStatus(st.Status)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func stageStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "set-status <id>",
		Short: "Update stage status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.SetStageStatus(ctx, id, status, viper.GetString("actor-id"), viper.GetBool("force"))
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func planCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "plan",
		Short: "Manage plans",
		Long:  "Plans are schedules built from the activity graph by a strategy; the risk policy adjusts each activity's dials before offsets are computed. Plans are snapshots: rebuilding after edits gives a new one.",
	}
	p.AddCommand(planBuildCmd())
	p.AddCommand(planListCmd())
	p.AddCommand(planShowCmd())
	p.AddCommand(planDeleteCmd())
	return p
}

func planBuildCmd() *cobra.Command {
	var opts engine.PlanBuildOptions
	var overrides []string
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a plan from the current activity graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			if len(overrides) > 0 {
				opts.StrategyOverrides = make(map[string]string, len(overrides))
				for _, ov := range overrides {
					name, strat, ok := strings.Cut(ov, "=")
					if !ok || name == "" || strat == "" {
						return fmt.Errorf("bad --override %q, want activity=strategy", ov)
					}
					opts.StrategyOverrides[name] = strat
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.OperationID == "" {
					opts.OperationID = e.Config.Operation.ID
				}
				p, acts, err := e.BuildPlan(ctx, opts)
				if err != nil {
					return err
				}
				return renderPlan(p, acts)
			})
		},
	}
	cmd.Flags().StringVar(&opts.OperationID, "operation", "", "operation id")
	cmd.Flags().StringVar(&opts.Strategy, "strategy", "", "strategy (earliest, buffered, leveling; default from config)")
	cmd.Flags().StringVar(&opts.RiskPolicy, "risk-policy", "", "risk policy (passthrough, reveal-amplifier; default from config)")
	cmd.Flags().StringVar(&opts.AnchorAt, "anchor", "", "anchor time RFC3339 (default now)")
	cmd.Flags().StringArrayVar(&overrides, "override", nil, "per-activity strategy, repeatable: activity=strategy")
	return cmd
}

func planListCmd() *cobra.Command {
	var f repo.PlanFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.OperationID == "" {
					f.OperationID = e.Config.Operation.ID
				}
				items, err := e.Repo.ListPlans(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Strategy", "Risk policy", "Makespan", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Strategy, p.RiskPolicy, durationString(p.MakespanS), p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.OperationID, "operation", "", "operation id")
	cmd.Flags().StringVar(&f.Strategy, "strategy", "", "strategy filter")
	return cmd
}

func planShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a plan's schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetPlan(ctx, id)
				if err != nil {
					return err
				}
				acts, err := e.Repo.ListPlanActivities(ctx, id)
				if err != nil {
					return err
				}
				return renderPlan(p, acts)
			})
		},
	}
	return cmd
}

func planDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeletePlan(ctx, id)
			})
		},
	}
	return cmd
}

func simulateCmd() *cobra.Command {
	sim := &cobra.Command{
		Use:   "simulate",
		Short: "Run and inspect simulations",
		Long:  "Simulation replays a plan many times, rolling each activity's effective risks: an impounding hit marks the trial compromised, an extended-duration hit stretches the step. Results report compromise odds and P50/P90 makespans.",
	}
	sim.AddCommand(simulateRunCmd())
	sim.AddCommand(simulateListCmd())
	sim.AddCommand(simulateShowCmd())
	return sim
}

func simulateRunCmd() *cobra.Command {
	var opts engine.SimulationOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a Monte Carlo simulation over a plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.OperationID == "" {
					opts.OperationID = e.Config.Operation.ID
				}
				run, err := e.RunSimulation(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(run)
				}
				fmt.Printf("Simulation %s over plan %s\n", run.ID, run.PlanID)
				fmt.Printf("  trials: %d (seed %d)\n", run.Runs, run.Seed)
				fmt.Printf("  compromised: %d/%d (%s)\n", run.Compromised, run.Runs, colorPct(run.CompromisePct))
				fmt.Printf("  p50: %s  p90: %s\n", durationString(run.P50Seconds), durationString(run.P90Seconds))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.OperationID, "operation", "", "operation id")
	cmd.Flags().StringVar(&opts.PlanID, "plan", "", "plan id (default latest)")
	cmd.Flags().IntVar(&opts.Runs, "runs", 0, "number of trials (0 uses config)")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "rng seed (0 picks one)")
	return cmd
}

func simulateListCmd() *cobra.Command {
	var planID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List simulations for a plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				operationID := e.Config.Operation.ID
				if planID == "" {
					p, err := e.Repo.LatestPlan(ctx, operationID)
					if err != nil {
						return err
					}
					planID = p.ID
				}
				items, err := e.Repo.ListSimulationsByPlan(ctx, operationID, planID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Trials", "Compromise", "P50", "P90", "Created"})
				for _, run := range items {
					tw.AppendRow(table.Row{run.ID, run.Runs, colorPct(run.CompromisePct), durationString(run.P50Seconds), durationString(run.P90Seconds), run.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&planID, "plan", "", "plan id (default latest)")
	return cmd
}

func simulateShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a simulation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				run, err := e.Repo.GetSimulation(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(run)
			})
		},
	}
	return cmd
}

func decisionCmd() *cobra.Command {
	dec := &cobra.Command{
		Use:   "decision",
		Short: "Manage decisions",
		Long:  "Decisions capture the important choices, who decided, and why, optionally tied to the plan they shaped.",
	}
	dec.AddCommand(decisionCreateCmd())
	dec.AddCommand(decisionListCmd())
	return dec
}

func decisionCreateCmd() *cobra.Command {
	var d domain.Decision
	var planID string
	var rationale []string
	var alternatives []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			d.RationaleJSON = toJSONArray(rationale)
			d.AlternativesJSON = toJSONArray(alternatives)
			d.PlanID = optionalString(planID)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if d.OperationID == "" {
					d.OperationID = e.Config.Operation.ID
				}
				res, err := e.RecordDecision(ctx, d, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&d.ID, "id", "", "decision id")
	cmd.Flags().StringVar(&d.OperationID, "operation", "", "operation id")
	cmd.Flags().StringVar(&planID, "plan", "", "plan id")
	cmd.Flags().StringVar(&d.Title, "title", "", "title")
	cmd.Flags().StringVar(&d.Choice, "choice", "", "chosen option")
	cmd.Flags().StringArrayVar(&rationale, "rationale", []string{}, "rationale entries")
	cmd.Flags().StringArrayVar(&alternatives, "alternatives", []string{}, "alternative entries")
	cmd.Flags().StringVar(&d.DeciderID, "decider-id", "", "decider id (default actor)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("choice")
	return cmd
}

func decisionListCmd() *cobra.Command {
	var f repo.DecisionFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.OperationID == "" {
					f.OperationID = e.Config.Operation.ID
				}
				items, err := e.Repo.ListDecisions(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&f.OperationID, "operation", "", "operation id")
	cmd.Flags().StringVar(&f.PlanID, "plan", "", "plan id filter")
	return cmd
}

func confirmCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "confirm",
		Short: "Manage confirmations",
		Long:  "Confirmations are proof stickers (cargo.sealed, route.cleared, handoff.confirmed, ...) attached to activities. Completion checks them; authority rules decide who may issue each kind.",
	}
	c.AddCommand(confirmAddCmd())
	c.AddCommand(confirmListCmd())
	return c
}

func confirmAddCmd() *cobra.Command {
	var c domain.Confirmation
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add confirmation",
		RunE: func(cmd *cobra.Command, args []string) error {
			c.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if c.OperationID == "" {
					c.OperationID = e.Config.Operation.ID
				}
				res, err := e.AddConfirmation(ctx, c, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&c.OperationID, "operation", "", "operation id")
	cmd.Flags().StringVar(&c.ActivityID, "activity", "", "activity id")
	cmd.Flags().StringVar(&c.Kind, "kind", "", "confirmation kind")
	cmd.Flags().StringVar(&c.PayloadJSON, "payload-json", "", "payload JSON")
	_ = cmd.MarkFlagRequired("activity")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func confirmListCmd() *cobra.Command {
	var f repo.ConfirmationFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List confirmations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.OperationID == "" {
					f.OperationID = e.Config.Operation.ID
				}
				items, err := e.Repo.ListConfirmations(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&f.OperationID, "operation", "", "operation id")
	cmd.Flags().StringVar(&f.ActivityID, "activity", "", "activity id filter")
	cmd.Flags().StringVar(&f.Kind, "kind", "", "kind filter")
	cmd.Flags().StringVar(&f.ActorID, "actor", "", "actor filter")
	return cmd
}

func crewCmd() *cobra.Command {
	crew := &cobra.Command{
		Use:   "crew",
		Short: "Manage the operation roster",
		Long:  "Crew assignments put actors on the roster with a role and duties. Roles that exist in RBAC config carry their grants along.",
	}
	crew.AddCommand(crewAssignCmd())
	crew.AddCommand(crewListCmd())
	crew.AddCommand(crewProfileCmd())
	crew.AddCommand(crewRemoveCmd())
	return crew
}

func crewAssignCmd() *cobra.Command {
	var actor, role string
	var duties []string
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Assign an actor to the roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.AssignCrew(ctx, e.Config.Operation.ID, actor, role, duties, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "roster role")
	cmd.Flags().StringArrayVar(&duties, "duty", []string{}, "duty (repeatable)")
	return cmd
}

func crewListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List crew assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListCrewAssignments(ctx, e.Config.Operation.ID, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Actor", "Role", "Duties"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ActorID, a.Role, strings.Join(a.Duties, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor filter")
	return cmd
}

func crewProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile <actor>",
		Short: "Show an actor's roster profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				profile, err := e.CrewProfile(ctx, e.Config.Operation.ID, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(profile)
			})
		},
	}
	return cmd
}

func crewRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <actor>",
		Short: "Remove an actor from the roster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RemoveCrew(ctx, e.Config.Operation.ID, actor, viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyRevokeCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				return fmt.Errorf("--actor required")
			}
			raw := "plk_" + uuid.NewString()
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				now := time.Now().UTC().Format(time.RFC3339)
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.EnsureActor(ctx, tx, actor, now); err != nil {
					return err
				}
				key := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   actor,
					Name:      name,
					KeyHash:   repo.HashAPIKey(raw),
					CreatedAt: now,
				}
				if err := r.InsertAPIKey(ctx, tx, key); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": actor, "name": name, "key": raw})
				}
				fmt.Printf("API key %s created for %s\n", key.ID, actor)
				fmt.Printf("Key (shown once, store it now): %s\n", raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys (hashes are never shown)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					type listed struct {
						ID        string `json:"id"`
						ActorID   string `json:"actor_id"`
						Name      string `json:"name,omitempty"`
						CreatedAt string `json:"created_at"`
					}
					out := make([]listed, 0, len(items))
					for _, k := range items {
						out = append(out, listed{ID: k.ID, ActorID: k.ActorID, Name: k.Name, CreatedAt: k.CreatedAt})
					}
					return printJSON(out)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor filter")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, id)
			})
		},
	}
	return cmd
}

func rbacCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rbac",
		Short: "RBAC management",
	}
	cmd.AddCommand(rbacWhoamiCmd())
	cmd.AddCommand(rbacGrantCmd())
	cmd.AddCommand(rbacRevokeCmd())
	cmd.AddCommand(rbacAllowConfirmationCmd())
	cmd.AddCommand(rbacDenyConfirmationCmd())
	cmd.AddCommand(rbacBootstrapCmd())
	return cmd
}

func rbacWhoamiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show current actor roles and permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				who, err := e.WhoAmI(ctx, e.Config.Operation.ID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(who)
			})
		},
	}
	return cmd
}

func rbacGrantCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "grant-role",
		Short: "Grant role to actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.GrantRole(ctx, e.Config.Operation.ID, target, role, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	return cmd
}

func rbacRevokeCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "revoke-role",
		Short: "Revoke role from actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RevokeRoleGrant(ctx, e.Config.Operation.ID, target, role, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	return cmd
}

func rbacAllowConfirmationCmd() *cobra.Command {
	var role, kind string
	cmd := &cobra.Command{
		Use:   "allow-confirmation",
		Short: "Allow role to issue confirmation kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			if role == "" || kind == "" {
				return fmt.Errorf("--role and --kind required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.AllowConfirmationRole(ctx, e.Config.Operation.ID, kind, role, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role id")
	cmd.Flags().StringVar(&kind, "kind", "", "confirmation kind")
	return cmd
}

func rbacDenyConfirmationCmd() *cobra.Command {
	var role, kind string
	cmd := &cobra.Command{
		Use:   "deny-confirmation",
		Short: "Remove role confirmation authority",
		RunE: func(cmd *cobra.Command, args []string) error {
			if role == "" || kind == "" {
				return fmt.Errorf("--role and --kind required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DenyConfirmationRole(ctx, e.Config.Operation.ID, kind, role, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role id")
	cmd.Flags().StringVar(&kind, "kind", "", "confirmation kind")
	return cmd
}

func rbacBootstrapCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Bootstrap an actor role without RBAC checks (dev only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			operationID := strings.TrimSpace(viper.GetString("operation"))
			if operationID == "" {
				return fmt.Errorf("operation not specified; use --operation (or pl operation use <id>)")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetOperation(ctx, operationID); err != nil {
					return err
				}
				cfg, cfgErr := r.GetOperationConfig(ctx, operationID)
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if cfgErr == nil && cfg != nil {
					if roleDef, ok := cfg.RBAC.Roles[role]; ok {
						if err := r.InsertRole(ctx, tx, role, roleDef.Description); err != nil {
							return err
						}
						for _, perm := range roleDef.Permissions {
							if err := r.InsertPermission(ctx, tx, perm, ""); err != nil {
								return err
							}
							if err := r.AddRolePermission(ctx, tx, role, perm); err != nil {
								return err
							}
						}
					} else {
						if err := r.InsertRole(ctx, tx, role, ""); err != nil {
							return err
						}
					}
				} else {
					if err := r.InsertRole(ctx, tx, role, ""); err != nil {
						return err
					}
				}
				if err := r.EnsureActor(ctx, tx, target, time.Now().UTC().Format(time.RFC3339)); err != nil {
					return err
				}
				if err := r.AssignRole(ctx, tx, operationID, target, role); err != nil {
					return err
				}
				return tx.Commit()
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: activity changes, plans, simulations, leases, and more.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Operation.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveOperationAndConfig(cmd.Context(), workspace, viper.GetString("operation"), viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("addr") && cfg.Server.Addr != "" {
				addr = cfg.Server.Addr
			}
			if !cmd.Flags().Changed("base-path") && cfg.Server.BasePath != "" {
				basePath = cfg.Server.BasePath
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("PLANLINE_JWT_SECRET"),
				AllowLegacyActorHeader: cfg.Server.AllowLegacyActorHeader,
			}
			if authCfg.JWTSecret == "" {
				authCfg.JWTSecret = cfg.Server.JWTSecret
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("PLANLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Planline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8787", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveOperationAndConfig(ctx, workspace, viper.GetString("operation"), viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

func renderPlan(p domain.Plan, acts []domain.PlannedActivity) error {
	if viper.GetBool("json") {
		return printJSON(map[string]any{"plan": p, "activities": acts})
	}
	fmt.Printf("Plan %s (%s/%s) anchored %s, makespan %s\n", p.ID, p.Strategy, p.RiskPolicy, p.AnchorAt, durationString(p.MakespanS))
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "Activity", "Start", "Finish", "Impound%", "Extend%"})
	for _, pa := range acts {
		tw.AppendRow(table.Row{pa.Position, pa.ActivityName, durationString(pa.StartOffsetS), durationString(pa.FinishOffsetS), colorRisk(pa.EffImpounding), colorRisk(pa.EffExtended)})
	}
	tw.Render()
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

func toJSONArray(items []string) string {
	b, _ := json.Marshal(items)
	return string(b)
}

func durationString(seconds int64) string {
	return (time.Duration(seconds) * time.Second).String()
}

func colorStatus(status string) string {
	switch status {
	case "completed", "active":
		return color.GreenString(status)
	case "underway", "running":
		return color.CyanString(status)
	case "impounded":
		return color.RedString(status)
	case "aborted":
		return color.YellowString(status)
	}
	return status
}

func colorRisk(v int) string {
	switch {
	case v >= 70:
		return color.RedString("%d", v)
	case v >= 40:
		return color.YellowString("%d", v)
	}
	return fmt.Sprintf("%d", v)
}

// colorPct renders a 0..1 probability as a colored percentage.
func colorPct(p float64) string {
	s := fmt.Sprintf("%.1f%%", p*100)
	switch {
	case p >= 0.35:
		return color.RedString(s)
	case p >= 0.10:
		return color.YellowString(s)
	}
	return color.GreenString(s)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
