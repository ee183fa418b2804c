package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"launchline/internal/app"
	"launchline/internal/approval"
	"launchline/internal/bulk"
	"launchline/internal/config"
	"launchline/internal/domain"
	"launchline/internal/engine"
	"launchline/internal/repo"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var id, name, creator, lead, configFile string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project and seed its eight phases",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.CreateProjectOptions{
				ID:          id,
				Name:        name,
				CreatorName: creator,
				LeadID:      lead,
				ActorID:     actorID(),
			}
			if configFile != "" {
				cfg, err := config.FromFile(configFile)
				if err != nil {
					return err
				}
				opts.Config = cfg
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				p, phases, err := s.Engine.CreateProject(ctx, opts)
				if err != nil {
					return err
				}
				return output(map[string]any{"project": p, "phases": phases}, func() {
					renderProjects([]domain.Project{p})
					renderPhases(phases)
				})
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "brand name")
	cmd.Flags().StringVar(&creator, "creator", "", "creator name")
	cmd.Flags().StringVar(&lead, "lead", "", "lead actor id")
	cmd.Flags().StringVar(&configFile, "config", "", "launchline.yml to use instead of the workspace default")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				items, err := s.Engine.ListProjects(ctx, domain.ProjectStatus(strings.ToUpper(status)))
				if err != nil {
					return err
				}
				return output(items, func() { renderProjects(items) })
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, s *app.Session, projectID string) error {
				p, err := s.Engine.GetProject(ctx, projectID)
				if err != nil {
					return err
				}
				return output(p, func() { renderProjects([]domain.Project{p}) })
			})
		},
	}
}

func projectUpdateCmd() *cobra.Command {
	var name, creator, status, lead string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update a project's name, creator, status or lead",
		RunE: func(cmd *cobra.Command, args []string) error {
			var changes repo.ProjectChanges
			if cmd.Flags().Changed("name") {
				changes.Name = &name
			}
			if cmd.Flags().Changed("creator") {
				changes.CreatorName = &creator
			}
			if cmd.Flags().Changed("status") {
				st := domain.ProjectStatus(strings.ToUpper(status))
				changes.Status = &st
			}
			if cmd.Flags().Changed("lead") {
				changes.LeadID = &lead
			}
			return withProject(cmd.Context(), func(ctx context.Context, s *app.Session, projectID string) error {
				p, err := s.Engine.UpdateProject(ctx, projectID, changes, actorID())
				if err != nil {
					return err
				}
				return output(p, func() { renderProjects([]domain.Project{p}) })
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "brand name")
	cmd.Flags().StringVar(&creator, "creator", "", "creator name")
	cmd.Flags().StringVar(&status, "status", "", "ACTIVE, ON_HOLD, COMPLETED or ARCHIVED")
	cmd.Flags().StringVar(&lead, "lead", "", "lead actor id")
	return cmd
}

func phaseCmd() *cobra.Command {
	ph := &cobra.Command{Use: "phase", Short: "Phase board and transitions"}
	ph.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show phases, the current phase and tab unlock state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, s *app.Session, projectID string) error {
				board, err := s.Engine.PhaseBoard(ctx, projectID)
				if err != nil {
					return err
				}
				return output(board, func() { renderBoard(board) })
			})
		},
	})
	var to int
	advance := &cobra.Command{
		Use:   "advance",
		Short: "Complete the current phase and start the next one",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, s *app.Session, projectID string) error {
				target := to
				if !cmd.Flags().Changed("to") {
					cur, err := s.Engine.CurrentPhase(ctx, projectID)
					if err != nil {
						return err
					}
					target = cur.PhaseOrder + 1
				}
				phases, err := s.Engine.AdvancePhase(ctx, projectID, target, actorID())
				if err != nil {
					return err
				}
				return output(phases, func() { renderPhases(phases) })
			})
		},
	}
	advance.Flags().IntVar(&to, "to", 0, "target phase order (defaults to the next phase)")
	ph.AddCommand(advance)
	return ph
}

func approvalCmd() *cobra.Command {
	ap := &cobra.Command{Use: "approval", Short: "Approval requests"}
	ap.AddCommand(approvalRequestCmd())
	ap.AddCommand(approvalReviewCmd())
	ap.AddCommand(approvalListCmd())
	ap.AddCommand(approvalShowCmd())
	return ap
}

func approvalRequestCmd() *cobra.Command {
	var message, due string
	var reviewers []string
	var phaseOrder int
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Ask reviewers to approve something",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, s *app.Session, projectID string) error {
				draft := approval.Draft{
					ProjectID:   projectID,
					Message:     message,
					DueDate:     due,
					ReviewerIDs: reviewers,
					CreatedBy:   actorID(),
				}
				if cmd.Flags().Changed("phase") {
					draft.PhaseOrder = &phaseOrder
				}
				req, err := s.Engine.RequestApproval(ctx, draft)
				if err != nil {
					return err
				}
				return output(req, func() { renderApproval(req, s.Engine) })
			})
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "what needs approval")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().StringSliceVar(&reviewers, "reviewer", nil, "reviewer actor id (repeatable)")
	cmd.Flags().IntVar(&phaseOrder, "phase", 0, "phase order this request gates")
	return cmd
}

func approvalReviewCmd() *cobra.Command {
	var reviewer, status, feedback string
	cmd := &cobra.Command{
		Use:   "review <approval-id>",
		Short: "Record a reviewer decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if reviewer == "" {
				reviewer = actorID()
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				req, err := s.Engine.ReviewApproval(ctx, engine.ReviewOptions{
					ApprovalID: args[0],
					ReviewerID: reviewer,
					Decision:   domain.ApprovalStatus(strings.ToUpper(status)),
					Feedback:   feedback,
					ActorID:    actorID(),
				})
				if err != nil {
					return err
				}
				return output(req, func() { renderApproval(req, s.Engine) })
			})
		},
	}
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "reviewer id (defaults to --actor-id)")
	cmd.Flags().StringVar(&status, "status", "", "APPROVED or CHANGES_REQUESTED")
	cmd.Flags().StringVar(&feedback, "feedback", "", "feedback text (required for CHANGES_REQUESTED)")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func approvalListCmd() *cobra.Command {
	var status, overdue string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List approval requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := engine.ApprovalListFilter{Status: domain.ApprovalStatus(strings.ToUpper(status))}
			switch overdue {
			case "":
			case "true", "false":
				v := overdue == "true"
				filter.Overdue = &v
			default:
				return fmt.Errorf("--overdue must be true or false")
			}
			return withProject(cmd.Context(), func(ctx context.Context, s *app.Session, projectID string) error {
				items, err := s.Engine.ListApprovals(ctx, projectID, filter)
				if err != nil {
					return err
				}
				return output(items, func() { renderApprovals(items, s.Engine) })
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "PENDING, APPROVED or CHANGES_REQUESTED")
	cmd.Flags().StringVar(&overdue, "overdue", "", "true or false")
	return cmd
}

func approvalShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <approval-id>",
		Short: "Show one approval request with its reviewers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				req, err := s.Engine.GetApproval(ctx, args[0])
				if err != nil {
					return err
				}
				return output(req, func() { renderApproval(req, s.Engine) })
			})
		},
	}
}

func readinessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "readiness",
		Short: "Compute the launch readiness report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, s *app.Session, projectID string) error {
				report, err := s.Engine.Readiness(ctx, projectID)
				if err != nil {
					return err
				}
				return output(report, func() { renderReadiness(report) })
			})
		},
	}
}

func bulkCmd() *cobra.Command {
	b := &cobra.Command{Use: "bulk", Short: "Apply one change to many projects"}
	var status string
	statusCmd := &cobra.Command{
		Use:   "status <project-id>...",
		Short: "Set the status of every listed project",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBulk(cmd, bulk.Operation{
				Kind:      bulk.KindUpdateStatus,
				TargetIDs: args,
				Payload:   bulk.Payload{Status: domain.ProjectStatus(strings.ToUpper(status))},
			})
		},
	}
	statusCmd.Flags().StringVar(&status, "status", "", "ACTIVE, ON_HOLD, COMPLETED or ARCHIVED")
	var lead string
	leadCmd := &cobra.Command{
		Use:   "lead <project-id>...",
		Short: "Assign a lead to every listed project",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBulk(cmd, bulk.Operation{
				Kind:      bulk.KindAssignLead,
				TargetIDs: args,
				Payload:   bulk.Payload{LeadID: lead},
			})
		},
	}
	leadCmd.Flags().StringVar(&lead, "lead", "", "lead actor id")
	archiveCmd := &cobra.Command{
		Use:   "archive <project-id>...",
		Short: "Archive every listed project",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBulk(cmd, bulk.Operation{Kind: bulk.KindArchive, TargetIDs: args})
		},
	}
	b.AddCommand(statusCmd, leadCmd, archiveCmd)
	return b
}

func runBulk(cmd *cobra.Command, op bulk.Operation) error {
	return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
		results, err := s.Engine.Bulk(ctx, op, actorID())
		if err != nil {
			return err
		}
		return output(results, func() { renderBulk(results) })
	})
}

func deliverableCmd() *cobra.Command {
	d := &cobra.Command{Use: "deliverable", Short: "Record facts reported by workspace modules"}
	var kind, state, label string
	add := &cobra.Command{
		Use:   "add",
		Short: "Record a deliverable",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, s *app.Session, projectID string) error {
				item, err := s.Engine.RecordDeliverable(ctx, engine.DeliverableInput{
					ProjectID: projectID,
					Kind:      domain.DeliverableKind(strings.ToUpper(kind)),
					State:     domain.DeliverableState(strings.ToUpper(state)),
					Label:     label,
					ActorID:   actorID(),
				})
				if err != nil {
					return err
				}
				return output(item, func() { renderDeliverables([]domain.Deliverable{item}) })
			})
		},
	}
	add.Flags().StringVar(&kind, "kind", "", "deliverable kind, e.g. LOGO or SKU")
	add.Flags().StringVar(&state, "state", "", "initial state (default DRAFT)")
	add.Flags().StringVar(&label, "label", "", "display label")
	_ = add.MarkFlagRequired("kind")

	var newState string
	set := &cobra.Command{
		Use:   "set <deliverable-id>",
		Short: "Change a deliverable's state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, s *app.Session, projectID string) error {
				item, err := s.Engine.UpdateDeliverableState(ctx, projectID, args[0], domain.DeliverableState(strings.ToUpper(newState)), actorID())
				if err != nil {
					return err
				}
				return output(item, func() { renderDeliverables([]domain.Deliverable{item}) })
			})
		},
	}
	set.Flags().StringVar(&newState, "state", "", "new state")
	_ = set.MarkFlagRequired("state")

	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded deliverables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, s *app.Session, projectID string) error {
				items, err := s.Engine.ListDeliverables(ctx, projectID)
				if err != nil {
					return err
				}
				return output(items, func() { renderDeliverables(items) })
			})
		},
	}
	d.AddCommand(add, set, list)
	return d
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every project change, phase move, approval and deliverable update, newest first.",
	}
	var n int
	var evtType, entityKind, entityID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, s *app.Session, projectID string) error {
				items, err := s.Engine.Repo.LatestEvents(ctx, n, 0, repo.EventFilters{
					ProjectID:  projectID,
					Type:       evtType,
					EntityKind: entityKind,
					EntityID:   entityID,
				})
				if err != nil {
					return err
				}
				return output(items, func() { renderEvents(items) })
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	log.AddCommand(tail)
	return log
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Project policy (launchline.yml)"}
	c.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the policy stored for the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, s *app.Session, projectID string) error {
				cfg, err := s.Engine.ProjectConfig(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cfg)
				}
				out, err := cfg.YAML()
				if err != nil {
					return err
				}
				_, err = os.Stdout.Write(out)
				return err
			})
		},
	})

	var validateFile string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate a policy file, or the workspace launchline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := validateFile
			if path == "" {
				path = config.Path(viper.GetString("workspace"))
			}
			_, err := config.FromFile(path)
			if viper.GetBool("json") {
				res := map[string]any{"ok": err == nil, "file": path}
				if err != nil {
					res["error"] = err.Error()
				}
				return printJSON(res)
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	validate.Flags().StringVar(&validateFile, "file", "", "path to YAML config")
	c.AddCommand(validate)

	var importFile string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Replace the project's stored policy with a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(importFile)
			if err != nil {
				return err
			}
			return withProject(cmd.Context(), func(ctx context.Context, s *app.Session, projectID string) error {
				if err := s.Engine.ImportProjectConfig(ctx, projectID, cfg, actorID()); err != nil {
					return err
				}
				return output(cfg, func() { fmt.Printf("config imported into %s\n", projectID) })
			})
		},
	}
	importCmd.Flags().StringVar(&importFile, "file", "", "path to YAML config")
	_ = importCmd.MarkFlagRequired("file")
	c.AddCommand(importCmd)

	c.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default launchline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault("default")), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	return c
}

func roleCmd() *cobra.Command {
	r := &cobra.Command{Use: "role", Short: "Project roles"}
	r.AddCommand(&cobra.Command{
		Use:   "whoami",
		Short: "Show roles and permissions of --actor-id on the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, s *app.Session, projectID string) error {
				who, err := s.Engine.WhoAmI(ctx, projectID, actorID())
				if err != nil {
					return err
				}
				return output(who, func() {
					fmt.Printf("actor: %s\nroles: %s\npermissions: %s\n", who.ActorID, strings.Join(who.Roles, ", "), strings.Join(who.Permissions, ", "))
				})
			})
		},
	})
	var target, role string
	change := func(grant bool) *cobra.Command {
		use, short := "revoke", "Revoke a role"
		if grant {
			use, short = "grant", "Grant a role"
		}
		cmd := &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withProject(cmd.Context(), func(ctx context.Context, s *app.Session, projectID string) error {
					var err error
					if grant {
						err = s.Engine.GrantRole(ctx, projectID, actorID(), target, role)
					} else {
						err = s.Engine.RevokeRole(ctx, projectID, actorID(), target, role)
					}
					if err != nil {
						return err
					}
					return output(map[string]string{"actor_id": target, "role": role, "action": use}, func() {
						fmt.Printf("%s %s: %s\n", use, target, role)
					})
				})
			},
		}
		cmd.Flags().StringVar(&target, "actor", "", "actor receiving the change")
		cmd.Flags().StringVar(&role, "role", "", "role id from the project policy")
		_ = cmd.MarkFlagRequired("actor")
		_ = cmd.MarkFlagRequired("role")
		return cmd
	}
	r.AddCommand(change(true), change(false))
	return r
}

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "API keys for the HTTP server"}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue a key for --actor-id; the raw key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				key, raw, err := s.Engine.IssueAPIKey(ctx, actorID(), name)
				if err != nil {
					return err
				}
				return output(map[string]any{"key": key, "secret": raw}, func() {
					fmt.Printf("id:     %s\nactor:  %s\nsecret: %s\n", key.ID, key.ActorID, raw)
				})
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label for the key")
	list := &cobra.Command{
		Use:   "list",
		Short: "List keys of --actor-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				keys, err := s.Engine.ListAPIKeys(ctx, actorID())
				if err != nil {
					return err
				}
				return output(keys, func() { renderAPIKeys(keys) })
			})
		},
	}
	revoke := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				if err := s.Engine.RevokeAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	}
	k.AddCommand(create, list, revoke)
	return k
}
