package main

import (
	"fmt"
	"strings"

	"runbot/internal/model"
	"runbot/internal/orchestrator"
	"runbot/internal/policy"
	"runbot/internal/store"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
)

const serviceLayerSlug = "service"

type serviceSettings struct {
	PolicyPath string `glazed.parameter:"policy"`
	DBPath     string `glazed.parameter:"db"`
}

func newServiceLayer() (layers.ParameterLayer, error) {
	layer, err := layers.NewParameterLayer(serviceLayerSlug, "Service")
	if err != nil {
		return nil, err
	}
	layer.AddFlags(
		parameters.NewParameterDefinition(
			"policy",
			parameters.ParameterTypeString,
			parameters.WithHelp("Path to policy file"),
			parameters.WithDefault(policy.DefaultPolicyPath),
		),
		parameters.NewParameterDefinition(
			"db",
			parameters.ParameterTypeString,
			parameters.WithHelp("Path to SQLite DB"),
			parameters.WithDefault(".runbot/runs.db"),
		),
	)
	return layer, nil
}

func newServiceCommandDescription(name string, short string, long string, flags ...*parameters.ParameterDefinition) (*cmds.CommandDescription, error) {
	serviceLayer, err := newServiceLayer()
	if err != nil {
		return nil, err
	}
	options := []cmds.CommandDescriptionOption{
		cmds.WithShort(short),
		cmds.WithLayersList(serviceLayer),
	}
	if strings.TrimSpace(long) != "" {
		options = append(options, cmds.WithLong(long))
	}
	if len(flags) > 0 {
		options = append(options, cmds.WithFlags(flags...))
	}
	return cmds.NewCommandDescription(name, options...), nil
}

func initializeServiceSettings(parsedLayers *layers.ParsedLayers) (*serviceSettings, error) {
	settings := &serviceSettings{}
	if err := parsedLayers.InitializeStruct(serviceLayerSlug, settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// buildService wires a CLI-side orchestrator. The CLI always persists to
// SQLite so consecutive invocations see the same runs; the policy file's
// store backend only applies to serve.
func buildService(settings *serviceSettings) (*orchestrator.Service, error) {
	cfg, _, err := policy.Load(settings.PolicyPath)
	if err != nil {
		return nil, err
	}
	st := store.NewSQLiteStore(settings.DBPath)
	if err := st.Init(); err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	return orchestrator.NewService(cfg, st, nil), nil
}

func renderRun(run model.RunSession) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s [%s]\n", run.ID, run.Status)
	fmt.Fprintf(&b, "Goal: %s\n", run.Goal)
	if run.SandboxPath != "" {
		fmt.Fprintf(&b, "Sandbox: %s\n", run.SandboxPath)
	}
	if len(run.PlanSteps) > 0 {
		b.WriteString("Plan:\n")
		for _, step := range run.PlanSteps {
			fmt.Fprintf(&b, "  [%s] %s\n", step.Status, step.Title)
		}
	}
	if len(run.PendingActions) > 0 {
		b.WriteString("Actions:\n")
		for _, action := range run.PendingActions {
			safety := "unsafe"
			if action.Safe {
				safety = "safe"
			}
			fmt.Fprintf(&b, "  %s [%s, %s] %s: %s\n", action.ID, action.Status, safety, action.ActionType, action.Description)
		}
	}
	return b.String()
}
