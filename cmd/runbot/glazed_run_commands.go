package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"runbot/internal/model"
	"runbot/internal/orchestrator"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
)

type submitGlazedCommand struct {
	*cmds.CommandDescription
}

type submitSettings struct {
	Goal        string `glazed.parameter:"goal"`
	RepoPath    string `glazed.parameter:"repo"`
	Context     string `glazed.parameter:"context"`
	RequestedBy string `glazed.parameter:"requested-by"`
	RecipePath  string `glazed.parameter:"recipe"`
}

func newSubmitGlazedCommand() (*submitGlazedCommand, error) {
	desc, err := newServiceCommandDescription(
		"submit",
		"Create a run from a goal",
		"Create a run, stage its sandbox, and propose actions for approval.",
		parameters.NewParameterDefinition(
			"goal",
			parameters.ParameterTypeString,
			parameters.WithHelp("What the run should accomplish"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"repo",
			parameters.ParameterTypeString,
			parameters.WithHelp("Repository to stage into the sandbox"),
			parameters.WithDefault("."),
		),
		parameters.NewParameterDefinition(
			"context",
			parameters.ParameterTypeString,
			parameters.WithHelp("Extra context passed to the planner"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"requested-by",
			parameters.ParameterTypeString,
			parameters.WithHelp("Actor recorded in the audit log"),
			parameters.WithDefault("cli"),
		),
		parameters.NewParameterDefinition(
			"recipe",
			parameters.ParameterTypeString,
			parameters.WithHelp("JSON file with action templates to load instead of planning"),
			parameters.WithDefault(""),
		),
	)
	if err != nil {
		return nil, err
	}
	return &submitGlazedCommand{CommandDescription: desc}, nil
}

func loadRecipe(path string) ([]model.ActionTemplate, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recipe %s: %w", path, err)
	}
	var templates []model.ActionTemplate
	if err := json.Unmarshal(b, &templates); err != nil {
		return nil, fmt.Errorf("parse recipe %s: %w", path, err)
	}
	return templates, nil
}

func (c *submitGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &submitSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	serviceSettings, err := initializeServiceSettings(parsedLayers)
	if err != nil {
		return err
	}
	service, err := buildService(serviceSettings)
	if err != nil {
		return err
	}
	templates, err := loadRecipe(settings.RecipePath)
	if err != nil {
		return err
	}
	run, err := service.CreateRun(ctx, orchestrator.CreateRunOptions{
		Goal:        settings.Goal,
		RepoPath:    settings.RepoPath,
		Context:     settings.Context,
		RequestedBy: settings.RequestedBy,
		Templates:   templates,
	})
	if err != nil {
		return err
	}
	fmt.Print(renderRun(run))
	return nil
}

var _ cmds.BareCommand = &submitGlazedCommand{}

type statusGlazedCommand struct {
	*cmds.CommandDescription
}

type statusSettings struct {
	RunID string `glazed.parameter:"run-id"`
}

func newStatusGlazedCommand() (*statusGlazedCommand, error) {
	desc, err := newServiceCommandDescription(
		"status",
		"Print run status",
		"Show plan, action, and approval state for a run.",
		parameters.NewParameterDefinition(
			"run-id",
			parameters.ParameterTypeString,
			parameters.WithHelp("Run identifier"),
			parameters.WithDefault(""),
		),
	)
	if err != nil {
		return nil, err
	}
	return &statusGlazedCommand{CommandDescription: desc}, nil
}

func (c *statusGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	_ = ctx
	settings := &statusSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	if settings.RunID == "" {
		return fmt.Errorf("--run-id is required")
	}
	serviceSettings, err := initializeServiceSettings(parsedLayers)
	if err != nil {
		return err
	}
	service, err := buildService(serviceSettings)
	if err != nil {
		return err
	}
	run, err := service.GetRun(settings.RunID)
	if err != nil {
		return err
	}
	fmt.Print(renderRun(run))
	return nil
}

var _ cmds.BareCommand = &statusGlazedCommand{}

type listGlazedCommand struct {
	*cmds.CommandDescription
}

func newListGlazedCommand() (*listGlazedCommand, error) {
	desc, err := newServiceCommandDescription(
		"list",
		"List runs",
		"List runs newest first.",
	)
	if err != nil {
		return nil, err
	}
	return &listGlazedCommand{CommandDescription: desc}, nil
}

func (c *listGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	_ = ctx
	serviceSettings, err := initializeServiceSettings(parsedLayers)
	if err != nil {
		return err
	}
	service, err := buildService(serviceSettings)
	if err != nil {
		return err
	}
	runs, err := service.ListRuns()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs.")
		return nil
	}
	for _, run := range runs {
		fmt.Printf("%s  %-18s  %s\n", run.ID, run.Status, run.Goal)
	}
	return nil
}

var _ cmds.BareCommand = &listGlazedCommand{}

type auditGlazedCommand struct {
	*cmds.CommandDescription
}

func newAuditGlazedCommand() (*auditGlazedCommand, error) {
	desc, err := newServiceCommandDescription(
		"audit",
		"Print the audit log for a run",
		"Show the actor-attributed audit trail for a run.",
		parameters.NewParameterDefinition(
			"run-id",
			parameters.ParameterTypeString,
			parameters.WithHelp("Run identifier"),
			parameters.WithDefault(""),
		),
	)
	if err != nil {
		return nil, err
	}
	return &auditGlazedCommand{CommandDescription: desc}, nil
}

func (c *auditGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	_ = ctx
	settings := &statusSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	if settings.RunID == "" {
		return fmt.Errorf("--run-id is required")
	}
	serviceSettings, err := initializeServiceSettings(parsedLayers)
	if err != nil {
		return err
	}
	service, err := buildService(serviceSettings)
	if err != nil {
		return err
	}
	entries, err := service.GetRunAuditLog(settings.RunID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No audit entries.")
		return nil
	}
	for _, entry := range entries {
		fmt.Printf("%s  %s (%s)  %s: %s\n", entry.Timestamp, entry.Actor, entry.ActorRole, entry.Action, entry.Detail)
	}
	return nil
}

var _ cmds.BareCommand = &auditGlazedCommand{}
