package main

import (
	"context"
	"fmt"

	"runbot/internal/model"
	"runbot/internal/orchestrator"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
)

type decideGlazedCommand struct {
	*cmds.CommandDescription
}

type decideSettings struct {
	RunID    string `glazed.parameter:"run-id"`
	ActionID string `glazed.parameter:"action-id"`
	Approve  bool   `glazed.parameter:"approve"`
	Actor    string `glazed.parameter:"actor"`
	Role     string `glazed.parameter:"role"`
	Comment  string `glazed.parameter:"comment"`
}

func newDecideGlazedCommand() (*decideGlazedCommand, error) {
	desc, err := newServiceCommandDescription(
		"decide",
		"Approve or reject a proposed action",
		"Record an approval decision for one action; approvals execute immediately.",
		parameters.NewParameterDefinition(
			"run-id",
			parameters.ParameterTypeString,
			parameters.WithHelp("Run identifier"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"action-id",
			parameters.ParameterTypeString,
			parameters.WithHelp("Action identifier"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"approve",
			parameters.ParameterTypeBool,
			parameters.WithHelp("Approve the action (false rejects)"),
			parameters.WithDefault(false),
		),
		parameters.NewParameterDefinition(
			"actor",
			parameters.ParameterTypeString,
			parameters.WithHelp("Deciding actor"),
			parameters.WithDefault("cli"),
		),
		parameters.NewParameterDefinition(
			"role",
			parameters.ParameterTypeString,
			parameters.WithHelp("Actor role (viewer, executor, approver, admin)"),
			parameters.WithDefault("approver"),
		),
		parameters.NewParameterDefinition(
			"comment",
			parameters.ParameterTypeString,
			parameters.WithHelp("Decision comment"),
			parameters.WithDefault(""),
		),
	)
	if err != nil {
		return nil, err
	}
	return &decideGlazedCommand{CommandDescription: desc}, nil
}

func (c *decideGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &decideSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	if settings.RunID == "" || settings.ActionID == "" {
		return fmt.Errorf("--run-id and --action-id are required")
	}
	serviceSettings, err := initializeServiceSettings(parsedLayers)
	if err != nil {
		return err
	}
	service, err := buildService(serviceSettings)
	if err != nil {
		return err
	}
	run, err := service.DecideAction(ctx, settings.RunID, orchestrator.DecisionOptions{
		ActionID:  settings.ActionID,
		Approve:   settings.Approve,
		Actor:     settings.Actor,
		ActorRole: model.ActorRole(settings.Role),
		Comment:   settings.Comment,
	})
	if err != nil {
		return err
	}
	fmt.Print(renderRun(run))
	return nil
}

var _ cmds.BareCommand = &decideGlazedCommand{}

type rerunGlazedCommand struct {
	*cmds.CommandDescription
}

type rerunSettings struct {
	RunID    string `glazed.parameter:"run-id"`
	ActionID string `glazed.parameter:"action-id"`
	StepID   string `glazed.parameter:"step-id"`
	Actor    string `glazed.parameter:"actor"`
	Role     string `glazed.parameter:"role"`
	Comment  string `glazed.parameter:"comment"`
}

func newRerunGlazedCommand() (*rerunGlazedCommand, error) {
	desc, err := newServiceCommandDescription(
		"rerun",
		"Clone a rejected action for another approval round",
		"Clone a rejected action back to pending and reopen the approval gate.",
		parameters.NewParameterDefinition(
			"run-id",
			parameters.ParameterTypeString,
			parameters.WithHelp("Run identifier"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"action-id",
			parameters.ParameterTypeString,
			parameters.WithHelp("Rejected action to clone (defaults to the most recent)"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"step-id",
			parameters.ParameterTypeString,
			parameters.WithHelp("Plan step to reset to pending"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"actor",
			parameters.ParameterTypeString,
			parameters.WithHelp("Requesting actor"),
			parameters.WithDefault("cli"),
		),
		parameters.NewParameterDefinition(
			"role",
			parameters.ParameterTypeString,
			parameters.WithHelp("Actor role (viewer, executor, approver, admin)"),
			parameters.WithDefault("approver"),
		),
		parameters.NewParameterDefinition(
			"comment",
			parameters.ParameterTypeString,
			parameters.WithHelp("Rerun comment"),
			parameters.WithDefault(""),
		),
	)
	if err != nil {
		return nil, err
	}
	return &rerunGlazedCommand{CommandDescription: desc}, nil
}

func (c *rerunGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &rerunSettings{}
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
	run, err := service.RerunFailedStep(ctx, settings.RunID, orchestrator.RerunOptions{
		ActionID:  settings.ActionID,
		StepID:    settings.StepID,
		Actor:     settings.Actor,
		ActorRole: model.ActorRole(settings.Role),
		Comment:   settings.Comment,
	})
	if err != nil {
		return err
	}
	fmt.Print(renderRun(run))
	return nil
}

var _ cmds.BareCommand = &rerunGlazedCommand{}
