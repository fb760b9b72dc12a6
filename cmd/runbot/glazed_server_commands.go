package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"runbot/internal/model"
	"runbot/internal/policy"
	"runbot/internal/server"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
)

type metricsGlazedCommand struct {
	*cmds.CommandDescription
}

func newMetricsGlazedCommand() (*metricsGlazedCommand, error) {
	desc, err := newServiceCommandDescription(
		"metrics",
		"Print evaluation metrics",
		"Aggregate latency and safety metrics over all stored runs.",
	)
	if err != nil {
		return nil, err
	}
	return &metricsGlazedCommand{CommandDescription: desc}, nil
}

func (c *metricsGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	_ = ctx
	serviceSettings, err := initializeServiceSettings(parsedLayers)
	if err != nil {
		return err
	}
	service, err := buildService(serviceSettings)
	if err != nil {
		return err
	}
	metrics, err := service.GetEvaluationMetrics()
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

var _ cmds.BareCommand = &metricsGlazedCommand{}

type policyInitGlazedCommand struct {
	*cmds.CommandDescription
}

type policyInitSettings struct {
	Path string `glazed.parameter:"path"`
}

func newPolicyInitGlazedCommand() (*policyInitGlazedCommand, error) {
	return &policyInitGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"policy-init",
			cmds.WithShort("Write a default policy file"),
			cmds.WithLong("Create a default runbot policy file at the target path."),
			cmds.WithFlags(
				parameters.NewParameterDefinition(
					"path",
					parameters.ParameterTypeString,
					parameters.WithHelp("Path to policy file"),
					parameters.WithDefault(policy.DefaultPolicyPath),
				),
			),
		),
	}, nil
}

func (c *policyInitGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	_ = ctx
	settings := &policyInitSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	if err := policy.SaveDefault(settings.Path); err != nil {
		return err
	}
	fmt.Printf("Wrote default policy to %s\n", settings.Path)
	return nil
}

var _ cmds.BareCommand = &policyInitGlazedCommand{}

type serveGlazedCommand struct {
	*cmds.CommandDescription
}

type serveSettings struct {
	Addr            string `glazed.parameter:"addr"`
	PolicyPath      string `glazed.parameter:"policy"`
	DBPath          string `glazed.parameter:"db"`
	ShutdownTimeout string `glazed.parameter:"shutdown-timeout"`
}

func newServeGlazedCommand() (*serveGlazedCommand, error) {
	return &serveGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"serve",
			cmds.WithShort("Run the HTTP API server and queue worker"),
			cmds.WithLong("Start the runbot API server with its background run queue worker."),
			cmds.WithFlags(
				parameters.NewParameterDefinition(
					"addr",
					parameters.ParameterTypeString,
					parameters.WithHelp("HTTP listen address"),
					parameters.WithDefault(":3001"),
				),
				parameters.NewParameterDefinition(
					"policy",
					parameters.ParameterTypeString,
					parameters.WithHelp("Path to policy file"),
					parameters.WithDefault(policy.DefaultPolicyPath),
				),
				parameters.NewParameterDefinition(
					"db",
					parameters.ParameterTypeString,
					parameters.WithHelp("Path to SQLite DB (overrides policy store path)"),
					parameters.WithDefault(""),
				),
				parameters.NewParameterDefinition(
					"shutdown-timeout",
					parameters.ParameterTypeString,
					parameters.WithHelp("Graceful shutdown timeout"),
					parameters.WithDefault("5s"),
				),
			),
		),
	}, nil
}

func parseDurationSetting(flagName string, value string) (time.Duration, error) {
	duration, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid --%s duration %q: %w", flagName, value, err)
	}
	return duration, nil
}

func (c *serveGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &serveSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	shutdownTimeout, err := parseDurationSetting("shutdown-timeout", settings.ShutdownTimeout)
	if err != nil {
		return err
	}
	runtime, err := server.NewRuntime(server.Options{
		Addr:            settings.Addr,
		PolicyPath:      settings.PolicyPath,
		DBPath:          settings.DBPath,
		ShutdownTimeout: shutdownTimeout,
	})
	if err != nil {
		return err
	}
	fmt.Printf("runbot serve listening on %s\n", settings.Addr)
	return runtime.Run(ctx)
}

var _ cmds.BareCommand = &serveGlazedCommand{}

type enqueueGlazedCommand struct {
	*cmds.CommandDescription
}

type enqueueSettings struct {
	Server      string `glazed.parameter:"server"`
	Goal        string `glazed.parameter:"goal"`
	RepoPath    string `glazed.parameter:"repo"`
	Context     string `glazed.parameter:"context"`
	RequestedBy string `glazed.parameter:"requested-by"`
	RecipePath  string `glazed.parameter:"recipe"`
}

func newEnqueueGlazedCommand() (*enqueueGlazedCommand, error) {
	return &enqueueGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"enqueue",
			cmds.WithShort("Submit a run through the background queue"),
			cmds.WithLong("Post a run request to a running runbot server and print the queue job."),
			cmds.WithFlags(
				parameters.NewParameterDefinition(
					"server",
					parameters.ParameterTypeString,
					parameters.WithHelp("Base URL of the runbot server"),
					parameters.WithDefault("http://localhost:3001"),
				),
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
			),
		),
	}, nil
}

func (c *enqueueGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &enqueueSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	templates, err := loadRecipe(settings.RecipePath)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(map[string]any{
		"goal":           settings.Goal,
		"repo_path":      settings.RepoPath,
		"context":        settings.Context,
		"requested_by":   settings.RequestedBy,
		"recipe_actions": templates,
	})
	if err != nil {
		return err
	}
	url := strings.TrimRight(settings.Server, "/") + "/api/v1/queue/runs"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("enqueue run: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("enqueue run: server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var job model.QueueJob
	if err := json.Unmarshal(body, &job); err != nil {
		return fmt.Errorf("parse queue job: %w", err)
	}
	fmt.Printf("Job %s [%s]\n", job.JobID, job.Status)
	return nil
}

var _ cmds.BareCommand = &enqueueGlazedCommand{}
