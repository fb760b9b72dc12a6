package main

import (
	"fmt"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/spf13/cobra"
)

func executeCLI(args []string) error {
	rootCmd, err := newRootCommand()
	if err != nil {
		return err
	}
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func newRootCommand() (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		Use:           "runbot",
		Short:         "orchestrate approval-gated automation runs",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			printUsage()
			return fmt.Errorf("command is required")
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	defaultHelpFunc := rootCmd.HelpFunc()
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if cmd == rootCmd {
			printUsage()
			return
		}
		defaultHelpFunc(cmd, args)
	})

	commands := []cmds.Command{}

	submitCmd, err := newSubmitGlazedCommand()
	if err != nil {
		return nil, err
	}
	commands = append(commands, submitCmd)

	enqueueCmd, err := newEnqueueGlazedCommand()
	if err != nil {
		return nil, err
	}
	commands = append(commands, enqueueCmd)

	statusCmd, err := newStatusGlazedCommand()
	if err != nil {
		return nil, err
	}
	commands = append(commands, statusCmd)

	listCmd, err := newListGlazedCommand()
	if err != nil {
		return nil, err
	}
	commands = append(commands, listCmd)

	auditCmd, err := newAuditGlazedCommand()
	if err != nil {
		return nil, err
	}
	commands = append(commands, auditCmd)

	decideCmd, err := newDecideGlazedCommand()
	if err != nil {
		return nil, err
	}
	commands = append(commands, decideCmd)

	rerunCmd, err := newRerunGlazedCommand()
	if err != nil {
		return nil, err
	}
	commands = append(commands, rerunCmd)

	metricsCmd, err := newMetricsGlazedCommand()
	if err != nil {
		return nil, err
	}
	commands = append(commands, metricsCmd)

	policyInitCmd, err := newPolicyInitGlazedCommand()
	if err != nil {
		return nil, err
	}
	commands = append(commands, policyInitCmd)

	serveCmd, err := newServeGlazedCommand()
	if err != nil {
		return nil, err
	}
	commands = append(commands, serveCmd)

	for _, command := range commands {
		cobraCommand, err := buildGlazedCobraCommand(command)
		if err != nil {
			return nil, err
		}
		rootCmd.AddCommand(cobraCommand)
	}

	return rootCmd, nil
}

func buildGlazedCobraCommand(command cmds.Command) (*cobra.Command, error) {
	return cli.BuildCobraCommand(
		command,
		cli.WithParserConfig(cli.CobraParserConfig{
			ShortHelpLayers: []string{layers.DefaultSlug},
			MiddlewaresFunc: cli.CobraCommandDefaultMiddlewares,
		}),
		cli.WithCobraMiddlewaresFunc(cli.CobraCommandDefaultMiddlewares),
		cli.WithCobraShortHelpLayers(layers.DefaultSlug),
	)
}
