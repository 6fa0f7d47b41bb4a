package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zoobzio/conflux"
)

func newLintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint <definition>",
		Short: "Check a definition file for structural errors",
		Args:  cobra.ExactArgs(1),
		RunE:  runLint,
	}
}

func runLint(cmd *cobra.Command, args []string) error {
	def, err := conflux.LoadDefinitionFile(args[0])
	if err != nil {
		return err
	}
	if err := conflux.ValidateDefinitionStructure(def); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d sources, %d stages, %d sinks)\n",
		args[0], len(def.Sources), len(def.Stages), len(def.Sinks))
	return nil
}
