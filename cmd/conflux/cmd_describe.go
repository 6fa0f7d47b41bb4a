package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zoobzio/conflux"
	"github.com/zoobzio/conflux/expression"
)

func newDescribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe <definition>",
		Short: "Build a definition and print its graph as JSON",
		Long:  "Describe builds the graph of a definition without touching any data.\nEvery tap the definition names is treated as registered.",
		Args:  cobra.ExactArgs(1),
		RunE:  runDescribe,
	}
}

func runDescribe(cmd *cobra.Command, args []string) error {
	def, err := conflux.LoadDefinitionFile(args[0])
	if err != nil {
		return err
	}

	f := conflux.New(conflux.WithCompiler(expression.Compile))
	for _, id := range tapIDs(def) {
		f.AddTap(conflux.TapName(id))
	}
	g, err := f.Build(def)
	if err != nil {
		return err
	}
	out, err := g.DescribeJSON()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

// tapIDs lists the distinct tap ids of a definition in declaration order.
func tapIDs(def conflux.Definition) []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, src := range def.Sources {
		add(src.Tap)
	}
	for _, sink := range def.Sinks {
		add(sink.Tap)
	}
	return ids
}
