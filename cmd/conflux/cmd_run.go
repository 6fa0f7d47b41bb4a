package main

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/zoobzio/conflux"
	"github.com/zoobzio/conflux/engine"
	"github.com/zoobzio/conflux/expression"
	"github.com/zoobzio/conflux/internal/logging"
	"github.com/zoobzio/conflux/taps"
)

type runFlags struct {
	sources     []string
	sinks       []string
	parallelism int
}

func newRunCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run <definition>",
		Short: "Execute a definition against file taps",
		Long: `Run binds every tap of a definition to a file and executes the graph.

Files ending in .csv are read and written as header-first CSV, .msgpack
as msgpack row arrays, and .db or .sqlite as a SQLite table named after
the tap.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args[0], flags)
		},
	}
	f := cmd.Flags()
	f.StringArrayVar(&flags.sources, "source", nil, "Source binding tap=path (repeatable)")
	f.StringArrayVar(&flags.sinks, "sink", nil, "Sink binding tap=path (repeatable)")
	f.IntVar(&flags.parallelism, "parallelism", engine.DefaultParallelism, "Stages evaluated concurrently per level")
	return cmd
}

func runRun(cmd *cobra.Command, path string, flags runFlags) error {
	log := logging.New("run")

	def, err := conflux.LoadDefinitionFile(path)
	if err != nil {
		return err
	}

	opener := &tapOpener{dbs: make(map[string]*sql.DB)}
	defer opener.close()

	fields := make(map[string][]string, len(def.Sources))
	for _, src := range def.Sources {
		fields[src.Tap] = src.Fields
	}

	f := conflux.New(conflux.WithCompiler(expression.Compile))
	for _, binding := range flags.sources {
		id, file, err := splitBinding(binding)
		if err != nil {
			return err
		}
		tap, err := opener.open(id, file, fields[id])
		if err != nil {
			return err
		}
		f.AddTap(tap)
	}
	for _, binding := range flags.sinks {
		id, file, err := splitBinding(binding)
		if err != nil {
			return err
		}
		tap, err := opener.open(id, file, nil)
		if err != nil {
			return err
		}
		f.AddTap(tap)
	}

	g, err := f.Build(def)
	if err != nil {
		return err
	}

	eng := engine.New(engine.WithLogger(log), engine.WithParallelism(flags.parallelism))
	result, err := eng.Run(cmd.Context(), g)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "execution %s completed in %s\n", result.ID, result.Duration)
	for _, b := range g.Sinks() {
		fmt.Fprintf(out, "  %s -> %s: %d records\n", b.Stream.Name(), b.Tap.ID(), len(result.Records(b.Stream.Name())))
	}
	return nil
}

func splitBinding(s string) (id, path string, err error) {
	id, path, ok := strings.Cut(s, "=")
	if !ok || id == "" || path == "" {
		return "", "", fmt.Errorf("invalid binding %q: expected tap=path", s)
	}
	return id, path, nil
}

// tapOpener creates taps by file extension and owns any database handles.
type tapOpener struct {
	dbs map[string]*sql.DB
}

func (o *tapOpener) open(id, path string, columns []string) (conflux.Tap, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		opts := []taps.CSVOption{taps.WithInference()}
		if len(columns) > 0 {
			opts = append(opts, taps.WithColumns(columns...))
		}
		return taps.NewCSV(id, path, opts...), nil
	case ".msgpack", ".mp":
		return taps.NewMsgpack(id, path), nil
	case ".db", ".sqlite":
		db, ok := o.dbs[path]
		if !ok {
			var err error
			db, err = sql.Open("sqlite", path)
			if err != nil {
				return nil, fmt.Errorf("open %s: %w", path, err)
			}
			o.dbs[path] = db
		}
		return taps.NewSQL(id, db, id, taps.WithCreateTable()), nil
	default:
		return nil, fmt.Errorf("tap %s: unsupported file type %q", id, filepath.Ext(path))
	}
}

func (o *tapOpener) close() {
	for _, db := range o.dbs {
		_ = db.Close()
	}
}
