package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"

	"github.com/born-ml/graphnet/internal/config"
	"github.com/born-ml/graphnet/internal/engine"
	"github.com/born-ml/graphnet/internal/graph"
	"github.com/born-ml/graphnet/internal/logging"
	"github.com/born-ml/graphnet/internal/observability"
	"github.com/born-ml/graphnet/internal/registry"
	"github.com/born-ml/graphnet/internal/serialization"
)

// env bundles what every command shares: configuration, logger and metrics.
type env struct {
	cfg          *config.Config
	logger       *zap.Logger
	metrics      *observability.Collector
	printMetrics bool
}

// commonFlags registers -config and -metrics on fs.
func commonFlags(fs *flag.FlagSet) (configPath *string, metrics *bool) {
	configPath = fs.String("config", "", "YAML configuration file")
	metrics = fs.Bool("metrics", false, "print collected metrics on exit")
	return configPath, metrics
}

func newEnv(configPath string, printMetrics bool) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, logger: logger, printMetrics: printMetrics}
	if cfg.Metrics.Enabled || printMetrics {
		e.metrics = observability.NewCollector()
	}
	return e, nil
}

// finish flushes the logger and prints metrics when asked to.
func (e *env) finish(w io.Writer) error {
	_ = e.logger.Sync()
	if !e.printMetrics || e.metrics == nil {
		return nil
	}
	families, err := e.metrics.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}

func newFlagSet(name string, w io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(w)
	return fs
}

func runBuild(args []string, stdout io.Writer) error {
	fs := newFlagSet("build", stdout)
	configPath, metrics := commonFlags(fs)
	out := fs.String("out", "", "output .gnet file")
	seed := fs.Int64("seed", 0, "override the configured seed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *configPath == "" || *out == "" {
		return errors.New("build: -config and -out are required")
	}

	e, err := newEnv(*configPath, *metrics)
	if err != nil {
		return err
	}
	if e.cfg.Network == nil {
		return fmt.Errorf("build: %s has no network section", *configPath)
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			e.cfg.Network.Seed = *seed
		}
	})

	g, err := e.cfg.Network.Build()
	if err != nil {
		return err
	}
	meta := map[string]string{"source": *configPath, "seed": strconv.FormatInt(e.cfg.Network.Seed, 10)}
	if err := serialization.SaveWithMetadata(g, *out, meta); err != nil {
		return err
	}
	e.logger.Info("network built", zap.String("path", *out), zap.Int("layers", g.Len()), zap.Int("weights", g.WeightCount()))
	fmt.Fprintf(stdout, "wrote %s: %d layers, %d weights\n", *out, g.Len(), g.WeightCount())
	return e.finish(stdout)
}

// parseRows parses "1,0;0,1" into two rows.
func parseRows(s string) ([][]float64, error) {
	var rows [][]float64
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ",")
		row := make([]float64, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", len(rows), err)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, errors.New("no input rows")
	}
	return rows, nil
}

func writeRow(w io.Writer, values []float64) {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	fmt.Fprintln(w, strings.Join(parts, "\t"))
}

// openEngine loads a model and wraps it in an engine configured from e.
func (e *env) openEngine(path, layer string, workers int) (*engine.Engine, error) {
	g, err := serialization.Load(path)
	if err != nil {
		return nil, err
	}
	if layer != "" {
		l, ok := g.LayerByName(layer)
		if !ok {
			return nil, fmt.Errorf("%w: no layer named %q", graph.ErrUnknownLayer, layer)
		}
		if g, err = g.WithOutput(l.ID()); err != nil {
			return nil, err
		}
	}
	if workers <= 0 {
		workers = e.cfg.Parallel.Workers
	}
	return engine.New(g, engine.WithWorkers(workers), engine.WithLogger(e.logger), engine.WithMetrics(e.metrics))
}

func runEval(args []string, stdout io.Writer) error {
	fs := newFlagSet("eval", stdout)
	configPath, metrics := commonFlags(fs)
	model := fs.String("model", "", ".gnet file")
	input := fs.String("input", "", "rows of comma separated values, rows separated by ';'")
	layer := fs.String("layer", "", "evaluate this layer instead of the stored output")
	workers := fs.Int("workers", 0, "worker goroutines (0 uses the configuration)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *model == "" {
		return errors.New("eval: -model is required")
	}
	rows, err := parseRows(*input)
	if err != nil {
		return fmt.Errorf("eval: %w", err)
	}

	e, err := newEnv(*configPath, *metrics)
	if err != nil {
		return err
	}
	eng, err := e.openEngine(*model, *layer, *workers)
	if err != nil {
		return err
	}
	results, err := eng.EvaluateBatch(context.Background(), rows)
	if err != nil {
		return err
	}
	for _, r := range results {
		writeRow(stdout, r)
	}
	return e.finish(stdout)
}

func runLookup(args []string, stdout io.Writer) error {
	fs := newFlagSet("lookup", stdout)
	configPath, metrics := commonFlags(fs)
	model := fs.String("model", "", ".gnet file")
	in := fs.Int("in", 0, "index of the hot input node")
	out := fs.Int("out", 0, "index of the output node")
	value := fs.Float64("value", 1, "value of the hot input node")
	layer := fs.String("layer", "", "evaluate this layer instead of the stored output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *model == "" {
		return errors.New("lookup: -model is required")
	}

	e, err := newEnv(*configPath, *metrics)
	if err != nil {
		return err
	}
	eng, err := e.openEngine(*model, *layer, 1)
	if err != nil {
		return err
	}
	v, err := eng.Lookup(context.Background(), *in, *out, *value)
	if err != nil {
		return err
	}
	writeRow(stdout, []float64{v})
	return e.finish(stdout)
}

func runEmbed(args []string, stdout io.Writer) error {
	fs := newFlagSet("embed", stdout)
	configPath, metrics := commonFlags(fs)
	model := fs.String("model", "", ".gnet file")
	value := fs.Float64("value", 1, "value of the hot input node")
	layer := fs.String("layer", "", "embedding layer (defaults to the stored output)")
	workers := fs.Int("workers", 0, "worker goroutines (0 uses the configuration)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *model == "" {
		return errors.New("embed: -model is required")
	}

	e, err := newEnv(*configPath, *metrics)
	if err != nil {
		return err
	}
	eng, err := e.openEngine(*model, *layer, *workers)
	if err != nil {
		return err
	}
	matrix, err := eng.Embeddings(context.Background(), *value)
	if err != nil {
		return err
	}
	for _, row := range matrix {
		writeRow(stdout, row)
	}
	return e.finish(stdout)
}

func runInspect(args []string, stdout io.Writer) error {
	fs := newFlagSet("inspect", stdout)
	model := fs.String("model", "", ".gnet file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *model == "" {
		return errors.New("inspect: -model is required")
	}

	//nolint:gosec // G304: model path is supplied by the operator
	f, err := os.Open(*model)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	h, err := serialization.ReadHeader(f)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", *model, err)
	}

	fmt.Fprintf(stdout, "format v%d, written by graphnet %s at %s\n", h.FormatVersion, h.GraphnetVersion, h.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(stdout, "output layer: %d\n\n", h.Output)

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tNODES\tPREVIOUS\tACTIVATION\tINITIALISATION")
	for _, l := range h.Layers {
		prev := make([]string, len(l.Previous))
		for i, p := range l.Previous {
			prev[i] = strconv.Itoa(p)
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\n", l.ID, l.Name, l.Nodes, strings.Join(prev, ","),
			graph.ActivationType(l.Activation), graph.InitialisationType(l.Initialisation))
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "TENSOR\tSHAPE\tOFFSET\tBYTES")
	for _, t := range h.Tensors {
		fmt.Fprintf(tw, "%s\t%v\t%d\t%d\n", t.Name, t.Shape, t.Offset, t.Size)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for k, v := range h.Metadata {
		fmt.Fprintf(stdout, "meta %s=%s\n", k, v)
	}
	return nil
}

func runRegistry(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New("registry: expected put, get, list or delete")
	}
	op := args[0]

	fs := newFlagSet("registry "+op, stdout)
	configPath, metrics := commonFlags(fs)
	db := fs.String("db", "", "registry database (defaults to the configured path)")
	name := fs.String("name", "", "network name")
	model := fs.String("model", "", ".gnet file to store (put) or write (get)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	e, err := newEnv(*configPath, *metrics)
	if err != nil {
		return err
	}
	path := *db
	if path == "" {
		path = e.cfg.Registry.Path
	}
	reg, err := registry.Open(path, registry.WithLogger(e.logger), registry.WithMetrics(e.metrics))
	if err != nil {
		return err
	}
	defer func() { _ = reg.Close() }()
	ctx := context.Background()

	switch op {
	case "put":
		if *model == "" {
			return errors.New("registry put: -model is required")
		}
		g, err := serialization.Load(*model)
		if err != nil {
			return err
		}
		entry, err := reg.Put(ctx, *name, g)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "stored %s as %s (%d layers, %d weights)\n", entry.Name, entry.ID, entry.Layers, entry.Weights)
	case "get":
		if *model == "" {
			return errors.New("registry get: -model is required")
		}
		g, err := reg.Get(ctx, *name)
		if err != nil {
			return err
		}
		if err := serialization.Save(g, *model); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "wrote %s to %s\n", *name, *model)
	case "list":
		entries, err := reg.List(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tID\tLAYERS\tWEIGHTS\tCREATED\tCHECKSUM")
		for _, en := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n", en.Name, en.ID, en.Layers, en.Weights,
				en.CreatedAt.Format("2006-01-02 15:04:05"), shortChecksum(en.Checksum))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	case "delete":
		if err := reg.Delete(ctx, *name); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "deleted %s\n", *name)
	default:
		return fmt.Errorf("registry: unknown operation %q", op)
	}
	return e.finish(stdout)
}

// shortChecksum abbreviates a hex checksum for listings.
func shortChecksum(sum string) string {
	const width = 12
	if len(sum) <= width {
		return sum
	}
	return sum[:width]
}
