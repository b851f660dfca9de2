// Command ophys queries ophys experiments in LIMS, loads biophysical model
// configurations, and serves both over HTTP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/banshee-data/ophys.report/internal/api"
	"github.com/banshee-data/ophys.report/internal/biophys"
	"github.com/banshee-data/ophys.report/internal/experiment"
	"github.com/banshee-data/ophys.report/internal/fsutil"
	"github.com/banshee-data/ophys.report/internal/lims"
	"github.com/banshee-data/ophys.report/internal/ophys"
	"github.com/banshee-data/ophys.report/internal/plot"
	"github.com/banshee-data/ophys.report/internal/security"
	"github.com/banshee-data/ophys.report/internal/tracefile"
	"github.com/banshee-data/ophys.report/internal/version"
)

// defaultDSN is used when neither --db nor OPHYS_DB is set.
const defaultDSN = "lims.db"

const usage = `usage: ophys [--db DSN] [--experiment ID] <command> [args]

commands:
  config <file>     merge a biophysical run config and print it with its model description
                    (--manifest dir|file|all prints resolved manifest paths)
  metadata          experiment metadata
  roi-table         cell specimen table (valid ROIs)
  files             well-known file paths of the experiment
  trials            validated extended trials
  dff               traces in canonical ROI order (--kind dff|demixed|corrected)
  timestamps        ophys timestamps (--stimulus for stimulus frames)
  plot              write a dF/F trace plot (--out)
  serve             serve the experiment API (--listen)
  migrate <action>  manage the LIMS schema (up, down, status, version N, force N)
  version           print build information
`

// cli holds the global flags and output streams of one invocation.
type cli struct {
	dsn          string
	experimentID int64
	strictPlanes bool

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes one command line and returns the process exit code.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	c := &cli{stdin: stdin, stdout: stdout, stderr: stderr}

	fs := pflag.NewFlagSet("ophys", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SetInterspersed(false)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	fs.StringVar(&c.dsn, "db", envOr("OPHYS_DB", defaultDSN), "LIMS database: SQLite path or postgres:// URL")
	fs.Int64Var(&c.experimentID, "experiment", 0, "ophys experiment id")
	fs.BoolVar(&c.strictPlanes, "strict-planes", false, "require multi-plane timestamps to match the trace length exactly")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	cmd, cmdArgs := rest[0], rest[1:]
	var err error
	switch cmd {
	case "config":
		err = c.config(cmdArgs)
	case "metadata", "roi-table", "files", "trials", "dff", "timestamps", "plot":
		err = c.query(cmd, cmdArgs)
	case "serve":
		err = c.serve(cmdArgs)
	case "migrate":
		err = c.migrate(cmdArgs)
	case "version":
		fmt.Fprintln(stdout, version.String())
	case "help":
		fmt.Fprint(stdout, usage)
	default:
		fmt.Fprint(stderr, usage)
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ophys %s: %v\n", cmd, err)
		return 1
	}
	return 0
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (c *cli) writeJSON(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// entrypoint is the split form of the main setting.
type entrypoint struct {
	Module   string `json:"module"`
	Function string `json:"function"`
}

// config merges a run configuration and reads its model description. The
// BIOPHYS_* environment and --<setting> flags override the file. With
// --manifest only the resolved manifest paths are printed.
func (c *cli) config(args []string) error {
	fs := pflag.NewFlagSet("config", pflag.ContinueOnError)
	fs.SetOutput(c.stderr)
	biophys.RegisterFlags(fs)
	manifest := fs.String("manifest", "", "print resolved manifest paths of this type (dir, file or all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("expected one config file, got %d", fs.NArg())
	}

	loader := biophys.NewLoader(fsutil.OSFileSystem{})
	loader.Flags = fs
	cfg, desc, err := loader.Load(fs.Arg(0))
	if err != nil {
		return err
	}

	if fs.Changed("manifest") {
		typ := *manifest
		if typ == "all" {
			typ = ""
		}
		m, err := desc.Manifest()
		if err != nil {
			return err
		}
		paths, err := m.Paths(typ)
		if err != nil {
			return err
		}
		return c.writeJSON(paths)
	}

	out := struct {
		Config      *biophys.Config      `json:"config"`
		Entrypoint  *entrypoint          `json:"entrypoint,omitempty"`
		Description *biophys.Description `json:"description"`
	}{Config: cfg, Description: desc}
	if module, function, err := cfg.Entrypoint(); err == nil {
		out.Entrypoint = &entrypoint{Module: module, Function: function}
	} else {
		log.Printf("main not runnable: %v", err)
	}
	return c.writeJSON(out)
}

func (c *cli) openDB() (*lims.DB, error) {
	db, err := lims.Open(c.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open LIMS database: %w", err)
	}
	return db, nil
}

func (c *cli) experimentOptions() []experiment.Option {
	if c.strictPlanes {
		return []experiment.Option{experiment.WithStrictPlaneAlignment()}
	}
	return nil
}

// query runs one of the per-experiment commands.
func (c *cli) query(cmd string, args []string) error {
	fs := pflag.NewFlagSet(cmd, pflag.ContinueOnError)
	fs.SetOutput(c.stderr)
	kind := fs.String("kind", "dff", "trace product: dff, demixed or corrected")
	stimulus := fs.Bool("stimulus", false, "print stimulus frame times instead of ophys timestamps")
	out := fs.String("out", "", "plot output file (png, svg or pdf)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if c.experimentID <= 0 {
		return fmt.Errorf("--experiment is required")
	}

	db, err := c.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	exp := experiment.New(c.experimentID, db, tracefile.NewReader(), c.experimentOptions()...)

	switch cmd {
	case "metadata":
		md, err := exp.Metadata(ctx)
		if err != nil {
			return err
		}
		return c.writeJSON(md)
	case "roi-table":
		rois, err := exp.CellSpecimenTable(ctx)
		if err != nil {
			return err
		}
		return c.writeJSON(rois)
	case "files":
		return c.files(ctx, db)
	case "trials":
		out, err := exp.ExtendedTrials(ctx)
		if err != nil {
			return err
		}
		return c.writeJSON(out)
	case "dff":
		tm, err := traces(ctx, exp, *kind)
		if err != nil {
			return err
		}
		return c.writeJSON(api.NewTraceResponse(tm))
	case "timestamps":
		var ts []float64
		if *stimulus {
			ts, err = exp.StimulusTimestamps(ctx)
		} else {
			ts, err = exp.OphysTimestamps(ctx)
		}
		if err != nil {
			return err
		}
		return c.writeJSON(api.NewTimestampResponse(ts))
	case "plot":
		path := *out
		if path == "" {
			path = "dff_" + strconv.FormatInt(c.experimentID, 10) + ".png"
		}
		if err := security.ValidateExportPath(path); err != nil {
			return err
		}
		tm, err := exp.RawDFFTraces(ctx)
		if err != nil {
			return err
		}
		ts, err := exp.OphysTimestamps(ctx)
		if err != nil {
			return err
		}
		if err := plot.SaveTracePlot(tm, ts, path); err != nil {
			return err
		}
		return c.writeJSON(api.PathResponse{Path: path})
	}
	return fmt.Errorf("unknown query %q", cmd)
}

func traces(ctx context.Context, exp *experiment.Api, kind string) (*ophys.TraceMatrix, error) {
	switch kind {
	case "dff":
		return exp.RawDFFTraces(ctx)
	case "demixed":
		return exp.DemixedTraces(ctx)
	case "corrected":
		return exp.CorrectedFluorescenceTraces(ctx)
	}
	return nil, fmt.Errorf("invalid --kind %q", kind)
}

// files prints every well-known file registered for the experiment, keyed
// by file type. Types without exactly one file are left out.
func (c *cli) files(ctx context.Context, db *lims.DB) error {
	out := make(map[string]string, len(lims.FileTypes))
	for _, ft := range lims.FileTypes {
		path, err := db.WellKnownFilePath(ctx, c.experimentID, ft)
		if errors.Is(err, lims.ErrOneResultExpected) {
			log.Printf("%v", err)
			continue
		}
		if err != nil {
			return err
		}
		out[ft.Name] = path
	}
	return c.writeJSON(out)
}

func (c *cli) migrate(args []string) error {
	db, err := c.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	cmd := &lims.MigrateCommand{DB: db, FS: lims.MigrationsFS(), In: c.stdin, Out: c.stdout}
	return cmd.Run(args)
}

// serve runs the experiment API with the LIMS admin routes until SIGINT or
// SIGTERM.
func (c *cli) serve(args []string) error {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	fs.SetOutput(c.stderr)
	listen := fs.String("listen", ":8080", "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *listen == "" {
		return fmt.Errorf("listen address is required")
	}

	db, err := c.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	mux := api.NewServer(db, tracefile.NewReader(), c.experimentOptions()...).ServeMux()
	if err := db.AttachAdminRoutes(mux); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              *listen,
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf("%s listening on %s", version.String(), *listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("Graceful shutdown complete")
	return nil
}
