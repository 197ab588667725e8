package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	utils "dataferry/internal"
	"dataferry/internal/batch"
	"dataferry/internal/config"
	"dataferry/internal/logger"
	"dataferry/internal/resume"
	"dataferry/internal/s3"
	"dataferry/internal/tracker"
	"dataferry/internal/upload"
	"dataferry/internal/verify"
)

const endpointProbeTimeout = 3 * time.Second

var uploadCmd = &cli.Command{
	Name:  "upload",
	Usage: "Upload a directory or a list of files into a dataset",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "dir", Usage: "Directory to upload recursively"},
		&cli.StringSliceFlag{Name: "file", Usage: "File to upload (repeatable)"},
		&cli.StringFlag{Name: "target", Required: true, Usage: "Dataset path, e.g. group/name"},
		&cli.IntFlag{Name: "workers", Usage: "Concurrent workers (defaults to max_workers)"},
		&cli.BoolFlag{Name: "skip-existing", Usage: "Skip files already present remotely"},
		&cli.StringFlag{Name: "verify", Usage: "Equivalence check for --skip-existing: size, md5, sha256 or strict"},
		&cli.StringSliceFlag{Name: "filter", Usage: "File name glob to include (repeatable)"},
		&cli.StringFlag{Name: "multipart", Usage: "Multipart strategy: auto, force or off"},
		&cli.StringFlag{Name: "on-conflict", Value: "prompt", Usage: "When the dataset exists: proceed, abort, rename or prompt"},
		&cli.StringFlag{Name: "rename-to", Usage: "New dataset path for --on-conflict=rename"},
		&cli.StringFlag{Name: "task-name", Usage: "Task name reported to the tracker"},
		&cli.Int64Flag{Name: "eai-task-id", Usage: "External task id reported to the tracker"},
	},
	Action: func(c *cli.Context) error {
		rt, err := setup(c)
		if err != nil {
			return err
		}
		defer rt.close()

		if f := c.StringSlice("filter"); len(f) > 0 {
			rt.upload.Upload.FileFilters = f
		}
		if m := c.String("multipart"); m != "" {
			rt.upload.Upload.Multipart = m
		}

		method := rt.upload.Upload.VerifyMethod
		if c.IsSet("verify") {
			method = c.String("verify")
		}
		policy, err := verify.ParsePolicy(method)
		if err != nil {
			return cli.Exit(err.Error(), 2)
		}

		var resolver batch.ConflictResolver
		if c.String("on-conflict") == "prompt" {
			resolver = promptResolver(os.Stdin, os.Stdout)
		} else if resolver, err = batch.ParseConflictMode(c.String("on-conflict"), c.String("rename-to")); err != nil {
			return cli.Exit(err.Error(), 2)
		}

		ctx, stop := utils.ShutdownContext(c.Context)
		defer stop()

		coord, err := rt.coordinator(ctx, c.Int("workers"))
		if err != nil {
			return err
		}

		res := coord.Run(ctx, batch.Request{
			Directory:      c.String("dir"),
			Files:          c.StringSlice("file"),
			Target:         c.String("target"),
			SkipExisting:   c.Bool("skip-existing") || rt.upload.Upload.SkipExisting,
			Policy:         policy,
			OnConflict:     resolver,
			TaskName:       c.String("task-name"),
			ExternalTaskID: c.Int64("eai-task-id"),
		})

		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
		if !res.OK() {
			return cli.Exit(res.Message, 1)
		}
		return nil
	},
}

var resumeCmd = &cli.Command{
	Name:  "resume",
	Usage: "Inspect or clear stored multipart progress",
	Subcommands: []*cli.Command{
		{
			Name:  "list",
			Usage: "Print every stored resume record",
			Action: func(c *cli.Context) error {
				rs, closeFn, err := openResume(c)
				if err != nil {
					return err
				}
				defer closeFn()

				records, err := rs.All(c.Context)
				if err != nil {
					return err
				}
				for _, rec := range records {
					var bytes int64
					for _, p := range rec.Parts {
						bytes += p.Size
					}
					fmt.Fprintf(c.App.Writer, "%s\t%s\tsession=%s\tparts=%d\tbytes=%d\tupdated=%s\n",
						rec.Fingerprint, rec.Key, rec.SessionID, len(rec.Parts), bytes, rec.UpdatedAt.Format(time.RFC3339))
				}
				return nil
			},
		},
		{
			Name:  "clear",
			Usage: "Delete every stored resume record",
			Action: func(c *cli.Context) error {
				rs, closeFn, err := openResume(c)
				if err != nil {
					return err
				}
				defer closeFn()

				n, err := rs.Clear(c.Context)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "cleared %d resume records\n", n)
				return nil
			},
		},
	},
}

// runtime holds what every command needs: configuration, logging and the
// resume store, which only one process may hold open.
type runtime struct {
	cfg    *config.Config
	upload *config.UploadConfig
	log    *zap.SugaredLogger
	resume *resume.Store
}

func setup(c *cli.Context) (*runtime, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	uc, err := config.LoadUploadConfig(cfg.UploadConfigPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.New("dataferry")
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	rs, err := resume.Open(cfg.ResumeDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open resume store %s (is another upload running?): %w", cfg.ResumeDir, err)
	}
	return &runtime{cfg: cfg, upload: uc, log: log, resume: rs}, nil
}

func (rt *runtime) close() {
	if err := rt.resume.Close(); err != nil {
		rt.log.Warnw("failed to close resume store", "error", err)
	}
	rt.log.Sync()
}

// coordinator connects to the configured environment and builds the batch runner.
func (rt *runtime) coordinator(ctx context.Context, workers int) (*batch.Coordinator, error) {
	target := rt.cfg.Target(rt.upload)
	if target.Bucket == "" {
		return nil, fmt.Errorf("no bucket configured for environment %q", rt.cfg.Environment)
	}

	endpoint := config.SelectEndpoint(ctx, target.Endpoint, target.EndpointBackup, endpointProbeTimeout)
	if endpoint != target.Endpoint {
		rt.log.Warnw("primary endpoint unreachable, using backup", "primary", target.Endpoint, "backup", endpoint)
	}
	factory := s3.Factory(s3.Options{
		Region:       target.Region,
		Bucket:       target.Bucket,
		Endpoint:     endpoint,
		AccessKey:    rt.cfg.S3.AccessKey,
		SecretKey:    rt.cfg.S3.SecretKey,
		SessionToken: rt.cfg.S3.SessionToken,
	})

	var tr tracker.Tracker = tracker.Nop{}
	if target.ServerURL != "" {
		tr = tracker.NewHTTPTracker(target.ServerURL, rt.cfg.Tracker.Token)
	}

	u := rt.upload.Upload
	if workers <= 0 {
		workers = u.MaxWorkers
	}
	rt.log.Infow("using environment", "environment", rt.cfg.Environment, "bucket", target.Bucket,
		"endpoint", endpoint, "upload_target", target.UploadTarget, "workers", workers)

	return batch.NewCoordinator(factory, rt.resume, tr, batch.Options{
		Workers:          workers,
		UploadTarget:     target.UploadTarget,
		Upload:           uploadOptions(u),
		ProgressInterval: u.ProgressInterval(),
		Previews:         rt.upload.Previews,
	}, rt.log), nil
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if env := c.String("env"); env != "" {
		cfg.Environment = env
	}
	if path := c.String("config"); path != "" {
		cfg.UploadConfigPath = path
	}
	return cfg, nil
}

func openResume(c *cli.Context) (*resume.Store, func(), error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	rs, err := resume.Open(cfg.ResumeDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open resume store %s: %w", cfg.ResumeDir, err)
	}
	return rs, func() { rs.Close() }, nil
}

func uploadOptions(u config.UploadOptions) upload.Options {
	return upload.Options{
		Threshold:                 u.ThresholdBytes(),
		ChunkSize:                 u.PartSizeBytes(),
		Strategy:                  u.Multipart,
		MaxAttempts:               u.MaxAttempts,
		Backoff:                   u.RetryBackoff(),
		Filters:                   u.FileFilters,
		TolerateIntegrityMismatch: u.Tolerate(),
	}
}

// promptResolver asks on out what to do with an existing dataset and reads
// the answer from in.
func promptResolver(in io.Reader, out io.Writer) batch.ConflictResolver {
	reader := bufio.NewReader(in)
	readLine := func() (string, error) {
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}

	return func(ctx context.Context, target string) (batch.Decision, error) {
		for {
			fmt.Fprintf(out, "Target dataset '%s' already exists. Choose an action:\n"+
				"1. Use another dataset name\n"+
				"2. Continue with this dataset\n"+
				"3. Cancel upload\n"+
				"Choose [1/2/3]: ", target)
			choice, err := readLine()
			if err != nil {
				return batch.Decision{}, err
			}

			switch choice {
			case "1":
				fmt.Fprint(out, "New dataset path: ")
				name, err := readLine()
				if err != nil {
					return batch.Decision{}, err
				}
				if _, err := batch.NormalizeTarget(name); err != nil {
					fmt.Fprintf(out, "Error: %v\n", err)
					continue
				}
				return batch.RenameTo(name), nil
			case "2":
				return batch.Decision{Action: batch.UseAsIs}, nil
			case "3":
				return batch.Decision{Action: batch.Abort}, nil
			default:
				fmt.Fprintln(out, "Invalid choice, try again")
			}
		}
	}
}
