package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/dvuploader/cmd/dvuploader/commands/cmdutil"
	"github.com/marmos91/dvuploader/internal/cli/output"
	"github.com/marmos91/dvuploader/internal/cli/prompt"
	"github.com/marmos91/dvuploader/internal/logger"
	"github.com/marmos91/dvuploader/internal/telemetry"
	"github.com/marmos91/dvuploader/pkg/checksum"
	"github.com/marmos91/dvuploader/pkg/checksum/badger"
	"github.com/marmos91/dvuploader/pkg/config"
	"github.com/marmos91/dvuploader/pkg/journal"
	"github.com/marmos91/dvuploader/pkg/metrics"
	"github.com/marmos91/dvuploader/pkg/repository"
	"github.com/marmos91/dvuploader/pkg/upload"

	// Register Prometheus implementations of the upload and digest metrics.
	_ "github.com/marmos91/dvuploader/pkg/metrics/prometheus"
)

var uploadFlags struct {
	url         string
	token       string
	dataset     string
	dest        string
	recurse     bool
	verify      bool
	direct      bool
	skip        int
	limit       int
	listOnly    bool
	forceNew    bool
	fixity      string
	concurrency int
	timeout     time.Duration
	maxLockWait time.Duration
	description string
	allFiles    bool
	insecure    bool
}

var uploadCmd = &cobra.Command{
	Use:   "upload <path>...",
	Short: "Upload files and directories into a dataset",
	Long: `Upload local files and directories into the configured dataset.

Directory arguments contribute their immediate files, or their whole tree
with --recurse. Files already present in the dataset are skipped, unless
--force-new is given. Transient failures are retried per operation and
failed files are retried in later batch passes.

Examples:
  # Upload a directory tree into data/raw
  dvuploader upload --recurse --dest data/raw ./measurements

  # Report what would be uploaded without transferring anything
  dvuploader upload --list-only ./measurements

  # Upload straight to object storage, verifying digests afterwards
  dvuploader upload --direct --verify ./big.h5

  # Machine-readable report
  dvuploader upload -o json ./file.csv`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpload,
}

func init() {
	f := uploadCmd.Flags()
	f.StringVar(&uploadFlags.url, "url", "", "Repository base URL")
	f.StringVar(&uploadFlags.token, "token", "", "API token (prefer DVUPLOADER_REPOSITORY_API_TOKEN)")
	f.StringVarP(&uploadFlags.dataset, "dataset", "d", "", "Dataset persistent identifier")
	f.StringVar(&uploadFlags.dest, "dest", "", "Destination directory inside the dataset")
	f.BoolVarP(&uploadFlags.recurse, "recurse", "r", false, "Descend into subdirectories")
	f.BoolVar(&uploadFlags.verify, "verify", false, "Detect duplicates by content and verify digests after upload")
	f.BoolVar(&uploadFlags.direct, "direct", false, "Upload directly to object storage when supported")
	f.IntVar(&uploadFlags.skip, "skip", 0, "Skip the first N files of the expanded list")
	f.IntVar(&uploadFlags.limit, "limit", 0, "Process at most N files (0 for all)")
	f.BoolVar(&uploadFlags.listOnly, "list-only", false, "Resolve duplicates and report without uploading")
	f.BoolVar(&uploadFlags.forceNew, "force-new", false, "Upload every file, even if already present")
	f.StringVar(&uploadFlags.fixity, "fixity", "", "Fixity algorithm for direct uploads (MD5, SHA-1, SHA-256, SHA-512)")
	f.IntVarP(&uploadFlags.concurrency, "concurrency", "c", 0, "Files transferred in parallel")
	f.DurationVar(&uploadFlags.timeout, "timeout", 0, "Timeout of a single network attempt")
	f.DurationVar(&uploadFlags.maxLockWait, "max-lock-wait", 0, "Lock-wait budget of the whole batch")
	f.StringVar(&uploadFlags.description, "description", "", "Description attached to every new file")
	f.BoolVar(&uploadFlags.allFiles, "all-files", false, "List every file in the report, not only failures")
	f.BoolVar(&uploadFlags.insecure, "insecure", false, "Skip TLS certificate verification")
}

// applyUploadFlags overrides cfg with the flags set on the command line.
func applyUploadFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("url") {
		cfg.Repository.URL = uploadFlags.url
	}
	if f.Changed("token") {
		cfg.Repository.APIToken = uploadFlags.token
	}
	if f.Changed("dataset") {
		cfg.Repository.DatasetPID = uploadFlags.dataset
	}
	if f.Changed("insecure") {
		cfg.Repository.InsecureSkipVerify = uploadFlags.insecure
	}
	if f.Changed("dest") {
		cfg.Upload.Destination = uploadFlags.dest
	}
	if f.Changed("recurse") {
		cfg.Upload.Recurse = uploadFlags.recurse
	}
	if f.Changed("verify") {
		cfg.Upload.Verify = uploadFlags.verify
	}
	if f.Changed("direct") {
		cfg.Upload.Direct = uploadFlags.direct
	}
	if f.Changed("fixity") {
		cfg.Upload.Fixity = uploadFlags.fixity
	}
	if f.Changed("concurrency") {
		cfg.Upload.Concurrency = uploadFlags.concurrency
	}
	if f.Changed("timeout") {
		cfg.Upload.Timeout = uploadFlags.timeout
	}
	if f.Changed("max-lock-wait") {
		cfg.Upload.MaxLockWait = uploadFlags.maxLockWait
	}
	if f.Changed("description") {
		cfg.Upload.Description = uploadFlags.description
	}
}

func runUpload(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.LoadConfig()
	if err != nil {
		return err
	}
	applyUploadFlags(cmd, cfg)

	if cfg.Repository.APIToken == "" && prompt.IsInteractive() {
		token, err := prompt.Token("API token")
		if err != nil {
			return err
		}
		cfg.Repository.APIToken = token
	}
	if err := cfg.Repository.Check(); err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return &upload.ConfigurationError{Field: "config", Message: err.Error()}
	}
	if err := cmdutil.InitLogger(cfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Close()

	printer, err := cmdutil.GetPrinter(cmd.OutOrStdout())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "dvuploader",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("Telemetry shutdown error", logger.Err(err))
		}
	}()

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		if cfg.Metrics.Port > 0 {
			metricsCtx, cancelMetrics := context.WithCancel(ctx)
			defer cancelMetrics()
			go func() {
				addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
				if err := metrics.Serve(metricsCtx, addr); err != nil {
					logger.Warn("Metrics server stopped", logger.Err(err))
				}
			}()
		}
	}

	var store checksum.Store
	if cfg.DigestCache.Enabled {
		cache, err := badger.Open(cfg.DigestCache.Path)
		if err != nil {
			logger.Warn("Digest cache unavailable, digests will not persist", "path", cfg.DigestCache.Path, logger.Err(err))
		} else {
			defer func() {
				if err := cache.Trim(cfg.DigestCache.MaxSize.Int64()); err != nil {
					logger.Warn("Digest cache trim failed", logger.Err(err))
				}
				_ = cache.Close()
			}()
			store = cache
		}
	}
	digests := checksum.NewEngine(store)
	metrics.ObserveDigests(digests, metrics.NewDigestMetrics())

	repoOpts := []repository.Option{
		repository.WithToken(cfg.Repository.APIToken),
		repository.WithUserAgent("dvuploader/" + Version),
	}
	if cfg.Repository.InsecureSkipVerify {
		repoOpts = append(repoOpts, repository.WithInsecureTLS())
	}
	client := repository.New(cfg.Repository.URL, cfg.Repository.DatasetPID, repoOpts...)

	engine := upload.NewEngine(client,
		upload.WithChecksums(digests),
		upload.WithMetrics(metrics.NewUploadMetrics()),
	)

	opts := cfg.UploadOptions()
	opts.Skip = uploadFlags.skip
	opts.Limit = uploadFlags.limit
	opts.ListOnly = uploadFlags.listOnly
	opts.ForceNew = uploadFlags.forceNew

	result, err := engine.ProcessBatch(ctx, args, cfg.Upload.Destination, opts)
	if err != nil {
		return err
	}

	if cfg.Journal.Enabled {
		recordBatch(&cfg.Journal.Config, result)
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Textfile != "" {
		if err := metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.Warn("Failed to write metrics textfile", "path", cfg.Metrics.Textfile, logger.Err(err))
		}
	}

	if err := output.PrintReport(printer, result, uploadFlags.allFiles); err != nil {
		return err
	}

	if result.Cancelled || result.Counters.FailedFiles > 0 {
		return fmt.Errorf("%w: %d failed, cancelled=%t", cmdutil.ErrIncomplete, result.Counters.FailedFiles, result.Cancelled)
	}
	return nil
}

// recordBatch stores result in the journal. Failures are logged only; the
// batch itself has already completed.
func recordBatch(cfg *journal.Config, result *upload.Result) {
	store, err := journal.Open(cfg)
	if err != nil {
		logger.Warn("Failed to open journal", logger.Err(err))
		return
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := store.Record(ctx, result); err != nil && !errors.Is(err, journal.ErrDuplicateBatch) {
		logger.Warn("Failed to record batch in journal", "batch_id", result.BatchID, logger.Err(err))
	}
}
