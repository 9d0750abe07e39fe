// Command vaultctl is the operator CLI for the erasure-coded storage
// engine: upload a file across its configured buckets, or download one
// back from a previously stored manifest.
package main

import (
	"context"
	"crypto/sha256"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/quantarax/vaultmesh/internal/bucket"
	"github.com/quantarax/vaultmesh/internal/config"
	"github.com/quantarax/vaultmesh/internal/cryptutil"
	"github.com/quantarax/vaultmesh/internal/manifeststore"
	"github.com/quantarax/vaultmesh/internal/observability"
	"github.com/quantarax/vaultmesh/internal/pipeline"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	shutdownTracing, err := observability.InitTracing(context.Background(), "vaultctl")
	if err != nil {
		fmt.Fprintf(os.Stderr, "vaultctl: init tracing: %v\n", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	switch os.Args[1] {
	case "upload":
		err = runUpload(os.Args[2:])
	case "download":
		err = runDownload(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "vaultctl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: vaultctl <upload|download> [options]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "  vaultctl upload -config cfg.json -id myfile <path>")
	fmt.Fprintln(os.Stderr, "  vaultctl download -config cfg.json -id myfile <output-path>")
}

func runUpload(args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to JSON config (default: built-in defaults)")
	fileID := fs.String("id", "", "File identifier to store the manifest under (default: input file name)")
	passphrase := fs.String("passphrase", "", "Derive the file's AEAD key from this passphrase instead of generating a random one")
	fs.Parse(args)

	if fs.NArg() < 1 {
		return fmt.Errorf("usage: vaultctl upload [-config path] [-id name] <file_path>")
	}
	filePath := fs.Arg(0)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	id := *fileID
	if id == "" {
		id = filePath
	}

	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", filePath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", filePath, err)
	}

	deps, err := newDeps(cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	up, err := pipeline.NewUploadPipeline(cfg, deps.buckets, deps.transport, deps.manifests, deps.logger, deps.metrics)
	if err != nil {
		return fmt.Errorf("build upload pipeline: %w", err)
	}
	up.Start()
	defer up.Stop(false)

	fmt.Fprintf(os.Stderr, "Uploading %s (%s) as %q across %d buckets, %d required to recover...\n",
		filePath, humanize.Bytes(uint64(info.Size())), id, cfg.N, cfg.K)

	done := make(chan *manifeststore.StoredFile, 1)
	var uploadErr error
	start := time.Now()
	callback := pipeline.UploadCallbackFuncs{
		OnUpdate: func(percent int) {
			fmt.Fprintf(os.Stderr, "\rUploading... %d%%", percent)
		},
		OnClose: func(_ any, manifest *manifeststore.StoredFile) {
			if manifest == nil {
				uploadErr = fmt.Errorf("upload failed, see logs for detail")
			}
			done <- manifest
		},
	}
	if *passphrase != "" {
		// Salted on the file's id rather than its content digest (which
		// isn't known until the upload's hash pass completes): still
		// unique per stored file, which is all DeriveRootKey requires.
		salt := sha256.Sum256([]byte(id))
		key, err := cryptutil.DeriveRootKey([]byte(*passphrase), salt[:])
		if err != nil {
			return fmt.Errorf("derive key from passphrase: %w", err)
		}
		up.UploadFileWithKey(id, f, info.Size(), key, callback)
	} else {
		up.UploadFile(id, f, info.Size(), callback)
	}
	<-done
	fmt.Fprintln(os.Stderr)
	if uploadErr != nil {
		return uploadErr
	}

	fmt.Fprintf(os.Stderr, "Upload complete in %s. Manifest stored under id %q.\n", time.Since(start).Round(time.Millisecond), id)
	return nil
}

func runDownload(args []string) error {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to JSON config (default: built-in defaults)")
	fileID := fs.String("id", "", "File identifier the manifest was stored under")
	fs.Parse(args)

	if fs.NArg() < 1 {
		return fmt.Errorf("usage: vaultctl download [-config path] -id name <output_path>")
	}
	if *fileID == "" {
		return fmt.Errorf("-id is required")
	}
	outputPath := fs.Arg(0)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	deps, err := newDeps(cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	manifest, err := deps.manifests.Get(*fileID)
	if err != nil {
		return fmt.Errorf("look up manifest %q: %w", *fileID, err)
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", outputPath, err)
	}
	defer out.Close()

	down, err := pipeline.NewDownloadPipeline(cfg, deps.buckets, deps.transport, nil, deps.logger, deps.metrics)
	if err != nil {
		return fmt.Errorf("build download pipeline: %w", err)
	}
	down.Start()
	defer down.Stop(false)

	fmt.Fprintf(os.Stderr, "Downloading %q to %s across %d buckets (%d of %d chunks)...\n",
		*fileID, outputPath, cfg.N, manifest.ChunkCount, manifest.ChunkCount)

	start := time.Now()
	done := make(chan struct{})
	down.DownloadFile(*fileID, manifest, out, pipeline.DownloadCallbackFuncs{
		OnUpdate: func(percent int) {
			fmt.Fprintf(os.Stderr, "\rDownloading... %d%%", percent)
		},
		OnClose: func() {
			close(done)
		},
	})
	<-done
	fmt.Fprintln(os.Stderr)

	fmt.Fprintf(os.Stderr, "Download complete in %s.\n", time.Since(start).Round(time.Millisecond))
	return nil
}

// deps bundles the shared infrastructure both subcommands need, closed
// together once the command finishes.
type deps struct {
	buckets   bucket.Set
	transport bucket.Transport
	manifests *manifeststore.Store
	logger    *observability.Logger
	metrics   *observability.Metrics
	healthSrv *http.Server
}

func newDeps(cfg *config.Config) (*deps, error) {
	if len(cfg.BucketTemplates) == 0 {
		return nil, fmt.Errorf("config has no bucket_templates configured")
	}
	buckets, err := bucket.NewStaticSet(cfg.K, cfg.BucketTemplates)
	if err != nil {
		return nil, fmt.Errorf("build bucket set: %w", err)
	}

	manifests, err := manifeststore.Open(cfg.ManifestStorePath)
	if err != nil {
		return nil, fmt.Errorf("open manifest store %s: %w", cfg.ManifestStorePath, err)
	}

	logger := observability.NewLogger("vaultctl", "dev", os.Stderr)
	metrics := observability.NewMetrics()

	d := &deps{
		buckets:   buckets,
		transport: bucket.NewHTTPTransport(nil),
		manifests: manifests,
		logger:    logger,
		metrics:   metrics,
	}

	if cfg.MetricsAddress != "" {
		d.healthSrv = startHealthServer(cfg.MetricsAddress, metrics, manifests)
	}

	return d, nil
}

// startHealthServer serves /metrics (Prometheus) and /healthz (manifest
// store reachability) on addr, logging but not failing the command if the
// listener can't be opened.
func startHealthServer(addr string, metrics *observability.Metrics, manifests *manifeststore.Store) *http.Server {
	checker := observability.NewHealthChecker("dev")
	checker.RegisterCheck("manifest_store", observability.ManifestStoreCheck(manifests.Ping))

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", checker.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "vaultctl: health/metrics server: %v\n", err)
		}
	}()
	return srv
}

func (d *deps) Close() {
	if d.healthSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		d.healthSrv.Shutdown(ctx)
	}
	if d.manifests != nil {
		d.manifests.Close()
	}
}
