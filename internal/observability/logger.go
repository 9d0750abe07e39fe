// Package observability wires structured logging, Prometheus metrics,
// and OpenTelemetry/Jaeger tracing for the upload and download
// pipelines.
package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{
		logger: logger,
	}
}

// WithFile adds file context to logger.
func (l *Logger) WithFile(filePath string, fileSize int64) *Logger {
	return &Logger{
		logger: l.logger.With().
			Str("file_path", filePath).
			Int64("file_size", fileSize).
			Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(err error, msg string) {
	l.logger.Fatal().Err(err).Msg(msg)
}

// UploadStarted logs the start of an upload pipeline run for one file.
func (l *Logger) UploadStarted(filePath string, fileSize int64, chunkCount int64) {
	l.logger.Info().
		Str("file_path", filePath).
		Int64("file_size", fileSize).
		Int64("chunk_count", chunkCount).
		Msg("upload started")
}

// ChunkUploaded logs a successfully encoded-and-stored chunk.
func (l *Logger) ChunkUploaded(chunkIndex int64, encryptedSize int, shardCount int) {
	l.logger.Debug().
		Int64("chunk_index", chunkIndex).
		Int("encrypted_size", encryptedSize).
		Int("shard_count", shardCount).
		Msg("chunk uploaded")
}

// UploadProgress logs progress for an in-flight upload.
func (l *Logger) UploadProgress(filePath string, percent int) {
	l.logger.Debug().
		Str("file_path", filePath).
		Int("percent", percent).
		Msg("upload progress")
}

// UploadCompleted logs completion of an upload.
func (l *Logger) UploadCompleted(filePath string, chunkCount int64, duration time.Duration) {
	l.logger.Info().
		Str("file_path", filePath).
		Int64("chunk_count", chunkCount).
		Float64("duration_seconds", duration.Seconds()).
		Msg("upload completed")
}

// UploadFailed logs a fatal per-file upload error.
func (l *Logger) UploadFailed(filePath string, err error) {
	l.logger.Error().
		Str("file_path", filePath).
		Err(err).
		Msg("upload failed")
}

// DownloadStarted logs the start of a download pipeline run.
func (l *Logger) DownloadStarted(chunkCount int, excluded []int) {
	l.logger.Info().
		Int("chunk_count", chunkCount).
		Ints("excluded_shards", excluded).
		Msg("download started")
}

// ChunkDownloaded logs a successfully decoded-and-verified chunk.
func (l *Logger) ChunkDownloaded(chunkIndex int) {
	l.logger.Debug().
		Int("chunk_index", chunkIndex).
		Msg("chunk downloaded")
}

// ChunkAuthFailed logs an AEAD verification failure during download.
func (l *Logger) ChunkAuthFailed(chunkIndex int, err error) {
	l.logger.Error().
		Int("chunk_index", chunkIndex).
		Err(err).
		Msg("chunk authentication failed")
}

// ShardFetchFailed logs a failed shard GET, used to feed bucket health.
func (l *Logger) ShardFetchFailed(bucketIdx int, uri string, err error) {
	l.logger.Warn().
		Int("bucket_index", bucketIdx).
		Str("uri", uri).
		Err(err).
		Msg("shard fetch failed")
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
