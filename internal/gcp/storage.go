package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/cenkalti/backoff/v4"
	"google.golang.org/api/googleapi"
)

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetEnvInt reads an integer environment variable, falling back on absence or
// parse errors.
func GetEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Ignoring non-integer environment variable.", "key", key, "value", v)
		return fallback
	}
	return n
}

// SaveToGCSAtomically writes content to a GCS object only if it doesn't already exist.
func SaveToGCSAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName, content string) error {
	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = "text/html; charset=utf-8"

	if _, err := io.Copy(writer, strings.NewReader(content)); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == 412 {
			slog.Info("SKIPPING: Object already exists.", "gcsObject", objectName)
			return nil // Not a failure in an idempotent workflow.
		}
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

// BucketArchiver keeps copies of portal pages that could not be classified
// cleanly, so the page shape can be inspected after the fact.
type BucketArchiver struct {
	bucket     *storage.BucketHandle
	bucketName string
	maxRetries uint64
}

// NewBucketArchiver returns nil when bucketName is empty (archiving disabled).
func NewBucketArchiver(client *storage.Client, bucketName string) *BucketArchiver {
	if client == nil || bucketName == "" {
		return nil
	}
	return &BucketArchiver{bucket: client.Bucket(bucketName), bucketName: bucketName, maxRetries: 3}
}

// ArchivePage stores body under <caseNumber>/<unix-nanos>.html and returns the gs:// URI.
func (a *BucketArchiver) ArchivePage(ctx context.Context, caseNumber, reason string, body []byte) (string, error) {
	objectName := fmt.Sprintf("%s/%d.html", caseNumber, time.Now().UnixNano())
	logCtx := slog.With("gcsObject", objectName, "reason", reason)

	op := func() error {
		writeCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
		defer cancel()
		return SaveToGCSAtomically(writeCtx, a.bucket, objectName, string(body))
	}
	notify := func(err error, wait time.Duration) {
		logCtx.Warn("Archive upload failed, will retry.", "backoff", wait.String(), "error", err)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), a.maxRetries), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return "", fmt.Errorf("archive page for %s: %w", caseNumber, err)
	}

	uri := fmt.Sprintf("gs://%s/%s", a.bucketName, objectName)
	logCtx.Info("Archived portal page.", "gcsUri", uri)
	return uri, nil
}
