// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package archival implements the optional archival spool described in
// SPEC_FULL.md: a best-effort side channel that batches encoded records
// the main queue would otherwise have silently evicted, compresses
// them, and uploads the bundle to S3 on a cron schedule. It never
// touches the wire protocol of spec.md §6 and is disabled by default.
package archival

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/pgzip"

	"github.com/aivorynet/agent-go/internal/config"
	"github.com/aivorynet/agent-go/internal/logging"
)

// defaultSpoolCapacity bounds the in-memory backlog awaiting the next
// flush; like the main queue, it drops the oldest entry on overflow
// rather than rejecting a push.
const defaultSpoolCapacity = 500

// uploader is the subset of the S3 client Spool needs, so tests can
// substitute a fake.
type uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Spool batches dropped/undeliverable encoded records for best-effort
// recovery via periodic S3 upload.
type Spool struct {
	cfg    config.Config
	logger *slog.Logger

	mu      sync.Mutex
	items   [][]byte
	dropped uint64

	client uploader
}

// NewSpool constructs a Spool. When cfg.ArchivalEnabled is false, the
// returned Spool accepts Add calls (so callers need no nil-check) but
// Flush is a no-op, since there is nowhere to send a bundle.
func NewSpool(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Spool, error) {
	sp := &Spool{
		cfg:    cfg,
		logger: logging.Component(logger, "archival"),
	}

	if !cfg.ArchivalEnabled {
		return sp, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.ArchivalAWSRegion != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.ArchivalAWSRegion))
	}
	if cfg.ArchivalAccessKeyID != "" && cfg.ArchivalSecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.ArchivalAccessKeyID, cfg.ArchivalSecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archival: loading aws config: %w", err)
	}

	sp.client = s3.NewFromConfig(awsCfg)
	return sp, nil
}

// Add appends an encoded record to the spool, evicting the oldest
// entry first if the spool is at capacity.
func (s *Spool) Add(record []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.items) >= defaultSpoolCapacity {
		s.items = s.items[1:]
		s.dropped++
	}
	s.items = append(s.items, record)
}

// Dropped returns the number of spool entries evicted by overflow.
func (s *Spool) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Len reports the number of records currently batched awaiting flush.
func (s *Spool) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Flush compresses every batched record into a single gzip bundle (one
// JSON record per line) and uploads it to the configured bucket. It is
// a no-op when archival is disabled or the batch is empty.
func (s *Spool) Flush(ctx context.Context) error {
	if s.client == nil {
		return nil
	}

	s.mu.Lock()
	batch := s.items
	s.items = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	var buf bytes.Buffer
	gz := pgzip.NewWriter(&buf)
	for _, record := range batch {
		if _, err := gz.Write(record); err != nil {
			gz.Close()
			return fmt.Errorf("archival: compressing bundle: %w", err)
		}
		if _, err := gz.Write([]byte("\n")); err != nil {
			gz.Close()
			return fmt.Errorf("archival: compressing bundle: %w", err)
		}
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("archival: closing bundle writer: %w", err)
	}

	key := fmt.Sprintf("%sagent-%d.jsonl.gz", s.cfg.ArchivalPrefix, time.Now().UnixNano())

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &s.cfg.ArchivalBucket,
		Key:    &key,
		Body:   bytes.NewReader(buf.Bytes()),
	})
	if err != nil {
		s.logger.Warn("archival upload failed, records lost", "error", err, "records", len(batch))
		return fmt.Errorf("archival: uploading bundle: %w", err)
	}

	s.logger.Debug("archival bundle uploaded", "records", len(batch), "key", key, "bytes", buf.Len())
	return nil
}
