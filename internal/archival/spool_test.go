// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package archival

import (
	"context"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/aivorynet/agent-go/internal/config"
)

type fakeUploader struct {
	calls int
	last  *s3.PutObjectInput
}

func (f *fakeUploader) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.calls++
	f.last = params
	return &s3.PutObjectOutput{}, nil
}

func TestSpoolDisabledFlushIsNoOp(t *testing.T) {
	cfg := config.Default()
	cfg.APIKey = "k"
	sp, err := NewSpool(context.Background(), cfg, slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sp.Add([]byte(`{"id":"1"}`))
	if err := sp.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected error flushing disabled spool: %v", err)
	}
	if sp.Len() != 1 {
		t.Fatalf("expected disabled spool to retain its batch, len = %d", sp.Len())
	}
}

func TestSpoolAddDropsOldestOnOverflow(t *testing.T) {
	sp := &Spool{}
	for i := 0; i < defaultSpoolCapacity+10; i++ {
		sp.Add([]byte{byte(i)})
	}
	if sp.Len() != defaultSpoolCapacity {
		t.Fatalf("len = %d, want %d", sp.Len(), defaultSpoolCapacity)
	}
	if sp.Dropped() != 10 {
		t.Fatalf("dropped = %d, want 10", sp.Dropped())
	}
}

func TestSpoolFlushUploadsAndClearsBatch(t *testing.T) {
	fake := &fakeUploader{}
	sp := &Spool{
		cfg:    config.Config{ArchivalBucket: "bucket", ArchivalPrefix: "crash/"},
		logger: slog.Default(),
		client: fake,
	}
	sp.Add([]byte(`{"id":"1"}`))
	sp.Add([]byte(`{"id":"2"}`))

	if err := sp.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.calls != 1 {
		t.Fatalf("expected exactly one upload, got %d", fake.calls)
	}
	if sp.Len() != 0 {
		t.Fatalf("expected batch cleared after flush, len = %d", sp.Len())
	}
	if fake.last == nil || *fake.last.Bucket != "bucket" {
		t.Fatalf("unexpected bucket in upload call")
	}
}

func TestSpoolFlushEmptyBatchSkipsUpload(t *testing.T) {
	fake := &fakeUploader{}
	sp := &Spool{cfg: config.Config{ArchivalBucket: "bucket"}, logger: slog.Default(), client: fake}

	if err := sp.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.calls != 0 {
		t.Fatalf("expected no upload for an empty batch, got %d calls", fake.calls)
	}
}
