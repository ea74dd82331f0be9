// Package audit is the terminal stage of the pipeline. Every request ends
// in exactly one record here, whatever the outcome; writes are asynchronous
// so the request path never blocks on a sink.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ragworks/raggate/internal/model"
	"github.com/ragworks/raggate/internal/pkg/logger"
	"github.com/ragworks/raggate/internal/pkg/metrics"
)

const sinkTimeout = 3 * time.Second

// RecordStore persists audit records durably.
type RecordStore interface {
	InsertAudit(ctx context.Context, rec *model.AuditRecord) error
}

// Logger fans audit records out to an append-only jsonl file, an optional
// relational store, and an optional redis list for live tailing.
type Logger struct {
	ch     chan *model.AuditRecord
	buffer *ringBuffer

	file *os.File

	store RecordStore

	rdb     *redis.Client
	listKey string
	listMax int64
}

type Options struct {
	LogDir    string
	QueueSize int
	BufferMax int

	Store RecordStore

	Redis        *redis.Client
	RedisListKey string
	RedisListMax int64
}

// NewLogger opens the file sink eagerly so a misconfigured log directory
// fails at startup, not on the first request.
func NewLogger(opts Options) (*Logger, error) {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 4096
	}
	if opts.RedisListKey == "" {
		opts.RedisListKey = "audit:records"
	}
	if opts.RedisListMax <= 0 {
		opts.RedisListMax = 10000
	}

	var file *os.File
	if opts.LogDir != "" {
		if err := os.MkdirAll(opts.LogDir, 0o750); err != nil {
			return nil, fmt.Errorf("create audit log dir: %w", err)
		}
		path := filepath.Join(opts.LogDir, "audit.jsonl")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		file = f
	}

	return &Logger{
		ch:      make(chan *model.AuditRecord, opts.QueueSize),
		buffer:  newRingBuffer(opts.BufferMax),
		file:    file,
		store:   opts.Store,
		rdb:     opts.Redis,
		listKey: opts.RedisListKey,
		listMax: opts.RedisListMax,
	}, nil
}

// Record enqueues one terminal-outcome record. It never blocks; when the
// queue is full the record is dropped and counted.
func (l *Logger) Record(rec *model.AuditRecord) {
	if rec == nil {
		return
	}
	l.buffer.add(rec)
	select {
	case l.ch <- rec:
	default:
		metrics.AuditDropped.Inc()
		logger.Warn("audit queue full, dropping record", "record_id", rec.ID)
	}
}

// List serves the admin listing from the in-memory buffer.
func (l *Logger) List(tenantID string, limit int) []*model.AuditRecord {
	return l.buffer.snapshot(tenantID, limit)
}

// Run drains the queue until ctx is cancelled, then flushes whatever is
// still queued before returning.
func (l *Logger) Run(ctx context.Context) error {
	for {
		select {
		case rec := <-l.ch:
			l.write(rec)
		case <-ctx.Done():
			for {
				select {
				case rec := <-l.ch:
					l.write(rec)
				default:
					if l.file != nil {
						l.file.Close()
					}
					return ctx.Err()
				}
			}
		}
	}
}

func (l *Logger) write(rec *model.AuditRecord) {
	line, err := json.Marshal(rec)
	if err != nil {
		logger.Error("marshal audit record", "error", err, "record_id", rec.ID)
		return
	}

	if l.file != nil {
		if _, err := l.file.Write(append(line, '\n')); err != nil {
			logger.Error("write audit file", "error", err, "record_id", rec.ID)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	if l.store != nil {
		if err := l.store.InsertAudit(ctx, rec); err != nil {
			// One retry for transient store failures, then give up; the
			// file sink already has the record.
			if err := l.store.InsertAudit(ctx, rec); err != nil {
				logger.Error("persist audit record", "error", err, "record_id", rec.ID)
			}
		}
	}

	if l.rdb != nil {
		pipe := l.rdb.TxPipeline()
		pipe.LPush(ctx, l.listKey, line)
		pipe.LTrim(ctx, l.listKey, 0, l.listMax-1)
		if _, err := pipe.Exec(ctx); err != nil {
			logger.Warn("push audit record to redis", "error", err, "record_id", rec.ID)
		}
	}
}
