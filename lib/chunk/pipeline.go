// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package chunk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lucid-foundation/lucid/lib/appendlog"
	"github.com/lucid-foundation/lucid/lib/clock"
	"github.com/lucid-foundation/lucid/lib/compress"
	"github.com/lucid-foundation/lucid/lib/digest"
	"github.com/lucid-foundation/lucid/lib/merkle"
	"github.com/lucid-foundation/lucid/lib/ref"
)

// Store persists sealed chunks. Put is called from the committer in
// index order. An error fails only that chunk.
type Store interface {
	Put(ctx context.Context, record Record, sealed []byte) error
}

// Defaults applied by New for zero Config fields.
const (
	DefaultWorkers          = 2
	DefaultFailureThreshold = 5
	DefaultDrainTimeout     = 30 * time.Second
)

// Config configures a Pipeline.
type Config struct {
	Session   ref.SessionID
	Encryptor Encryptor
	Store     Store

	// TargetSize is the size at which buffered bytes are cut into a
	// chunk.
	TargetSize int

	// Compression forces one algorithm. Nil selects per chunk.
	Compression *compress.Algorithm

	// Workers is the number of goroutines in each of the compression
	// and encryption stages.
	Workers int

	// FailureThreshold is the number of consecutive chunk failures
	// that fails the pipeline.
	FailureThreshold int

	// DrainTimeout bounds how long Finish waits for in-flight chunks.
	DrainTimeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger

	// OnCommit and OnFailure are called from the committer goroutine
	// and must not block.
	OnCommit  func(Record)
	OnFailure func(*Error)
}

// Summary is what Finish reports about a drained pipeline.
type Summary struct {
	Records []Record
	Leaves  []digest.Hash

	// Root is zero when no chunk was committed.
	Root digest.Hash

	Submitted uint64
	Failed    uint64

	// Abandoned counts chunks still in flight when the drain timeout
	// expired.
	Abandoned uint64

	RawBytes    int64
	SealedBytes int64
}

type stagedChunk struct {
	sequence    uint64
	rawSize     int
	data        []byte
	compressed  int
	compression compress.Algorithm
	err         *Error
}

type result struct {
	sequence uint64
	record   Record
	sealed   []byte
	err      *Error
}

// Pipeline is the per-session chunk pipeline. Write and Finish must be
// called from one goroutine (the session owner); Abort, Err, Failed,
// and Records are safe from any goroutine.
type Pipeline struct {
	config Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	jobs       chan stagedChunk
	compressed chan stagedChunk
	results    chan result
	done       chan struct{}

	intakeMu     sync.Mutex
	intakeClosed bool
	segmenter    *Segmenter
	// backlog holds completed segments a cancelled Write could not
	// submit. They keep their place ahead of later data.
	backlog   [][]byte
	submitted uint64

	commitMu    sync.Mutex
	sealed      bool
	nextIndex   uint64
	consecutive int
	failed      uint64
	rawBytes    int64
	sealedBytes int64
	records     appendlog.Log[Record]
	builder     *merkle.Builder

	aborted   atomic.Bool
	fatal     atomic.Pointer[Error]
	failOnce  sync.Once
	failedSig chan struct{}
}

// New starts a pipeline's worker goroutines.
func New(config Config) (*Pipeline, error) {
	if config.Session.IsZero() {
		return nil, fmt.Errorf("pipeline requires a session id")
	}
	if config.Encryptor == nil {
		return nil, fmt.Errorf("pipeline requires an encryptor")
	}
	if config.Store == nil {
		return nil, fmt.Errorf("pipeline requires a store")
	}
	if config.TargetSize <= 0 {
		return nil, fmt.Errorf("chunk target size must be positive, got %d", config.TargetSize)
	}
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultFailureThreshold
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = DefaultDrainTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	pipeline := &Pipeline{
		config:     config,
		logger:     logger.With("session_id", config.Session.String()),
		ctx:        ctx,
		cancel:     cancel,
		jobs:       make(chan stagedChunk, config.Workers),
		compressed: make(chan stagedChunk, config.Workers),
		results:    make(chan result, config.Workers),
		done:       make(chan struct{}),
		segmenter:  NewSegmenter(config.TargetSize),
		builder:    merkle.NewBuilder(),
		failedSig:  make(chan struct{}),
	}

	var compressors, encryptors sync.WaitGroup
	for range config.Workers {
		compressors.Add(1)
		go func() {
			defer compressors.Done()
			pipeline.compressLoop()
		}()
		encryptors.Add(1)
		go func() {
			defer encryptors.Done()
			pipeline.encryptLoop()
		}()
	}
	go func() {
		compressors.Wait()
		close(pipeline.compressed)
	}()
	go func() {
		encryptors.Wait()
		close(pipeline.results)
	}()
	go pipeline.commitLoop()

	return pipeline, nil
}

// Write buffers data and submits every chunk it completes. Write blocks
// while the workers are saturated. When ctx ends first, data is still
// accepted: the chunks not yet submitted are held and go out, in
// order, with the next Write or with Finish.
func (p *Pipeline) Write(ctx context.Context, data []byte) error {
	p.intakeMu.Lock()
	defer p.intakeMu.Unlock()
	if p.intakeClosed {
		return ErrClosed
	}
	if err := p.Err(); err != nil {
		return err
	}
	p.backlog = append(p.backlog, p.segmenter.Add(data)...)
	return p.drainBacklogLocked(ctx)
}

// drainBacklogLocked submits held segments in order, stopping at the
// first one that is not accepted.
func (p *Pipeline) drainBacklogLocked(ctx context.Context) error {
	for len(p.backlog) > 0 {
		if err := p.submitLocked(ctx, p.backlog[0]); err != nil {
			p.logger.Debug("chunks held for the next submission", "held", len(p.backlog), "error", err)
			return err
		}
		p.backlog[0] = nil
		p.backlog = p.backlog[1:]
	}
	p.backlog = nil
	return nil
}

// Held returns the number of completed chunks waiting to be submitted.
func (p *Pipeline) Held() int {
	p.intakeMu.Lock()
	defer p.intakeMu.Unlock()
	return len(p.backlog)
}

// submitLocked must be called with intakeMu held. The sequence number
// is consumed only once the chunk is accepted by the first stage.
func (p *Pipeline) submitLocked(ctx context.Context, segment []byte) error {
	job := stagedChunk{sequence: p.submitted, rawSize: len(segment), data: segment}
	select {
	case p.jobs <- job:
		p.submitted++
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		if err := p.Err(); err != nil {
			return err
		}
		return ErrAborted
	}
}

func (p *Pipeline) compressLoop() {
	for job := range p.jobs {
		if p.ctx.Err() != nil {
			continue
		}
		data, algorithm, err := compress.Auto(job.data, p.config.Compression)
		if err != nil {
			job.err = &Error{Kind: KindChunk, Stage: StageCompress, Sequence: job.sequence, Err: err}
		} else {
			job.data = data
			job.compressed = len(data)
			job.compression = algorithm
		}
		select {
		case p.compressed <- job:
		case <-p.ctx.Done():
		}
	}
}

func (p *Pipeline) encryptLoop() {
	for staged := range p.compressed {
		out := result{sequence: staged.sequence, err: staged.err}
		if out.err == nil {
			if p.ctx.Err() != nil {
				continue
			}
			out = p.seal(staged)
		}
		select {
		case p.results <- out:
		case <-p.ctx.Done():
		}
	}
}

func (p *Pipeline) seal(staged stagedChunk) result {
	header := Header{
		Session:     p.config.Session,
		Sequence:    staged.sequence,
		Compression: staged.compression,
		RawSize:     staged.rawSize,
	}
	sealed, nonce, err := p.config.Encryptor.Encrypt(header, staged.data)
	if err != nil {
		kind := KindChunk
		if errors.Is(err, ErrNonceReuse) {
			kind = KindIntegrity
		}
		return result{
			sequence: staged.sequence,
			err:      &Error{Kind: kind, Stage: StageEncrypt, Sequence: staged.sequence, Err: err},
		}
	}
	return result{
		sequence: staged.sequence,
		sealed:   sealed,
		record: Record{
			Session:        p.config.Session,
			Sequence:       staged.sequence,
			RawSize:        staged.rawSize,
			CompressedSize: staged.compressed,
			SealedSize:     len(sealed),
			Compression:    staged.compression,
			Hash:           digest.Ciphertext(sealed),
			Nonce:          nonce,
			CreatedAt:      p.config.Clock.Now(),
		},
	}
}

// commitLoop re-sequences results and commits them in sequence order.
func (p *Pipeline) commitLoop() {
	defer close(p.done)
	pending := make(map[uint64]result)
	var next uint64
	for out := range p.results {
		pending[out.sequence] = out
		for {
			ready, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			p.commit(ready)
		}
	}
}

func (p *Pipeline) commit(out result) {
	p.commitMu.Lock()
	defer p.commitMu.Unlock()
	if p.sealed || p.ctx.Err() != nil {
		return
	}

	if out.err == nil {
		out.record.Index = p.nextIndex
		if err := p.config.Store.Put(p.ctx, out.record, out.sealed); err != nil {
			out.err = &Error{Kind: KindChunk, Stage: StageStore, Sequence: out.sequence, Err: err}
		}
	}
	if out.err != nil {
		p.recordFailureLocked(out.err)
		return
	}

	if err := p.builder.Append(out.record.Index, out.record.Hash); err != nil {
		p.failLocked(&Error{Kind: KindIntegrity, Stage: StageCommit, Sequence: out.sequence, Err: err})
		return
	}
	p.records.Append(out.record)
	p.nextIndex++
	p.consecutive = 0
	p.rawBytes += int64(out.record.RawSize)
	p.sealedBytes += int64(out.record.SealedSize)

	p.logger.Debug("chunk committed",
		"chunk_index", out.record.Index,
		"sequence", out.record.Sequence,
		"raw_size", out.record.RawSize,
		"sealed_size", out.record.SealedSize,
		"compression", out.record.Compression.String(),
		"hash", out.record.Hash.Short(),
	)
	if p.config.OnCommit != nil {
		p.config.OnCommit(out.record)
	}
}

func (p *Pipeline) recordFailureLocked(chunkErr *Error) {
	p.failed++
	p.consecutive++
	p.logger.Warn("chunk failed",
		"sequence", chunkErr.Sequence,
		"stage", string(chunkErr.Stage),
		"kind", chunkErr.Kind.String(),
		"consecutive_failures", p.consecutive,
		"error", chunkErr.Err,
	)
	if p.config.OnFailure != nil {
		p.config.OnFailure(chunkErr)
	}
	switch {
	case chunkErr.Fatal():
		p.failLocked(chunkErr)
	case p.consecutive >= p.config.FailureThreshold:
		p.failLocked(&Error{
			Kind:     KindThreshold,
			Stage:    chunkErr.Stage,
			Sequence: chunkErr.Sequence,
			Err:      fmt.Errorf("%d consecutive chunk failures: %w", p.consecutive, chunkErr.Err),
		})
	}
}

func (p *Pipeline) failLocked(fatal *Error) {
	p.failOnce.Do(func() {
		p.fatal.Store(fatal)
		p.logger.Error("chunk pipeline failed", "error", fatal)
		close(p.failedSig)
		p.cancel()
	})
}

// Failed is closed when the pipeline fails fatally.
func (p *Pipeline) Failed() <-chan struct{} { return p.failedSig }

// Done is closed once every worker has exited, after Abort or Finish.
// Key material the Encryptor uses may be released after Done.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

// Err returns the fatal error, if any.
func (p *Pipeline) Err() error {
	if fatal := p.fatal.Load(); fatal != nil {
		return fatal
	}
	return nil
}

// Records returns the committed records so far.
func (p *Pipeline) Records() []Record { return p.records.Snapshot() }

// Abort stops the pipeline. Chunks in flight are discarded and nothing
// further is committed. Abort is idempotent.
func (p *Pipeline) Abort() {
	p.aborted.Store(true)
	p.cancel()
	p.intakeMu.Lock()
	defer p.intakeMu.Unlock()
	if !p.intakeClosed {
		p.intakeClosed = true
		close(p.jobs)
	}
}

// Finish stops intake, submits the buffered tail as the final chunk,
// and waits for in-flight chunks until they are all committed, the
// drain timeout expires, or ctx is done. Chunks not committed by then
// are abandoned.
func (p *Pipeline) Finish(ctx context.Context) (Summary, error) {
	p.intakeMu.Lock()
	if p.intakeClosed {
		p.intakeMu.Unlock()
		if p.aborted.Load() {
			return Summary{}, ErrAborted
		}
		return Summary{}, ErrClosed
	}
	if tail := p.segmenter.Flush(); tail != nil {
		p.backlog = append(p.backlog, tail)
	}
	submitErr := p.drainBacklogLocked(ctx)
	if submitErr != nil {
		p.logger.Warn("chunks dropped at finish", "dropped", len(p.backlog), "error", submitErr)
	}
	p.intakeClosed = true
	close(p.jobs)
	p.intakeMu.Unlock()

	if submitErr == nil {
		select {
		case <-p.done:
		case <-p.config.Clock.After(p.config.DrainTimeout):
			p.logger.Warn("drain timeout expired with chunks in flight", "drain_timeout", p.config.DrainTimeout)
		case <-ctx.Done():
		}
	}

	p.commitMu.Lock()
	p.sealed = true
	summary := Summary{
		Records:     p.records.Snapshot(),
		Leaves:      p.builder.Leaves(),
		Submitted:   p.submitted,
		Failed:      p.failed,
		RawBytes:    p.rawBytes,
		SealedBytes: p.sealedBytes,
	}
	p.commitMu.Unlock()
	p.cancel()

	if err := p.Err(); err != nil {
		return Summary{}, err
	}
	if p.aborted.Load() {
		return Summary{}, ErrAborted
	}
	if submitErr != nil {
		return Summary{}, fmt.Errorf("submitting held chunks: %w", submitErr)
	}

	summary.Abandoned = summary.Submitted - summary.Failed - uint64(len(summary.Records))
	if len(summary.Leaves) > 0 {
		root, err := merkle.Root(summary.Leaves)
		if err != nil {
			return Summary{}, err
		}
		summary.Root = root
	}
	return summary, nil
}
