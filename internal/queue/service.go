package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/lithammer/shortuuid/v3"

	"runbot/internal/model"
	"runbot/internal/orchestrator"
)

const runTopic = "runbot.runs.create"

// RunCreator is the slice of the orchestrator the queue worker needs.
type RunCreator interface {
	CreateRun(ctx context.Context, options orchestrator.CreateRunOptions) (model.RunSession, error)
}

// runRequest is the wire payload for one queued run creation job.
type runRequest struct {
	JobID       string                 `json:"job_id"`
	Goal        string                 `json:"goal"`
	RepoPath    string                 `json:"repo_path"`
	Context     string                 `json:"context,omitempty"`
	RequestedBy string                 `json:"requested_by,omitempty"`
	Templates   []model.ActionTemplate `json:"templates,omitempty"`
}

// Service accepts run creation jobs over a pub/sub transport and works them
// off with a single background consumer. Job status lives in process memory;
// clients poll it by job id.
type Service struct {
	transport    Transport
	orchestrator RunCreator
	logger       watermill.LoggerAdapter

	mu          sync.Mutex
	jobs        map[string]model.QueueJob
	pending     int
	workerAlive bool

	workerEnabled bool
	started       bool
	cancel        context.CancelFunc
	done          chan struct{}
}

func NewService(transport Transport, creator RunCreator, workerEnabled bool, logger watermill.LoggerAdapter) *Service {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Service{
		transport:     transport,
		orchestrator:  creator,
		logger:        logger,
		jobs:          map[string]model.QueueJob{},
		workerEnabled: workerEnabled,
		done:          make(chan struct{}),
	}
}

// Start launches the consumer goroutine. With the worker disabled it is a
// no-op and enqueued jobs stay queued.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	if !s.workerEnabled {
		close(s.done)
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	messages, err := s.transport.Subscriber.Subscribe(workerCtx, runTopic)
	if err != nil {
		cancel()
		close(s.done)
		return fmt.Errorf("subscribe to %s: %w", runTopic, err)
	}
	s.cancel = cancel

	s.mu.Lock()
	s.workerAlive = true
	s.mu.Unlock()

	go s.workerLoop(workerCtx, messages)
	return nil
}

func (s *Service) workerLoop(ctx context.Context, messages <-chan *message.Message) {
	defer func() {
		s.mu.Lock()
		s.workerAlive = false
		s.mu.Unlock()
		close(s.done)
	}()

	for msg := range messages {
		s.handleMessage(ctx, msg)
		msg.Ack()
	}
}

func (s *Service) handleMessage(ctx context.Context, msg *message.Message) {
	var request runRequest
	if err := json.Unmarshal(msg.Payload, &request); err != nil {
		s.logger.Error("discarding malformed queue payload", err, watermill.LogFields{"message_id": msg.UUID})
		return
	}

	s.updateJob(request.JobID, func(job *model.QueueJob) {
		job.Status = model.JobStatusRunning
	})
	s.mu.Lock()
	if s.pending > 0 {
		s.pending--
	}
	s.mu.Unlock()

	run, err := s.orchestrator.CreateRun(ctx, orchestrator.CreateRunOptions{
		Goal:        request.Goal,
		RepoPath:    request.RepoPath,
		Context:     request.Context,
		RequestedBy: request.RequestedBy,
		Templates:   request.Templates,
	})
	if err != nil {
		s.updateJob(request.JobID, func(job *model.QueueJob) {
			job.Status = model.JobStatusFailed
			job.Error = err.Error()
		})
		return
	}
	s.updateJob(request.JobID, func(job *model.QueueJob) {
		job.Status = model.JobStatusComplete
		job.Run = &run
	})
}

func (s *Service) updateJob(jobID string, fn func(job *model.QueueJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return
	}
	fn(&job)
	job.UpdatedAt = model.NowISO()
	s.jobs[jobID] = job
}

// Enqueue registers a queued job and publishes the run request. The returned
// job snapshot is immediately pollable via GetJob.
func (s *Service) Enqueue(_ context.Context, options orchestrator.CreateRunOptions) (model.QueueJob, error) {
	jobID := "job_" + shortuuid.New()
	now := model.NowISO()
	job := model.QueueJob{
		JobID:     jobID,
		Status:    model.JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	payload, err := json.Marshal(runRequest{
		JobID:       jobID,
		Goal:        options.Goal,
		RepoPath:    options.RepoPath,
		Context:     options.Context,
		RequestedBy: options.RequestedBy,
		Templates:   options.Templates,
	})
	if err != nil {
		return model.QueueJob{}, fmt.Errorf("marshal run request: %w", err)
	}

	s.mu.Lock()
	s.jobs[jobID] = job
	s.pending++
	s.mu.Unlock()

	if err := s.transport.Publisher.Publish(runTopic, message.NewMessage(watermill.NewUUID(), payload)); err != nil {
		s.mu.Lock()
		delete(s.jobs, jobID)
		s.pending--
		s.mu.Unlock()
		return model.QueueJob{}, fmt.Errorf("publish run request: %w", err)
	}
	return job, nil
}

func (s *Service) GetJob(jobID string) (model.QueueJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	return job, ok
}

func (s *Service) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *Service) IsWorkerAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workerAlive
}

// Stop cancels the consumer and waits for it to drain. Calling Stop on a
// service that was never started returns immediately.
func (s *Service) Stop() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}
