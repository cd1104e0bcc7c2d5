package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moltnet/diaryd/internal/common"
	"github.com/moltnet/diaryd/internal/logging"
)

// Status is the lifecycle state of a workflow instance.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Instance is the durable record of one workflow execution. Rows outlive the
// process so a restart can find suspended instances and resume them.
type Instance struct {
	ID        string
	Name      string
	Status    Status
	Input     json.RawMessage
	Result    json.RawMessage
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists workflow instances. The Postgres implementation lives in
// internal/server/repositories/workflows.
type Store interface {
	// Create inserts the instance, returning false (and no error) when a
	// row with the same ID already exists.
	Create(ctx context.Context, instance *Instance) (bool, error)
	Get(ctx context.Context, id string) (*Instance, error)
	Complete(ctx context.Context, id string, result json.RawMessage) error
	Fail(ctx context.Context, id string, errMsg string) error
}

// ErrInstanceRunning is returned by Start when a durable row exists in the
// running state but no in-process execution is attached to it (a previous
// process crashed mid-flight). The owning service decides whether to Resume.
var ErrInstanceRunning = errors.New("workflow instance already running")

// Fn is a workflow body. It runs on a detached context: cancellation of the
// caller that started the workflow does not cancel the body.
type Fn func(ctx context.Context, run *Run) (json.RawMessage, error)

// Engine registers workflows and runs addressable, durable instances of them.
type Engine struct {
	store  Store
	logger logging.Logger

	mu         sync.Mutex
	registered map[string]Fn
	running    map[string]*Handle
	mailboxes  map[string]map[string]chan json.RawMessage
}

// NewEngine constructs an Engine over the given instance store.
func NewEngine(store Store, logger logging.Logger) *Engine {
	return &Engine{
		store:      store,
		logger:     logger.With("module", "workflow"),
		registered: make(map[string]Fn),
		running:    make(map[string]*Handle),
		mailboxes:  make(map[string]map[string]chan json.RawMessage),
	}
}

// Register associates name with a workflow body. Registering the same name
// twice replaces the body; instances started earlier keep the body they
// started with.
func (e *Engine) Register(name string, fn Fn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registered[name] = fn
}

// Handle tracks one in-flight (or already finished) workflow instance.
type Handle struct {
	id     string
	done   chan struct{}
	result json.RawMessage
	err    error
}

// ID returns the stable workflow instance ID.
func (h *Handle) ID() string { return h.id }

// Result blocks until the instance finishes or ctx is done, then returns the
// instance's result or error.
func (h *Handle) Result(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func resolvedHandle(id string, result json.RawMessage, err error) *Handle {
	h := &Handle{id: id, done: make(chan struct{}), result: result, err: err}
	close(h.done)
	return h
}

// Start launches an instance of the named workflow. Supplying an explicit
// workflowID makes the call idempotent: if an instance with that ID is
// already running in this process its existing handle is returned, and if it
// already finished a pre-resolved handle carrying the stored outcome is
// returned. A caller retrying an HTTP request therefore never double-executes
// the underlying workflow.
func (e *Engine) Start(ctx context.Context, name, workflowID string, input json.RawMessage) (*Handle, error) {
	if workflowID == "" {
		workflowID = uuid.NewString()
	}

	e.mu.Lock()
	fn, ok := e.registered[name]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("workflow %q is not registered", name)
	}
	if h, ok := e.running[workflowID]; ok {
		e.mu.Unlock()
		return h, nil
	}
	e.mu.Unlock()

	created, err := e.store.Create(ctx, &Instance{
		ID:     workflowID,
		Name:   name,
		Status: StatusRunning,
		Input:  input,
	})
	if err != nil {
		return nil, fmt.Errorf("persisting workflow instance: %w", err)
	}
	if !created {
		existing, err := e.store.Get(ctx, workflowID)
		if err != nil {
			return nil, fmt.Errorf("loading workflow instance: %w", err)
		}
		switch existing.Status {
		case StatusCompleted:
			return resolvedHandle(workflowID, existing.Result, nil), nil
		case StatusFailed:
			return resolvedHandle(workflowID, nil, errors.New(existing.Error)), nil
		default:
			// A running row without an in-process execution means a prior
			// process died mid-flight. Resume is an explicit decision of
			// the owning service.
			return nil, ErrInstanceRunning
		}
	}

	return e.launch(ctx, fn, name, workflowID, input), nil
}

// Resume re-executes the body of an instance whose durable row is still
// running but which has no in-process execution (crash recovery). The body
// must be safe to re-run from the top.
func (e *Engine) Resume(ctx context.Context, workflowID string) (*Handle, error) {
	instance, err := e.store.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if instance.Status != StatusRunning {
		return resolvedHandle(workflowID, instance.Result, statusErr(instance)), nil
	}

	e.mu.Lock()
	if h, ok := e.running[workflowID]; ok {
		e.mu.Unlock()
		return h, nil
	}
	fn, ok := e.registered[instance.Name]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("workflow %q is not registered", instance.Name)
	}

	return e.launch(ctx, fn, instance.Name, workflowID, instance.Input), nil
}

func statusErr(instance *Instance) error {
	if instance.Status == StatusFailed {
		return errors.New(instance.Error)
	}
	return nil
}

func (e *Engine) launch(ctx context.Context, fn Fn, name, workflowID string, input json.RawMessage) *Handle {
	h := &Handle{id: workflowID, done: make(chan struct{})}

	e.mu.Lock()
	e.running[workflowID] = h
	if _, ok := e.mailboxes[workflowID]; !ok {
		e.mailboxes[workflowID] = make(map[string]chan json.RawMessage)
	}
	e.mu.Unlock()

	// The body outlives the caller's request: detach cancellation but keep
	// context values for logging.
	bodyCtx := context.WithoutCancel(ctx)

	go func() {
		run := &Run{engine: e, id: workflowID, name: name, input: input, logger: e.logger.With("workflow", name, "workflow_id", workflowID)}

		result, err := e.execute(bodyCtx, fn, run)

		if err != nil {
			if storeErr := e.store.Fail(bodyCtx, workflowID, err.Error()); storeErr != nil {
				e.logger.Error(bodyCtx, "recording workflow failure", "workflow_id", workflowID, "error", storeErr.Error())
			}
		} else {
			if storeErr := e.store.Complete(bodyCtx, workflowID, result); storeErr != nil {
				e.logger.Error(bodyCtx, "recording workflow completion", "workflow_id", workflowID, "error", storeErr.Error())
			}
		}

		e.mu.Lock()
		delete(e.running, workflowID)
		delete(e.mailboxes, workflowID)
		e.mu.Unlock()

		h.result = result
		h.err = err
		close(h.done)
	}()

	return h
}

func (e *Engine) execute(ctx context.Context, fn Fn, run *Run) (result json.RawMessage, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("workflow panic: %v", p)
		}
	}()
	return fn(ctx, run)
}

// Send delivers payload to the instance identified by workflowID on the given
// topic. Sending to a finished instance fails with a conflict; sending to an
// unknown instance fails with not-found.
func (e *Engine) Send(ctx context.Context, workflowID, topic string, payload json.RawMessage) error {
	e.mu.Lock()
	topics, ok := e.mailboxes[workflowID]
	if ok {
		ch := e.mailbox(topics, topic)
		e.mu.Unlock()
		select {
		case ch <- payload:
			return nil
		default:
			return fmt.Errorf("%w: mailbox full for topic %q", common.ErrorConflict, topic)
		}
	}
	e.mu.Unlock()

	instance, err := e.store.Get(ctx, workflowID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorNotFound
		}
		return err
	}
	if instance.Status != StatusRunning {
		return fmt.Errorf("%w: workflow already %s", common.ErrorConflict, instance.Status)
	}
	// Running row but no mailbox here: the instance is suspended in a dead
	// process and has not been resumed yet.
	return common.ErrorNotFound
}

// mailbox returns (creating if needed) the buffered channel for topic.
// Callers must hold e.mu.
func (e *Engine) mailbox(topics map[string]chan json.RawMessage, topic string) chan json.RawMessage {
	ch, ok := topics[topic]
	if !ok {
		ch = make(chan json.RawMessage, 8)
		topics[topic] = ch
	}
	return ch
}

// Run is the handle a workflow body uses to interact with its own instance.
type Run struct {
	engine *Engine
	id     string
	name   string
	input  json.RawMessage
	logger logging.Logger
}

// ID returns the instance's stable workflow ID.
func (r *Run) ID() string { return r.id }

// Input returns the payload the instance was started with.
func (r *Run) Input() json.RawMessage { return r.input }

// Logger returns a logger scoped to this instance.
func (r *Run) Logger() logging.Logger { return r.logger }

// Receive blocks cooperatively until a Send matching topic arrives or the
// timeout elapses. It returns a nil payload (and nil error) on timeout; the
// caller distinguishes "signal arrived" from "gave up waiting" by nil-checking
// the payload. No OS thread is parked: the wait is a channel select with a
// timer.
func (r *Run) Receive(ctx context.Context, topic string, timeout time.Duration) (json.RawMessage, error) {
	r.engine.mu.Lock()
	topics, ok := r.engine.mailboxes[r.id]
	if !ok {
		r.engine.mu.Unlock()
		return nil, fmt.Errorf("workflow %s has no mailbox", r.id)
	}
	ch := r.engine.mailbox(topics, topic)
	r.engine.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case payload := <-ch:
		return payload, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
