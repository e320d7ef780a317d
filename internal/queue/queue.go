// Package queue hands generation work to a durable worker pool. When the
// pool cannot take a job the dispatcher runs it synchronously through the
// same code path, recording why it fell back.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/stellarlinkco/briefops/internal/store"
)

// Runner executes the work behind one ticket and returns the id of the
// version it produced. It must be idempotent per ticket: re-running a ticket
// whose version already exists must not create a second one.
type Runner interface {
	Execute(ctx context.Context, ticket *store.WorkTicket) (versionID string, err error)
}

type ticketStore interface {
	CreateTicket(userID, deliverableID string) (*store.WorkTicket, error)
	GetTicket(userID, ticketID string) (*store.WorkTicket, error)
	SetTicketMode(userID, ticketID, mode, fallbackReason string) error
	ClaimTicket(userID, ticketID string) (bool, error)
	CompleteTicket(userID, ticketID, versionID string) error
	FailTicket(userID, ticketID, reason string) error
}

type Dispatcher struct {
	store      ticketStore
	runner     Runner
	workers    int
	jobTimeout time.Duration
	maxRetries int

	jobs    chan *store.WorkTicket
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

func NewDispatcher(ts ticketStore, runner Runner, workers int, jobTimeout time.Duration, maxRetries int) *Dispatcher {
	if jobTimeout <= 0 {
		jobTimeout = 5 * time.Minute
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Dispatcher{
		store:      ts,
		runner:     runner,
		workers:    workers,
		jobTimeout: jobTimeout,
		maxRetries: maxRetries,
		jobs:       make(chan *store.WorkTicket, 128),
		stopCh:     make(chan struct{}),
	}
}

func (d *Dispatcher) Start() {
	d.mu.Lock()
	if d.started || d.workers <= 0 {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-d.stopCh:
					return
				case ticket := <-d.jobs:
					d.execute(ticket)
				}
			}
		}()
	}
}

func (d *Dispatcher) Stop() {
	d.mu.Lock()
	select {
	case <-d.stopCh:
	default:
		close(d.stopCh)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// Submit creates a ticket and queues it for background execution. If the
// pool is not running or its buffer is full, the ticket runs synchronously
// right here, through the identical execute path, with fallback_reason set.
// Either way the returned ticket can be polled by id.
func (d *Dispatcher) Submit(userID, deliverableID string) (*store.WorkTicket, error) {
	ticket, err := d.store.CreateTicket(userID, deliverableID)
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}

	d.mu.Lock()
	running := d.started
	d.mu.Unlock()

	fallbackReason := ""
	if !running {
		fallbackReason = "worker pool not running"
	} else {
		// Record the mode before a worker can touch the ticket; doing it after
		// the send would race a fast worker and rewrite a finished ticket.
		if err := d.store.SetTicketMode(userID, ticket.ID, store.ModeBackground, ""); err != nil {
			log.Printf("[queue] set ticket mode: %v", err)
		}
		select {
		case d.jobs <- ticket:
			return d.store.GetTicket(userID, ticket.ID)
		default:
			fallbackReason = "worker pool saturated"
		}
	}

	if err := d.store.SetTicketMode(userID, ticket.ID, store.ModeSynchronous, fallbackReason); err != nil {
		log.Printf("[queue] set ticket mode: %v", err)
	}
	d.execute(ticket)
	return d.store.GetTicket(userID, ticket.ID)
}

// Status returns the pollable view of a ticket.
func (d *Dispatcher) Status(userID, ticketID string) (*store.WorkTicket, error) {
	return d.store.GetTicket(userID, ticketID)
}

func (d *Dispatcher) execute(ticket *store.WorkTicket) {
	claimed, err := d.store.ClaimTicket(ticket.UserID, ticket.ID)
	if err != nil {
		log.Printf("[queue] claim ticket %s: %v", ticket.ID, err)
		return
	}
	if !claimed {
		// Already completed; re-running would duplicate output.
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.jobTimeout)
	defer cancel()

	operation := func() (string, error) {
		current, err := d.store.GetTicket(ticket.UserID, ticket.ID)
		if err != nil {
			return "", backoff.Permanent(err)
		}
		if current.Status == store.TicketCompleted {
			return current.OutputVersionID, nil
		}

		versionID, err := d.runner.Execute(ctx, current)
		if err != nil {
			if errors.Is(err, store.ErrRunInFlight) || errors.Is(err, store.ErrNotFound) {
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		return versionID, nil
	}

	versionID, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(d.maxRetries+1)),
	)
	if err != nil {
		log.Printf("[queue] ticket %s failed: %v", ticket.ID, err)
		if ferr := d.store.FailTicket(ticket.UserID, ticket.ID, err.Error()); ferr != nil {
			log.Printf("[queue] fail ticket %s: %v", ticket.ID, ferr)
		}
		return
	}

	if err := d.store.CompleteTicket(ticket.UserID, ticket.ID, versionID); err != nil {
		log.Printf("[queue] complete ticket %s: %v", ticket.ID, err)
	}
}
