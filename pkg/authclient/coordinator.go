package authclient

import (
	"context"
	"sync"
	"time"

	"github.com/tyemirov/authsession/pkg/credstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/tyemirov/authsession/pkg/authclient"

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

type refreshOutcome struct {
	credential credstore.Credential
	err        error
}

// refreshTicket is one caller's place in a refresh cycle. The outcome channel
// receives exactly one value. A waiter closes handoff once its retry has
// returned so the next waiter can proceed.
type refreshTicket struct {
	requestID   string
	leader      bool
	outcome     chan refreshOutcome
	handoff     chan struct{}
	handoffOnce sync.Once
}

func newRefreshTicket(requestID string) *refreshTicket {
	return &refreshTicket{
		requestID: requestID,
		outcome:   make(chan refreshOutcome, 1),
		handoff:   make(chan struct{}),
	}
}

func (ticket *refreshTicket) release() {
	ticket.handoffOnce.Do(func() {
		close(ticket.handoff)
	})
}

// wait blocks until the cycle completes or ctx is done. A cancelled waiter
// gives up its turn immediately.
func (ticket *refreshTicket) wait(ctx context.Context) (refreshOutcome, error) {
	select {
	case outcome := <-ticket.outcome:
		return outcome, nil
	case <-ctx.Done():
		ticket.release()
		return refreshOutcome{}, ctx.Err()
	}
}

type refreshFunc func(ctx context.Context) (credstore.Credential, error)
type failureFunc func(ctx context.Context, cause error)

// refreshCoordinator runs at most one refresh at a time and queues every
// other caller that needs a fresh credential meanwhile.
type refreshCoordinator struct {
	mutex    sync.Mutex
	inFlight bool
	expired  bool
	waiters  []*refreshTicket

	perform   refreshFunc
	onFailure failureFunc
	timeout   time.Duration
	logger    *zap.Logger
	metrics   MetricsRecorder
	tracer    trace.Tracer
}

func newRefreshCoordinator(perform refreshFunc, onFailure failureFunc, timeout time.Duration, logger *zap.Logger, metrics MetricsRecorder) *refreshCoordinator {
	return &refreshCoordinator{
		perform:   perform,
		onFailure: onFailure,
		timeout:   timeout,
		logger:    logger,
		metrics:   metrics,
		tracer:    otel.Tracer(tracerName),
	}
}

// join enrolls a caller. The first caller of a cycle becomes its leader.
func (coordinator *refreshCoordinator) join(requestID string) (*refreshTicket, error) {
	coordinator.mutex.Lock()
	defer coordinator.mutex.Unlock()
	if coordinator.expired {
		return nil, ErrSessionExpired
	}
	ticket := newRefreshTicket(requestID)
	if !coordinator.inFlight {
		coordinator.inFlight = true
		ticket.leader = true
		return ticket, nil
	}
	coordinator.waiters = append(coordinator.waiters, ticket)
	coordinator.metrics.Increment(metricAuthRefreshCoalesced)
	return ticket, nil
}

// lead performs the refresh and detaches the queued waiters. On failure the
// session is torn down and every waiter is failed before lead returns. On
// success the caller must hand the waiters to releaseInOrder.
func (coordinator *refreshCoordinator) lead(ctx context.Context, requestID string) (refreshOutcome, []*refreshTicket) {
	refreshContext, cancel := context.WithTimeout(context.WithoutCancel(ctx), coordinator.timeout)
	defer cancel()
	spanContext, span := coordinator.tracer.Start(refreshContext, "authclient.refresh",
		trace.WithAttributes(attribute.String("authclient.request_id", requestID)))
	defer span.End()

	credential, err := coordinator.perform(spanContext)

	coordinator.mutex.Lock()
	waiters := coordinator.waiters
	coordinator.waiters = nil
	coordinator.inFlight = false
	if err != nil {
		coordinator.expired = true
	}
	coordinator.mutex.Unlock()

	span.SetAttributes(attribute.Int("authclient.waiters", len(waiters)))
	outcome := refreshOutcome{credential: credential, err: err}
	if err == nil {
		coordinator.metrics.Increment(metricAuthRefreshSuccess)
		span.SetStatus(codes.Ok, "")
		return outcome, waiters
	}

	coordinator.metrics.Increment(metricAuthRefreshFailure)
	span.RecordError(err)
	span.SetStatus(codes.Error, "refresh failed")
	coordinator.logger.Warn("credential refresh failed",
		zap.String("code", "authclient.refresh.failed"),
		zap.String("request_id", requestID),
		zap.Int("waiters", len(waiters)),
		zap.Error(err))
	coordinator.onFailure(spanContext, err)
	coordinator.releaseInOrder(waiters, outcome)
	return outcome, nil
}

// releaseInOrder resumes waiters in arrival order. After a success each
// waiter must finish its retry before the next one is resumed.
func (coordinator *refreshCoordinator) releaseInOrder(waiters []*refreshTicket, outcome refreshOutcome) {
	for _, waiter := range waiters {
		waiter.outcome <- outcome
		if outcome.err == nil {
			<-waiter.handoff
		}
	}
}

// refreshOnce refreshes without a request to replay.
func (coordinator *refreshCoordinator) refreshOnce(ctx context.Context, requestID string) (credstore.Credential, error) {
	ticket, err := coordinator.join(requestID)
	if err != nil {
		return credstore.Credential{}, err
	}
	if ticket.leader {
		outcome, waiters := coordinator.lead(ctx, requestID)
		if outcome.err == nil {
			go coordinator.releaseInOrder(waiters, outcome)
		}
		return outcome.credential, outcome.err
	}
	outcome, waitErr := ticket.wait(ctx)
	ticket.release()
	if waitErr != nil {
		return credstore.Credential{}, waitErr
	}
	return outcome.credential, outcome.err
}

// markExpired fails every later join until reset.
func (coordinator *refreshCoordinator) markExpired() {
	coordinator.mutex.Lock()
	defer coordinator.mutex.Unlock()
	coordinator.expired = true
}

// reset re-arms the coordinator after a successful login.
func (coordinator *refreshCoordinator) reset() {
	coordinator.mutex.Lock()
	defer coordinator.mutex.Unlock()
	coordinator.expired = false
}

func (coordinator *refreshCoordinator) isExpired() bool {
	coordinator.mutex.Lock()
	defer coordinator.mutex.Unlock()
	return coordinator.expired
}
