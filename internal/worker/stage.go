package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"kbingest/features/job"
	"kbingest/internal/content"
	"kbingest/internal/errkind"
	"kbingest/internal/metrics"
	"kbingest/internal/middleware"
	"kbingest/internal/notify"
	"kbingest/internal/progress"
)

const defaultMaxAttempts = 5

// Deps are the collaborators every stage shares.
type Deps struct {
	Items     ItemStore
	Jobs      FailedJobStore
	Publisher TaskPublisher
	Tracker   ProgressTracker
	Notifier  notify.Publisher
	// MaxAttempts must match the consumer's NSQ max_attempts so the last
	// delivery is recognised.
	MaxAttempts int
	// ClearGrace is how long a completed batch stays readable.
	ClearGrace time.Duration
	// Timeout bounds one handler run; zero means no bound.
	Timeout time.Duration
	Now     func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Deps) finalAttempt(m *nsq.Message) bool {
	limit := d.MaxAttempts
	if limit <= 0 {
		limit = defaultMaxAttempts
	}
	return int(m.Attempts) >= limit
}

// run is one delivery of a stage job.
type run struct {
	ctx     context.Context
	msg     *nsq.Message
	payload Payload
	item    *content.Item
	stage   content.Stage
	started time.Time
}

// stageFunc does a stage's work on r.item. It mutates the item in memory;
// persisting and reporting are handled around it.
type stageFunc func(r *run) error

// handle runs one delivery of stage through fn. The returned error is
// non-nil only when NSQ should requeue the message.
func (d *Deps) handle(m *nsq.Message, stage content.Stage, fn stageFunc) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload Payload
	err := json.Unmarshal(m.Body, &payload)

	correlationID := payload.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(context.Background(), correlationID)
	ctx = middleware.WithOwnerID(ctx, payload.OwnerID)
	ctx = middleware.WithItemID(ctx, payload.ItemID)
	payload.CorrelationID = correlationID

	if err != nil || payload.ItemID == "" {
		// Poison pill: invalid JSON, don't retry
		slog.ErrorContext(ctx, "invalid stage message, dropping", "stage", stage, "error", err)
		metrics.StageOutcomes.WithLabelValues(string(stage), metrics.OutcomeFailed).Inc()
		return nil
	}

	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	start := d.now()
	defer func() {
		metrics.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
	}()

	it, err := d.Items.FindItem(ctx, payload.ItemID)
	if err != nil {
		if errkind.Retryable(err) && !d.finalAttempt(m) {
			slog.WarnContext(ctx, "item lookup failed, requeueing", "stage", stage, "error", err)
			metrics.StageOutcomes.WithLabelValues(string(stage), metrics.OutcomeRetry).Inc()
			return err
		}
		slog.ErrorContext(ctx, "item lookup failed, dropping job", "stage", stage, "error", err)
		metrics.StageOutcomes.WithLabelValues(string(stage), metrics.OutcomeFailed).Inc()
		return nil
	}
	if it.OwnerID != payload.OwnerID {
		slog.WarnContext(ctx, "payload owner differs from item owner", "payload_owner", payload.OwnerID, "item_owner", it.OwnerID)
		payload.OwnerID = it.OwnerID
		ctx = middleware.WithOwnerID(ctx, it.OwnerID)
	}

	r := &run{ctx: ctx, msg: m, payload: payload, item: it, stage: stage, started: start}

	if d.alreadyHandled(r) {
		return d.redeliver(r)
	}

	if err := it.Start(stage, d.now()); err != nil {
		slog.ErrorContext(ctx, "cannot start stage", "stage", stage, "error", err)
		return nil
	}
	if err := d.Items.UpdateItem(ctx, it); err != nil {
		return d.settle(r, errkind.Transient("mark stage running", err))
	}

	if err := fn(r); err != nil {
		return d.settle(r, err)
	}
	return d.complete(r)
}

// alreadyHandled reports deliveries that at-least-once redelivery makes
// redundant: the item is finished or this stage already completed.
func (d *Deps) alreadyHandled(r *run) bool {
	st, ok := r.item.Stages[r.stage]
	return r.item.Terminal() || !ok || st == content.StageDone
}

// redeliver acknowledges a redundant delivery. If the stage finished but
// the hand-off to the next stage may have been lost, it is published
// again; the next stage's own guard absorbs the duplicate.
func (d *Deps) redeliver(r *run) error {
	metrics.StageOutcomes.WithLabelValues(string(r.stage), metrics.OutcomeDuplicate).Inc()
	slog.InfoContext(r.ctx, "duplicate delivery ignored", "stage", r.stage, "item_status", r.item.Status)

	if r.item.Terminal() {
		return nil
	}
	next, ok := nextStage(r.item.Kind, r.stage)
	if !ok || r.item.Stages[next] != content.StagePending {
		return nil
	}
	if err := d.enqueue(r, next); err != nil {
		return err
	}
	return nil
}

// complete persists a successful stage, reports it and hands the item to
// the next stage.
func (d *Deps) complete(r *run) error {
	it := r.item
	before := it.Clone()
	if err := it.Complete(r.stage, d.now()); err != nil {
		slog.ErrorContext(r.ctx, "cannot complete stage", "stage", r.stage, "error", err)
		return nil
	}
	if err := d.Items.UpdateItem(r.ctx, it); err != nil {
		// The store still holds the running stage; settle from that state so
		// a final attempt can fail the item instead of leaving it unfinished.
		r.item = before
		return d.settle(r, errkind.Transient("mark stage done", err))
	}
	metrics.StageOutcomes.WithLabelValues(string(r.stage), metrics.OutcomeDone).Inc()
	slog.InfoContext(r.ctx, "stage done", "stage", r.stage, "duration_ms", time.Since(r.started).Milliseconds())

	if it.Terminal() {
		d.Tracker.AddTrainingListID(it.OwnerID, it.ID)
		d.notifyItem(r, "")
	}
	d.report(r.ctx, it.OwnerID, r.stage, true)

	next, ok := nextStage(it.Kind, r.stage)
	if !ok {
		return nil
	}
	if err := d.enqueue(r, next); err != nil {
		slog.ErrorContext(r.ctx, "failed to enqueue next stage", "next", next, "error", err)
		return err
	}
	return nil
}

// settle turns a stage error into the item's outcome. Early exits and
// permanent failures are finished here and acknowledged; transient
// failures are requeued until the last attempt.
func (d *Deps) settle(r *run, err error) error {
	switch errkind.KindOf(err) {
	case errkind.InsufficientCredits:
		d.finishEarly(r, content.StatusInsufficientCredits, err)
		return nil
	case errkind.ContentEmpty:
		d.finishEarly(r, content.StatusSkipped, err)
		return nil
	case errkind.Configuration:
		slog.ErrorContext(r.ctx, "configuration error, operator action required", "stage", r.stage, "error", err)
		metrics.StageOutcomes.WithLabelValues(string(r.stage), metrics.OutcomeConfigError).Inc()
	case errkind.TransientIO:
		if !d.finalAttempt(r.msg) {
			r.item.Error = err.Error()
			if uerr := d.Items.UpdateItem(r.ctx, r.item); uerr != nil {
				slog.WarnContext(r.ctx, "failed to record stage error", "error", uerr)
			}
			metrics.StageOutcomes.WithLabelValues(string(r.stage), metrics.OutcomeRetry).Inc()
			slog.WarnContext(r.ctx, "stage failed, requeueing", "stage", r.stage, "attempt", r.msg.Attempts, "error", err)
			return err
		}
	}

	d.fail(r, err)
	return nil
}

func (d *Deps) fail(r *run, cause error) {
	it := r.item
	slog.ErrorContext(r.ctx, "stage failed", "stage", r.stage, "attempt", r.msg.Attempts, "error", cause)
	metrics.StageOutcomes.WithLabelValues(string(r.stage), metrics.OutcomeFailed).Inc()

	if err := it.Fail(r.stage, cause.Error(), d.now()); err != nil {
		slog.ErrorContext(r.ctx, "cannot fail stage", "stage", r.stage, "error", err)
		return
	}
	if err := d.Items.UpdateItem(r.ctx, it); err != nil {
		slog.ErrorContext(r.ctx, "failed to persist failed item", "error", err)
	}
	d.notifyItem(r, cause.Error())
	d.report(r.ctx, it.OwnerID, r.stage, false)
	d.saveFailedJob(r, cause)
}

func (d *Deps) finishEarly(r *run, outcome content.Status, cause error) {
	it := r.item
	label := metrics.OutcomeSkipped
	if outcome == content.StatusInsufficientCredits {
		label = metrics.OutcomeNoCredits
	}
	metrics.StageOutcomes.WithLabelValues(string(r.stage), label).Inc()
	slog.InfoContext(r.ctx, "item finished early", "stage", r.stage, "outcome", outcome, "reason", cause)

	if err := it.Finish(outcome, cause.Error(), d.now()); err != nil {
		slog.ErrorContext(r.ctx, "cannot finish item", "error", err)
		return
	}
	if err := d.Items.UpdateItem(r.ctx, it); err != nil {
		slog.ErrorContext(r.ctx, "failed to persist finished item", "error", err)
	}
	d.notifyItem(r, cause.Error())
	// Skipped items have nothing to index, which is a success for the batch.
	d.report(r.ctx, it.OwnerID, r.stage, outcome == content.StatusSkipped)
}

func (d *Deps) saveFailedJob(r *run, cause error) {
	if d.Jobs == nil {
		return
	}
	failed := &job.Job{
		ItemID:  r.item.ID,
		OwnerID: r.item.OwnerID,
		Stage:   string(r.stage),
		Payload: json.RawMessage(r.msg.Body),
		Error:   cause.Error(),
		Retries: int(r.msg.Attempts),
	}
	if err := d.Jobs.Save(r.ctx, failed); err != nil {
		slog.ErrorContext(r.ctx, "failed to save failed job", "error", err)
		return
	}
	slog.InfoContext(r.ctx, "saved failed job for retry", "job_id", failed.ID)
}

func (d *Deps) enqueue(r *run, stage content.Stage) error {
	body := Payload{
		ItemID:        r.item.ID,
		OwnerID:       r.item.OwnerID,
		CorrelationID: r.payload.CorrelationID,
	}.Encode()
	if err := d.Publisher.Publish(TopicFor(stage), body); err != nil {
		return errkind.Transient("enqueue "+string(stage), err)
	}
	return nil
}

// report feeds the tracker and emits the batch events it implies.
func (d *Deps) report(ctx context.Context, ownerID string, stage content.Stage, success bool) {
	p, justCompleted := d.Tracker.Update(ctx, ownerID, progress.Stage(stage), success)
	if p == nil {
		return
	}
	d.publish(ctx, notify.Event{OwnerID: ownerID, Type: notify.EventBatchProgress, Data: p})
	if !justCompleted {
		return
	}

	metrics.BatchesCompleted.Inc()
	slog.InfoContext(ctx, "batch complete", "total", p.TotalItems, "processed", p.TrainDone, "failed", p.FailedItems)
	d.publish(ctx, notify.Event{
		OwnerID: ownerID,
		Type:    notify.EventBatchComplete,
		Data:    notify.BatchComplete{Total: p.TotalItems, Processed: p.TrainDone, Failed: p.FailedItems},
	})
	d.Tracker.ClearAfter(ownerID, d.ClearGrace)
}

func (d *Deps) notifyItem(r *run, reason string) {
	d.publish(r.ctx, notify.Event{
		OwnerID: r.item.OwnerID,
		Type:    notify.EventItemStatus,
		Data: notify.ItemStatus{
			ItemID: r.item.ID,
			Kind:   string(r.item.Kind),
			Status: string(r.item.Status),
			Stage:  string(r.stage),
			Reason: reason,
		},
	})
}

func (d *Deps) publish(ctx context.Context, ev notify.Event) {
	if d.Notifier == nil {
		return
	}
	if !d.Notifier.Publish(ev) {
		slog.DebugContext(ctx, "notification not queued", "event", ev.Type)
	}
}

// stageError keeps the error kind of err while naming the stage step.
func stageError(op string, err error) error {
	var e *errkind.Error
	if errors.As(err, &e) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return errkind.New(errkind.KindOf(err), op, err)
}
