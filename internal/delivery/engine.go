// Package delivery sends broadcast payloads to recipients one by one and
// reports the aggregate outcome.
package delivery

import (
	"context"
	"fmt"
	"time"

	"broadcastbot/internal/content"
	"broadcastbot/internal/eventbus"
	"broadcastbot/internal/storage"
	kit "broadcastbot/internal/transport"
	logx "broadcastbot/pkg/logx"
)

const (
	TextStarted = "⏳ Рассылка начата..."
	textSummary = "✅ Успешно: %d\n❌ Ошибок: %d\n⏰ Время выполнения: %.2f сек."
)

// Sender is the transport surface used to reach recipients.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	SendMedia(ctx context.Context, to kit.ChatTarget, m kit.Media, opt *kit.SendOptions) (kit.MessageRef, error)
}

// AuditSink stores one row per delivery run.
type AuditSink interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// Publisher receives run completion events.
type Publisher interface {
	Publish(topic string, data any) error
}

// Result is the outcome of one run. Delivered lists the recipients reached,
// in send order.
type Result struct {
	Total     int
	Success   int
	Errors    int
	Delivered []int64
	Took      time.Duration
}

func (r Result) Stats() storage.Stats {
	return storage.Stats{Total: r.Total, Success: r.Success, Errors: r.Errors}
}

// Summary renders the user-facing tally.
func (r Result) Summary() string {
	return fmt.Sprintf(textSummary, r.Success, r.Errors, r.Took.Seconds())
}

// Run describes who triggered a delivery and why.
type Run struct {
	ActorID     int64
	BroadcastID int64
	Kind        storage.AuditKind
}

// Completed is published on eventbus.TopicDeliveryCompleted.
type Completed struct {
	ActorID     int64  `json:"actor_id"`
	BroadcastID int64  `json:"broadcast_id,omitempty"`
	Kind        string `json:"kind"`
	Total       int    `json:"total"`
	Success     int    `json:"success"`
	Errors      int    `json:"errors"`
	TookMS      int64  `json:"took_ms"`
}

type Engine struct {
	sender  Sender
	log     logx.Logger
	metrics *Metrics
	audit   AuditSink
	events  Publisher
	now     func() time.Time
}

type Option func(*Engine)

func WithMetrics(m *Metrics) Option { return func(e *Engine) { e.metrics = m } }
func WithAudit(a AuditSink) Option  { return func(e *Engine) { e.audit = a } }
func WithEvents(p Publisher) Option { return func(e *Engine) { e.events = p } }
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func New(sender Sender, log logx.Logger, opts ...Option) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{sender: sender, log: log.With(logx.String("comp", "delivery")), now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Deliver sends p to every recipient in order. A failed send is logged and
// counted and never stops the loop. Only context cancellation ends the run
// early; the partial result is returned with the context error.
func (e *Engine) Deliver(ctx context.Context, p content.Payload, recipients []int64) (Result, error) {
	start := e.now()
	res := Result{Total: len(recipients), Delivered: make([]int64, 0, len(recipients))}
	opt := &kit.SendOptions{ParseMode: "HTML"}
	if kb := Keyboard(p.Buttons); kb != nil {
		opt.ReplyMarkupAdapter = kb
	}

	var runErr error
	for _, id := range recipients {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if err := e.sendOne(ctx, id, p, opt); err != nil {
			res.Errors++
			e.log.Error("send failed", logx.Int64("chat_id", id), logx.Err(err))
			continue
		}
		res.Success++
		res.Delivered = append(res.Delivered, id)
	}
	res.Took = e.now().Sub(start)
	e.metrics.observe(res)
	return res, runErr
}

func (e *Engine) sendOne(ctx context.Context, chatID int64, p content.Payload, opt *kit.SendOptions) error {
	to := kit.ChatTarget{ChatID: chatID}
	switch p.Kind {
	case content.KindText, "":
		_, err := e.sender.SendText(ctx, to, p.Text, opt)
		return err
	case content.KindPhoto, content.KindVideo, content.KindAnimation:
		_, err := e.sender.SendMedia(ctx, to, kit.Media{Kind: kit.MediaKind(p.Kind), FileID: p.MediaRef, Caption: p.Text}, opt)
		return err
	default:
		return fmt.Errorf("%w: %q", content.ErrInvalidKind, p.Kind)
	}
}

// Execute is Deliver plus the run bookkeeping: an audit row and a completion
// event. Bookkeeping failures are logged only.
func (e *Engine) Execute(ctx context.Context, run Run, p content.Payload, recipients []int64) (Result, error) {
	res, err := e.Deliver(ctx, p, recipients)
	e.log.Info("delivery finished",
		logx.String("kind", string(run.Kind)),
		logx.Int64("broadcast_id", run.BroadcastID),
		logx.Int64("actor_id", run.ActorID),
		logx.Int("total", res.Total),
		logx.Int("success", res.Success),
		logx.Int("errors", res.Errors),
		logx.Duration("took", res.Took),
	)
	e.record(run, res)
	return res, err
}

func (e *Engine) record(run Run, res Result) {
	// Bookkeeping must survive a canceled run context.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if e.audit != nil {
		err := e.audit.AppendAudit(ctx, storage.AuditEntry{
			At:          e.now(),
			ActorID:     run.ActorID,
			BroadcastID: run.BroadcastID,
			Kind:        run.Kind,
			Total:       res.Total,
			OK:          res.Success,
			Fail:        res.Errors,
			TookMS:      res.Took.Milliseconds(),
		})
		if err != nil {
			e.log.Warn("audit append failed", logx.Err(err))
		}
	}
	if e.events != nil {
		err := e.events.Publish(eventbus.TopicDeliveryCompleted, Completed{
			ActorID:     run.ActorID,
			BroadcastID: run.BroadcastID,
			Kind:        string(run.Kind),
			Total:       res.Total,
			Success:     res.Success,
			Errors:      res.Errors,
			TookMS:      res.Took.Milliseconds(),
		})
		if err != nil {
			e.log.Warn("event publish failed", logx.Err(err))
		}
	}
}

// DeliverInteractive runs Execute while reporting progress on the message the
// moderator pressed: the start notice before the first send and the summary
// afterwards, both through SafeEdit.
func (e *Engine) DeliverInteractive(ctx context.Context, ed Editor, t Target, run Run, p content.Payload, recipients []int64) (Result, error) {
	if _, err := SafeEdit(ctx, ed, e.log, t, TextStarted, nil); err != nil {
		e.log.Warn("start notice failed", logx.Err(err))
	}
	res, runErr := e.Execute(ctx, run, p, recipients)
	if _, err := SafeEdit(ctx, ed, e.log, t, res.Summary(), nil); err != nil {
		e.log.Warn("summary notice failed", logx.Err(err))
	}
	return res, runErr
}
