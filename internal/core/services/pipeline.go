package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"storefront-chat/internal/core/domain"
	"storefront-chat/internal/core/ports"
)

// TurnOutcome classifies how a turn ended (metrics label)
type TurnOutcome string

const (
	OutcomeReplied  TurnOutcome = "replied"
	OutcomeFallback TurnOutcome = "fallback"
	OutcomeDropped  TurnOutcome = "dropped"
)

// TurnInput is one logical turn: a single direct event or a merged batch
type TurnInput struct {
	Tenant    *domain.Tenant
	Customer  *domain.Customer
	Platform  domain.Platform
	Target    domain.SendTarget
	Text      string
	ImageURLs []string
}

// TurnProcessor runs a logical turn end to end
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, in TurnInput) TurnOutcome
}

// PipelineConfig holds turn timing
type PipelineConfig struct {
	// MinReplyDelay: the visible reply never arrives sooner than this
	MinReplyDelay time.Duration

	// AITimeout bounds the AI call; expiry triggers the fallback reply
	AITimeout time.Duration
}

// Pipeline gates a turn, calls the AI engine and dispatches the reply
type Pipeline struct {
	router     ports.TurnRouter
	responder  *Responder
	messenger  ports.Messenger
	products   ports.ProductRepository
	killSwitch *PanicMode
	metrics    ports.Metrics
	cfg        PipelineConfig
	now        func() time.Time
}

var _ TurnProcessor = (*Pipeline)(nil)

// NewPipeline creates the turn pipeline
func NewPipeline(
	router ports.TurnRouter,
	responder *Responder,
	messenger ports.Messenger,
	products ports.ProductRepository,
	killSwitch *PanicMode,
	metrics ports.Metrics,
	cfg PipelineConfig,
) *Pipeline {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &Pipeline{
		router:     router,
		responder:  responder,
		messenger:  messenger,
		products:   products,
		killSwitch: killSwitch,
		metrics:    metrics,
		cfg:        cfg,
		now:        time.Now,
	}
}

// ProcessTurn never panics and never returns an error: every failure after
// the gates ends in the fallback reply
func (p *Pipeline) ProcessTurn(ctx context.Context, in TurnInput) (outcome TurnOutcome) {
	started := p.now()
	intent := DetectIntent(in.Text)
	token := in.Tenant.AccessToken(in.Platform)

	// delivered is set once the AI reply has been handed to the responder;
	// from then on a recovered panic must not add a second reply
	delivered := false

	defer func() {
		if r := recover(); r != nil {
			slog.Error("PANIC recovered in ProcessTurn",
				"panic", r,
				"tenant_id", in.Tenant.ID,
				"customer_id", in.Customer.ID,
				"delivered", delivered,
			)
			if delivered {
				outcome = OutcomeReplied
			} else {
				outcome = p.fallback(ctx, in, token, intent, fmt.Errorf("panic: %v", r))
			}
		}
		p.metrics.ObserveTurn(string(outcome), p.now().Sub(started))
	}()

	// ========================================================================
	// Step 1: Gates (no gate produces a reply)
	// ========================================================================
	decision := EvaluateGate(in.Tenant, in.Platform, in.Customer, p.now(), p.killSwitch)
	if !decision.Allowed() {
		logGate(decision, in)
		p.metrics.IncDropped(string(decision))
		return OutcomeDropped
	}

	// ========================================================================
	// Step 2: Presence signals (best-effort, not available for comment replies)
	// ========================================================================
	if in.Target.CommentID == "" {
		for _, action := range []domain.SenderAction{domain.SenderActionMarkSeen, domain.SenderActionTypingOn} {
			if err := p.messenger.SendAction(ctx, token, in.Target.RecipientID, action); err != nil {
				slog.Debug("Sender action failed", "action", action, "error", err)
			}
		}
	}

	// ========================================================================
	// Step 3: AI call raced against the minimum reply delay
	// ========================================================================
	reply, err := p.route(ctx, in, intent)
	if err != nil {
		return p.fallback(ctx, in, token, intent, err)
	}

	// ========================================================================
	// Step 4: Dispatch
	// ========================================================================
	delivered = true
	if err := p.responder.Deliver(ctx, Delivery{
		Tenant:      in.Tenant,
		Customer:    in.Customer,
		Platform:    in.Platform,
		Target:      in.Target,
		AccessToken: token,
		UserText:    in.Text,
		Intent:      intent,
		Reply:       reply,
		CountUsage:  true,
	}); err != nil {
		slog.Warn("Reply delivered with errors", "error", err, "tenant_id", in.Tenant.ID)
	}

	slog.Info("Turn completed",
		"tenant_id", in.Tenant.ID,
		"customer_id", in.Customer.ID,
		"intent", intent,
		"tools", reply.ToolsUsed,
	)
	return OutcomeReplied
}

// route runs the AI engine bounded by AITimeout while the min-delay timer
// runs alongside; it returns once both are done
func (p *Pipeline) route(ctx context.Context, in TurnInput, intent domain.Intent) (*domain.Reply, error) {
	var (
		reply    *domain.Reply
		routeErr error
		g        errgroup.Group
	)

	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				routeErr = fmt.Errorf("panic in AI engine: %v", r)
			}
		}()

		aiCtx := ctx
		if p.cfg.AITimeout > 0 {
			var cancel context.CancelFunc
			aiCtx, cancel = context.WithTimeout(ctx, p.cfg.AITimeout)
			defer cancel()
		}
		reply, routeErr = p.router.Route(aiCtx, domain.Turn{
			Tenant:    in.Tenant,
			Customer:  in.Customer,
			Platform:  in.Platform,
			Text:      in.Text,
			ImageURLs: in.ImageURLs,
			Intent:    intent,
		})
		if routeErr == nil && (reply == nil || reply.Text == "") {
			routeErr = domain.ErrEmptyReply
		}
		return nil
	})

	g.Go(func() error {
		if p.cfg.MinReplyDelay <= 0 {
			return nil
		}
		t := time.NewTimer(p.cfg.MinReplyDelay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}
		return nil
	})

	_ = g.Wait()
	return reply, routeErr
}

// fallback sends the canned intent reply and still writes the history row
func (p *Pipeline) fallback(ctx context.Context, in TurnInput, token string, intent domain.Intent, cause error) (outcome TurnOutcome) {
	outcome = OutcomeFallback
	defer func() {
		if r := recover(); r != nil {
			slog.Error("PANIC recovered in fallback", "panic", r, "tenant_id", in.Tenant.ID)
			outcome = OutcomeDropped
		}
	}()

	slog.Error("AI turn failed, sending fallback",
		"error", cause,
		"tenant_id", in.Tenant.ID,
		"customer_id", in.Customer.ID,
		"intent", intent,
	)

	products, err := p.products.ListActive(ctx, in.Tenant.ID)
	if err != nil {
		slog.Warn("Failed to load products for fallback", "error", err)
		products = nil
	}

	reply := &domain.Reply{Text: GenerateFallbackResponse(intent, in.Tenant.Name, products)}
	if err := p.responder.Deliver(ctx, Delivery{
		Tenant:      in.Tenant,
		Customer:    in.Customer,
		Platform:    in.Platform,
		Target:      in.Target,
		AccessToken: token,
		UserText:    in.Text,
		Intent:      intent,
		Reply:       reply,
	}); err != nil {
		slog.Warn("Fallback delivered with errors", "error", err, "tenant_id", in.Tenant.ID)
	}
	return outcome
}

func logGate(decision GateDecision, in TurnInput) {
	attrs := []any{
		"decision", decision,
		"tenant_id", in.Tenant.ID,
		"customer_id", in.Customer.ID,
		"platform", in.Platform,
	}
	if decision == GateNoToken {
		slog.Warn("Turn dropped: tenant has no access token", attrs...)
		return
	}
	slog.Info("Turn dropped by gate", attrs...)
}
