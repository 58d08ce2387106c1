// Package connector ties the transport, normalizer, composer and dispatch
// queue into one session with a harness-facing lifecycle: Validate, Build,
// Start, UserSays, Stop, Clean.
package connector

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"dlbridge/internal/activity"
	"dlbridge/internal/compose"
	"dlbridge/internal/config"
	"dlbridge/internal/directline"
	"dlbridge/internal/domain"
	"dlbridge/internal/normalize"
	"dlbridge/internal/queue"
)

const defaultSelfID = "me"

// Transport is the subset of the Direct Line client the connector drives.
// Injected so tests can substitute a fake.
type Transport interface {
	Connect(ctx context.Context) error
	Activities() <-chan activity.Activity
	States() <-chan domain.ConnectionState
	PostActivity(ctx context.Context, raw []byte) (string, error)
	Upload(ctx context.Context, raw []byte, media []domain.Attachment, userID string, allowUnsafeIO bool) (string, error)
	Probe(ctx context.Context) error
	Stop()
}

// Connector is one harness-facing session over a Direct Line conversation.
type Connector struct {
	cfg     *config.Config
	logger  *slog.Logger
	factory TransportFactory

	transport  Transport
	normalizer *normalize.Normalizer
	composer   *compose.Composer
	dispatch   *queue.Dispatch
	monitor    *lifecycleMonitor
	selfID     string
	stopCh     chan struct{}
	started    bool
}

// TransportFactory builds the transport for one session.
type TransportFactory func(cfg *config.Config, logger *slog.Logger) Transport

// DefaultTransportFactory builds the real Direct Line client.
func DefaultTransportFactory(cfg *config.Config, logger *slog.Logger) Transport {
	return directline.NewClient(directline.Config{
		Secret:          cfg.Secret,
		Domain:          cfg.Domain,
		WebSocket:       cfg.WebSocket,
		PollingInterval: time.Duration(cfg.PollingIntervalMs) * time.Millisecond,
		Timeout:         time.Duration(cfg.TimeoutSeconds) * time.Second,
		Logger:          logger,
	})
}

// New creates a connector with the default transport factory.
func New(cfg *config.Config, logger *slog.Logger) *Connector {
	return NewWithFactory(cfg, logger, DefaultTransportFactory)
}

// NewWithFactory creates a connector with an injected transport factory.
func NewWithFactory(cfg *config.Config, logger *slog.Logger, factory TransportFactory) *Connector {
	return &Connector{cfg: cfg, logger: logger, factory: factory}
}

// Validate fails fast on missing required capabilities, before any
// connection attempt.
func (c *Connector) Validate() error {
	return c.cfg.Validate()
}

// Build constructs the transport for the next session. Any previous
// session is torn down first.
func (c *Connector) Build() error {
	c.teardown()
	c.transport = c.factory(c.cfg, c.logger)
	return nil
}

// Start opens the conversation, subscribes the inbound stream with a fresh
// dedup set and awaits the startup outcome. On success it returns the
// canonical delivery stream; a transport that never comes online fails the
// startup future instead of hanging.
func (c *Connector) Start(ctx context.Context) (<-chan domain.InboundMessage, error) {
	if c.transport == nil {
		if err := c.Build(); err != nil {
			return nil, err
		}
	}

	c.selfID = defaultSelfID
	if c.cfg.GenerateUsername {
		c.selfID = "dlbridge-" + uuid.NewString()
	}

	c.normalizer = normalize.New(normalize.Config{
		SelfID:   c.selfID,
		Allowed:  c.cfg.AllowedType,
		ValueMap: c.cfg.ActivityValueMap,
		Logger:   c.logger,
	})
	c.composer = compose.New(compose.Config{
		SelfID:           c.selfID,
		ButtonType:       c.cfg.ButtonType,
		ButtonValueField: c.cfg.ButtonValueField,
		Template:         c.cfg.ActivityTemplate,
		Validation:       c.cfg.ActivityValidation,
		Logger:           c.logger,
	})
	c.dispatch = queue.New(0, c.logger)
	c.monitor = newLifecycleMonitor(c.logger)
	c.stopCh = make(chan struct{})

	go c.monitor.watch(c.transport.States(), c.stopCh)
	go c.normalizer.Run(c.transport.Activities())

	go func() {
		if err := c.transport.Connect(ctx); err != nil {
			// The monitor rejects the startup future from the state
			// transition; this is diagnostics only.
			c.logger.Debug("connect failed", "err", err)
		}
	}()

	select {
	case err := <-c.monitor.Startup():
		if err != nil {
			c.teardown()
			return nil, err
		}
	case <-ctx.Done():
		c.teardown()
		return nil, ctx.Err()
	}
	c.started = true

	c.postWelcome(ctx)
	return c.normalizer.Messages(), nil
}

// UserSays composes and sends one outbound message. Sends are serialized:
// the transport observes them strictly in submission order, and one failed
// send leaves the session usable.
func (c *Connector) UserSays(ctx context.Context, msg domain.OutboundMessage) error {
	if !c.started || c.dispatch == nil {
		return domain.ErrQueueNotStarted
	}
	if msg.Sender == "" {
		msg.Sender = c.selfID
	}

	raw, err := c.composer.Compose(msg)
	if err != nil {
		return err
	}

	return c.dispatch.Do(ctx, func(ctx context.Context) error {
		var id string
		var sendErr error
		if len(msg.Media) > 0 {
			id, sendErr = c.transport.Upload(ctx, raw, msg.Media, msg.Sender, c.cfg.AllowUnsafeIO)
		} else {
			id, sendErr = c.transport.PostActivity(ctx, raw)
		}
		if sendErr != nil {
			var secErr *domain.SecurityError
			if errors.As(sendErr, &secErr) {
				return sendErr
			}
			return &domain.SendError{Op: "post activity", Err: sendErr}
		}
		c.logger.Debug("activity sent", "id", id)
		return nil
	})
}

// Stop tears the session down. Best-effort: never errors, safe without a
// prior Start.
func (c *Connector) Stop() {
	c.teardown()
}

// Clean is a full teardown including the built transport.
func (c *Connector) Clean() {
	c.teardown()
	c.transport = nil
}

// postWelcome sends the configured welcome activity right after
// subscribing, or a best-effort no-op session probe when none is
// configured. Either outcome is ignored.
func (c *Connector) postWelcome(ctx context.Context) {
	if len(c.cfg.WelcomeActivity) == 0 {
		if err := c.transport.Probe(ctx); err != nil {
			c.logger.Debug("session probe failed", "err", err)
		}
		return
	}
	raw, err := json.Marshal(c.cfg.WelcomeActivity)
	if err != nil {
		c.logger.Warn("welcome activity not serializable", "err", err)
		return
	}
	if err := c.dispatch.Do(ctx, func(ctx context.Context) error {
		_, err := c.transport.PostActivity(ctx, raw)
		return err
	}); err != nil {
		c.logger.Warn("welcome activity failed", "err", err)
	}
}

func (c *Connector) teardown() {
	c.started = false
	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
	if c.transport != nil {
		c.transport.Stop()
	}
	if c.dispatch != nil {
		c.dispatch.Close()
		c.dispatch = nil
	}
}

var _ Transport = (*directline.Client)(nil)
