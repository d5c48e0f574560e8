package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gillohner/pubky-bot-builder-telegram-sub000/internal/bundlestore"
	"github.com/gillohner/pubky-bot-builder-telegram-sub000/internal/metrics"
	"github.com/gillohner/pubky-bot-builder-telegram-sub000/internal/sandboxhost"
	"github.com/gillohner/pubky-bot-builder-telegram-sub000/internal/snapshot"
	"github.com/gillohner/pubky-bot-builder-telegram-sub000/internal/statestore"
	"github.com/gillohner/pubky-bot-builder-telegram-sub000/pkg/logger"
)

const (
	commandTimeoutMs  = 2000
	listenerTimeoutMs = 1000
)

// Dispatcher is the runtime's central event router.
type Dispatcher struct {
	builder *snapshot.Builder
	bundles *bundlestore.Store
	states  *statestore.Store
	sandbox *sandboxhost.Host
	metrics *metrics.Collector
	log     *logger.Logger
}

// New constructs a Dispatcher.
func New(builder *snapshot.Builder, bundles *bundlestore.Store, states *statestore.Store, sandbox *sandboxhost.Host, m *metrics.Collector, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewDefault("dispatcher")
	}
	return &Dispatcher{builder: builder, bundles: bundles, states: states, sandbox: sandbox, metrics: m, log: log}
}

// Dispatch routes event to its resolved route and returns the service's
// response, or nil if the event matched nothing (unknown command,
// unresolved callback, or every listener declined).
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) (*Response, error) {
	if d.metrics != nil {
		d.metrics.ObserveDispatch(string(event.Kind))
	}

	switch event.Kind {
	case EventCommand:
		return d.dispatchCommand(ctx, event)
	case EventCallback:
		return d.dispatchCallback(ctx, event)
	case EventMessage:
		return d.dispatchMessage(ctx, event)
	default:
		return nil, fmt.Errorf("dispatcher: unknown event kind %q", event.Kind)
	}
}

func normalizeToken(raw string) string {
	token := strings.ToLower(strings.TrimSpace(raw))
	token = strings.TrimPrefix(token, "/")
	if at := strings.Index(token, "@"); at >= 0 {
		token = token[:at]
	}
	return token
}

func (d *Dispatcher) dispatchCommand(ctx context.Context, event Event) (*Response, error) {
	snap, err := d.builder.Build(ctx, event.ChatID, snapshot.BuildOptions{})
	if err != nil {
		return nil, err
	}

	token := normalizeToken(event.Token)
	route, ok := snap.Commands[token]
	if !ok {
		return nil, nil
	}

	eventBody := map[string]any{"type": string(EventCommand), "token": token}
	return d.invokeRoute(ctx, fromCommandRoute(route), route.ServiceID, route.Kind, event.ChatID, event.UserID, eventBody, commandTimeoutMs)
}

func (d *Dispatcher) dispatchCallback(ctx context.Context, event Event) (*Response, error) {
	snap, err := d.builder.Build(ctx, event.ChatID, snapshot.BuildOptions{})
	if err != nil {
		return nil, err
	}

	identifier, tail, ok := splitCallbackData(event.Data)
	if !ok {
		return nil, nil
	}

	route, ok := snap.Commands[identifier]
	if !ok {
		route, ok = findByServiceID(snap, identifier)
		if !ok {
			return nil, nil
		}
	}

	eventBody := map[string]any{"type": string(EventCallback), "data": tail}
	return d.invokeRoute(ctx, fromCommandRoute(route), route.ServiceID, route.Kind, event.ChatID, event.UserID, eventBody, commandTimeoutMs)
}

// splitCallbackData parses "svc:<identifier>|<payload>" into its two parts.
func splitCallbackData(raw string) (identifier, tail string, ok bool) {
	const prefix = "svc:"
	if !strings.HasPrefix(raw, prefix) {
		return "", "", false
	}
	rest := raw[len(prefix):]
	parts := strings.SplitN(rest, "|", 2)
	if len(parts) != 2 {
		return parts[0], "", true
	}
	return parts[0], parts[1], true
}

func findByServiceID(snap snapshot.Snapshot, serviceID string) (snapshot.CommandRoute, bool) {
	for _, route := range snap.Commands {
		if route.ServiceID == serviceID {
			return route, true
		}
	}
	return snapshot.CommandRoute{}, false
}

func (d *Dispatcher) dispatchMessage(ctx context.Context, event Event) (*Response, error) {
	snap, err := d.builder.Build(ctx, event.ChatID, snapshot.BuildOptions{})
	if err != nil {
		return nil, err
	}

	activeServiceID := d.states.ActiveFlow(flowKey(event.ChatID, event.UserID))
	if activeServiceID != "" {
		if route, ok := findByServiceID(snap, activeServiceID); ok && route.Kind == snapshot.KindMultiStep {
			eventBody := map[string]any{"type": string(EventMessage), "message": event.Body}
			return d.invokeRoute(ctx, fromCommandRoute(route), route.ServiceID, route.Kind, event.ChatID, event.UserID, eventBody, commandTimeoutMs)
		}
	}

	for _, listener := range snap.Listeners {
		eventBody := map[string]any{"type": string(EventMessage), "message": event.Body}
		resp, err := d.invokeRoute(ctx, fromListenerRoute(listener), listener.ServiceID, listener.Kind, event.ChatID, event.UserID, eventBody, listenerTimeoutMs)
		if err != nil {
			d.log.WithField("serviceId", listener.ServiceID).WithField("err", err.Error()).Warn("listener invocation failed, trying next")
			continue
		}
		if resp != nil && resp.Kind != KindNone {
			return resp, nil
		}
	}
	return nil, nil
}

// invokeRoute loads the route's bundle, builds the payload, invokes the
// sandbox, and applies any resulting state directive. It is shared by all
// three dispatch paths.
func (d *Dispatcher) invokeRoute(ctx context.Context, route routeView, serviceID string, kind snapshot.Kind, chatID, userID string, eventBody map[string]any, timeoutMs int) (*Response, error) {
	bundle, err := d.bundles.Get(ctx, route.bundleHash)
	if err != nil {
		d.log.WithField("bundleHash", route.bundleHash).Warn("snapshot referenced a missing bundle, invariant violation")
		if _, rerr := d.builder.Build(ctx, chatID, snapshot.BuildOptions{Force: true}); rerr != nil {
			d.log.WithField("err", rerr.Error()).Warn("rebuild after missing bundle failed")
		}
		return errorResponse("service bundle unavailable"), nil
	}

	key := stateKey(chatID, userID, serviceID)
	state := d.states.Get(key)

	payload := buildPayload(eventBody, route, chatID, userID, state)

	start := time.Now()
	result := d.sandbox.Run(ctx, bundle.Entry, payload, sandboxhost.Capabilities{
		TimeoutMs: timeoutMs,
		HasNpm:    bundle.HasNpm,
		Net:       route.net,
	})
	if d.metrics != nil {
		d.metrics.ObserveSandboxRun(serviceID, result.OK, time.Since(start))
	}

	if !result.OK {
		return errorResponse(result.Error), nil
	}

	resp, err := parseResponse(result.Value)
	if err != nil {
		return errorResponse("invalid service response: " + err.Error()), nil
	}

	d.applyStateDirective(key, chatID, userID, serviceID, kind, resp.State, state.Version > 0)

	return &resp, nil
}

// applyStateDirective folds a response's state directive into the state
// store and updates the active-flow pointer. hadPriorState reflects whether
// a state record already existed for this key before the sandbox ran: a
// multi-step route with no directive but pre-existing state still claims
// the active-flow pointer, idempotently.
func (d *Dispatcher) applyStateDirective(key, chatID, userID, serviceID string, kind snapshot.Kind, directive *StateDirective, hadPriorState bool) {
	if directive == nil {
		if kind == snapshot.KindMultiStep && hadPriorState {
			d.states.SetActiveFlow(flowKey(chatID, userID), serviceID)
		}
		return
	}

	switch directive.Op {
	case StateOpClear:
		d.states.Apply(key, statestore.DirectiveClear, nil)
		d.states.SetActiveFlow(flowKey(chatID, userID), "")
	case StateOpMerge:
		d.states.Apply(key, statestore.DirectiveMerge, directive.Value)
		if kind == snapshot.KindMultiStep {
			d.states.SetActiveFlow(flowKey(chatID, userID), serviceID)
		}
	case StateOpReplace:
		d.states.Apply(key, statestore.DirectiveReplace, directive.Value)
		if kind == snapshot.KindMultiStep {
			d.states.SetActiveFlow(flowKey(chatID, userID), serviceID)
		}
	}
}
