package dispatcher

import (
	"encoding/json"

	"github.com/gillohner/pubky-bot-builder-telegram-sub000/internal/snapshot"
	"github.com/gillohner/pubky-bot-builder-telegram-sub000/internal/statestore"
)

func stateKey(chatID, userID, serviceID string) string {
	return chatID + "|" + userID + "|" + serviceID
}

func flowKey(chatID, userID string) string {
	return chatID + "|" + userID
}

// buildPayload assembles the {event, ctx, manifest} document written to
// the sandbox's stdin.
func buildPayload(eventBody map[string]any, route routeView, chatID, userID string, state statestore.Snapshot) []byte {
	var stateVersion *uint64
	var stateValue map[string]any
	if state.Version > 0 {
		v := state.Version
		stateVersion = &v
		stateValue = state.Value
	}

	eventBody["state"] = stateValue
	eventBody["stateVersion"] = stateVersion

	payload := map[string]any{
		"event": eventBody,
		"ctx": map[string]any{
			"chatId":        chatID,
			"userId":        userID,
			"serviceConfig": json.RawMessage(route.config()),
			"routeMeta":     route.meta(),
			"datasets":      route.datasets(),
		},
		"manifest": map[string]any{
			"schemaVersion": snapshotSchemaVersion,
		},
	}

	raw, _ := json.Marshal(payload)
	return raw
}

const snapshotSchemaVersion = 1

// routeView normalizes CommandRoute and ListenerRoute access so payload
// assembly doesn't need two near-identical code paths.
type routeView struct {
	serviceID  string
	kind       snapshot.Kind
	bundleHash string
	cfg        json.RawMessage
	routeMeta  snapshot.RouteMeta
	ds         map[string]any
	net        []string
}

func (r routeView) config() []byte              { return r.cfg }
func (r routeView) meta() snapshot.RouteMeta     { return r.routeMeta }
func (r routeView) datasets() map[string]any     { return r.ds }

func fromCommandRoute(r snapshot.CommandRoute) routeView {
	return routeView{
		serviceID:  r.ServiceID,
		kind:       r.Kind,
		bundleHash: r.BundleHash,
		cfg:        r.Config,
		routeMeta:  r.Meta,
		ds:         r.Datasets,
		net:        r.Net,
	}
}

func fromListenerRoute(r snapshot.ListenerRoute) routeView {
	return routeView{
		serviceID:  r.ServiceID,
		kind:       r.Kind,
		bundleHash: r.BundleHash,
		cfg:        r.Config,
		routeMeta:  r.Meta,
		ds:         r.Datasets,
		net:        r.Net,
	}
}
