package dispatcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gillohner/pubky-bot-builder-telegram-sub000/internal/bundlestore"
	"github.com/gillohner/pubky-bot-builder-telegram-sub000/internal/configstore"
	"github.com/gillohner/pubky-bot-builder-telegram-sub000/internal/sandboxhost"
	"github.com/gillohner/pubky-bot-builder-telegram-sub000/internal/snapshot"
	"github.com/gillohner/pubky-bot-builder-telegram-sub000/internal/statestore"
)

func newTestDispatcher(t *testing.T, tmpl snapshot.Template) *Dispatcher {
	t.Helper()
	cs, err := configstore.Open(context.Background(), "file::memory:?cache=shared", configstore.DefaultPoolConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })

	bs := bundlestore.New(cs.DB(), nil)
	source := snapshot.StaticConfigSource{Templates: map[string]snapshot.Template{"default": tmpl}}
	builder := snapshot.NewBuilder(cs, bs, source, "default", nil, nil)
	states := statestore.New()
	sandbox := sandboxhost.New(sandboxhost.Config{Mode: sandboxhost.ModeInprocess}, nil)

	return New(builder, bs, states, sandbox, nil, nil)
}

func TestUnknownCommandReturnsNil(t *testing.T) {
	d := newTestDispatcher(t, snapshot.Template{Services: nil})
	resp, err := d.Dispatch(context.Background(), Event{Kind: EventCommand, ChatID: "c1", UserID: "u1", Token: "nope"})
	require.NoError(t, err)
	require.Nil(t, resp)
}

func singleShotHelloTemplate() snapshot.Template {
	return snapshot.Template{
		Services: []snapshot.ServiceDef{{
			ServiceID: "hello-svc",
			Command:   "hello",
			Kind:      snapshot.KindSingleShot,
			Source:    `function main(input) { return {kind:"reply", text:"hi"}; }`,
		}},
	}
}

func TestSingleShotHelloReturnsReplyWithNoStateMutation(t *testing.T) {
	d := newTestDispatcher(t, singleShotHelloTemplate())
	resp, err := d.Dispatch(context.Background(), Event{Kind: EventCommand, ChatID: "c1", UserID: "u1", Token: "hello"})
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Equal(t, KindReply, resp.Kind)
	require.Equal(t, "hi", resp.Fields["text"])
	require.Empty(t, d.states.ActiveFlow(flowKey("c1", "u1")))
}

func multiStepFlowTemplate() snapshot.Template {
	source := `
function main(input) {
	var step = (input.event.state && input.event.state.step) || 0;
	if (input.event.type === "command" && step === 0) {
		return {kind:"reply", text:"step1", state:{op:"replace", value:{step:1}}};
	}
	if (input.event.type === "message" && step === 1) {
		return {kind:"reply", text:"step2", state:{op:"merge", value:{step:2}}};
	}
	return {kind:"reply", text:"done", state:{op:"clear"}};
}
`
	return snapshot.Template{
		Services: []snapshot.ServiceDef{{
			ServiceID: "flow-svc",
			Command:   "flow",
			Kind:      snapshot.KindMultiStep,
			Source:    source,
		}},
	}
}

func TestMultiStepFlowProgressesThroughStates(t *testing.T) {
	d := newTestDispatcher(t, multiStepFlowTemplate())
	ctx := context.Background()

	resp, err := d.Dispatch(ctx, Event{Kind: EventCommand, ChatID: "c1", UserID: "u1", Token: "flow"})
	require.NoError(t, err)
	require.Equal(t, "step1", resp.Fields["text"])
	key := stateKey("c1", "u1", "flow-svc")
	snap := d.states.Get(key)
	require.Equal(t, float64(1), snap.Value["step"])
	require.Equal(t, "flow-svc", d.states.ActiveFlow(flowKey("c1", "u1")))

	resp, err = d.Dispatch(ctx, Event{Kind: EventMessage, ChatID: "c1", UserID: "u1", Body: "anything"})
	require.NoError(t, err)
	require.Equal(t, "step2", resp.Fields["text"])
	snap = d.states.Get(key)
	require.Equal(t, float64(2), snap.Value["step"])
	require.Equal(t, "flow-svc", d.states.ActiveFlow(flowKey("c1", "u1")))

	resp, err = d.Dispatch(ctx, Event{Kind: EventCommand, ChatID: "c1", UserID: "u1", Token: "flow"})
	require.NoError(t, err)
	require.Equal(t, "done", resp.Fields["text"])
	snap = d.states.Get(key)
	require.Empty(t, snap.Value)
	require.Empty(t, d.states.ActiveFlow(flowKey("c1", "u1")))
}

func TestCallbackResolvesViaTokenBeforeServiceID(t *testing.T) {
	d := newTestDispatcher(t, singleShotHelloTemplate())

	resp, err := d.Dispatch(context.Background(), Event{Kind: EventCallback, ChatID: "c1", UserID: "u1", Data: "svc:hello|a"})
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Equal(t, "hi", resp.Fields["text"])
}

func TestCallbackFallsBackToServiceIDOnTokenMiss(t *testing.T) {
	d := newTestDispatcher(t, singleShotHelloTemplate())

	resp, err := d.Dispatch(context.Background(), Event{Kind: EventCallback, ChatID: "c1", UserID: "u1", Data: "svc:hello-svc|a"})
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Equal(t, "hi", resp.Fields["text"])
}

func TestSandboxTimeoutYieldsErrorResponseWithoutStateMutation(t *testing.T) {
	tmpl := snapshot.Template{
		Services: []snapshot.ServiceDef{{
			ServiceID: "slow-svc",
			Command:   "slow",
			Kind:      snapshot.KindSingleShot,
			Source:    `function main(input) { while(true) {} }`,
		}},
	}
	d := newTestDispatcher(t, tmpl)

	resp, err := d.Dispatch(context.Background(), Event{Kind: EventCommand, ChatID: "c1", UserID: "u1", Token: "slow"})
	require.NoError(t, err)
	require.Equal(t, KindError, resp.Kind)
	require.Empty(t, d.states.Get(stateKey("c1", "u1", "slow-svc")).Value)
}

func TestListenerChainFallsThroughOnNoneResponses(t *testing.T) {
	tmpl := snapshot.Template{
		Services: []snapshot.ServiceDef{
			{
				ServiceID:  "listener-a",
				IsListener: true,
				Kind:       snapshot.KindSingleShot,
				Source:     `function main(input) { return {kind:"none"}; }`,
			},
			{
				ServiceID:  "listener-b",
				IsListener: true,
				Kind:       snapshot.KindSingleShot,
				Source:     `function main(input) { return {kind:"reply", text:"caught"}; }`,
			},
		},
	}
	d := newTestDispatcher(t, tmpl)

	resp, err := d.Dispatch(context.Background(), Event{Kind: EventMessage, ChatID: "c1", UserID: "u1", Body: "hi"})
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Equal(t, "caught", resp.Fields["text"])
}
