package dispatcher

import "encoding/json"

// ResponseKind is the wire discriminant of a service response. The
// dispatcher branches only on "error" and "none" plus the presence of a
// state directive; every other kind is forwarded verbatim to the (out of
// scope) chat adapter for rendering.
type ResponseKind string

const (
	KindReply       ResponseKind = "reply"
	KindEdit        ResponseKind = "edit"
	KindNone        ResponseKind = "none"
	KindError       ResponseKind = "error"
	KindPhoto       ResponseKind = "photo"
	KindDelete      ResponseKind = "delete"
	KindAudio       ResponseKind = "audio"
	KindVideo       ResponseKind = "video"
	KindDocument    ResponseKind = "document"
	KindLocation    ResponseKind = "location"
	KindContact     ResponseKind = "contact"
	KindUI          ResponseKind = "ui"
	KindPubkyWrite  ResponseKind = "pubky_write"
)

// StateOp is the directive operation a service response may carry.
type StateOp string

const (
	StateOpReplace StateOp = "replace"
	StateOpMerge   StateOp = "merge"
	StateOpClear   StateOp = "clear"
)

// StateDirective instructs the dispatcher how to fold a service's returned
// value into the per-(chat,user,service) state record.
type StateDirective struct {
	Op    StateOp        `json:"op"`
	Value map[string]any `json:"value,omitempty"`
}

// Response is a service's reply, forwarded to the chat adapter mostly
// verbatim. Fields is the full decoded response body (including Kind and
// State) so unrecognized kinds still carry whatever fields they declared.
type Response struct {
	Kind   ResponseKind    `json:"kind"`
	State  *StateDirective `json:"state,omitempty"`
	Fields map[string]any  `json:"-"`
}

// parseResponse decodes a sandbox result value into a Response. A nil value
// (the sandbox's "no response" case) is represented by a {none} wrapper,
// matching the dispatcher contract of never returning a bare nil when the
// sandbox ran successfully with empty output.
func parseResponse(value any) (Response, error) {
	if value == nil {
		return Response{Kind: KindNone}, nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return Response{}, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Response{}, err
	}

	resp := Response{Fields: fields}
	if k, ok := fields["kind"].(string); ok {
		resp.Kind = ResponseKind(k)
	} else {
		resp.Kind = KindReply
	}

	if stateRaw, ok := fields["state"]; ok && stateRaw != nil {
		stateBytes, err := json.Marshal(stateRaw)
		if err == nil {
			var directive StateDirective
			if err := json.Unmarshal(stateBytes, &directive); err == nil {
				resp.State = &directive
			}
		}
	}

	return resp, nil
}

func errorResponse(message string) *Response {
	return &Response{
		Kind:   KindError,
		Fields: map[string]any{"kind": string(KindError), "text": message},
	}
}
