package sandboxhost

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dop251/goja"
)

// entryPointFunc is the name every bundle is expected to export: a plain
// function taking the parsed stdin payload and returning the response
// object, mirroring the one-shot request/response shape of the subprocess
// stdio protocol.
const entryPointFunc = "main"

// inprocessEngine evaluates a bundle's JS source in a fresh goja.Runtime
// per call instead of spawning a child process. There is no capability
// boundary in this mode: it exists purely so the core can run end to end
// without a real interpreter binary installed (local dev, unit tests).
type inprocessEngine struct{}

func newInprocessEngine() *inprocessEngine {
	return &inprocessEngine{}
}

func (e *inprocessEngine) run(ctx context.Context, entry string, payload []byte, caps Capabilities) Result {
	source, err := readEntrySource(entry)
	if err != nil {
		return Result{OK: false, Error: fmt.Sprintf("read entry: %v", err)}
	}

	var payloadVal any
	if err := json.Unmarshal(payload, &payloadVal); err != nil {
		return Result{OK: false, Error: fmt.Sprintf("invalid JSON: %v", err)}
	}

	vm := goja.New()
	done := make(chan Result, 1)
	go func() {
		done <- evaluate(vm, source, payloadVal)
	}()

	select {
	case <-ctx.Done():
		vm.Interrupt("sandbox deadline exceeded")
		<-done
		return Result{OK: false, Error: "sandbox deadline exceeded"}
	case r := <-done:
		return r
	}
}

func evaluate(vm *goja.Runtime, source string, payload any) Result {

	console := vm.NewObject()
	_ = console.Set("log", func(call goja.FunctionCall) goja.Value { return goja.Undefined() })
	_ = vm.Set("console", console)

	if _, err := vm.RunString(builtinHelpers); err != nil {
		return Result{OK: false, Error: fmt.Sprintf("load sandbox helpers: %v", err)}
	}

	if _, err := vm.RunString(source); err != nil {
		return Result{OK: false, Error: fmt.Sprintf("sandbox exit 1: %v", err)}
	}

	entryPoint, ok := goja.AssertFunction(vm.Get(entryPointFunc))
	if !ok {
		return Result{OK: false, Error: fmt.Sprintf("entry point %q is not a function", entryPointFunc)}
	}

	result, err := entryPoint(goja.Undefined(), vm.ToValue(payload))
	if err != nil {
		return Result{OK: false, Error: fmt.Sprintf("sandbox exit 1: %v", err)}
	}
	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return Result{OK: true, Value: nil}
	}

	exported := result.Export()
	jsonBytes, err := json.Marshal(exported)
	if err != nil {
		return Result{OK: false, Error: fmt.Sprintf("invalid JSON: %v", err)}
	}
	var value any
	if err := json.Unmarshal(jsonBytes, &value); err != nil {
		return Result{OK: false, Error: fmt.Sprintf("invalid JSON: %v", err)}
	}
	return Result{OK: true, Value: value}
}

func readEntrySource(entry string) (string, error) {
	info, err := os.Stat(entry)
	if err != nil {
		return "", err
	}
	path := entry
	if info.IsDir() {
		path = filepath.Join(entry, "index.js")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// builtinHelpers mirrors the minimal JS standard-library shims the bundler
// inlines for the real interpreter, so service code written against them
// behaves identically under the in-process fallback.
const builtinHelpers = `
var crypto = {
	randomUUID: function() {
		return 'xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx'.replace(/[xy]/g, function(c) {
			var r = Math.random() * 16 | 0, v = c == 'x' ? r : (r & 0x3 | 0x8);
			return v.toString(16);
		});
	}
};
`
