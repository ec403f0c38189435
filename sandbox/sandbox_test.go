package sandbox

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/saiset-co/sai-zap/kv"
	"github.com/saiset-co/sai-zap/logger"
	"github.com/saiset-co/sai-zap/types"
)

type stubLoader map[string]string

func (s stubLoader) Load(_ context.Context, name string) (string, error) {
	source, ok := s[name]
	if !ok {
		return "", types.NewNotFound(name, types.ErrObjectNotFound)
	}
	return source, nil
}

func newTestEvaluator(loader types.SourceLoader, opts ...Option) *Evaluator {
	if loader == nil {
		loader = stubLoader{}
	}
	opts = append([]Option{WithEnv(map[string]string{})}, opts...)
	return NewEvaluator(&types.SandboxConfig{}, loader, logger.NewNop(), opts...)
}

func evaluate(t *testing.T, e *Evaluator, source string) *Instance {
	t.Helper()

	inst, err := e.Evaluate(context.Background(), "index", source)
	require.NoError(t, err)
	t.Cleanup(inst.Close)

	return inst
}

func call(t *testing.T, e *Evaluator, source string) interface{} {
	t.Helper()

	inst := evaluate(t, e, source)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	value, err := inst.Call(ctx)
	require.NoError(t, err)

	return value.Export()
}

func requireFault(t *testing.T, err error, kind types.FaultKind) *types.Fault {
	t.Helper()

	fault, ok := types.AsFault(err)
	require.True(t, ok, "expected fault, got %v", err)
	require.Equal(t, kind, fault.Kind, fault.Message)

	return fault
}

func TestEvaluateDefaultExport(t *testing.T) {
	inst := evaluate(t, newTestEvaluator(nil), "export default 42")

	assert.Equal(t, int64(42), inst.Export().ToInteger())
	assert.Equal(t, "index", inst.Name())
}

func TestEvaluateRewritesFirstExportOnly(t *testing.T) {
	_, err := newTestEvaluator(nil).Evaluate(context.Background(), "index", "export default 1\nexport default 2\n")

	requireFault(t, err, types.FaultEval)
}

func TestEvaluateSyntaxError(t *testing.T) {
	_, err := newTestEvaluator(nil).Evaluate(context.Background(), "broken", "export default (req => {")

	fault := requireFault(t, err, types.FaultEval)
	assert.Equal(t, "broken", fault.Name)
}

func TestEvaluateTopLevelThrow(t *testing.T) {
	_, err := newTestEvaluator(nil).Evaluate(context.Background(), "index", "throw new Error('boom')")

	fault := requireFault(t, err, types.FaultEval)
	assert.Equal(t, "boom", fault.Message)
}

func TestWithheldCapabilities(t *testing.T) {
	got := call(t, newTestEvaluator(nil), `export default () => [
		typeof require,
		typeof process.exit,
		typeof process.cwd,
		typeof module.require,
		typeof Deno,
		typeof kv,
	]`)

	assert.Equal(t, []interface{}{"undefined", "undefined", "undefined", "undefined", "undefined", "undefined"}, got)
}

func TestAllowedCapabilities(t *testing.T) {
	got := call(t, newTestEvaluator(nil), `export default () => [
		typeof fetch,
		typeof console.log,
		typeof URL,
		typeof URLSearchParams,
		typeof crypto.randomUUID,
		typeof Buffer.from,
		typeof setTimeout,
		typeof clearTimeout,
		typeof process.env,
		typeof zap,
	]`)

	assert.Equal(t, []interface{}{"function", "function", "function", "function", "function", "function", "function", "function", "object", "function"}, got)
}

func TestEvaluationsAreIsolated(t *testing.T) {
	e := newTestEvaluator(nil)

	evaluate(t, e, "globalThis.leak = 1\nexport default 0")
	got := call(t, e, "export default () => typeof leak")

	assert.Equal(t, "undefined", got)
}

func TestInvokeBuildsResponse(t *testing.T) {
	inst := evaluate(t, newTestEvaluator(nil), `export default async (req) => ({
		status: 201,
		headers: { 'x-name': req.query.name },
		body: { name: req.query.name, method: req.method, body: req.body },
	})`)

	body := "payload"
	resp, err := inst.Invoke(context.Background(), &types.Request{
		Method: "POST",
		Path:   "/hello",
		Query:  map[string]string{"name": "world"},
		Body:   &body,
	})
	require.NoError(t, err)

	assert.Equal(t, 201, resp.Status)
	assert.Equal(t, map[string]string{"x-name": "world"}, resp.Headers)
	assert.Equal(t, json.RawMessage(`{"name":"world","method":"POST","body":"payload"}`), resp.Body)
}

func TestInvokeStringBodyPassesThrough(t *testing.T) {
	inst := evaluate(t, newTestEvaluator(nil), `export default (req) => ({ body: req.query.name })`)

	resp, err := inst.Invoke(context.Background(), &types.Request{Query: map[string]string{"name": "world"}})
	require.NoError(t, err)

	assert.Equal(t, 0, resp.Status)
	assert.Equal(t, "world", resp.Body)
}

func TestInvokeHandlerThrows(t *testing.T) {
	e := newTestEvaluator(nil)

	for _, source := range []string{
		"export default async () => { throw new Error('nope') }",
		"export default () => { throw new Error('nope') }",
	} {
		inst := evaluate(t, e, source)

		_, err := inst.Invoke(context.Background(), &types.Request{})

		fault := requireFault(t, err, types.FaultHandler)
		assert.Equal(t, "nope", fault.Message)
	}
}

func TestInvokeNotCallable(t *testing.T) {
	inst := evaluate(t, newTestEvaluator(nil), "export default 42")

	_, err := inst.Invoke(context.Background(), &types.Request{})

	requireFault(t, err, types.FaultHandler)
	assert.ErrorIs(t, err, types.ErrHandlerNotCallable)
}

func TestInvokeStalledPromise(t *testing.T) {
	inst := evaluate(t, newTestEvaluator(nil), "export default () => new Promise(() => {})")

	_, err := inst.Invoke(context.Background(), &types.Request{})

	requireFault(t, err, types.FaultHandler)
	assert.ErrorIs(t, err, types.ErrHandlerStalled)
}

func TestContextInterruptsRunaway(t *testing.T) {
	inst := evaluate(t, newTestEvaluator(nil), "export default () => { for (;;) {} }")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := inst.Run(ctx)

	fault := requireFault(t, err, types.FaultHandler)
	assert.Equal(t, types.ErrHandlerInterrupted.Error(), fault.Message)
}

func TestZapImport(t *testing.T) {
	e := newTestEvaluator(stubLoader{
		"x/y": "export default 'x/y-loaded'",
	})

	assert.Equal(t, "x/y-loaded", call(t, e, "export default async () => zap('x/y')"))
}

func TestZapImportSharesInvocationGlobals(t *testing.T) {
	e := newTestEvaluator(stubLoader{
		"lib/flag": "globalThis.flagged = 'set by lib'\nexport default 1",
	})

	got := call(t, e, "export default async () => { await zap('lib/flag'); return flagged }")
	assert.Equal(t, "set by lib", got)

	assert.Equal(t, "undefined", call(t, e, "export default () => typeof flagged"))
}

func TestZapImportChain(t *testing.T) {
	e := newTestEvaluator(stubLoader{
		"lib/a": "export default async (n) => (await zap('lib/b'))(n) + 1",
		"lib/b": "export default (n) => n * 10",
	})

	got := call(t, e, "export default async () => (await zap('lib/a'))(4)")

	assert.EqualValues(t, 41, got)
}

func TestZapMissingImportIsEvalFault(t *testing.T) {
	inst := evaluate(t, newTestEvaluator(nil), "export default async () => zap('missing')")

	_, err := inst.Invoke(context.Background(), &types.Request{})

	fault := requireFault(t, err, types.FaultEval)
	assert.Equal(t, "missing", fault.Name)
}

func TestZapImportDepthIsBounded(t *testing.T) {
	e := newTestEvaluator(stubLoader{
		"loop": "module.exports = zap('loop')",
	})
	inst := evaluate(t, e, "export default async () => zap('loop')")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := inst.Call(ctx)

	fault := requireFault(t, err, types.FaultEval)
	assert.Contains(t, fault.Message, "import depth exceeded")
}

func TestZapCaughtImportFailure(t *testing.T) {
	got := call(t, newTestEvaluator(nil), `export default async () => {
		try {
			await zap('missing')
			return 'loaded'
		} catch (err) {
			return 'caught'
		}
	}`)

	assert.Equal(t, "caught", got)
}

func TestTimers(t *testing.T) {
	e := newTestEvaluator(nil)

	assert.Equal(t, "done", call(t, e, "export default () => new Promise(r => setTimeout(() => r('done'), 5))"))
	assert.Equal(t, "late", call(t, e, `export default () => new Promise(r => {
		const id = setTimeout(() => r('early'), 1)
		clearTimeout(id)
		setTimeout(v => r(v), 10, 'late')
	})`))
}

func TestURL(t *testing.T) {
	got := call(t, newTestEvaluator(nil), `export default () => {
		const u = new URL('https://example.com/a/b?x=1&y=two#top')
		const rel = new URL('../c', 'https://example.com/a/b/')
		return [u.hostname, u.pathname, u.searchParams.get('y'), u.protocol, u.hash, String(u), rel.href, u.origin]
	}`)

	assert.Equal(t, []interface{}{
		"example.com", "/a/b", "two", "https:", "#top",
		"https://example.com/a/b?x=1&y=two#top", "https://example.com/a/c", "https://example.com",
	}, got)
}

func TestURLInvalid(t *testing.T) {
	got := call(t, newTestEvaluator(nil), `export default () => {
		try { new URL('not a url'); return 'parsed' } catch (err) { return err instanceof TypeError }
	}`)

	assert.Equal(t, true, got)
}

func TestURLSearchParams(t *testing.T) {
	got := call(t, newTestEvaluator(nil), `export default () => {
		const p = new URLSearchParams('?a=1&b=2&a=3')
		p.append('c', 'x y')
		p.set('b', '9')
		const fromObject = new URLSearchParams({ k: 'v' })
		return [p.getAll('a').join(','), p.toString(), Object.fromEntries(p.entries()).b, [...p].length, p.has('z'), fromObject.toString()]
	}`)

	assert.Equal(t, []interface{}{"1,3", "a=1&b=9&a=3&c=x+y", "9", int64(4), false, "k=v"}, got)
}

func TestBuffer(t *testing.T) {
	got := call(t, newTestEvaluator(nil), `export default () => [
		Buffer.from('hi').toString('hex'),
		Buffer.from('aGk=', 'base64').toString(),
		Buffer.from('6869', 'hex').toString('utf8'),
		Buffer.isBuffer(Buffer.alloc(2)),
		Buffer.isBuffer(new Uint8Array(2)),
		Buffer.concat([Buffer.from('a'), Buffer.from('b')]).toString(),
		Buffer.byteLength('héllo'),
		Buffer.from([104, 105]).toString(),
		Buffer.from('hello').subarray(1, 3).toString(),
		Buffer.from('hi') instanceof Uint8Array,
	]`)

	assert.Equal(t, []interface{}{"6869", "hi", "hi", true, false, "ab", int64(6), "hi", "el", true}, got)
}

func TestCrypto(t *testing.T) {
	got := call(t, newTestEvaluator(nil), `export default async () => {
		const digest = await crypto.subtle.digest('SHA-256', Buffer.from('abc'))
		const sha3 = await crypto.subtle.digest({ name: 'SHA3-256' }, Buffer.from(''))
		return [
			crypto.randomUUID().length,
			crypto.getRandomValues(new Uint8Array(16)).length,
			Buffer.from(digest).toString('hex'),
			Buffer.from(sha3).toString('hex'),
		]
	}`)

	assert.Equal(t, []interface{}{
		int64(36),
		int64(16),
		"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		"a7ffc6f8bf1ed76651c14756a061d662f580ff4de43b49fa82d80a4b80f8434a",
	}, got)
}

func TestCryptoUnknownDigest(t *testing.T) {
	inst := evaluate(t, newTestEvaluator(nil), "export default () => crypto.subtle.digest('MD5', Buffer.from('x'))")

	err := inst.Run(context.Background())

	requireFault(t, err, types.FaultHandler)
}

func TestProcessEnvIsFrozenSnapshot(t *testing.T) {
	e := newTestEvaluator(nil, WithEnv(map[string]string{"GREETING": "hi"}))

	got := call(t, e, `export default () => {
		process.env.GREETING = 'changed'
		return [process.env.GREETING, Object.isFrozen(process.env), Object.keys(process).join(',')]
	}`)

	assert.Equal(t, []interface{}{"hi", true, "env"}, got)
}

func TestSnapshotEnvAllowlist(t *testing.T) {
	t.Setenv("ZAP_TEST_ALLOWED", "yes")
	t.Setenv("ZAP_TEST_HIDDEN", "no")

	env := snapshotEnv([]string{"ZAP_TEST_ALLOWED"})

	assert.Equal(t, map[string]string{"ZAP_TEST_ALLOWED": "yes"}, env)
}

func TestConsoleLogsWithHandlerName(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	e := NewEvaluator(&types.SandboxConfig{}, stubLoader{}, logger.NewZapWrapper(zap.New(core)), WithEnv(map[string]string{}))

	call(t, e, "export default () => { console.log('hello', { a: 1 }); console.error(new Error('bad')) }")

	entries := logs.FilterMessage("console").All()
	require.Len(t, entries, 2)

	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, `hello {"a":1}`, entries[0].ContextMap()["message"])
	assert.Equal(t, "index", entries[0].ContextMap()["handler"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "bad", entries[1].ContextMap()["message"])
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/redirect" {
			http.Redirect(w, r, "/data", http.StatusFound)
			return
		}
		payload, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Test", r.Header.Get("X-In"))
		_, _ = w.Write([]byte(`{"echo":"` + string(payload) + `","method":"` + r.Method + `"}`))
	}))
	defer srv.Close()

	e := newTestEvaluator(nil, WithEnv(map[string]string{"API": srv.URL}))

	got := call(t, e, `export default async () => {
		const r = await fetch(process.env.API + '/data', { method: 'PUT', body: 'ping', headers: { 'X-In': '1' } })
		const data = await r.json()
		const moved = await fetch(new URL('/redirect', process.env.API))
		return [r.status, r.ok, r.headers.get('x-test'), data.echo, data.method, moved.redirected, (await moved.json()).method]
	}`)

	assert.Equal(t, []interface{}{int64(200), true, "1", "ping", "PUT", true, "GET"}, got)
}

func TestFetchFailureRejects(t *testing.T) {
	got := call(t, newTestEvaluator(nil), `export default async () => {
		try { await fetch('not a url'); return 'fetched' } catch (err) { return 'rejected' }
	}`)

	assert.Equal(t, "rejected", got)
}

func TestKV(t *testing.T) {
	e := newTestEvaluator(nil, WithKeyValueStore(kv.NewMemoryStore()))

	got := call(t, e, `export default async () => {
		await kv.set('counter', { count: 2 })
		const value = await kv.get('counter')
		await kv.del('counter')
		const missing = await kv.get('counter')
		return [value.count, missing === null]
	}`)

	assert.Equal(t, []interface{}{int64(2), true}, got)
}

func TestRewriteExport(t *testing.T) {
	assert.Equal(t, "const a = 1\nmodule.exports = a\nexport default b", rewriteExport("const a = 1\nexport default a\nexport default b"))
	assert.Equal(t, "  export default a", rewriteExport("  export default a"))
	assert.Equal(t, "module.exports = 1", rewriteExport("module.exports = 1"))
}
