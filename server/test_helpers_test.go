package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/tern/artifact"
	"github.com/chazu/tern/asm"
	"github.com/chazu/tern/host"
	"github.com/chazu/tern/store"
	"github.com/chazu/tern/vm"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure for server package tests.
// ---------------------------------------------------------------------------

const fibSource = `
.program fib
.requires io

.method fib(int) int
    load 0
    iconst 1
    ifgt recurse
    load 0
    ireturn
recurse:
    load 0
    iconst 2
    isub
    call fib(int)
    load 0
    iconst 1
    isub
    call fib(int)
    iadd
    ireturn
.end

.method main() int
    sconst "computing"
    call println(any)
    iconst 15
    call fib(int)
    ireturn
.end

.method crash() int
    iconst 1
    iconst 0
    idiv
    ireturn
.end
`

func bg() context.Context {
	return context.Background()
}

func connectReq(fields map[string]any) *connect.Request[structpb.Struct] {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		panic(err)
	}
	return connect.NewRequest(msg)
}

// fibText returns the fib program in text form.
func fibText(t *testing.T) string {
	t.Helper()
	f, err := asm.Assemble("fib.tasm", []byte(fibSource))
	if err != nil {
		t.Fatal(err)
	}
	text, err := artifact.EncodeText(f)
	if err != nil {
		t.Fatal(err)
	}
	return string(text)
}

func runOptions() host.Options {
	return host.Options{
		Heap:    vm.DefaultHeapConfig(),
		Machine: []vm.Option{vm.WithStackSlots(4096)},
	}
}

// testEnv bundles a service with its own store.
type testEnv struct {
	Store   *store.Store
	Pool    *Pool
	Service *RunnerService
}

func newTestEnv(t *testing.T, policy *artifact.CapabilityPolicy) *testEnv {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "programs.db"))
	if err != nil {
		t.Fatal(err)
	}
	pool := NewPool(2)
	t.Cleanup(func() {
		pool.Stop()
		st.Close()
	})
	opts := runOptions()
	opts.Policy = policy
	return &testEnv{Store: st, Pool: pool, Service: NewRunnerService(pool, st, opts)}
}

// newTestServer starts a full server that accepts HTTP/1.1 and h2c.
func newTestServer(t *testing.T, opts ...ServerOption) *httptest.Server {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "programs.db"))
	if err != nil {
		t.Fatal(err)
	}
	s := New(append([]ServerOption{WithStore(st), WithRunOptions(runOptions())}, opts...)...)
	srv := httptest.NewUnstartedServer(s.Handler())
	var protocols http.Protocols
	protocols.SetHTTP1(true)
	protocols.SetUnencryptedHTTP2(true)
	srv.Config.Protocols = &protocols
	srv.Start()
	t.Cleanup(func() {
		srv.Close()
		s.Stop()
		st.Close()
	})
	return srv
}
