package server

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"

	"github.com/chazu/tern/artifact"
	"github.com/chazu/tern/asm"
)

// ---------------------------------------------------------------------------
// Run: happy paths
// ---------------------------------------------------------------------------

func TestRun_InlineArtifact(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, err := env.Service.Run(bg(), connectReq(map[string]any{"artifact": fibText(t)}))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	reply := runReplyFrom(resp.Msg)
	if !reply.Success {
		t.Fatalf("Run was not successful: %s", reply.Error)
	}
	if !reply.HasValue || reply.Value != 610 {
		t.Errorf("Run value = %d (%v), want 610", reply.Value, reply.HasValue)
	}
	if reply.Result != "610" || reply.Type != "int" {
		t.Errorf("Run result = %q of type %q", reply.Result, reply.Type)
	}
	if reply.Stdout != "computing\n" {
		t.Errorf("Run stdout = %q", reply.Stdout)
	}
	if len(reply.Hash) != 64 || reply.Machine == "" || reply.Steps == 0 {
		t.Errorf("Run metadata missing: %+v", reply)
	}
}

func TestRun_BareHex(t *testing.T) {
	env := newTestEnv(t, nil)
	lines := strings.SplitN(fibText(t), "\n", 2)
	resp, err := env.Service.Run(bg(), connectReq(map[string]any{"artifact": lines[1]}))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if reply := runReplyFrom(resp.Msg); reply.Value != 610 {
		t.Errorf("Run value = %d, want 610", reply.Value)
	}
}

func TestRun_ByHash(t *testing.T) {
	env := newTestEnv(t, nil)
	f, err := decodeArtifact(fibText(t))
	if err != nil {
		t.Fatal(err)
	}
	hash, err := env.Store.Put(f)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := env.Service.Run(bg(), connectReq(map[string]any{"hash": hash[:10]}))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	reply := runReplyFrom(resp.Msg)
	if reply.Value != 610 || reply.Hash != hash {
		t.Errorf("Run = %+v", reply)
	}
}

func TestRun_Fault(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, err := env.Service.Run(bg(), connectReq(map[string]any{"artifact": fibText(t), "entry": "crash"}))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	reply := runReplyFrom(resp.Msg)
	if reply.Success {
		t.Fatal("division by zero succeeded")
	}
	if !strings.Contains(reply.Error, "division by zero") {
		t.Errorf("Run error = %q", reply.Error)
	}
	if len(reply.Trace) == 0 || !strings.HasPrefix(reply.Trace[0], "crash()") {
		t.Errorf("Run trace = %v", reply.Trace)
	}
}

// ---------------------------------------------------------------------------
// Run: errors
// ---------------------------------------------------------------------------

func TestRun_Errors(t *testing.T) {
	env := newTestEnv(t, nil)
	tests := []struct {
		name   string
		fields map[string]any
		code   connect.Code
	}{
		{"empty", map[string]any{}, connect.CodeInvalidArgument},
		{"both", map[string]any{"artifact": fibText(t), "hash": "abcdef"}, connect.CodeInvalidArgument},
		{"garbage", map[string]any{"artifact": "TERN 1\nzz"}, connect.CodeInvalidArgument},
		{"unknown hash", map[string]any{"hash": "0123456789"}, connect.CodeNotFound},
		{"unknown entry", map[string]any{"artifact": fibText(t), "entry": "nope"}, connect.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.Service.Run(bg(), connectReq(tt.fields))
			if connect.CodeOf(err) != tt.code {
				t.Errorf("Run error = %v, want code %v", err, tt.code)
			}
		})
	}
}

func TestRun_PolicyDenied(t *testing.T) {
	env := newTestEnv(t, artifact.NewRestrictedPolicy([]string{"core"}))
	_, err := env.Service.Run(bg(), connectReq(map[string]any{"artifact": fibText(t)}))
	if connect.CodeOf(err) != connect.CodePermissionDenied {
		t.Errorf("Run error = %v, want PermissionDenied", err)
	}
}

func TestRun_UnknownCapability(t *testing.T) {
	env := newTestEnv(t, nil)
	f, err := asm.Assemble("gpu.tasm", []byte(strings.Replace(fibSource, ".requires io", ".requires io gpu", 1)))
	if err != nil {
		t.Fatal(err)
	}
	text, err := artifact.EncodeText(f)
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Service.Run(bg(), connectReq(map[string]any{"artifact": string(text)}))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("Run error = %v, want InvalidArgument", err)
	}
}

// ---------------------------------------------------------------------------
// Store and List
// ---------------------------------------------------------------------------

func TestStore_AndList(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, err := env.Service.Store(bg(), connectReq(map[string]any{"artifact": fibText(t)}))
	if err != nil {
		t.Fatalf("Store returned error: %v", err)
	}
	hash := str(resp.Msg, "hash")
	if len(hash) != 64 || str(resp.Msg, "name") != "fib" {
		t.Errorf("Store = %v", resp.Msg)
	}

	list, err := env.Service.List(bg(), connectReq(nil))
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	programs := list.Msg.GetFields()["programs"].GetListValue().GetValues()
	if len(programs) != 1 || str(programs[0].GetStructValue(), "hash") != hash {
		t.Errorf("List = %v", list.Msg)
	}

	if _, err := env.Service.Store(bg(), connectReq(map[string]any{})); connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("empty Store error = %v", err)
	}
}

func TestStore_Unconfigured(t *testing.T) {
	pool := NewPool(1)
	defer pool.Stop()
	svc := NewRunnerService(pool, nil, runOptions())
	if _, err := svc.Store(bg(), connectReq(map[string]any{"artifact": fibText(t)})); connect.CodeOf(err) != connect.CodeUnimplemented {
		t.Errorf("Store error = %v, want Unimplemented", err)
	}
	if _, err := svc.Run(bg(), connectReq(map[string]any{"hash": "abcdef"})); connect.CodeOf(err) != connect.CodeUnimplemented {
		t.Errorf("Run by hash error = %v, want Unimplemented", err)
	}
}

// ---------------------------------------------------------------------------
// Pool
// ---------------------------------------------------------------------------

func TestPool_RecoversPanics(t *testing.T) {
	pool := NewPool(1)
	defer pool.Stop()
	if _, err := pool.Do(bg(), func() (any, error) { panic("boom") }); err == nil || err.Error() != "boom" {
		t.Errorf("Do error = %v, want boom", err)
	}
	v, err := pool.Do(bg(), func() (any, error) { return 7, nil })
	if err != nil || v.(int) != 7 {
		t.Errorf("Do after panic = %v, %v", v, err)
	}
}

func TestPool_Cancel(t *testing.T) {
	pool := NewPool(1)
	defer pool.Stop()
	started := make(chan struct{})
	release := make(chan struct{})
	go pool.Do(bg(), func() (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	<-started
	defer close(release)

	ctx, cancel := context.WithTimeout(bg(), 20*time.Millisecond)
	defer cancel()
	if _, err := pool.Do(ctx, func() (any, error) { return nil, nil }); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Do error = %v, want DeadlineExceeded", err)
	}
}
