package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/tern/artifact"
	"github.com/chazu/tern/host"
	"github.com/chazu/tern/store"
	"github.com/chazu/tern/vm"
)

// RunnerService implements the Run, Store and List procedures.
type RunnerService struct {
	pool  *Pool
	store *store.Store // nil disables hashes
	opts  host.Options
	log   commonlog.Logger
}

// NewRunnerService creates a service running programs on pool.
func NewRunnerService(pool *Pool, st *store.Store, opts host.Options) *RunnerService {
	return &RunnerService{pool: pool, store: st, opts: opts, log: commonlog.GetLogger("tern.server")}
}

// Run executes a program and reports its result.
func (s *RunnerService) Run(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	rr := runRequestFrom(req.Msg)
	f, hash, err := s.resolve(rr)
	if err != nil {
		return nil, err
	}

	opts := s.opts
	opts.Entry = rr.Entry
	opts.Stdin = strings.NewReader(rr.Stdin)
	var out bytes.Buffer
	opts.Stdout = &out
	opts.Stderr = &out

	value, err := s.pool.Do(ctx, func() (any, error) {
		return host.Run(f, opts)
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, connect.NewError(connect.CodeDeadlineExceeded, err)
	}
	reply := &RunReply{Hash: hash, Stdout: out.String()}
	var fault *vm.Fault
	switch {
	case errors.Is(err, artifact.ErrCapabilityDenied):
		return nil, connect.NewError(connect.CodePermissionDenied, err)
	case errors.Is(err, artifact.ErrUnknownCapability):
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, vm.ErrEntryNotFound):
		return nil, connect.NewError(connect.CodeNotFound, err)
	case errors.As(err, &fault):
		reply.Error = fault.Error()
		reply.Trace = fault.Trace
	case err != nil:
		reply.Error = err.Error()
	default:
		res := value.(*vm.Result)
		reply.Success = true
		reply.Result = res.String()
		reply.Type = res.Type.String()
		reply.Value, reply.HasValue = res.Int()
		reply.Steps = res.Steps
		reply.Machine = res.Machine
	}
	s.log.Infof("run %s: success=%t steps=%d", f.Header.Name, reply.Success, reply.Steps)

	msg, err := reply.toStruct()
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// Store saves an artifact and returns its hash.
func (s *RunnerService) Store(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	if s.store == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, fmt.Errorf("no program store configured"))
	}
	text := str(req.Msg, "artifact")
	if text == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("artifact is required"))
	}
	f, err := decodeArtifact(text)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	hash, err := s.store.Put(f)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	msg, err := structpb.NewStruct(map[string]any{"hash": hash, "name": f.Header.Name})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// List reports the stored programs.
func (s *RunnerService) List(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	if s.store == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, fmt.Errorf("no program store configured"))
	}
	entries, err := s.store.List()
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	programs := make([]any, len(entries))
	for i, e := range entries {
		programs[i] = map[string]any{"hash": e.Hash, "name": e.Name, "size": float64(e.Size)}
	}
	msg, err := structpb.NewStruct(map[string]any{"programs": programs})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// resolve finds the program a request names.
func (s *RunnerService) resolve(rr *RunRequest) (*artifact.File, string, error) {
	switch {
	case rr.Artifact != "" && rr.Hash != "":
		return nil, "", connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("artifact and hash are exclusive"))
	case rr.Artifact != "":
		f, err := decodeArtifact(rr.Artifact)
		if err != nil {
			return nil, "", connect.NewError(connect.CodeInvalidArgument, err)
		}
		hash, err := artifact.HashString(f)
		if err != nil {
			return nil, "", connect.NewError(connect.CodeInternal, err)
		}
		return f, hash, nil
	case rr.Hash != "":
		if s.store == nil {
			return nil, "", connect.NewError(connect.CodeUnimplemented, fmt.Errorf("no program store configured"))
		}
		f, hash, err := s.store.Get(rr.Hash)
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrAmbiguous) {
			return nil, "", connect.NewError(connect.CodeNotFound, err)
		}
		if err != nil {
			return nil, "", connect.NewError(connect.CodeInternal, err)
		}
		return f, hash, nil
	}
	return nil, "", connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("artifact or hash is required"))
}

// decodeArtifact accepts the text form or the CBOR bytes as bare hex.
func decodeArtifact(text string) (*artifact.File, error) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, artifact.Magic) || strings.HasPrefix(trimmed, ";") {
		return artifact.DecodeText([]byte(trimmed))
	}
	data, err := hex.DecodeString(strings.Join(strings.Fields(trimmed), ""))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", artifact.ErrBadArtifact, err)
	}
	return artifact.Unmarshal(data)
}
