package server

import (
	"google.golang.org/protobuf/types/known/structpb"
)

// Procedure names of the runner service. Messages are google.protobuf.Struct
// values with the fields described on RunRequest and RunReply.
const (
	ServiceName    = "tern.v1.RunnerService"
	RunProcedure   = "/" + ServiceName + "/Run"
	StoreProcedure = "/" + ServiceName + "/Store"
	ListProcedure  = "/" + ServiceName + "/List"
)

// RunRequest asks the service to run a program given either inline or by
// store hash.
type RunRequest struct {
	Artifact string // text form or bare hex
	Hash     string // store hash or unique prefix
	Entry    string
	Stdin    string
}

// RunReply is the outcome of a run. Program faults are reported with
// Success false rather than as RPC errors.
type RunReply struct {
	Success  bool
	Result   string
	Type     string
	Value    int64
	HasValue bool
	Steps    uint64
	Machine  string
	Hash     string
	Stdout   string
	Error    string
	Trace    []string
}

// StoredProgram is one entry of a List reply.
type StoredProgram struct {
	Hash string
	Name string
	Size int64
}

func str(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func (r *RunRequest) toStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"artifact": r.Artifact,
		"hash":     r.Hash,
		"entry":    r.Entry,
		"stdin":    r.Stdin,
	})
}

func runRequestFrom(s *structpb.Struct) *RunRequest {
	return &RunRequest{
		Artifact: str(s, "artifact"),
		Hash:     str(s, "hash"),
		Entry:    str(s, "entry"),
		Stdin:    str(s, "stdin"),
	}
}

func (r *RunReply) toStruct() (*structpb.Struct, error) {
	trace := make([]any, len(r.Trace))
	for i, t := range r.Trace {
		trace[i] = t
	}
	m := map[string]any{
		"success": r.Success,
		"result":  r.Result,
		"type":    r.Type,
		"steps":   float64(r.Steps),
		"machine": r.Machine,
		"hash":    r.Hash,
		"stdout":  r.Stdout,
		"error":   r.Error,
		"trace":   trace,
	}
	if r.HasValue {
		m["value"] = float64(r.Value)
	}
	return structpb.NewStruct(m)
}

func runReplyFrom(s *structpb.Struct) *RunReply {
	f := s.GetFields()
	r := &RunReply{
		Success: f["success"].GetBoolValue(),
		Result:  str(s, "result"),
		Type:    str(s, "type"),
		Steps:   uint64(f["steps"].GetNumberValue()),
		Machine: str(s, "machine"),
		Hash:    str(s, "hash"),
		Stdout:  str(s, "stdout"),
		Error:   str(s, "error"),
	}
	if v, ok := f["value"]; ok {
		r.Value, r.HasValue = int64(v.GetNumberValue()), true
	}
	for _, t := range f["trace"].GetListValue().GetValues() {
		r.Trace = append(r.Trace, t.GetStringValue())
	}
	return r
}
