package server

import (
	"net/http"
	"testing"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestServer_ConnectJSON(t *testing.T) {
	srv := newTestServer(t)
	client := connect.NewClient[structpb.Struct, structpb.Struct](
		http.DefaultClient, srv.URL+RunProcedure, connect.WithProtoJSON(),
	)
	resp, err := client.CallUnary(bg(), connectReq(map[string]any{"artifact": fibText(t)}))
	if err != nil {
		t.Fatalf("CallUnary returned error: %v", err)
	}
	if reply := runReplyFrom(resp.Msg); reply.Value != 610 {
		t.Errorf("Run value = %d, want 610", reply.Value)
	}
}

func TestServer_GRPCClient(t *testing.T) {
	srv := newTestServer(t)
	c, err := Dial(srv.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	hash, err := c.Store(bg(), fibText(t))
	if err != nil {
		t.Fatalf("Store returned error: %v", err)
	}
	reply, err := c.Run(bg(), &RunRequest{Hash: hash})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !reply.Success || reply.Value != 610 {
		t.Errorf("Run = %+v", reply)
	}

	programs, err := c.List(bg())
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(programs) != 1 || programs[0].Hash != hash || programs[0].Name != "fib" {
		t.Errorf("List = %+v", programs)
	}
}
