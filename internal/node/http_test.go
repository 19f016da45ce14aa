package node

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTP_CreateJoinPublishTopic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, _ := newTestController(t, ctx)
	go c.Run(ctx)

	srv := httptest.NewServer(c.Handler())
	t.Cleanup(srv.Close)

	body, _ := json.Marshal(TopicRequest{Name: "t1"})
	resp, err := http.Post(srv.URL+"/v1/topics", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create topic: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create topic status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/topics/t1/join", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("join topic: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("join topic status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	pubBody, _ := json.Marshal(PublishRequest{Payload: []byte("hello")})
	resp, err = http.Post(srv.URL+"/v1/topics/t1/publish", "application/json", bytes.NewReader(pubBody))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("publish status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	req, _ = http.NewRequest(http.MethodDelete, srv.URL+"/v1/topics/t1/join", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("leave topic: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("leave topic status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHTTP_ListPeers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, _ := newTestController(t, ctx)
	go c.Run(ctx)

	id := randPeerID(t)
	c.peers.observe(id, "/ip4/5.6.7.8/tcp/4001", SourceBootnode)

	srv := httptest.NewServer(c.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/v1/peers")
	if err != nil {
		t.Fatalf("list peers: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var out struct {
		Data []PeerInfo `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Data) != 1 || out.Data[0].ID != id.String() {
		t.Fatalf("peers = %+v, want one entry for %s", out.Data, id)
	}
	if out.Data[0].Source != string(SourceBootnode) {
		t.Fatalf("source = %q, want %q", out.Data[0].Source, SourceBootnode)
	}
}

func TestHTTP_CreateTopicRejectsEmptyName(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, _ := newTestController(t, ctx)
	go c.Run(ctx)

	srv := httptest.NewServer(c.Handler())
	t.Cleanup(srv.Close)

	body, _ := json.Marshal(TopicRequest{Name: ""})
	resp, err := http.Post(srv.URL+"/v1/topics", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHTTP_Shutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, _ := newTestController(t, ctx)
	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(ctx) }()

	srv := httptest.NewServer(c.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/v1/shutdown", "application/json", nil)
	if err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	resp.Body.Close()

	select {
	case <-runDone:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not terminate after HTTP shutdown")
	}
}
