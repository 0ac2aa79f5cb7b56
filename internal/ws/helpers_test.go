package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/modelsync/collab/internal/client"
	"github.com/modelsync/collab/internal/config"
	"github.com/modelsync/collab/internal/handlers"
	"github.com/modelsync/collab/internal/model"
	"github.com/modelsync/collab/internal/processor"
	"github.com/modelsync/collab/internal/protocol"
	"github.com/modelsync/collab/internal/render"
	"github.com/modelsync/collab/internal/representation"
	"github.com/modelsync/collab/internal/store"
)

const wait = 2 * time.Second

type fixture struct {
	registry *processor.Registry
	server   *Server
	url      string
	httpURL  string
	root     string
	child    string
}

func seedStore(t *testing.T) (*store.Memory, string, string) {
	t.Helper()
	m := model.New("p1")
	d := m.AddDocument("doc")
	root, err := m.AddRootObject(d.ID, "Package", "root")
	require.NoError(t, err)
	child, err := m.AddChild(root.ID, "Class", "A")
	require.NoError(t, err)

	s := store.NewMemory()
	require.NoError(t, s.Persist(context.Background(), "p1", m))
	return s, root.ID, child.ID
}

func newRegistry(s processor.ModelStore) *processor.Registry {
	return processor.NewRegistry(s, render.New(nil), handlers.New(nil), processor.Options{Workers: 4})
}

// newFixture starts an httptest server. mutate adjusts the configuration
// before the server is built.
func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	s, root, child := seedStore(t)
	reg := newRegistry(s)

	cfg := config.Default()
	cfg.Server.KeepAlive = 0
	if mutate != nil {
		mutate(cfg)
	}
	srv := NewServer(cfg, reg)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), wait)
		defer cancel()
		_ = srv.Shutdown(ctx)
		hs.Close()
		_ = reg.Shutdown(ctx)
	})

	return &fixture{
		registry: reg,
		server:   srv,
		url:      "ws" + strings.TrimPrefix(hs.URL, "http") + "/subscriptions",
		httpURL:  hs.URL,
		root:     root,
		child:    child,
	}
}

func (f *fixture) dial(t *testing.T) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	c, err := client.Dial(ctx, f.url, client.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func diagramVars(target string) map[string]any {
	return map[string]any{"input": representation.Configuration{
		ProjectID:      "p1",
		Kind:           representation.KindDiagram,
		TargetObjectID: target,
	}}
}

func input(fields map[string]any) map[string]any {
	fields["projectId"] = "p1"
	return map[string]any{"input": fields}
}

func recv(t *testing.T, stream <-chan protocol.Message) protocol.Message {
	t.Helper()
	select {
	case msg, ok := <-stream:
		require.True(t, ok, "stream closed")
		return msg
	case <-time.After(wait):
		t.Fatal("timed out waiting for a message")
		return protocol.Message{}
	}
}

func requireSilent(t *testing.T, stream <-chan protocol.Message) {
	t.Helper()
	select {
	case msg, ok := <-stream:
		if ok {
			t.Fatalf("unexpected %s %s: %s", msg.Type, msg.ID, msg.Payload)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func snapshotOf(t *testing.T, msg protocol.Message) *representation.Representation {
	t.Helper()
	require.Equal(t, protocol.MsgData, msg.Type, "payload: %s", msg.Payload)
	raw, err := client.Value(msg, OpRepresentationEvent)
	require.NoError(t, err)
	var rep representation.Representation
	require.NoError(t, json.Unmarshal(raw, &rep))
	return &rep
}
