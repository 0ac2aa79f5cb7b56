package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/modelsync/collab/internal/config"
	"github.com/modelsync/collab/internal/handlers"
	"github.com/modelsync/collab/internal/processor"
	"github.com/modelsync/collab/internal/render"
	"github.com/modelsync/collab/internal/store"
	"github.com/modelsync/collab/internal/ws"
)

func TestHTTPBase(t *testing.T) {
	tests := map[string]string{
		"ws://127.0.0.1:8080/subscriptions": "http://127.0.0.1:8080",
		"wss://collab.example.com/x":        "https://collab.example.com",
		"not a url":                         "http://127.0.0.1:8080",
	}
	for in, want := range tests {
		require.Equal(t, want, httpBase(in), in)
	}
}

func TestMutationInput(t *testing.T) {
	input, err := mutationInput("p1", `{"objectId":"o1","newName":"x"}`, []string{"newName=Foo"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"projectId": "p1", "objectId": "o1", "newName": "Foo"}, input)

	_, err = mutationInput("p1", "", []string{"novalue"})
	require.Error(t, err)
	_, err = mutationInput("p1", "{", nil)
	require.Error(t, err)
}

func TestRenderPayload(t *testing.T) {
	ok := renderPayload("renameObject", json.RawMessage(`{"__typename":"SuccessPayload","id":"o1"}`))
	require.Contains(t, ok, "renameObject")
	require.Contains(t, ok, "o1")

	failed := renderPayload("renameObject", json.RawMessage(`{"__typename":"ErrorPayload","message":"invalid input: object not found"}`))
	require.Contains(t, failed, "invalid input")
}

func TestToken(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "--secret", "s3cret", "--subject", "ci", "--ttl", "1m"})
	require.NoError(t, cmd.Execute())

	subject, err := ws.NewAuthenticator("s3cret", true).Verify(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	require.Equal(t, "ci", subject)
}

func TestMutateAndQueryAgainstServer(t *testing.T) {
	reg := processor.NewRegistry(store.NewMemory(), render.New(nil), handlers.New(nil), processor.Options{Workers: 2})
	srv := ws.NewServer(config.Default(), reg)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		hs.Close()
		_ = reg.Shutdown(ctx)
	})
	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/subscriptions"

	run := func(args ...string) (string, error) {
		var out bytes.Buffer
		cmd := newRootCmd()
		cmd.SetOut(&out)
		cmd.SetArgs(append([]string{"--url", url}, args...))
		err := cmd.Execute()
		return out.String(), err
	}

	out, err := run("mutate", "createDocument", "-p", "p1", "--set", "name=Docs")
	require.NoError(t, err)
	require.Contains(t, out, "createDocument")

	out, err = run("mutate", "renameObject", "-p", "p1", "--set", "objectId=missing", "--set", "newName=x")
	require.NoError(t, err)
	require.Contains(t, out, "invalid input")

	_, err = run("mutate", "noSuchThing", "-p", "p1")
	require.Error(t, err)

	out, err = run("query", "representation", "-p", "p1", "-k", "tree")
	require.NoError(t, err)
	require.Contains(t, out, `"kind": "tree"`)

	out, err = run("health")
	require.NoError(t, err)
	require.Contains(t, out, "ok")
}
