package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/modelsync/collab/internal/client"
	"github.com/modelsync/collab/internal/handlers"
	"github.com/modelsync/collab/internal/protocol"
	"github.com/modelsync/collab/internal/representation"
	"github.com/modelsync/collab/internal/ws"
)

func configurationFlags(cmd *cobra.Command, cfg *representation.Configuration) {
	cmd.Flags().StringVarP(&cfg.ProjectID, "project", "p", "", "project id")
	cmd.Flags().StringVarP(&cfg.Kind, "kind", "k", representation.KindTree, "representation kind: tree, diagram or form")
	cmd.Flags().StringVarP(&cfg.TargetObjectID, "target", "t", "", "target object id")
	cmd.Flags().StringVar(&cfg.DescriptionID, "description", "", "representation description id")
	cmd.Flags().StringSliceVar(&cfg.Expanded, "expanded", nil, "expanded tree item ids")
	_ = cmd.MarkFlagRequired("project")
}

func newSubscribeCmd(opts *globalOptions) *cobra.Command {
	var (
		cfg     representation.Configuration
		content bool
	)
	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Stream snapshots of a representation until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			const id = "1"
			stream, err := c.Start(id, protocol.OperationSubscription, ws.OpRepresentationEvent, map[string]any{"input": cfg})
			if err != nil {
				return err
			}
			return follow(cmd.Context(), c, id, stream, cmd.OutOrStdout(), content)
		},
	}
	configurationFlags(cmd, &cfg)
	cmd.Flags().BoolVar(&content, "content", false, "print the content of every snapshot")
	return cmd
}

func follow(ctx context.Context, c *client.Client, id string, stream <-chan protocol.Message, out io.Writer, content bool) error {
	for {
		select {
		case <-ctx.Done():
			_ = c.Stop(id)
			return nil
		case ev := <-c.Events():
			if ev.Type == protocol.MsgConnectionError {
				fmt.Fprintln(out, renderNotice("connection_error: "+string(ev.Payload)))
			}
		case msg, ok := <-stream:
			if !ok {
				return client.ErrClosed
			}
			switch msg.Type {
			case protocol.MsgData:
				raw, err := client.Value(msg, ws.OpRepresentationEvent)
				if err != nil {
					return err
				}
				var rep representation.Representation
				if err := json.Unmarshal(raw, &rep); err != nil {
					return fmt.Errorf("decoding snapshot: %w", err)
				}
				fmt.Fprintln(out, renderSnapshot(&rep, content))
			case protocol.MsgError:
				return client.ErrorOf(msg)
			case protocol.MsgComplete:
				fmt.Fprintln(out, renderNotice("representation closed"))
				return nil
			}
		}
	}
}

// mutationInput merges a JSON object with key=value pairs and the project id.
func mutationInput(projectID, raw string, pairs []string) (map[string]any, error) {
	input := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &input); err != nil {
			return nil, fmt.Errorf("--input: %w", err)
		}
	}
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("--set %q: want key=value", pair)
		}
		input[k] = v
	}
	if projectID != "" {
		input["projectId"] = projectID
	}
	return input, nil
}

func newMutateCmd(opts *globalOptions) *cobra.Command {
	var (
		projectID string
		raw       string
		pairs     []string
	)
	cmd := &cobra.Command{
		Use:   "mutate <operation>",
		Short: "Run a mutation such as renameObject or editWidget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if !handlers.Known(name) {
				return fmt.Errorf("unknown mutation %q", name)
			}
			input, err := mutationInput(projectID, raw, pairs)
			if err != nil {
				return err
			}

			c, err := opts.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			result, err := c.Execute(ctx, "1", protocol.OperationMutation, name, map[string]any{"input": input})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderPayload(name, result))
			return nil
		},
	}
	cmd.Flags().StringVarP(&projectID, "project", "p", "", "project id")
	cmd.Flags().StringVar(&raw, "input", "", "input as a JSON object")
	cmd.Flags().StringArrayVar(&pairs, "set", nil, "input field as key=value (repeatable)")
	return cmd
}

func newQueryCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Read an object or render a representation once",
	}

	var objectInput struct {
		ProjectID string `json:"projectId"`
		ObjectID  string `json:"objectId"`
	}
	object := &cobra.Command{
		Use:   "object",
		Short: "Print an object and its descendants",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runQuery(cmd, opts, ws.OpObject, objectInput)
		},
	}
	object.Flags().StringVarP(&objectInput.ProjectID, "project", "p", "", "project id")
	object.Flags().StringVarP(&objectInput.ObjectID, "object", "o", "", "object id")
	_ = object.MarkFlagRequired("project")
	_ = object.MarkFlagRequired("object")

	var cfg representation.Configuration
	rep := &cobra.Command{
		Use:   "representation",
		Short: "Render a representation without subscribing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runQuery(cmd, opts, ws.OpRepresentation, cfg)
		},
	}
	configurationFlags(rep, &cfg)

	cmd.AddCommand(object, rep)
	return cmd
}

func runQuery(cmd *cobra.Command, opts *globalOptions, operationName string, input any) error {
	c, err := opts.dial(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()
	result, err := c.Execute(ctx, "1", protocol.OperationQuery, operationName, map[string]any{"input": input})
	if err != nil {
		return err
	}
	if string(result) == "null" {
		return errors.New("not found")
	}
	fmt.Fprintln(cmd.OutOrStdout(), indent(result))
	return nil
}

func newHealthCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Print the server health report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpBase(opts.url)+"/api/health", nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("health: %s", resp.Status)
			}

			var h ws.Health
			if err := json.Unmarshal(body, &h); err != nil {
				return fmt.Errorf("decoding health: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s up %s, %d connections, %d projects, %d goroutines\n",
				okStyle.Render(h.Status), h.Uptime, h.Connections, h.Projects, h.Goroutines)
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		secret  string
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an authToken for connection_init",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				return errors.New("--secret or COLLAB_AUTH_JWT_SECRET is required")
			}
			token, err := ws.SignToken(secret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("COLLAB_AUTH_JWT_SECRET"), "HMAC secret of the server")
	cmd.Flags().StringVar(&subject, "subject", "collabctl", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 = no expiry)")
	return cmd
}
