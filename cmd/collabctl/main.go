// Command collabctl talks to a collabd server from the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/modelsync/collab/internal/client"
)

type globalOptions struct {
	url     string
	token   string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "collabctl",
		Short:         "Command-line client for collabd",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.url, "url", "ws://127.0.0.1:8080/subscriptions", "websocket URL of the server")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("COLLAB_TOKEN"), "auth token sent with connection_init")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "timeout for queries and mutations")

	root.AddCommand(
		newSubscribeCmd(opts),
		newMutateCmd(opts),
		newQueryCmd(opts),
		newHealthCmd(opts),
		newTokenCmd(),
	)
	return root
}

func (o *globalOptions) dial(ctx context.Context) (*client.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return client.Dial(dialCtx, o.url, client.Options{
		Token: o.token,
		OnWarning: func(operationName, message string) {
			fmt.Fprintln(os.Stderr, renderNotice(fmt.Sprintf("warning (%s): %s", operationName, message)))
		},
	})
}

// httpBase converts ws://host:port/path to http://host:port.
func httpBase(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil || u.Host == "" {
		return "http://127.0.0.1:8080"
	}
	scheme := "http"
	if strings.HasPrefix(u.Scheme, "wss") || u.Scheme == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, u.Host)
}

func main() {
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	defer glog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, renderError(err))
		glog.Flush()
		os.Exit(1)
	}
}
