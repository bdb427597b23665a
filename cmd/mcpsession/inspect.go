package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ajitpratap0/mcp-session-go/pkg/client"
	"github.com/ajitpratap0/mcp-session-go/pkg/config"
	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-session-go/pkg/session"
	"github.com/ajitpratap0/mcp-session-go/pkg/transport"
)

func runInspect(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "TOML configuration file")
	addr := fs.String("addr", "", "socket server address")
	url := fs.String("url", "", "websocket server URL")
	timeout := fs.Duration("timeout", 30*time.Second, "overall deadline")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	command := fs.Args()

	targets := 0
	for _, set := range []bool{*addr != "", *url != "", len(command) > 0} {
		if set {
			targets++
		}
	}
	if targets != 1 {
		fmt.Fprintln(stderr, "inspect needs exactly one of -addr, -url or -- command")
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	opts := append(client.FromConfig(cfg), client.WithName("mcpsession-inspect"), client.WithVersion(version))
	policy := transport.BackoffFromConfig(cfg.Reconnect)

	var c *client.Client
	switch {
	case *addr != "":
		c, err = client.DialSocket(ctx, "tcp", *addr, policy, opts...)
	case *url != "":
		c, err = client.DialWebSocket(ctx, *url, nil, policy, opts...)
	default:
		c, err = client.Spawn(ctx, exec.Command(command[0], command[1:]...), opts...)
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	defer c.Close()

	if err := inspect(ctx, c, stdout); err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	return exitOK
}

// inspect prints the handshake outcome and every list the server offers
func inspect(ctx context.Context, c *client.Client, out io.Writer) error {
	info := c.ServerInfo()
	fmt.Fprintf(out, "server:    %s %s\n", info.Name, info.Version)
	fmt.Fprintf(out, "protocol:  %s\n", c.Session().NegotiatedVersion())
	fmt.Fprintf(out, "session:   %s\n", c.Session().ID())
	if instructions := c.Instructions(); instructions != "" {
		fmt.Fprintf(out, "about:     %s\n", firstLine(instructions))
	}
	fmt.Fprintf(out, "offers:    %s\n", strings.Join(offered(c), ", "))

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer w.Flush()

	if c.Supports(session.CategoryTools, session.FeatureNone) {
		tools, err := c.ListAllTools(ctx)
		if err != nil {
			return fmt.Errorf("listing tools: %w", err)
		}
		fmt.Fprintf(w, "\ntools (%d)\n", len(tools))
		for _, t := range tools {
			fmt.Fprintf(w, "  %s\t%s\n", t.Name, firstLine(t.Description))
		}
	}

	if c.Supports(session.CategoryResources, session.FeatureNone) {
		resources, err := c.ListAllResources(ctx)
		if err != nil {
			return fmt.Errorf("listing resources: %w", err)
		}
		fmt.Fprintf(w, "\nresources (%d)\n", len(resources))
		for _, r := range resources {
			fmt.Fprintf(w, "  %s\t%s\n", r.URI, r.MIMEType)
		}

		templates, err := c.ListAllResourceTemplates(ctx)
		if err != nil {
			return fmt.Errorf("listing resource templates: %w", err)
		}
		fmt.Fprintf(w, "\nresource templates (%d)\n", len(templates))
		for _, t := range templates {
			fmt.Fprintf(w, "  %s\t%s\n", t.URITemplate, firstLine(t.Description))
		}
	}

	if c.Supports(session.CategoryPrompts, session.FeatureNone) {
		prompts, err := c.ListAllPrompts(ctx)
		if err != nil {
			return fmt.Errorf("listing prompts: %w", err)
		}
		fmt.Fprintf(w, "\nprompts (%d)\n", len(prompts))
		for _, p := range prompts {
			fmt.Fprintf(w, "  %s\t%s\t%s\n", p.Name, promptArgs(p.Arguments), firstLine(p.Description))
		}
	}
	return nil
}

func offered(c *client.Client) []string {
	var out []string
	for _, cat := range []struct {
		name     string
		category session.Category
	}{
		{"resources", session.CategoryResources},
		{"tools", session.CategoryTools},
		{"prompts", session.CategoryPrompts},
		{"logging", session.CategoryLogging},
	} {
		if !c.Supports(cat.category, session.FeatureNone) {
			continue
		}
		name := cat.name
		var features []string
		if c.Supports(cat.category, session.FeatureSubscribe) {
			features = append(features, "subscribe")
		}
		if c.Supports(cat.category, session.FeatureListChanged) {
			features = append(features, "listChanged")
		}
		if len(features) > 0 {
			name += "(" + strings.Join(features, ",") + ")"
		}
		out = append(out, name)
	}
	if len(out) == 0 {
		return []string{"nothing"}
	}
	return out
}

func promptArgs(args []protocol.PromptArgument) string {
	names := make([]string, len(args))
	for i, a := range args {
		names[i] = a.Name
		if a.Required {
			names[i] += "*"
		}
	}
	return strings.Join(names, " ")
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
