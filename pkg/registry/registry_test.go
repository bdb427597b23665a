package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/ajitpratap0/mcp-session-go/pkg/errors"
	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
)

func echoResource(ctx context.Context, req ResourceRequest) (string, error) {
	return fmt.Sprintf("%s %v", req.URI, req.Params), nil
}

func TestResourceReadPrecedence(t *testing.T) {
	r := NewResources()
	require.NoError(t, r.Register("greeting://{name}", ResourceInfo{Name: "greeting"}, TextResource(func(_ context.Context, req ResourceRequest) (string, error) {
		return "Hello, " + req.Params["name"], nil
	})))
	require.NoError(t, r.Register("greeting://{who}", ResourceInfo{Name: "shadowed"}, TextResource(func(context.Context, ResourceRequest) (string, error) {
		return "never", nil
	})))
	require.NoError(t, r.Register("greeting://admin", ResourceInfo{Name: "admin", MIMEType: "text/plain"}, TextResource(func(context.Context, ResourceRequest) (string, error) {
		return "Welcome back", nil
	})))
	ctx := context.Background()

	res, err := r.Read(ctx, "greeting://Ada")
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, "Hello, Ada", res.Contents[0].Text)
	assert.Equal(t, "greeting://Ada", res.Contents[0].URI)

	res, err = r.Read(ctx, "greeting://admin")
	require.NoError(t, err)
	assert.Equal(t, "Welcome back", res.Contents[0].Text)
	assert.Equal(t, "text/plain", res.Contents[0].MIMEType)

	_, err = r.Read(ctx, "greeting://Ada/extra")
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeResourceNotFound), "got %v", err)
}

func TestResourceListing(t *testing.T) {
	r := NewResources()
	require.NoError(t, r.Register("config://b", ResourceInfo{}, TextResource(echoResource)))
	require.NoError(t, r.Register("file://{path*}", ResourceInfo{Name: "files"}, TextResource(echoResource)))
	require.NoError(t, r.Register("config://a", ResourceInfo{Name: "a"}, TextResource(echoResource)))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "config://b", list[0].URI)
	assert.Equal(t, "config://b", list[0].Name, "name defaults to the URI")
	assert.Equal(t, "config://a", list[1].URI)

	templates := r.Templates()
	require.Len(t, templates, 1)
	assert.Equal(t, "file://{path*}", templates[0].URITemplate)

	assert.True(t, r.Has("file://x/y"))
	assert.True(t, r.Unregister("config://b"))
	assert.False(t, r.Unregister("config://b"))
	assert.Len(t, r.List(), 1)
}

func TestResourceRegistrationErrors(t *testing.T) {
	r := NewResources()
	require.NoError(t, r.Register("a://x", ResourceInfo{}, TextResource(echoResource)))

	err := r.Register("a://x", ResourceInfo{}, TextResource(echoResource))
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryInvalidArgument))

	err = r.Register("a://y", ResourceInfo{MIMEType: "not a mime type"}, TextResource(echoResource))
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryInvalidArgument))

	err = r.Register("a://{bad", ResourceInfo{}, TextResource(echoResource))
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryInvalidArgument))

	err = r.Register("a://z", ResourceInfo{}, nil)
	assert.Error(t, err)
}

func TestResourceHandlerFailures(t *testing.T) {
	r := NewResources()
	require.NoError(t, r.Register("fail://err", ResourceInfo{}, TextResource(func(context.Context, ResourceRequest) (string, error) {
		return "", fmt.Errorf("disk full")
	})))
	require.NoError(t, r.Register("fail://panic", ResourceInfo{}, TextResource(func(context.Context, ResourceRequest) (string, error) {
		panic("boom")
	})))

	_, err := r.Read(context.Background(), "fail://err")
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeHandlerFailed), "got %v", err)

	_, err = r.Read(context.Background(), "fail://panic")
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeHandlerFailed), "got %v", err)
	assert.Contains(t, err.Error(), "boom")
}

func TestToolMissingArgumentSkipsHandler(t *testing.T) {
	var calls atomic.Int32
	tool, err := NewTool("greet", "says hello", []Argument{
		{Name: "name", Type: TypeString, Required: true},
		{Name: "times", Type: TypeInteger},
	}, func(_ context.Context, args map[string]any, _ ProgressReporter) (*protocol.CallToolResult, error) {
		calls.Add(1)
		return protocol.TextResult("hello " + args["name"].(string)), nil
	})
	require.NoError(t, err)

	r := NewTools()
	require.NoError(t, r.Add(tool))
	ctx := context.Background()

	_, err = r.Call(ctx, "greet", json.RawMessage(`{}`), nil)
	require.Error(t, err)
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryInvalidArgument), "got %v", err)
	data := err.(mcperrors.MCPError).Data().(*mcperrors.InvalidArgumentErrorData)
	require.Len(t, data.Violations, 1)
	assert.Equal(t, "name", data.Violations[0].Field)

	_, err = r.Call(ctx, "greet", json.RawMessage(`{"name":"Ada","times":"twice"}`), nil)
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryInvalidArgument), "got %v", err)

	_, err = r.Call(ctx, "greet", nil, nil)
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryInvalidArgument), "got %v", err)

	assert.Zero(t, calls.Load(), "handler must not run on invalid arguments")

	res, err := r.Call(ctx, "greet", json.RawMessage(`{"name":"Ada","times":2}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "hello Ada", res.Content[0].Text)
	assert.Equal(t, int32(1), calls.Load())

	_, err = r.Call(ctx, "nope", nil, nil)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeToolNotFound))
}

type recordingReporter struct {
	mu      sync.Mutex
	updates []float64
}

func (r *recordingReporter) Report(_ context.Context, progress, _ float64, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, progress)
	return nil
}

type countdownArgs struct {
	From  int    `json:"from" jsonschema:"minimum=1"`
	Label string `json:"label,omitempty"`
}

func TestTypedTool(t *testing.T) {
	tool, err := NewTypedTool("countdown", "counts down", func(ctx context.Context, args countdownArgs, progress ProgressReporter) (*protocol.CallToolResult, error) {
		for i := args.From; i > 0; i-- {
			if err := progress.Report(ctx, float64(args.From-i+1), float64(args.From), ""); err != nil {
				return nil, err
			}
		}
		return protocol.TextResult(args.Label + "liftoff"), nil
	})
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(tool.Descriptor().InputSchema, &schema))
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []any{"from"}, schema["required"])

	r := NewTools()
	require.NoError(t, r.Add(tool))
	rep := &recordingReporter{}

	res, err := r.Call(context.Background(), "countdown", json.RawMessage(`{"from":3,"label":"T-"}`), rep)
	require.NoError(t, err)
	assert.Equal(t, "T-liftoff", res.Content[0].Text)
	assert.Equal(t, []float64{1, 2, 3}, rep.updates)

	_, err = r.Call(context.Background(), "countdown", json.RawMessage(`{"label":"x"}`), rep)
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryInvalidArgument), "got %v", err)

	_, err = r.Call(context.Background(), "countdown", json.RawMessage(`{"from":0}`), rep)
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryInvalidArgument), "got %v", err)
}

func TestToolHandlerFailures(t *testing.T) {
	r := NewTools()
	boom, err := NewTool("boom", "", nil, func(context.Context, map[string]any, ProgressReporter) (*protocol.CallToolResult, error) {
		panic("kaboom")
	})
	require.NoError(t, err)
	require.NoError(t, r.Add(boom))

	fails, err := NewTool("fails", "", nil, func(context.Context, map[string]any, ProgressReporter) (*protocol.CallToolResult, error) {
		return nil, fmt.Errorf("upstream down")
	})
	require.NoError(t, err)
	require.NoError(t, r.Add(fails))

	_, err = r.Call(context.Background(), "boom", nil, nil)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeHandlerFailed), "got %v", err)

	_, err = r.Call(context.Background(), "fails", nil, nil)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeHandlerFailed), "got %v", err)
	assert.Contains(t, err.Error(), "upstream down")

	assert.Error(t, r.Add(boom), "duplicate names are rejected")
	assert.Equal(t, []string{"boom", "fails"}, toolNames(r.List()))
	assert.True(t, r.Unregister("boom"))
	assert.Equal(t, []string{"fails"}, toolNames(r.List()))
}

func toolNames(tools []protocol.Tool) []string {
	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name
	}
	return names
}

func TestPrompts(t *testing.T) {
	r := NewPrompts()
	require.NoError(t, r.Register(protocol.Prompt{
		Name:        "review",
		Description: "review code",
		Arguments:   []protocol.PromptArgument{{Name: "code", Required: true}, {Name: "style"}},
	}, TextPrompt(func(_ context.Context, args map[string]string) (string, error) {
		return "Please review:\n" + args["code"], nil
	})))
	ctx := context.Background()

	res, err := r.Get(ctx, "review", map[string]string{"code": "x := 1"})
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, protocol.RoleUser, res.Messages[0].Role)
	assert.Equal(t, "Please review:\nx := 1", res.Messages[0].Content.Text)
	assert.Equal(t, "review code", res.Description)

	_, err = r.Get(ctx, "review", nil)
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryInvalidArgument), "got %v", err)

	_, err = r.Get(ctx, "missing", nil)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodePromptNotFound))
}

func TestPromptConversation(t *testing.T) {
	r := NewPrompts()
	require.NoError(t, r.Register(protocol.Prompt{Name: "debug"}, PromptFunc(func(context.Context, map[string]string) (*protocol.GetPromptResult, error) {
		return &protocol.GetPromptResult{Messages: []protocol.PromptMessage{
			{Role: protocol.RoleUser, Content: protocol.TextContent("I see an error")},
			{Role: protocol.RoleAssistant, Content: protocol.TextContent("What have you tried?")},
		}}, nil
	})))

	res, err := r.Get(context.Background(), "debug", nil)
	require.NoError(t, err)
	require.Len(t, res.Messages, 2)
	assert.Equal(t, protocol.RoleAssistant, res.Messages[1].Role)
}

func TestChangeCallbacksStartAfterSeal(t *testing.T) {
	r := NewTools()
	var changes atomic.Int32
	r.OnChange(func() { changes.Add(1) })

	noop := func(context.Context, map[string]any, ProgressReporter) (*protocol.CallToolResult, error) {
		return nil, nil
	}
	first, _ := NewTool("first", "", nil, noop)
	second, _ := NewTool("second", "", nil, noop)

	require.NoError(t, r.Add(first))
	assert.Zero(t, changes.Load(), "startup registrations do not notify")

	r.Seal()
	assert.True(t, r.Sealed())
	require.NoError(t, r.Add(second))
	r.Unregister("first")
	r.Unregister("first")
	assert.Equal(t, int32(2), changes.Load())
}
