package launcher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/freza/core"
	"github.com/hupe1980/freza/model"
	"github.com/hupe1980/freza/model/anthropic"
	"github.com/hupe1980/freza/model/openai"
)

// ModelResolver returns the model serving runtime. modelID is the resolved
// model (agent override or configured default) and may be empty.
type ModelResolver func(runtime core.Runtime, modelID string) (model.Model, error)

// ModelOptions configures a ModelLauncher.
type ModelOptions struct {
	Resolver     ModelResolver
	MaxTokens    int64
	RecordBuffer int
	Clock        func() time.Time
}

// ModelLauncher serves agents in process by calling a model API. There is
// no tool use; the model answers in a single turn.
type ModelLauncher struct {
	opts ModelOptions
}

// Compile-time check that ModelLauncher implements core.Launcher.
var _ core.Launcher = (*ModelLauncher)(nil)

// NewModelLauncher creates a ModelLauncher. The default resolver builds the
// vendor adapters from environment credentials.
func NewModelLauncher(optFns ...func(o *ModelOptions)) *ModelLauncher {
	opts := ModelOptions{
		Resolver:     DefaultModelResolver,
		MaxTokens:    4096,
		RecordBuffer: 64,
		Clock:        time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ModelLauncher{opts: opts}
}

// DefaultModelResolver maps the anthropic and openai runtimes to their
// adapters.
func DefaultModelResolver(runtime core.Runtime, modelID string) (model.Model, error) {
	switch runtime {
	case core.RuntimeAnthropic:
		return anthropic.NewModel(func(o *anthropic.Options) {
			if modelID != "" {
				o.Model = anthropicModel(modelID)
			}
		}), nil
	case core.RuntimeOpenAI:
		return openai.NewModel(func(o *openai.Options) {
			// The agent CLI aliases name no OpenAI model.
			if _, alias := cliAliases[strings.ToLower(modelID)]; modelID != "" && !alias {
				o.Model = modelID
			}
		}), nil
	default:
		return nil, fmt.Errorf("runtime %q is not served in process", runtime)
	}
}

// cliAliases maps the short names accepted by the agent CLI to API models.
var cliAliases = map[string]sdk.Model{
	"opus":   sdk.ModelClaudeOpus4_0,
	"sonnet": sdk.ModelClaudeSonnet4_0,
	"haiku":  sdk.ModelClaude3_5HaikuLatest,
}

func anthropicModel(id string) sdk.Model {
	if m, ok := cliAliases[strings.ToLower(id)]; ok {
		return m
	}
	return sdk.Model(id)
}

// Launch implements core.Launcher.
func (l *ModelLauncher) Launch(ctx context.Context, req core.LaunchRequest) (core.Process, error) {
	m, err := l.opts.Resolver(req.Agent.Runtime, req.Model)
	if err != nil {
		return nil, err
	}

	msgs := make([]model.Message, 0, 2*len(req.History)+1)
	for _, ex := range req.History {
		msgs = append(msgs,
			model.Message{Role: model.RoleUser, Text: ex.Trigger},
			model.Message{Role: model.RoleAssistant, Text: ex.Response},
		)
	}
	msgs = append(msgs, model.Message{Role: model.RoleUser, Text: req.Prompt})

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := &modelProcess{
		records: make(chan core.Record, l.opts.RecordBuffer),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	go p.run(runCtx, m, model.Request{
		Instructions: req.SystemPrompt,
		Messages:     msgs,
		MaxTokens:    l.opts.MaxTokens,
		Stream:       true,
	}, l.opts.Clock)
	return p, nil
}

// modelProcess adapts a model generation to core.Process.
type modelProcess struct {
	records chan core.Record
	done    chan struct{}
	cancel  context.CancelFunc

	mu  sync.Mutex
	err error
}

func (p *modelProcess) run(ctx context.Context, m model.Model, req model.Request, clock func() time.Time) {
	defer close(p.done)
	defer close(p.records)
	defer p.cancel()

	start := clock()
	out, errs := m.Generate(ctx, req)

	var final *model.Response
	streamed := false
	for r := range out {
		if r.Partial {
			if r.Text != "" {
				streamed = true
				p.records <- core.Record{Events: []core.Event{core.TextDelta(r.Text)}}
			}
			continue
		}
		resp := r
		final = &resp
	}
	if err := <-errs; err != nil {
		p.fail(err)
		return
	}
	if final == nil {
		p.fail(fmt.Errorf("model returned no response"))
		return
	}

	info := m.Info()
	var events []core.Event
	if !streamed && final.Text != "" {
		events = append(events, core.TextDelta(final.Text))
	}
	p.records <- core.Record{
		Events: events,
		Raw: mustJSON(map[string]any{
			"role":    "assistant",
			"model":   info.Name,
			"content": []map[string]any{{"type": "text", "text": final.Text}},
		}),
	}

	elapsed := clock().Sub(start).Milliseconds()
	result := core.Result(0, elapsed, 1)
	raw := map[string]any{
		"role":           "result",
		"subtype":        strings.TrimSpace(final.FinishReason),
		"duration_ms":    elapsed,
		"num_turns":      1,
		"provider":       info.Provider,
		"response_id":    final.ID,
		"total_cost_usd": 0,
	}
	if final.Usage != nil {
		raw["usage"] = final.Usage
	}
	p.records <- core.Record{Events: []core.Event{result}, Raw: mustJSON(raw)}
}

func (p *modelProcess) fail(err error) {
	p.mu.Lock()
	p.err = &core.SubprocessError{Reason: err.Error()}
	p.mu.Unlock()
}

// PID implements core.Process; in-process runtimes have none.
func (p *modelProcess) PID() int { return 0 }

// Records implements core.Process.
func (p *modelProcess) Records() <-chan core.Record { return p.records }

// Wait implements core.Process.
func (p *modelProcess) Wait() error {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Terminate implements core.Process.
func (p *modelProcess) Terminate() error {
	p.cancel()
	return nil
}

// Kill implements core.Process.
func (p *modelProcess) Kill() error { return p.Terminate() }
