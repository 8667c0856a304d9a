// Package agenttest provides a scripted in-process Agent for tests of code
// that drives agents.
package agenttest

import (
	"context"
	"sync"

	"github.com/banjo-dev/banjo/internal/acp"
	"github.com/banjo-dev/banjo/internal/agent"
)

// Respond scripts one turn. It runs on its own goroutine and must end the
// turn with EndTurn (or Exit).
type Respond func(f *Fake, text string)

// Echo answers every prompt with one chunk repeating it.
func Echo(f *Fake, text string) {
	f.Chunk("echo: " + text)
	f.EndTurn(acp.StopEndTurn)
}

// Fake is an Agent whose output is produced by a Respond script.
type Fake struct {
	engine  acp.Engine
	Opts    agent.Options
	respond Respond

	mu        sync.Mutex
	prompts   []string
	mode      string
	model     string
	cancelled chan struct{}
	stopped   bool
	exitOnce  sync.Once
}

// Factory returns an agent constructor that builds Fakes running respond,
// and a channel that receives each Fake as it is created.
func Factory(respond Respond) (func(acp.Engine, agent.Options) (agent.Agent, error), <-chan *Fake) {
	if respond == nil {
		respond = Echo
	}
	created := make(chan *Fake, 16)
	return func(engine acp.Engine, opts agent.Options) (agent.Agent, error) {
		f := &Fake{
			engine:    engine,
			Opts:      opts,
			respond:   respond,
			mode:      opts.Mode,
			model:     opts.Model,
			cancelled: make(chan struct{}),
		}
		created <- f
		return f, nil
	}, created
}

func (f *Fake) Engine() acp.Engine { return f.engine }

func (f *Fake) Prompt(ctx context.Context, text string) error {
	f.mu.Lock()
	f.prompts = append(f.prompts, text)
	f.cancelled = make(chan struct{})
	f.mu.Unlock()
	go f.respond(f, text)
	return nil
}

func (f *Fake) Cancel() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.cancelled:
	default:
		close(f.cancelled)
	}
	return nil
}

// Cancelled is closed when the current turn is cancelled.
func (f *Fake) Cancelled() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

func (f *Fake) SetMode(modeID string) error {
	f.mu.Lock()
	f.mode = modeID
	f.mu.Unlock()
	return nil
}

func (f *Fake) SetModel(modelID string) error {
	f.mu.Lock()
	f.model = modelID
	f.mu.Unlock()
	return nil
}

// Stop marks the fake stopped and reports a clean exit, like a real
// process would.
func (f *Fake) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	f.exit(nil)
}

func (f *Fake) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

func (f *Fake) Mode() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

func (f *Fake) Model() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.model
}

func (f *Fake) Stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// Emit sends ev to the agent's sink.
func (f *Fake) Emit(ev agent.Event) {
	f.Opts.Sink(ev)
}

func (f *Fake) Chunk(text string) {
	u := acp.ChunkUpdate(acp.UpdateAgentMessageChunk, text)
	f.Emit(agent.Event{Update: &u})
}

func (f *Fake) EndTurn(stopReason string) {
	f.Emit(agent.Event{TurnEnd: true, StopReason: stopReason})
}

// Exit simulates the agent process dying.
func (f *Fake) Exit(err error) {
	f.exit(err)
}

func (f *Fake) exit(err error) {
	f.exitOnce.Do(func() {
		if f.Opts.OnExit != nil {
			f.Opts.OnExit(err)
		}
	})
}
