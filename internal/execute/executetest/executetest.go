// Package executetest provides a recording execute.Runner for tests.
package executetest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/alarmpi/tools/internal/execute"
)

// Response is the scripted result of a command.
type Response struct {
	Output string
	Err    error
}

// Recorder records every command it is asked to run. Commands whose String()
// starts with a key of Responses get the scripted response, all others
// succeed without output.
type Recorder struct {
	mu        sync.Mutex
	Responses map[string]Response

	// Hook, if set, is called after a command was recorded and before the
	// scripted response is returned. Tests use it to simulate side effects
	// (e.g. a mount showing up in the mount table).
	Hook func(cmd execute.Command)

	commands []execute.Command
}

func (r *Recorder) Run(ctx context.Context, cmd execute.Command) ([]byte, error) {
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	hook := r.Hook
	var resp *Response
	best := -1
	s := cmd.String()
	for prefix, rsp := range r.Responses {
		if strings.HasPrefix(s, prefix) && len(prefix) > best {
			rsp := rsp
			resp = &rsp
			best = len(prefix)
		}
	}
	r.mu.Unlock()

	if hook != nil {
		hook(cmd)
	}
	if resp == nil {
		return nil, nil
	}
	if resp.Err != nil {
		return []byte(resp.Output), fmt.Errorf("%s: %w", s, resp.Err)
	}
	return []byte(resp.Output), nil
}

// Commands returns the String() form of every recorded command.
func (r *Recorder) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]string, len(r.commands))
	for i, c := range r.commands {
		result[i] = c.String()
	}
	return result
}

// Reset forgets all recorded commands.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = nil
}

// Set scripts the response for commands starting with prefix.
func (r *Recorder) Set(prefix string, resp Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Responses == nil {
		r.Responses = make(map[string]Response)
	}
	r.Responses[prefix] = resp
}
