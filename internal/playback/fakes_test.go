package playback

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/hxnx/lightshow/internal/device"
)

type memoryCommands struct {
	mu       sync.Mutex
	commands map[string]Command
	saves    int
	saveErr  error
}

func newMemoryCommands(cmds ...Command) *memoryCommands {
	m := &memoryCommands{commands: make(map[string]Command)}
	for _, c := range cmds {
		m.commands[c.ID] = c
	}
	return m
}

func (m *memoryCommands) FindByStatus(_ context.Context, status Status, limit int) ([]Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Command
	for _, c := range m.commands {
		if c.Status == status {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b Command) int { return a.CreatedAt.Compare(b.CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryCommands) FindByID(_ context.Context, id string) (*Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.commands[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *memoryCommands) Save(_ context.Context, cmd Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.commands[cmd.ID] = cmd
	m.saves++
	return nil
}

func (m *memoryCommands) UpdateStatus(_ context.Context, id string, to Status, exception string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.commands[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := c.Transition(to); err != nil {
		return err
	}
	c.Exception = exception
	m.commands[id] = c
	m.saves++
	return nil
}

func (m *memoryCommands) CountRecent(_ context.Context, session, host string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, c := range m.commands {
		if c.ExternalSessionID == session && c.SubmissionHost == host && c.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (m *memoryCommands) get(id string) Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commands[id]
}

type memoryAttachments struct {
	mu    sync.Mutex
	items  map[string]Attachment
	seq    int
	getErr error
}

func newMemoryAttachments() *memoryAttachments {
	return &memoryAttachments{items: make(map[string]Attachment)}
}

func (m *memoryAttachments) PutAttachment(_ context.Context, a Attachment) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	a.ID = fmt.Sprintf("att-%d", m.seq)
	m.items[a.ID] = a
	return a.ID, nil
}

func (m *memoryAttachments) GetAttachment(_ context.Context, id string) (*Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	a, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (m *memoryAttachments) DeleteAttachment(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

func (m *memoryAttachments) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

type staticState struct {
	state *device.PlaybackState
}

func (s *staticState) State(context.Context) *device.PlaybackState {
	return s.state
}

var baseTime = time.Date(2025, 12, 24, 18, 0, 0, 0, time.UTC)

func cmdAt(id string, minute int, duration int, status Status) Command {
	return Command{
		ID:              id,
		CreatedAt:       baseTime.Add(time.Duration(minute) * time.Minute),
		DurationSeconds: duration,
		Status:          status,
		FileName:        id + ".mid",
		TrackName:       "Track " + id,
	}
}
