package service

import (
	"strconv"
	"sync"
	"time"

	"github.com/set-night/mindchat/internal/generation"
	"github.com/set-night/mindchat/internal/store"
)

// Workspace is the state and turn controller owned by one chat.
type Workspace struct {
	ChatID     int64
	Store      *store.Store
	Controller *TurnController
}

// WorkspacesOpts holds parameters shared by every workspace.
type WorkspacesOpts struct {
	Generator   generation.Generator
	Recorder    TurnRecorder
	Timeout     time.Duration
	MaxSessions int
	NewStore    func() *store.Store // overrides store construction in tests
}

// Workspaces lazily creates one Workspace per chat. Workspaces live for the
// life of the process; nothing is persisted.
type Workspaces struct {
	opts WorkspacesOpts

	mu     sync.Mutex
	byChat map[int64]*Workspace
}

func NewWorkspaces(opts WorkspacesOpts) *Workspaces {
	return &Workspaces{opts: opts, byChat: make(map[int64]*Workspace)}
}

// Get returns the workspace of a chat, creating it on first use.
func (w *Workspaces) Get(chatID int64) *Workspace {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ws, ok := w.byChat[chatID]; ok {
		return ws
	}

	var st *store.Store
	if w.opts.NewStore != nil {
		st = w.opts.NewStore()
	} else {
		st = store.New(store.Options{MaxSessions: w.opts.MaxSessions})
	}
	ws := &Workspace{
		ChatID: chatID,
		Store:  st,
		Controller: NewTurnController(TurnControllerOpts{
			Store:     st,
			Generator: w.opts.Generator,
			Timeout:   w.opts.Timeout,
			Recorder:  w.opts.Recorder,
			ChatKey:   strconv.FormatInt(chatID, 10),
		}),
	}
	w.byChat[chatID] = ws
	return ws
}

// Len returns the number of workspaces created so far.
func (w *Workspaces) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.byChat)
}

// Wait blocks until the turns of every workspace have finished.
func (w *Workspaces) Wait() {
	w.mu.Lock()
	list := make([]*Workspace, 0, len(w.byChat))
	for _, ws := range w.byChat {
		list = append(list, ws)
	}
	w.mu.Unlock()

	for _, ws := range list {
		ws.Controller.Wait()
	}
}
