package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/log"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/magpie-cli/api/schemas"
)

const (
	// staleRequestCutoff bounds how long one request can keep the page
	// "busy". Long polls and hung trackers would otherwise block
	// quiescence forever.
	staleRequestCutoff = 30 * time.Second

	// maxConsoleEntries caps the retained console log; the oldest entry is
	// dropped first.
	maxConsoleEntries = 200
)

// Watcher listens to a tab's CDP events. It tracks in flight requests so the
// page can wait for the network to settle, and keeps the console warnings and
// errors for run diagnostics.
type Watcher struct {
	logger *zap.Logger

	// The context of the tab this watcher is attached to.
	tabCtx context.Context
	// A derived context so the listener can be stopped independently.
	listenCtx  context.Context
	stopListen context.CancelFunc

	mu       sync.RWMutex
	inflight map[network.RequestID]time.Time
	entries  []schemas.ConsoleEntry
	started  bool
}

// NewWatcher creates a watcher bound to a tab context. Call Start to begin
// collecting.
func NewWatcher(tabCtx context.Context, logger *zap.Logger) *Watcher {
	return &Watcher{
		tabCtx:   tabCtx,
		logger:   logger.Named("watcher"),
		inflight: make(map[network.RequestID]time.Time),
		entries:  make([]schemas.ConsoleEntry, 0),
	}
}

// Start registers the event listener and enables the CDP domains it needs.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return nil
	}

	w.listenCtx, w.stopListen = context.WithCancel(w.tabCtx)
	chromedp.ListenTarget(w.listenCtx, w.handleEvent)

	err := chromedp.Run(w.tabCtx,
		network.Enable(),
		runtime.Enable(),
		log.Enable(),
	)
	if err != nil {
		w.stopListen()
		return fmt.Errorf("enabling event domains: %w", err)
	}

	w.started = true
	w.logger.Debug("watcher listening")
	return nil
}

// Stop detaches the listener. Collected entries remain readable.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopListen != nil {
		w.stopListen()
		w.stopListen = nil
	}
	w.started = false
}

func (w *Watcher) handleEvent(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		w.handleRequestWillBeSent(e)
	case *network.EventLoadingFinished:
		w.settleRequest(e.RequestID)
	case *network.EventLoadingFailed:
		w.settleRequest(e.RequestID)

	case *runtime.EventConsoleAPICalled:
		w.handleConsoleAPICalled(e)
	case *log.EventEntryAdded:
		w.handleLogEntryAdded(e)
	case *runtime.EventExceptionThrown:
		w.handleExceptionThrown(e)
	}
}

// WaitQuiet blocks until no request has been in flight for the quiet period,
// polling at half the period.
func (w *Watcher) WaitQuiet(ctx context.Context, quiet time.Duration) error {
	interval := quiet / 2
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastActivity := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := w.activeRequests(); n > 0 {
				lastActivity = time.Now()
				w.logger.Debug("waiting for network idle", zap.Int("inflight", n))
			} else if time.Since(lastActivity) >= quiet {
				return nil
			}
		}
	}
}

// activeRequests counts in flight requests younger than the stale cutoff.
func (w *Watcher) activeRequests() int {
	w.mu.RLock()
	defer w.mu.RUnlock()

	n := 0
	for _, started := range w.inflight {
		if time.Since(started) < staleRequestCutoff {
			n++
		}
	}
	return n
}

// Entries returns a snapshot of the collected console entries.
func (w *Watcher) Entries() []schemas.ConsoleEntry {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]schemas.ConsoleEntry, len(w.entries))
	copy(out, w.entries)
	return out
}

// -- Event Handlers --

func (w *Watcher) handleRequestWillBeSent(e *network.EventRequestWillBeSent) {
	// Sockets and event streams never settle; counting them would make
	// every page with a live feed permanently busy.
	if e.Type == network.ResourceTypeWebSocket || e.Type == network.ResourceTypeEventSource {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	// A redirect reuses the request ID; the next leg counts as fresh
	// activity, so the clock restarts.
	w.inflight[e.RequestID] = time.Now()
}

func (w *Watcher) settleRequest(id network.RequestID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inflight, id)
}

func (w *Watcher) handleConsoleAPICalled(e *runtime.EventConsoleAPICalled) {
	level := string(e.Type)
	if level != "error" && level != "warning" && level != "assert" {
		return
	}

	var text strings.Builder
	for i, arg := range e.Args {
		if i > 0 {
			text.WriteString(" ")
		}
		var val interface{}
		if arg.Value != nil && json.Unmarshal(arg.Value, &val) == nil {
			fmt.Fprintf(&text, "%v", val)
		} else if arg.Description != "" {
			text.WriteString(arg.Description)
		} else {
			fmt.Fprintf(&text, "[%s]", arg.Type)
		}
	}

	w.record(schemas.ConsoleEntry{
		Level:  level,
		Text:   text.String(),
		Source: "console-api",
	})
}

func (w *Watcher) handleLogEntryAdded(e *log.EventEntryAdded) {
	if e.Entry == nil {
		return
	}
	level := string(e.Entry.Level)
	if level != "error" && level != "warning" {
		return
	}

	w.record(schemas.ConsoleEntry{
		Level:  level,
		Text:   e.Entry.Text,
		Source: string(e.Entry.Source),
		URL:    e.Entry.URL,
	})
}

func (w *Watcher) handleExceptionThrown(e *runtime.EventExceptionThrown) {
	if e.ExceptionDetails == nil {
		return
	}
	// The description carries the most detail, stack trace included.
	text := e.ExceptionDetails.Text
	if e.ExceptionDetails.Exception != nil && e.ExceptionDetails.Exception.Description != "" {
		text = e.ExceptionDetails.Exception.Description
	}

	w.record(schemas.ConsoleEntry{
		Level:  "error",
		Text:   text,
		Source: "exception",
		URL:    e.ExceptionDetails.URL,
	})
}

func (w *Watcher) record(entry schemas.ConsoleEntry) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.entries) >= maxConsoleEntries {
		copy(w.entries, w.entries[1:])
		w.entries = w.entries[:len(w.entries)-1]
	}
	w.entries = append(w.entries, entry)
}
