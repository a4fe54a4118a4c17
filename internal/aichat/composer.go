package aichat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"editorbridge/internal/editor"
	"editorbridge/internal/threads"
)

var (
	ErrNoOpenComments = errors.New("no open comments found to solve")
	ErrThreadNotFound = errors.New("comment thread not found")
	ErrNoReadable     = errors.New("comment thread has no readable comments")
)

type Options struct {
	// PanelTimeout bounds each wait for the panel to become visible.
	PanelTimeout time.Duration
	PollInterval time.Duration
	// SendSettle bounds the wait for the send button to enable after the
	// prompt is written.
	SendSettle time.Duration
	// MaxContextChars clips the injected comments listing.
	MaxContextChars int
}

func (o Options) withDefaults() Options {
	if o.PanelTimeout <= 0 {
		o.PanelTimeout = 3 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	if o.SendSettle <= 0 {
		o.SendSettle = 150 * time.Millisecond
	}
	if o.MaxContextChars <= 0 {
		o.MaxContextChars = 8000
	}
	return o
}

// Composer builds prompts from the session's threads and submits them
// through the AI chat panel.
type Composer struct {
	store   *threads.Store
	markers editor.MarkerSource
	panel   Panel
	tracker *Tracker
	opts    Options

	// drive serializes panel interaction.
	drive sync.Mutex
}

func NewComposer(store *threads.Store, markers editor.MarkerSource, panel Panel, tracker *Tracker, opts Options) *Composer {
	return &Composer{
		store:   store,
		markers: markers,
		panel:   panel,
		tracker: tracker,
		opts:    opts.withDefaults(),
	}
}

// FixThread asks the assistant to address one thread and marks it for
// resolution. It returns the prompt that was built.
func (c *Composer) FixThread(ctx context.Context, threadID string) (string, error) {
	_, thread, ok := c.store.Lookup(threadID)
	if !ok {
		log.Warn().Str("thread_id", threadID).Msg("fix with ai: thread not found")
		return "", ErrThreadNotFound
	}
	bodies := readableComments(thread)
	if len(bodies) == 0 {
		log.Warn().Str("thread_id", threadID).Msg("fix with ai: no readable comments")
		return "", ErrNoReadable
	}

	anchor := thread.AnchorText
	if anchor == "" && c.markers != nil {
		if m, ok := c.markers.Marker(editor.MarkerPrefix + threadID); ok {
			anchor = m.Text
		}
	}
	prompt := FixPrompt(threadID, anchor, strings.Join(bodies, "; "))
	c.tracker.MarkSingle(threadID)

	if _, err := c.submit(ctx, prompt, false); err != nil {
		return prompt, err
	}
	log.Info().Str("thread_id", threadID).Msg("single comment ai request sent")
	return prompt, nil
}

// SolveAll asks the assistant to address every open thread that has
// readable comments, and marks them for resolution.
func (c *Composer) SolveAll(ctx context.Context) (string, error) {
	listing, ids := FormatOpenThreads(c.store.All(), c.markers)
	if len(ids) == 0 {
		log.Info().Msg("solve all: no open comments")
		return "", ErrNoOpenComments
	}
	prompt := SolveAllPrompt(listing)
	c.tracker.MarkAll(ids)

	if _, err := c.submit(ctx, prompt, false); err != nil {
		return prompt, err
	}
	log.Info().Int("threads", len(ids)).Msg("solve all ai request sent")
	return prompt, nil
}

// Submit sends text through the panel. A prompt that mentions comments gets
// the current open-comments listing prepended. It returns the text actually
// submitted.
func (c *Composer) Submit(ctx context.Context, text string) (string, error) {
	return c.submit(ctx, text, true)
}

// submit sends text, injecting the comments listing only when inject is set.
// Generated prompts already carry their listing and pass false.
func (c *Composer) submit(ctx context.Context, text string, inject bool) (string, error) {
	if inject && mentionsComments(text) {
		listing, _ := FormatOpenThreads(c.store.All(), c.markers)
		text = injectContext(text, listing, c.opts.MaxContextChars)
		log.Debug().Msg("injected comments context")
	}
	if c.panel == nil {
		return text, ErrPanelUnavailable
	}
	if err := c.send(ctx, text); err != nil {
		log.Warn().Err(err).Msg("ai chat submission abandoned")
		return text, err
	}
	return text, nil
}

func (c *Composer) send(ctx context.Context, text string) error {
	c.drive.Lock()
	defer c.drive.Unlock()

	if err := c.ensureOpen(ctx); err != nil {
		return err
	}
	if err := c.panel.SetPrompt(ctx, text); err != nil {
		return fmt.Errorf("set prompt: %w", err)
	}
	err := waitFor(ctx, c.opts.SendSettle, c.opts.PollInterval, c.panel.SendEnabled)
	if errors.Is(err, errWaitTimeout) {
		return ErrSendDisabled
	}
	if err != nil {
		return err
	}
	return c.panel.Send(ctx)
}

// ensureOpen makes the panel visible, toggling it at most twice.
func (c *Composer) ensureOpen(ctx context.Context) error {
	for attempt := 0; attempt < 2; attempt++ {
		visible, err := c.panel.Visible(ctx)
		if err != nil {
			return err
		}
		if visible {
			return nil
		}
		log.Debug().Int("attempt", attempt+1).Msg("opening ai panel")
		if err := c.panel.Open(ctx); err != nil {
			return fmt.Errorf("open panel: %w", err)
		}
		err = waitFor(ctx, c.opts.PanelTimeout, c.opts.PollInterval, c.panel.Visible)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errWaitTimeout) {
			return err
		}
	}
	return ErrPanelUnavailable
}
