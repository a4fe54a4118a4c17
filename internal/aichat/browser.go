package aichat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"
)

const clickBinding = "editorbridgeApplyClick"

const findRootJS = `(() => document.querySelector('.ck-ai-chat') ||
	document.querySelector('.ck .ck-ai-chat') ||
	document.querySelector('.ck-ai-chat__conversation') ||
	document.querySelector('.ck-ai-tabs'))`

const findComposerJS = `((root) => root && (root.querySelector('textarea') ||
	root.querySelector('[contenteditable="true"]')))`

const findSendJS = `((root) => {
	if (!root) return null;
	return root.querySelector('button[type="submit"]') ||
		root.querySelector('button[aria-label*="send" i]') ||
		root.querySelector('button[aria-label*="submit" i]') ||
		Array.from(root.querySelectorAll('button')).find((btn) => {
			const label = (btn.getAttribute('aria-label') || btn.title || btn.textContent || '').toLowerCase();
			return label.includes('send') || label.includes('submit');
		}) || null;
})`

const clickListenerJS = `document.addEventListener('click', (e) => {
	const btn = e.target && e.target.closest ? e.target.closest('button') : null;
	if (!btn) return;
	window.` + clickBinding + `(JSON.stringify({
		text: btn.textContent || '',
		ariaLabel: btn.getAttribute('aria-label') || '',
		title: btn.title || '',
		classes: Array.from(btn.classList),
		inActionBar: !!btn.closest('.ck-ai-form__actions'),
	}));
}, true);`

// BrowserPanel drives the AI chat panel of an editor page loaded in a remote
// Chrome instance.
type BrowserPanel struct {
	tab    context.Context
	cancel func()
}

// NewBrowserPanel opens editorURL in a new tab of the Chrome instance at
// chromeURL. Every button click in the page is reported to onClick.
func NewBrowserPanel(ctx context.Context, chromeURL, editorURL string, onClick func(Click)) (*BrowserPanel, error) {
	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(ctx, chromeURL)
	tab, cancelTab := chromedp.NewContext(allocCtx)
	cancel := func() {
		cancelTab()
		cancelAlloc()
	}

	chromedp.ListenTarget(tab, func(ev interface{}) {
		called, ok := ev.(*runtime.EventBindingCalled)
		if !ok || called.Name != clickBinding || onClick == nil {
			return
		}
		var click Click
		if err := json.Unmarshal([]byte(called.Payload), &click); err != nil {
			log.Warn().Err(err).Msg("decode panel click")
			return
		}
		go onClick(click)
	})

	err := chromedp.Run(tab,
		runtime.AddBinding(clickBinding),
		chromedp.Navigate(editorURL),
		chromedp.WaitReady("body"),
		chromedp.Evaluate(clickListenerJS, nil),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open editor page: %w", err)
	}
	log.Info().Str("url", editorURL).Msg("ai panel browser attached")
	return &BrowserPanel{tab: tab, cancel: cancel}, nil
}

func (p *BrowserPanel) Close() {
	p.cancel()
}

// run executes actions on the tab, stopping early when ctx is done.
func (p *BrowserPanel) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (p *BrowserPanel) Visible(ctx context.Context) (bool, error) {
	var visible bool
	err := p.run(ctx, chromedp.Evaluate(`(() => { const r = `+findRootJS+`(); return !!r && r.offsetParent !== null; })()`, &visible))
	return visible, err
}

func (p *BrowserPanel) Open(ctx context.Context) error {
	return p.run(ctx, chromedp.Evaluate(`window.editor && window.editor.execute('toggleAi')`, nil))
}

func (p *BrowserPanel) SetPrompt(ctx context.Context, text string) error {
	encoded, err := json.Marshal(text)
	if err != nil {
		return err
	}
	script := `(() => {
	const el = ` + findComposerJS + `(` + findRootJS + `());
	if (!el) return false;
	const text = ` + string(encoded) + `;
	if (el.tagName === 'TEXTAREA') { el.value = text; } else { el.textContent = text; }
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
})()`
	var found bool
	if err := p.run(ctx, chromedp.Evaluate(script, &found)); err != nil {
		return err
	}
	if !found {
		return ErrComposerNotFound
	}
	return nil
}

func (p *BrowserPanel) Prompt(ctx context.Context) (string, error) {
	script := `(() => {
	const el = ` + findComposerJS + `(` + findRootJS + `());
	if (!el) return null;
	return el.tagName === 'TEXTAREA' ? el.value : (el.textContent || '');
})()`
	var text *string
	if err := p.run(ctx, chromedp.Evaluate(script, &text)); err != nil {
		return "", err
	}
	if text == nil {
		return "", ErrComposerNotFound
	}
	return *text, nil
}

func (p *BrowserPanel) SendEnabled(ctx context.Context) (bool, error) {
	script := `(() => {
	const btn = ` + findSendJS + `(` + findRootJS + `());
	if (!btn) return 'missing';
	return btn.disabled ? 'disabled' : 'enabled';
})()`
	var state string
	if err := p.run(ctx, chromedp.Evaluate(script, &state)); err != nil {
		return false, err
	}
	if state == "missing" {
		return false, ErrSendNotFound
	}
	return state == "enabled", nil
}

func (p *BrowserPanel) Send(ctx context.Context) error {
	script := `(() => {
	const btn = ` + findSendJS + `(` + findRootJS + `());
	if (!btn || btn.disabled) return false;
	btn.click();
	return true;
})()`
	var clicked bool
	if err := p.run(ctx, chromedp.Evaluate(script, &clicked)); err != nil {
		return err
	}
	if !clicked {
		return ErrSendDisabled
	}
	return nil
}
