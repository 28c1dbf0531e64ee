package automation

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"time"

	cdplog "github.com/chromedp/cdproto/log"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/agentstream/internal/interfaces"
)

// Browser is the page driver a run acts through
type Browser interface {
	Navigate(ctx context.Context, url string) error
	Snapshot(ctx context.Context) (*PageSnapshot, error)
	Click(ctx context.Context, el Element) error
	Input(ctx context.Context, el Element, text string) error
	Select(ctx context.Context, el Element, value string) error
	Scroll(ctx context.Context, down bool) error
	SendKeys(ctx context.Context, keys string) error
	Back(ctx context.Context) error
	Close() error
}

// BrowserFactory opens the browser for one run
type BrowserFactory func(ctx context.Context, opts interfaces.RunOptions) (Browser, error)

// ChromeBrowser drives a dedicated Chrome instance through the DevTools protocol
type ChromeBrowser struct {
	ctx           context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	logger        arbor.ILogger
	screenshots   bool
}

// ChromeFactory returns a BrowserFactory launching Chrome with a per-session profile
func ChromeFactory(screenshots bool, logger arbor.ILogger) BrowserFactory {
	return func(ctx context.Context, opts interfaces.RunOptions) (Browser, error) {
		return NewChromeBrowser(ctx, opts, screenshots, logger.WithCorrelationId(opts.SessionID))
	}
}

// NewChromeBrowser launches Chrome on the run's debug port. The browser outlives
// ctx cancellation until Close so that a stopped run can shut it down cleanly.
func NewChromeBrowser(ctx context.Context, opts interfaces.RunOptions, screenshots bool, logger arbor.ILogger) (*ChromeBrowser, error) {
	allocOpts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.WindowSize(1920, 1080),
	}

	if opts.DebugPort > 0 {
		allocOpts = append(allocOpts, chromedp.Flag("remote-debugging-port", fmt.Sprintf("%d", opts.DebugPort)))
	}

	if opts.ProfileDir != "" {
		profile := filepath.Join(opts.ProfileDir, opts.SessionID)
		if err := os.MkdirAll(profile, 0755); err != nil {
			return nil, fmt.Errorf("failed to create browser profile: %w", err)
		}
		allocOpts = append(allocOpts, chromedp.UserDataDir(profile))
		logger.Debug().Str("path", profile).Msg("Using browser profile directory")
	}

	if opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", "new"))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(s string, i ...interface{}) {
			logger.Debug().Msgf("chromedp: "+s, i...)
		}),
	)

	b := &ChromeBrowser{
		ctx:           browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		logger:        logger,
		screenshots:   screenshots,
	}

	// The first Run allocates the browser and ties it to the context it is given
	if err := chromedp.Run(browserCtx); err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := b.run(startCtx, chromedp.Navigate("about:blank"), cdplog.Enable()); err != nil {
		b.Close()
		return nil, fmt.Errorf("browser failed startup test: %w", err)
	}

	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		if e, ok := ev.(*cdplog.EventEntryAdded); ok {
			logger.Debug().
				Str("source", e.Entry.Source.String()).
				Str("level", e.Entry.Level.String()).
				Str("message", e.Entry.Text).
				Msg("Browser console message")
		}
	})

	logger.Info().
		Int("debug_port", opts.DebugPort).
		Bool("headless", opts.Headless).
		Msg("Browser started")

	return b, nil
}

// run executes actions on the browser tab, aborting them when ctx is done
func (b *ChromeBrowser) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(b.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

func (b *ChromeBrowser) Navigate(ctx context.Context, url string) error {
	return b.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery))
}

func (b *ChromeBrowser) Snapshot(ctx context.Context) (*PageSnapshot, error) {
	var location, title, html string
	if err := b.run(ctx,
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&location),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("failed to read page: %w", err)
	}

	snapshot, err := ParsePage(location, title, html)
	if err != nil {
		return nil, err
	}

	if targets, err := chromedp.Targets(b.ctx); err == nil {
		for _, t := range targets {
			if t.Type == "page" {
				snapshot.Tabs = append(snapshot.Tabs, t.URL)
			}
		}
	}

	if b.screenshots {
		var png []byte
		if err := b.run(ctx, chromedp.CaptureScreenshot(&png)); err != nil {
			b.logger.Warn().Err(err).Msg("Failed to capture screenshot")
		} else {
			snapshot.Screenshot = base64.StdEncoding.EncodeToString(png)
		}
	}

	return snapshot, nil
}

func (b *ChromeBrowser) Click(ctx context.Context, el Element) error {
	return b.run(ctx, chromedp.Click(el.Selector(), chromedp.BySearch))
}

func (b *ChromeBrowser) Input(ctx context.Context, el Element, text string) error {
	return b.run(ctx,
		chromedp.Clear(el.Selector(), chromedp.BySearch),
		chromedp.SendKeys(el.Selector(), text, chromedp.BySearch),
	)
}

func (b *ChromeBrowser) Select(ctx context.Context, el Element, value string) error {
	return b.run(ctx, chromedp.SetValue(el.Selector(), value, chromedp.BySearch))
}

func (b *ChromeBrowser) Scroll(ctx context.Context, down bool) error {
	expr := "window.scrollBy(0, window.innerHeight), window.scrollY"
	if !down {
		expr = "window.scrollBy(0, -window.innerHeight), window.scrollY"
	}
	var offset float64
	return b.run(ctx, chromedp.Evaluate(expr, &offset))
}

func (b *ChromeBrowser) SendKeys(ctx context.Context, keys string) error {
	return b.run(ctx, chromedp.KeyEvent(keyString(keys)))
}

func (b *ChromeBrowser) Back(ctx context.Context) error {
	return b.run(ctx, chromedp.NavigateBack())
}

// Close shuts the tab and the browser process down
func (b *ChromeBrowser) Close() error {
	b.browserCancel()
	b.allocCancel()
	b.logger.Debug().Msg("Browser closed")
	return nil
}
