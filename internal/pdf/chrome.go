package pdf

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"kesefly/internal/log"
)

const renderTimeout = 30 * time.Second

// A4 in inches.
const (
	paperWidth  = 8.27
	paperHeight = 11.69
)

// Chrome prints HTML to PDF in a fresh headless browser per document.
type Chrome struct {
	execPath string
	logger   *log.Logger
}

// NewChrome uses execPath, or the first Chrome/Chromium found on PATH
// when it is empty.
func NewChrome(execPath string, logger *log.Logger) *Chrome {
	if logger == nil {
		logger = log.Discard()
	}
	if execPath == "" {
		execPath = DetectChrome()
	}
	return &Chrome{execPath: execPath, logger: logger.WithComponent(log.ComponentPDF)}
}

// DetectChrome returns the first known browser binary on PATH, or "".
func DetectChrome() string {
	for _, name := range []string{"chromium", "chromium-browser", "google-chrome", "google-chrome-stable", "headless-shell"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

// Render loads html into a blank page and prints it on A4 with
// backgrounds.
func (c *Chrome) Render(ctx context.Context, html []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, renderTimeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.NoSandbox)
	if c.execPath != "" {
		opts = append(opts, chromedp.ExecPath(c.execPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	start := time.Now()
	var out []byte
	err := chromedp.Run(browserCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, string(html)).Do(ctx)
		}),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			out, _, err = page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(paperWidth).
				WithPaperHeight(paperHeight).
				WithPreferCSSPageSize(true).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		c.logger.ErrorContext(ctx, "PDF rendering failed",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeUpstream,
			log.FieldOperation, log.OpRender)
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	c.logger.DebugContext(ctx, "PDF rendered", "bytes", len(out), "duration_ms", time.Since(start).Milliseconds())
	return out, nil
}
