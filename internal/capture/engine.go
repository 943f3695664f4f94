// Package capture drives a headless browser session to obtain chart
// data for one symbol by intercepting the backing network response of
// the provider's company page.
package capture

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"finsight/internal/config"
	"finsight/internal/logging"
	"finsight/internal/types"
)

// ErrCaptureTimeout reports that no matching chart response arrived
// within the bounded wait.
var ErrCaptureTimeout = errors.New("chart data capture timed out")

// Phase tracks the capture lifecycle for logging and diagnostics.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseNavigating
	PhaseAwaitingResponse
	PhaseCaptured
	PhaseTimedOut
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseNavigating:
		return "navigating"
	case PhaseAwaitingResponse:
		return "awaiting_response"
	case PhaseCaptured:
		return "captured"
	case PhaseTimedOut:
		return "timed_out"
	case PhaseClosed:
		return "closed"
	}
	return "unknown"
}

// dayRanges maps the provider's range-button tokens to day counts.
var dayRanges = map[string]int{
	"1M":   30,
	"6M":   180,
	"1Yr":  365,
	"3Yr":  1095,
	"5Yr":  1825,
	"10Yr": 3652,
	"Max":  10000,
}

// defaultDays applies when a range token is not recognized.
const defaultDays = 365

// DayRange maps a human range token to a day count. Unknown tokens
// fall back to one year.
func DayRange(token string) int {
	if days, ok := dayRanges[token]; ok {
		return days
	}
	return defaultDays
}

// promise is a one-shot future resolved by the response-matching
// callback. Data arriving before the formal wait still counts.
type promise struct {
	once sync.Once
	ch   chan *types.PriceSeriesBundle
}

func newPromise() *promise {
	return &promise{ch: make(chan *types.PriceSeriesBundle, 1)}
}

func (p *promise) resolve(b *types.PriceSeriesBundle) {
	p.once.Do(func() { p.ch <- b })
}

// poll returns the resolved bundle without blocking, or nil.
func (p *promise) poll() *types.PriceSeriesBundle {
	select {
	case b := <-p.ch:
		return b
	default:
		return nil
	}
}

// Engine captures chart data through a browser session. One Capture
// call owns one browser lifetime; the browser is always torn down on
// exit, success or failure.
type Engine struct {
	cfg     config.CaptureConfig
	baseURL string
	phase   atomic.Int32
}

// NewEngine builds a capture engine. baseURL is the provider root
// (e.g. "https://www.screener.in").
func NewEngine(cfg config.CaptureConfig, baseURL string) *Engine {
	return &Engine{cfg: cfg, baseURL: strings.TrimRight(baseURL, "/")}
}

// Phase returns the current lifecycle phase.
func (e *Engine) Phase() Phase {
	return Phase(e.phase.Load())
}

func (e *Engine) setPhase(p Phase) {
	e.phase.Store(int32(p))
	logging.CaptureDebug("phase -> %s", p)
}

// Capture navigates to the symbol's page, listens for the chart API
// response carrying the requested day range, nudges the matching range
// button, and returns the parsed dataset bundle.
func (e *Engine) Capture(ctx context.Context, symbol string, days int) (*types.PriceSeriesBundle, error) {
	timer := logging.StartTimer(logging.CategoryCapture, "Capture")
	defer timer.Stop()

	e.setPhase(PhaseIdle)
	logging.Capture("Capturing chart data for %s over %d days", symbol, days)

	browser, cleanup, err := e.launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	defer func() {
		cleanup()
		e.setPhase(PhaseClosed)
	}()

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}

	fut := newPromise()

	// Register the listener before navigation so a response fired during
	// page load is not missed.
	listenCtx, stopListening := context.WithCancel(ctx)
	defer stopListening()

	wait := page.Context(listenCtx).EachEvent(func(ev *proto.NetworkResponseReceived) {
		if ev.Response == nil || !matchChartURL(ev.Response.URL, symbol, days) {
			return
		}
		logging.CaptureDebug("matched chart response: %s", ev.Response.URL)
		body, err := proto.NetworkGetResponseBody{RequestID: ev.RequestID}.Call(page)
		if err != nil {
			logging.Get(logging.CategoryCapture).Error("fetch response body: %v", err)
			return
		}
		bundle, err := parseChartPayload(body.Body, body.Base64Encoded)
		if err != nil {
			logging.Get(logging.CategoryCapture).Error("parse chart payload: %v", err)
			return
		}
		fut.resolve(bundle)
	})
	go wait()

	e.setPhase(PhaseNavigating)
	pageURL := fmt.Sprintf("%s/company/%s/consolidated/", e.baseURL, symbol)
	if err := page.Context(ctx).Timeout(e.cfg.NavigationTimeout()).Navigate(pageURL); err != nil {
		return nil, fmt.Errorf("navigate to %s: %w", pageURL, err)
	}

	// First wait: page ready. A failure here is tolerated; the chart
	// response may already have been captured during load.
	if err := page.Context(ctx).Timeout(e.cfg.ReadyTimeout()).WaitLoad(); err != nil {
		logging.CaptureDebug("page ready wait ended early: %v", err)
	}

	e.setPhase(PhaseAwaitingResponse)

	// The default-range response may already satisfy the request.
	if bundle := fut.poll(); bundle != nil {
		e.setPhase(PhaseCaptured)
		logging.Capture("captured %s chart during page load", symbol)
		return bundle, nil
	}

	e.clickRangeButton(ctx, page, days)

	// Second wait: the capture signal, bounded.
	select {
	case bundle := <-fut.ch:
		e.setPhase(PhaseCaptured)
		logging.Capture("captured %s chart for %d days", symbol, days)
		return bundle, nil
	case <-time.After(e.cfg.DataTimeout()):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Capture-before-signal: data that raced the timeout still counts.
	if bundle := fut.poll(); bundle != nil {
		e.setPhase(PhaseCaptured)
		return bundle, nil
	}

	e.setPhase(PhaseTimedOut)
	logging.Get(logging.CategoryCapture).Warn("capture timed out for %s (%d days)", symbol, days)
	return nil, ErrCaptureTimeout
}

// launch starts a headless browser and returns a teardown func.
func (e *Engine) launch(ctx context.Context) (*rod.Browser, func(), error) {
	l := launcher.New().Headless(e.cfg.Headless)
	if e.cfg.BrowserBin != "" {
		l = l.Bin(e.cfg.BrowserBin)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, nil, err
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return nil, nil, err
	}

	cleanup := func() {
		if err := browser.Close(); err != nil {
			logging.CaptureDebug("browser close: %v", err)
		}
		l.Cleanup()
	}
	return browser, cleanup, nil
}

// clickRangeButton tries to trigger the chart request for the requested
// range. Bounded attempts; a missing button is not fatal because the
// default range may already match.
func (e *Engine) clickRangeButton(ctx context.Context, page *rod.Page, days int) {
	selector := fmt.Sprintf(`button[name="days"][value="%d"]`, days)
	for attempt := 1; attempt <= e.cfg.Retries(); attempt++ {
		el, err := page.Context(ctx).Timeout(2 * time.Second).Element(selector)
		if err == nil {
			if err := el.Click(proto.InputMouseButtonLeft, 1); err == nil {
				logging.CaptureDebug("clicked range button %q (attempt %d)", selector, attempt)
				return
			}
		}
		logging.CaptureDebug("range button attempt %d failed: %v", attempt, err)
		select {
		case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
		case <-ctx.Done():
			return
		}
	}
}

// matchChartURL reports whether a response URL is the chart endpoint
// for this symbol with the requested day count.
func matchChartURL(raw, symbol string, days int) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if !strings.Contains(u.Path, "/api/company/"+symbol+"/chart/") {
		return false
	}
	return u.Query().Get("days") == strconv.Itoa(days)
}

// parseChartPayload decodes a chart response body into a dataset
// bundle, handling base64 transport encoding.
func parseChartPayload(body string, base64Encoded bool) (*types.PriceSeriesBundle, error) {
	data := []byte(body)
	if base64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return nil, fmt.Errorf("base64 decode: %w", err)
		}
		data = decoded
	}

	var bundle types.PriceSeriesBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("decode chart payload: %w", err)
	}
	if len(bundle.Datasets) == 0 {
		return nil, fmt.Errorf("chart payload has no datasets")
	}
	return &bundle, nil
}
