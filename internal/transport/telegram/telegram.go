// Package telegram adapts telebot to the transport.Gateway contract and hosts
// the small operator command surface (/status, /jobs).
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"
	"golang.org/x/time/rate"

	"reportbot/internal/runtime/supervisor"
	"reportbot/internal/transport"
	"reportbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// RatePerSec bounds outbound sends across all jobs (Telegram throttles
	// chatty bots hard). 0 uses the default of 3.
	RatePerSec int
}

// StatusFunc renders the /status reply. Installed by the app after wiring.
type StatusFunc func(ctx context.Context) string

type Adapter struct {
	cfg     Config
	log     logx.Logger
	bot     *tele.Bot
	limiter *rate.Limiter

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor

	statusMu sync.RWMutex
	status   StatusFunc
	jobs     StatusFunc
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 3
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{
		cfg:     cfg,
		log:     log,
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(perSec), perSec),
	}
	a.registerHandlers()
	return a, nil
}

// SetStatusProviders installs the /status and /jobs reply builders.
func (a *Adapter) SetStatusProviders(status, jobs StatusFunc) {
	a.statusMu.Lock()
	a.status, a.jobs = status, jobs
	a.statusMu.Unlock()
}

func (a *Adapter) registerHandlers() {
	reply := func(c tele.Context, pick func() StatusFunc) error {
		fn := pick()
		if fn == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		text := fn(ctx)
		if strings.TrimSpace(text) == "" {
			text = "no data"
		}
		return c.Send(text)
	}
	a.bot.Handle("/status", func(c tele.Context) error {
		return reply(c, func() StatusFunc {
			a.statusMu.RLock()
			defer a.statusMu.RUnlock()
			return a.status
		})
	})
	a.bot.Handle("/jobs", func(c tele.Context) error {
		return reply(c, func() StatusFunc {
			a.statusMu.RLock()
			defer a.statusMu.RUnlock()
			return a.jobs
		})
	})
}

// Start begins long polling under a restart loop so transient Telegram
// outages self-heal.
func (a *Adapter) Start(ctx context.Context) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "telegram"))))
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		if a.bot != nil {
			a.bot.Stop()
		}
	})

	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		// Start blocks until Stop() is called.
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		// Restart if Start() returns while the context is still active.
		supervisor.WithStopOnCleanExit(false),
	)

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if sup != nil {
		sup.Cancel()
	}
	// telebot Stop is expected to be fast; run it async just in case.
	go a.bot.Stop()

	if sup == nil {
		return nil
	}
	if err := sup.Wait(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Warn("telegram stop error", logx.Err(err))
	}
	return nil
}

const textLimit = 4000

func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string) error {
	chat := &tele.Chat{ID: to.ChatID}
	for _, chunk := range splitText(text, textLimit) {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
		if _, err := a.bot.Send(chat, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) SendDocument(ctx context.Context, to transport.ChatTarget, path, caption string) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	doc := &tele.Document{
		File:     tele.FromDisk(path),
		Caption:  caption,
		FileName: filenameOf(path),
	}
	_, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, doc)
	return err
}

func filenameOf(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

// splitText splits long messages into chunks Telegram accepts, preferring
// newline boundaries so tables don't break mid-row.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' {
					// Avoid tiny trailing chunks.
					if i-start >= limit/3 {
						end = i + 1
					}
					break
				}
			}
		}
		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		out = append(out, chunk)
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
