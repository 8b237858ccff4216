package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"time"

	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/promptpilot/promptpilot/internal/browser"
	"github.com/promptpilot/promptpilot/internal/capture"
	"github.com/promptpilot/promptpilot/internal/config"
	"github.com/promptpilot/promptpilot/internal/detect"
	"github.com/promptpilot/promptpilot/internal/enhance"
	"github.com/promptpilot/promptpilot/internal/locator"
	"github.com/promptpilot/promptpilot/internal/page"
	"github.com/promptpilot/promptpilot/internal/queue"
	"github.com/promptpilot/promptpilot/internal/templates"
	"github.com/promptpilot/promptpilot/internal/tui"
)

var (
	flagURL      string
	flagHeadless bool
	flagConfig   string
)

var rootCmd = &cobra.Command{
	Use:   "pilot-cli",
	Short: "Queue prompts into a web chat app and submit them one by one",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&flagURL, "url", "", "start URL of the host application")
	rootCmd.Flags().BoolVar(&flagHeadless, "headless", false, "run the browser headless")
	rootCmd.Flags().StringVar(&flagConfig, "config", "", "path to config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfgPath := flagConfig
	if cfgPath == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("resolve config dir: %w", err)
		}
		cfgPath = filepath.Join(base, "promptpilot", "config.json")
	}

	cfgMgr := config.NewManager(cfgPath)
	if err := cfgMgr.Load(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := cfgMgr.Get()

	startURL := flagURL
	if startURL == "" {
		startURL = cfg.StartURL
	}
	if startURL == "" {
		return errors.New("no start URL: pass --url or set start_url in the config")
	}

	// The TUI owns the terminal; everything else logs to a rotating file.
	log.SetOutput(&lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    5, // megabytes
		MaxBackups: 2,
	})
	log.Printf("starting, url=%s headless=%v", startURL, flagHeadless || cfg.Headless)

	b, err := browser.NewManager(flagHeadless || cfg.Headless)
	if err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer b.Close()

	if err := b.Navigate(startURL); err != nil {
		return err
	}

	sessionCtx, cancel := context.WithCancel(b.Ctx)
	defer cancel()

	detectCfg := cfg.DetectConfig()
	loc := locator.New(b, cfg.LocatorConfig())
	probe := browser.NewActivityProbe(b, detectCfg.PollInterval)
	det := detect.New(loc, probe, detectCfg)

	machine := queue.NewMachine(sessionCtx, loc, completionAdapter{det}, cfg.QueueConfig())

	pattern := regexp.MustCompile(page.DefaultEligiblePattern)
	if cfg.EligiblePattern != "" {
		pattern, err = regexp.Compile(cfg.EligiblePattern)
		if err != nil {
			return fmt.Errorf("bad eligible_pattern: %w", err)
		}
	}
	watcher := page.NewWatcher(b.CurrentURL, pattern, time.Second, page.Hooks{
		OnEligible: func(key string) {
			// Fresh working context, fresh session.
			machine.Reset()
		},
		OnIneligible: func() {
			machine.Reset()
		},
	})
	go watcher.Run(sessionCtx)

	capt := capture.New(b, cfg.InputSelector, 300*time.Millisecond)
	go capt.Run(sessionCtx, machine.Enqueue)
	go mirrorBusy(sessionCtx, machine, capt, loc)

	tmpl := templates.NewStore(filepath.Join(filepath.Dir(cfgPath), "templates.json"))

	var enhancer tui.Enhancer
	if cli, err := enhance.NewOpenAIClient(cfg.EnhanceModel); err != nil {
		log.Printf("enhance disabled: %v", err)
	} else {
		enhancer = cli
	}

	p := tea.NewProgram(tui.NewModel(machine, enhancer, tmpl), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("ui error: %w", err)
	}

	log.Printf("shutting down")
	return nil
}

// completionAdapter narrows the detector to the queue's interface;
// the declared reason stays in the detector's own logs.
type completionAdapter struct {
	d *detect.Detector
}

func (a completionAdapter) Wait(ctx context.Context, lastItem bool) {
	a.d.Wait(ctx, lastItem)
}

// mirrorBusy keeps the in-page keyboard hook informed: plain Enter is
// diverted into the queue only while a submission is running and the
// host's submit control is disabled.
func mirrorBusy(ctx context.Context, m *queue.Machine, capt *capture.Capture, loc *locator.Locator) {
	ch := m.Subscribe(queue.StateChanged)
	defer m.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			busy := ev.State == queue.StateRunning
			if busy {
				opCtx, opCancel := context.WithTimeout(ctx, 2*time.Second)
				if ready, err := loc.SubmitReady(opCtx); err == nil && ready {
					busy = false
				}
				opCancel()
			}
			opCtx, opCancel := context.WithTimeout(ctx, 2*time.Second)
			if err := capt.SetBusy(opCtx, busy); err != nil {
				log.Printf("set busy flag: %v", err)
			}
			opCancel()
		}
	}
}
