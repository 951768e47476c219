package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/modelgate/modelgate/internal/domain/entity"
)

// ─── ANSI Helpers ───

const (
	reset    = "\033[0m"
	cyanBold = "\033[96m\033[1m"
	yellow   = "\033[93m"
	redBold  = "\033[91m\033[1m"
	dimText  = "\033[90m"
	clearLn  = "\033[2K\r"
)

// Braille spinner frames
var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const defaultMaxTokens = 4096

// ChatConfig holds console runtime config
type ChatConfig struct {
	Gateway    string
	Session    string
	Model      string
	System     string
	InitPrompt string
}

// RunChat starts the interactive console against a running gateway.
func RunChat(cfg ChatConfig) error {
	client := NewClient(cfg.Gateway)

	// Probe early so a dead endpoint fails before the prompt appears.
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	health, err := client.Health(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("gateway %s unreachable: %w", cfg.Gateway, err)
	}

	session := cfg.Session
	if session == "" {
		session = "cli-" + uuid.NewString()[:8]
	}

	available := 0
	for _, p := range health.Providers {
		if p.Available {
			available++
		}
	}
	providers := ""
	if n := len(health.Providers); n > 0 {
		providers = fmt.Sprintf("%d/%d available", available, n)
	}

	w := termWidth()
	fmt.Println(RenderBanner(BannerInfo{
		Gateway:   cfg.Gateway,
		Model:     cfg.Model,
		Session:   session,
		Providers: providers,
	}, w))

	// Readline for proper line editing (backspace, arrows, history)
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\001\033[1;36m\002❯\001\033[0m\002 ",
		HistoryFile:     "",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline init: %w", err)
	}
	defer rl.Close()

	st := &chatState{client: client, session: session, model: cfg.Model}
	renderer := NewRenderer(w)
	var history []entity.Message

	// Handle SIGTERM for clean exit
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Printf("\n%sbye%s\n", dimText, reset)
		rl.Close()
		os.Exit(0)
	}()

	// If initial prompt provided, run it first
	if cfg.InitPrompt != "" {
		history = runTurn(renderer, st, cfg.System, cfg.InitPrompt, history)
	}

	for {
		input, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				fmt.Printf("%sbye%s\n", dimText, reset)
				return nil
			}
			if err == io.EOF {
				fmt.Printf("\n%sbye%s\n", dimText, reset)
				return nil
			}
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		// Slash command
		if cmd := ParseSlashCommand(input); cmd != nil {
			result := ExecuteCommand(cmd, st)
			if result.IsQuit {
				fmt.Printf("%sbye%s\n", dimText, reset)
				return nil
			}
			if result.IsReset {
				history = nil
			}
			if result.Output != "" {
				fmt.Println(result.Output)
			}
			continue
		}

		history = runTurn(renderer, st, cfg.System, input, history)
	}
}

// ─── Turn Execution ───

// runTurn sends one user message with the running transcript and renders
// the buffered reply. The gateway owns routing, tools and the loop; the
// console just carries history so /new genuinely restarts.
func runTurn(renderer *Renderer, st *chatState, system, userMessage string, history []entity.Message) []entity.Message {
	msgs := append(entity.CloneMessages(history), entity.NewTextMessage(entity.RoleUser, userMessage))

	req := &entity.MessagesRequest{
		Model:     st.model,
		Messages:  msgs,
		System:    entity.SystemPrompt(system),
		MaxTokens: defaultMaxTokens,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ctrl+C aborts the in-flight request, not the console.
	intCh := make(chan os.Signal, 1)
	signal.Notify(intCh, syscall.SIGINT)
	defer signal.Stop(intCh)
	go func() {
		select {
		case <-intCh:
			fmt.Printf("\n%s⏹ interrupted%s\n", yellow, reset)
			cancel()
		case <-ctx.Done():
		}
	}()

	spinner := newSpinner()
	spinner.Update("thinking...")
	reply, err := st.client.Messages(ctx, req, st.session)
	spinner.Stop()

	if err != nil {
		if ctx.Err() == nil {
			fmt.Printf("%s✗ %v%s\n", redBold, err, reset)
		}
		return history
	}

	fmt.Println(renderer.RenderReply(reply))
	if line := RenderStatusLine(reply); line != "" {
		fmt.Println(line)
	}
	fmt.Println()

	if reply.Failed() {
		return history
	}

	// Fold only the answer text back; thinking and tool traces stay
	// server-side.
	return append(msgs, entity.NewTextMessage(entity.RoleAssistant, reply.Body.Text()))
}

// ─── Braille Spinner ───

type asyncSpinner struct {
	mu      sync.Mutex
	running bool
	msg     string
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func newSpinner() *asyncSpinner {
	return &asyncSpinner{}
}

func (s *asyncSpinner) Update(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.msg = msg
	if !s.running {
		s.running = true
		s.stopCh = make(chan struct{})
		s.doneCh = make(chan struct{})
		go s.run()
	}
}

func (s *asyncSpinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	doneCh := s.doneCh
	s.mu.Unlock()

	<-doneCh
	fmt.Print(clearLn) // Clear spinner line
}

func (s *asyncSpinner) run() {
	defer close(s.doneCh)

	frame := 0
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			msg := s.msg
			s.mu.Unlock()

			f := spinnerFrames[frame%len(spinnerFrames)]
			fmt.Printf("%s%s%s %s%s%s", clearLn, cyanBold, f, dimText, msg, reset)
			frame++
		}
	}
}

// ─── Helpers ───

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}
