package sentinel

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.olrik.dev/sentinel/internal/channel"
)

// Commands the sentinel answers itself. Anything else is delegated to the
// companion through the hand-off queue.
const (
	cmdPing   = "/ping"
	cmdStatus = "/status"
	cmdHelp   = "/help"
	cmdStart  = "/start"
	cmdStop   = "/stop"
)

// commandWord extracts the command token from a message: the first word,
// lowercased, with any @botname suffix stripped.
func commandWord(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	word := fields[0]
	if i := strings.Index(word, "@"); i > 0 {
		word = word[:i]
	}
	return strings.ToLower(word)
}

func (s *Sentinel) dispatch(u channel.Update) {
	switch commandWord(u.Text) {
	case cmdPing:
		s.replyPing()
	case cmdStatus:
		s.replyStatus()
	case cmdHelp:
		s.replyHelp()
	case cmdStart:
		s.handleManualStart()
	case cmdStop:
		s.handleManualStop()
	default:
		s.delegate(u)
	}
}

// delegate queues a command for the companion, updates the hand-off file,
// and kicks off a companion start.
func (s *Sentinel) delegate(u channel.Update) {
	s.queue.Enqueue(chatIDString(u.ChatID), u.Text)
	if err := s.queue.DrainToFile(s.cfg.QueuePath); err != nil {
		slog.Warn("Failed to update hand-off file", "error", err)
	}
	slog.Info("Queued command for companion", "queued", s.queue.Len())
	s.triggerCompanionStart("queued command")
}

func (s *Sentinel) companionAlive() bool {
	return s.companionPid != 0 && s.registry.IsAlive(s.companionPid)
}

func (s *Sentinel) replyPing() {
	if s.companionAlive() {
		s.reply(fmt.Sprintf("🟢 %s sentinel alive. Companion is running (pid %d).", s.cfg.ProjectName, s.companionPid))
		return
	}
	s.reply(fmt.Sprintf("🟡 %s sentinel alive. Companion is not running.", s.cfg.ProjectName))
}

func (s *Sentinel) replyStatus() {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s sentinel*\n", s.cfg.ProjectName)
	fmt.Fprintf(&b, "Mode: %s\n", s.mode)
	fmt.Fprintf(&b, "Uptime: %s\n", time.Since(s.startedAt).Round(time.Second))
	if s.companionAlive() {
		fmt.Fprintf(&b, "Companion: running (pid %d)\n", s.companionPid)
	} else {
		b.WriteString("Companion: not running\n")
	}
	fmt.Fprintf(&b, "Queued commands: %d\n", s.queue.Len())
	fmt.Fprintf(&b, "Commands processed: %d", s.commandsProcessed)
	s.notifyMarkdown(b.String())
}

func (s *Sentinel) replyHelp() {
	s.notifyMarkdown(strings.Join([]string{
		"*Sentinel commands*",
		"/ping - liveness check",
		"/status - mode, uptime, companion state",
		"/start - start the companion",
		"/stop - stop the companion",
		"/help - this message",
		"",
		"Any other message is queued and handed to the companion.",
	}, "\n"))
}

func (s *Sentinel) handleManualStart() {
	if s.companionAlive() {
		s.reply(fmt.Sprintf("Companion is already running (pid %d).", s.companionPid))
		return
	}
	s.reply("Starting companion...")
	s.triggerCompanionStart("manual /start command")
}

// handleManualStop signals the companion and hands the bounded wait for its
// exit to a goroutine, so the run loop keeps servicing polls and health
// cycles. The transition completes when the waiter reports back.
func (s *Sentinel) handleManualStop() {
	if s.stopping {
		s.reply("Companion stop already in progress.")
		return
	}
	if !s.companionAlive() {
		s.reply("Companion is not running.")
		return
	}

	pid := s.companionPid
	if err := s.companions.Stop(pid); err != nil {
		s.reply(fmt.Sprintf("Failed to stop companion: %v", err))
		return
	}
	s.stopping = true
	go s.awaitCompanionExit(pid)
}

// awaitCompanionExit waits, bounded, for a signalled companion to die, then
// tells the run loop. Waiting out the exit keeps the next health cycle from
// seeing a half-dead process and flapping back to companion mode.
func (s *Sentinel) awaitCompanionExit(pid int) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && s.registry.IsAlive(pid) {
		time.Sleep(s.stopPollInterval)
	}
	s.stopc <- pid
}

// finishManualStop runs on the loop once the signalled companion is gone.
func (s *Sentinel) finishManualStop(pid int) {
	s.stopping = false
	s.journal.LogCompanionEvent("stopped", fmt.Sprintf("manual stop, pid %d", pid))
	s.mode = ModeStandalone
	s.companionPid = 0
	s.reply("🛑 Companion stopped. Sentinel resumed command handling.")
	s.startPolling()
	s.writeHeartbeat()
}
