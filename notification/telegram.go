// Package notification delivers engine events to outbound chat sinks.
// Sinks are bus subscribers: best-effort, never blocking trading.
package notification

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	tb "gopkg.in/tucnak/telebot.v2"

	"github.com/tradewarden/tradewarden/config"
	"github.com/tradewarden/tradewarden/core"
	"github.com/tradewarden/tradewarden/logger"
)

const pollingTimeout = 10 * time.Second

// Controller is the engine surface the command handlers drive. The
// Engine implements it; tests use a stub.
type Controller interface {
	Status() string
	Halt(reason string)
	Resume()
	Positions(ctx context.Context) ([]core.Position, error)
	Plans() []core.Plan
	ExitRules() []core.ExitRule
	SummaryText() string
}

// Telegram pushes events to authorized chats and serves the command
// surface. It implements core.NotifierWithStart.
type Telegram struct {
	cfg         config.TelegramConfig
	controller  Controller
	client      *tb.Bot
	defaultMenu *tb.ReplyMarkup
	log         logger.Logger
}

// NewTelegram creates and initializes the Telegram sink
func NewTelegram(cfg config.TelegramConfig, controller Controller, log logger.Logger) (*Telegram, error) {
	menu := &tb.ReplyMarkup{ResizeReplyKeyboard: true}
	poller := &tb.LongPoller{Timeout: pollingTimeout}

	client, err := tb.NewBot(tb.Settings{
		ParseMode: tb.ModeMarkdown,
		Token:     cfg.Token,
		Poller:    newAuthMiddleware(poller, cfg.Users, log),
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	setupKeyboard(menu)
	if err := setupCommands(client); err != nil {
		return nil, fmt.Errorf("set telegram commands: %w", err)
	}

	t := &Telegram{
		cfg:         cfg,
		controller:  controller,
		client:      client,
		defaultMenu: menu,
		log:         log.WithField("component", "telegram"),
	}
	registerHandlers(client, t)
	return t, nil
}

// newAuthMiddleware drops updates from unauthorized chat IDs
func newAuthMiddleware(poller *tb.LongPoller, users []int64, log logger.Logger) *tb.MiddlewarePoller {
	return tb.NewMiddlewarePoller(poller, func(u *tb.Update) bool {
		if u.Message == nil || u.Message.Sender == nil {
			log.Warn("telegram update without sender dropped")
			return false
		}
		if slices.Contains(users, u.Message.Sender.ID) {
			return true
		}
		log.Warnf("unauthorized telegram user %d", u.Message.Sender.ID)
		return false
	})
}

func setupKeyboard(menu *tb.ReplyMarkup) {
	var (
		statusBtn    = menu.Text("/status")
		positionsBtn = menu.Text("/positions")
		plansBtn     = menu.Text("/plans")
		exitsBtn     = menu.Text("/exits")
		haltBtn      = menu.Text("/halt")
		resumeBtn    = menu.Text("/resume")
		summaryBtn   = menu.Text("/summary")
	)
	menu.Reply(
		menu.Row(statusBtn, positionsBtn, summaryBtn),
		menu.Row(plansBtn, exitsBtn, haltBtn, resumeBtn),
	)
}

func setupCommands(client *tb.Bot) error {
	return client.SetCommands([]tb.Command{
		{Text: "/help", Description: "Display help instructions"},
		{Text: "/status", Description: "Engine status and degraded flags"},
		{Text: "/positions", Description: "Open positions"},
		{Text: "/plans", Description: "Pending conditional plans"},
		{Text: "/exits", Description: "Active exit rules"},
		{Text: "/halt", Description: "Halt new entries, keep managing exits"},
		{Text: "/resume", Description: "Resume new entries"},
		{Text: "/summary", Description: "Realized trade results"},
	})
}

func registerHandlers(client *tb.Bot, t *Telegram) {
	client.Handle("/help", t.HelpHandle)
	client.Handle("/status", t.StatusHandle)
	client.Handle("/positions", t.PositionsHandle)
	client.Handle("/plans", t.PlansHandle)
	client.Handle("/exits", t.ExitsHandle)
	client.Handle("/halt", t.HaltHandle)
	client.Handle("/resume", t.ResumeHandle)
	client.Handle("/summary", t.SummaryHandle)
}

// Start begins polling and greets the authorized chats
func (t *Telegram) Start() {
	go t.client.Start()
	t.broadcast("Engine online.", t.defaultMenu)
}

// OnEvent pushes one engine event. Context noise stays off the wire;
// action events and warnings go out.
func (t *Telegram) OnEvent(e core.Event) {
	if !e.Action() && e.Severity == core.SeverityInfo {
		return
	}
	t.broadcast(FormatEvent(e))
}

func (t *Telegram) broadcast(text string, options ...any) {
	for _, user := range t.cfg.Users {
		if _, err := t.client.Send(&tb.User{ID: user}, text, options...); err != nil {
			t.log.WithError(err).Error("telegram send failed")
		}
	}
}

func (t *Telegram) reply(to *tb.User, text string, options ...any) {
	if _, err := t.client.Send(to, text, options...); err != nil {
		t.log.WithError(err).Error("telegram reply failed")
	}
}

// ---------------------
// Command handlers
// ---------------------

func (t *Telegram) HelpHandle(m *tb.Message) {
	commands, err := t.client.GetCommands()
	if err != nil {
		t.log.WithError(err).Error("telegram get commands failed")
		return
	}
	lines := make([]string, 0, len(commands))
	for _, c := range commands {
		lines = append(lines, fmt.Sprintf("%s - %s", c.Text, c.Description))
	}
	t.reply(m.Sender, strings.Join(lines, "\n"))
}

func (t *Telegram) StatusHandle(m *tb.Message) {
	t.reply(m.Sender, fmt.Sprintf("Status: `%s`", t.controller.Status()))
}

func (t *Telegram) PositionsHandle(m *tb.Message) {
	positions, err := t.controller.Positions(context.Background())
	if err != nil {
		t.reply(m.Sender, "Position query failed: "+err.Error())
		return
	}
	if len(positions) == 0 {
		t.reply(m.Sender, "No open positions.")
		return
	}
	var sb strings.Builder
	sb.WriteString("*OPEN POSITIONS*\n")
	for _, p := range positions {
		fmt.Fprintf(&sb, "`#%d %s %s %.2f @ %.5f SL %.5f TP %.5f`\n",
			p.Ticket, p.Symbol, p.Side, p.Volume, p.EntryPrice, p.SL, p.TP)
	}
	t.reply(m.Sender, sb.String())
}

func (t *Telegram) PlansHandle(m *tb.Message) {
	plans := t.controller.Plans()
	if len(plans) == 0 {
		t.reply(m.Sender, "No pending plans.")
		return
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].CreatedAt.Before(plans[j].CreatedAt) })
	var sb strings.Builder
	sb.WriteString("*PENDING PLANS*\n")
	for _, p := range plans {
		conds := make([]string, len(p.Conditions))
		for i, c := range p.Conditions {
			conds[i] = c.String()
		}
		fmt.Fprintf(&sb, "`%s %s %s @ %.5f` until %s\n  %s\n",
			p.Symbol, p.Direction, p.OrderType, p.Entry,
			p.ExpiresAt.UTC().Format("01-02 15:04"), strings.Join(conds, ", "))
	}
	t.reply(m.Sender, sb.String())
}

func (t *Telegram) ExitsHandle(m *tb.Message) {
	rules := t.controller.ExitRules()
	if len(rules) == 0 {
		t.reply(m.Sender, "No active exit rules.")
		return
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Ticket < rules[j].Ticket })
	var sb strings.Builder
	sb.WriteString("*EXIT RULES*\n")
	for _, r := range rules {
		flags := ""
		if r.Degraded {
			flags += " degraded"
		}
		if r.Quarantined {
			flags += " quarantined"
		}
		fmt.Fprintf(&sb, "`#%d %s %s %s SL %.5f`%s\n",
			r.Ticket, r.Symbol, r.Side, r.State, r.CurrentSL, flags)
	}
	t.reply(m.Sender, sb.String())
}

func (t *Telegram) HaltHandle(m *tb.Message) {
	t.controller.Halt("telegram operator")
	t.reply(m.Sender, "Halted. Exits stay managed; no new entries.", t.defaultMenu)
}

func (t *Telegram) ResumeHandle(m *tb.Message) {
	t.controller.Resume()
	t.reply(m.Sender, "Resumed.", t.defaultMenu)
}

func (t *Telegram) SummaryHandle(m *tb.Message) {
	text := t.controller.SummaryText()
	if text == "" {
		t.reply(m.Sender, "No trades registered.")
		return
	}
	t.reply(m.Sender, "```\n"+text+"\n```")
}

var _ core.NotifierWithStart = (*Telegram)(nil)
