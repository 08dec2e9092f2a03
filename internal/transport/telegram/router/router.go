// Package router turns chat messages into command invocations and runs them
// on a bounded worker pool.
package router

import (
	"context"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"econbot/internal/eventbus"
	"econbot/internal/runtime/supervisor"
	kit "econbot/internal/transport"
	"econbot/pkg/logx"

	"github.com/google/uuid"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // overrides Options.Timeout
	Handle      HandlerFunc
}

type Request struct {
	Message *kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string
	Logger  logx.Logger
	IsOwner bool

	sender kit.Adapter
}

// Reply answers in the chat (and topic) the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	opt := &kit.SendOptions{DisablePreview: true}
	if r.Message != nil && !r.Message.IsChannel {
		opt.ReplyTo = r.Message.ID
	}
	_, err := r.sender.SendText(ctx, r.Chat, text, opt)
	return err
}

// Processed is the payload of command.processed bus events.
type Processed struct {
	Command string        `json:"command"`
	ChatID  int64         `json:"chat_id"`
	FromID  int64         `json:"from_id"`
	Took    time.Duration `json:"took"`
	Error   string        `json:"error,omitempty"`
}

type Options struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
	Owners    []int64
	Bus       eventbus.Bus
}

type Router struct {
	log     logx.Logger
	adapter kit.Adapter
	bus     eventbus.Bus
	workers int
	timeout time.Duration

	mu     sync.RWMutex
	cmds   map[string]*Command // name and aliases
	list   []Command
	owners []int64

	jobs chan func()
}

func New(adapter kit.Adapter, log logx.Logger, opts Options) *Router {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.Nop{}
	}
	r := &Router{
		log:     log.Component("router"),
		adapter: adapter,
		bus:     opts.Bus,
		workers: opts.Workers,
		timeout: opts.Timeout,
		cmds:    map[string]*Command{},
		owners:  append([]int64(nil), opts.Owners...),
		jobs:    make(chan func(), opts.QueueSize),
	}
	r.Register()
	return r
}

// Register replaces the command set. help is always added.
func (r *Router) Register(cmds ...Command) {
	help := Command{
		Name:        "help",
		Description: "list commands",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, r.helpText(req.IsOwner))
		},
	}
	all := append(append([]Command(nil), cmds...), help)
	index := map[string]*Command{}
	list := make([]Command, 0, len(all))
	for i := range all {
		c := all[i]
		c.Name = strings.ToLower(strings.TrimSpace(c.Name))
		if c.Name == "" || c.Handle == nil {
			continue
		}
		if _, dup := index[c.Name]; dup {
			continue
		}
		cp := c
		index[c.Name] = &cp
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if _, taken := index[a]; a != "" && !taken {
				index[a] = &cp
			}
		}
		list = append(list, cp)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	r.mu.Lock()
	r.cmds = index
	r.list = list
	r.mu.Unlock()
}

// Commands returns the registered commands sorted by name.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Command(nil), r.list...)
}

// SetOwners swaps the owner list on config reload.
func (r *Router) SetOwners(owners []int64) {
	r.mu.Lock()
	r.owners = append([]int64(nil), owners...)
	r.mu.Unlock()
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.owners {
		if o == id {
			return true
		}
	}
	return false
}

// PublishMenu pushes the command list to adapters that support a menu.
func (r *Router) PublishMenu(ctx context.Context) error {
	up, ok := r.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	return up.UpdateMenuCommands(ctx, buildMenu(r.Commands()))
}

// Run starts the worker pool and routes updates until ctx ends or updates
// closes.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.New(ctx,
		supervisor.WithLogger(r.log),
		supervisor.WithCancelOnError(false),
	)
	for i := 0; i < r.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					r.runJob(idx, job)
				}
			}
		}, supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("command dispatcher started", logx.Int("workers", r.workers), logx.Int("queue_cap", cap(r.jobs)))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.Route(ctx, up)
		}
	}
}

func (r *Router) runJob(worker int, job func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", p), logx.Stack(debug.Stack()))
		}
	}()
	job()
}

func (r *Router) botName() string {
	if n, ok := r.adapter.(kit.BotNamer); ok {
		return n.Username()
	}
	return ""
}

// Route parses one update and queues the matching command. It reports
// whether a command was queued.
func (r *Router) Route(ctx context.Context, up kit.Update) bool {
	msg := up.Message
	if msg == nil {
		return false
	}
	p, ok := Parse(msg.Text, r.botName())
	if !ok {
		return false
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	r.mu.RLock()
	cmd, found := r.cmds[p.Name]
	r.mu.RUnlock()
	if !found {
		// Only answer unknown slash commands clearly meant for us.
		if !p.Bang && (p.Addressed || (!msg.IsGroup && !msg.IsChannel)) {
			_, _ = r.adapter.SendText(ctx, chat, "Unknown command. Try /help", nil)
		}
		return false
	}

	owner := r.isOwner(msg.FromID)
	if cmd.Access == AccessOwnerOnly && !owner {
		_, _ = r.adapter.SendText(ctx, chat, "unauthorized", nil)
		return false
	}

	rid := uuid.NewString()[:8]
	req := &Request{
		Message: msg,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    p.Args,
		ReqID:   rid,
		IsOwner: owner,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
		sender: r.adapter,
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	final := Chain(cmd.Handle,
		MWPublish(r.bus),
		MWRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
	)
	job := func() { _ = final(ctx, req) }
	select {
	case r.jobs <- job:
		return true
	default:
		_, _ = r.adapter.SendText(ctx, chat, "busy, try again", nil)
		return false
	}
}

func (r *Router) helpText(owner bool) string {
	var b strings.Builder
	b.WriteString("Commands:")
	for _, c := range r.Commands() {
		if c.Access == AccessOwnerOnly && !owner {
			continue
		}
		b.WriteString("\n/")
		b.WriteString(c.Name)
		if c.Usage != "" {
			b.WriteString(" ")
			b.WriteString(c.Usage)
		}
		if c.Description != "" {
			b.WriteString(" - ")
			b.WriteString(c.Description)
		}
		if len(c.Aliases) > 0 {
			b.WriteString(" (also ")
			b.WriteString(strings.Join(c.Aliases, ", "))
			b.WriteString(")")
		}
	}
	b.WriteString("\nCommands also work with a ! prefix, e.g. !calendar")
	return b.String()
}
