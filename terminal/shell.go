package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"scuffedchat/api"
	"scuffedchat/app"
	"scuffedchat/models"
	"scuffedchat/presence"
)

// Intents is the part of the controller the shell drives
type Intents interface {
	Login(ctx context.Context, username, password string) error
	Register(ctx context.Context, req api.RegisterRequest) error
	Logout(ctx context.Context) error
	Connect(ctx context.Context) error
	SelectContact(username string) error
	CloseConversation() error
	SendText(text string) error
	SendFile(path string) (string, error)
	CancelUpload() (bool, error)
	UploadAvatar(ctx context.Context, path string) error
	Search(query string) error
	SendFriendRequest(username string) error
	RespondToRequest(username string, accept bool) error
	OpenRequests() ([]models.FriendRequest, error)
	Contacts() ([]presence.Contact, error)
}

// ErrQuit ends Run without error
var ErrQuit = errors.New("quit")

type command struct {
	usage string
	help  string
	run   func(ctx context.Context, sh *Shell, args []string) error
}

// Shell reads commands and chat lines from in
type Shell struct {
	intents Intents
	in      *bufio.Reader
	out     io.Writer
	fd      int
	tty     bool
}

// NewShell returns a Shell. Password prompts disable echo when in is a
// terminal.
func NewShell(intents Intents, in io.Reader, out io.Writer) *Shell {
	sh := &Shell{
		intents: intents,
		in:      bufio.NewReader(in),
		out:     out,
		fd:      -1,
	}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		sh.fd = int(f.Fd())
		sh.tty = true
	}
	return sh
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"/login":    {"/login <username>", "sign in", cmdLogin},
		"/register": {"/register <username> <nickname>", "create an account", cmdRegister},
		"/logout":   {"/logout", "sign out", noArgs(func(ctx context.Context, sh *Shell) error { return sh.intents.Logout(ctx) })},
		"/connect":  {"/connect", "reconnect the channel", noArgs(func(ctx context.Context, sh *Shell) error { return sh.intents.Connect(ctx) })},
		"/contacts": {"/contacts", "list contacts", noArgs(cmdContacts)},
		"/open":     {"/open <username>", "open a conversation", oneArg(func(_ context.Context, sh *Shell, a string) error { return sh.intents.SelectContact(a) })},
		"/close":    {"/close", "close the conversation", noArgs(func(_ context.Context, sh *Shell) error { return sh.intents.CloseConversation() })},
		"/file":     {"/file <path>", "send a file", restArg(cmdFile)},
		"/cancel":   {"/cancel", "cancel the upload", noArgs(cmdCancel)},
		"/avatar":   {"/avatar <path>", "change your avatar", restArg(func(ctx context.Context, sh *Shell, p string) error { return sh.intents.UploadAvatar(ctx, p) })},
		"/search":   {"/search <query>", "find users", restArg(func(_ context.Context, sh *Shell, q string) error { return sh.intents.Search(q) })},
		"/add":      {"/add <username>", "send a friend request", oneArg(func(_ context.Context, sh *Shell, a string) error { return sh.intents.SendFriendRequest(a) })},
		"/accept":   {"/accept <username>", "accept a friend request", oneArg(respond(true))},
		"/decline":  {"/decline <username>", "decline a friend request", oneArg(respond(false))},
		"/requests": {"/requests", "list friend requests", noArgs(cmdRequests)},
		"/help":     {"/help", "show commands", noArgs(cmdHelp)},
		"/quit":     {"/quit", "exit", noArgs(func(context.Context, *Shell) error { return ErrQuit })},
	}
}

// Run processes lines until EOF, /quit or ctx is done. Lines that are not
// commands are sent to the open conversation.
func (sh *Shell) Run(ctx context.Context) error {
	sh.println("type /help for commands")
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := sh.in.ReadString('\n')
		if err != nil && line == "" {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return errors.Wrap(err, "read input")
		}
		if err := sh.Execute(ctx, strings.TrimSpace(line)); err != nil {
			if errors.Is(err, ErrQuit) {
				return nil
			}
			if errors.Is(err, app.ErrStopped) {
				return err
			}
			sh.println("error: " + err.Error())
			log.Debug().Err(err).Msg("[terminal] command failed")
		}
	}
}

// Execute runs one input line
func (sh *Shell) Execute(ctx context.Context, line string) error {
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return sh.intents.SendText(line)
	}
	fields := strings.Fields(line)
	cmd, ok := commands[fields[0]]
	if !ok {
		return errors.Errorf("unknown command %s", fields[0])
	}
	if err := cmd.run(ctx, sh, fields[1:]); err != nil {
		if errors.Is(err, errUsage) {
			return errors.New("usage: " + cmd.usage)
		}
		return err
	}
	return nil
}

var errUsage = errors.New("usage")

func noArgs(fn func(ctx context.Context, sh *Shell) error) func(context.Context, *Shell, []string) error {
	return func(ctx context.Context, sh *Shell, args []string) error {
		if len(args) != 0 {
			return errUsage
		}
		return fn(ctx, sh)
	}
}

func oneArg(fn func(ctx context.Context, sh *Shell, arg string) error) func(context.Context, *Shell, []string) error {
	return func(ctx context.Context, sh *Shell, args []string) error {
		if len(args) != 1 {
			return errUsage
		}
		return fn(ctx, sh, args[0])
	}
}

// restArg joins the arguments so paths and queries may contain spaces
func restArg(fn func(ctx context.Context, sh *Shell, arg string) error) func(context.Context, *Shell, []string) error {
	return func(ctx context.Context, sh *Shell, args []string) error {
		if len(args) == 0 {
			return errUsage
		}
		return fn(ctx, sh, strings.Join(args, " "))
	}
}

func respond(accept bool) func(context.Context, *Shell, string) error {
	return func(_ context.Context, sh *Shell, username string) error {
		return sh.intents.RespondToRequest(username, accept)
	}
}

func cmdLogin(ctx context.Context, sh *Shell, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	password, err := sh.readPassword("password: ")
	if err != nil {
		return err
	}
	return sh.intents.Login(ctx, args[0], password)
}

func cmdRegister(ctx context.Context, sh *Shell, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	password, err := sh.readPassword("password: ")
	if err != nil {
		return err
	}
	confirm, err := sh.readPassword("confirm password: ")
	if err != nil {
		return err
	}
	err = sh.intents.Register(ctx, api.RegisterRequest{
		Username:        args[0],
		Password:        password,
		PasswordConfirm: confirm,
		Nickname:        strings.Join(args[1:], " "),
	})
	if err != nil {
		return err
	}
	sh.println("registered, /login " + args[0] + " to sign in")
	return nil
}

func cmdContacts(_ context.Context, sh *Shell) error {
	contacts, err := sh.intents.Contacts()
	if err != nil {
		return err
	}
	if len(contacts) == 0 {
		sh.println("no contacts")
		return nil
	}
	for _, c := range contacts {
		sh.println("  " + formatContact(c))
	}
	return nil
}

func cmdFile(_ context.Context, sh *Shell, path string) error {
	if _, err := sh.intents.SendFile(path); err != nil {
		return err
	}
	sh.println("uploading " + path + ", /cancel to abort")
	return nil
}

func cmdCancel(_ context.Context, sh *Shell) error {
	cancelled, err := sh.intents.CancelUpload()
	if err != nil {
		return err
	}
	if !cancelled {
		sh.println("no upload in progress")
	}
	return nil
}

func cmdRequests(_ context.Context, sh *Shell) error {
	requests, err := sh.intents.OpenRequests()
	if err != nil {
		return err
	}
	if len(requests) == 0 {
		sh.println("no pending requests")
		return nil
	}
	for _, r := range requests {
		sh.println(fmt.Sprintf("  %-16s %s", r.From.Username, r.From.DisplayName()))
	}
	return nil
}

func cmdHelp(_ context.Context, sh *Shell) error {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cmd := commands[name]
		sh.println(fmt.Sprintf("  %-34s %s", cmd.usage, cmd.help))
	}
	sh.println("  anything else is sent to the open conversation")
	return nil
}

func (sh *Shell) readPassword(prompt string) (string, error) {
	fmt.Fprint(sh.out, prompt)
	if sh.tty {
		b, err := term.ReadPassword(sh.fd)
		fmt.Fprintln(sh.out)
		if err != nil {
			return "", errors.Wrap(err, "read password")
		}
		return string(b), nil
	}
	line, err := sh.in.ReadString('\n')
	if err != nil && line == "" {
		return "", errors.Wrap(err, "read password")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (sh *Shell) println(s string) {
	fmt.Fprintln(sh.out, s)
}
