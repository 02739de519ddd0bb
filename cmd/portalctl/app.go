package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"medportal/internal/client"
	"medportal/internal/guard"
)

// readPassword is swapped out in tests to avoid touching the terminal.
var readPassword = func() ([]byte, error) {
	return term.ReadPassword(int(os.Stdin.Fd()))
}

const usage = `usage: portalctl [-server URL] [-token-file PATH] <command>

commands:
  register -email E -name N [-role patient|doctor|staff] [-phone P]
  login    -email E
  whoami
  passwd
  logout`

type app struct {
	client *client.Client
	out    io.Writer
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("portalctl", flag.ContinueOnError)
	fs.SetOutput(out)
	server := fs.String("server", envOr("MEDPORTAL_SERVER", "http://localhost:8080"), "portal base URL")
	tokenFile := fs.String("token-file", "", "where the session token is kept")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(out, usage)
		return errors.New("missing command")
	}

	path := *tokenFile
	if path == "" {
		var err error
		if path, err = client.DefaultTokenPath(); err != nil {
			return err
		}
	}

	a := &app{
		client: client.New(*server, client.NewFileTokenStore(path), nil),
		out:    out,
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "register":
		return a.register(ctx, rest)
	case "login":
		return a.login(ctx, rest)
	case "whoami":
		return a.whoami(ctx)
	case "passwd":
		return a.passwd(ctx)
	case "logout":
		return a.logout(ctx)
	}
	fmt.Fprintln(out, usage)
	return fmt.Errorf("unknown command %q", cmd)
}

func (a *app) register(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	fs.SetOutput(a.out)
	email := fs.String("email", "", "login email")
	name := fs.String("name", "", "display name")
	role := fs.String("role", "patient", "account role")
	phone := fs.String("phone", "", "phone number")
	if err := fs.Parse(args); err != nil {
		return err
	}

	password, err := a.password("Password: ")
	if err != nil {
		return err
	}

	account, err := a.client.Register(ctx, client.RegisterRequest{
		Email:    *email,
		Password: password,
		Role:     *role,
		Name:     *name,
		Phone:    *phone,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "registered %s as %s\n", account.Email, account.Role)
	return nil
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(a.out)
	email := fs.String("email", "", "login email")
	if err := fs.Parse(args); err != nil {
		return err
	}

	password, err := a.password("Password: ")
	if err != nil {
		return err
	}

	res, err := a.client.Login(ctx, *email, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "logged in as %s (%s) until %s\n", res.User.Name, res.User.Role, res.ExpiresAt.Local().Format("2006-01-02 15:04"))
	return nil
}

func (a *app) whoami(ctx context.Context) error {
	state, err := a.client.Session(ctx)
	if err != nil {
		return err
	}
	if state.Status != guard.Authenticated {
		fmt.Fprintln(a.out, "not logged in")
		return nil
	}

	account, err := a.client.Me(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s <%s> %s\n", account.Name, account.Email, account.Role)
	return nil
}

func (a *app) passwd(ctx context.Context) error {
	current, err := a.password("Current password: ")
	if err != nil {
		return err
	}
	next, err := a.password("New password: ")
	if err != nil {
		return err
	}
	if err := a.client.ChangePassword(ctx, current, next); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "password changed")
	return nil
}

func (a *app) logout(ctx context.Context) error {
	if err := a.client.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "logged out")
	return nil
}

func (a *app) password(prompt string) (string, error) {
	fmt.Fprint(a.out, prompt)
	pw, err := readPassword()
	fmt.Fprintln(a.out)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(pw), "\r\n"), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
