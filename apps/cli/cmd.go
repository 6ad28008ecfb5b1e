package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	pkgerrors "github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/trezcool/masomo-dashboard/core"
	"github.com/trezcool/masomo-dashboard/core/session"
	"github.com/trezcool/masomo-dashboard/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp        = errors.New("help provided")
	errNotLoggedIn = errors.New("not logged in: run `masomo login -username USERNAME` first")
)

// API is what the CLI needs from the remote Masomo API.
type API interface {
	Login(ctx context.Context, creds user.Credentials) (session.Payload, error)
	UpdateProfile(ctx context.Context, token string, id int, uu user.UpdateUser) (user.User, error)
}

type commandLine struct {
	container  *session.Container
	dispatcher *session.Dispatcher
	api        API
	validate   *validator.Validate
	translator ut.Translator
	out        io.Writer
}

func newCommandLine(c *session.Container, api API, validate *validator.Validate, translator ut.Translator, out io.Writer) *commandLine {
	cli := &commandLine{
		container:  c,
		api:        api,
		validate:   validate,
		translator: translator,
		out:        out,
	}
	cli.dispatcher = session.NewDispatcher(c, runAction, session.OnSwallow(cli.sessionExpired))
	return cli
}

// runAction is the DispatchFunc of the CLI: every Action carries the command to run.
func runAction(ctx context.Context, action session.Action) error {
	fn, ok := action.Payload.(func(context.Context) error)
	if !ok {
		return pkgerrors.Errorf("unexpected action payload %T", action.Payload)
	}
	return fn(ctx)
}

func (cli *commandLine) sessionExpired(_ context.Context, action session.Action) {
	fmt.Fprintf(cli.out, "your session has expired, %q was not run: please log in again\n", action.Type)
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  login -username USERNAME|EMAIL - log in (the password is prompted next)")
	fmt.Fprintln(cli.out, "  logout - end the session")
	fmt.Fprintln(cli.out, "  whoami - show the logged-in user")
	fmt.Fprintln(cli.out, "  profile [-name NAME] [-email EMAIL] [-phone PHONE] [-address ADDRESS] - update your profile")
	fmt.Fprintln(cli.out, "  open ROUTE - open a dashboard view, eg. /admin/reports/grades")
}

// printError prints err, field by field for validation errors.
func (cli *commandLine) printError(err error) {
	var msgs map[string]string
	switch origErr := pkgerrors.Cause(err).(type) {
	case validator.ValidationErrors:
		msgs = core.TranslateErrors(origErr, cli.translator)
	case *core.ValidationError:
		if origErr.Fields != nil {
			msgs = make(map[string]string, len(origErr.Fields))
			for _, fErr := range origErr.Fields {
				msgs[fErr.Field] = fErr.Error
			}
		}
	}
	if len(msgs) == 0 {
		fmt.Fprintf(cli.out, "\nerror: %s\n", err)
		return
	}

	flds := make([]string, 0, len(msgs))
	for fld := range msgs {
		flds = append(flds, fld)
	}
	sort.Strings(flds)
	fmt.Fprintln(cli.out, "\nerror:")
	for _, fld := range flds {
		fmt.Fprintf(cli.out, "  %s: %s\n", fld, msgs[fld])
	}
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	loginCmd := flag.NewFlagSet("login", flag.ContinueOnError)
	loginUname := loginCmd.String("username", "", "Your username or email. The password will be prompted next.")

	profileCmd := flag.NewFlagSet("profile", flag.ContinueOnError)
	profileName := profileCmd.String("name", "", "Your full name.")
	profileEmail := profileCmd.String("email", "", "Your email address.")
	profilePhone := profileCmd.String("phone", "", "Your phone number, in international format.")
	profileAddress := profileCmd.String("address", "", "Your postal address.")

	for _, cmd := range []*flag.FlagSet{loginCmd, profileCmd} {
		cmd.SetOutput(cli.out)
	}

	switch args[1] {
	case "login":
		if err := loginCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *loginUname == "" {
			loginCmd.Usage()
			return errHelp
		}
		fmt.Fprint(cli.out, "Enter password:")
		pwd, err := readPasswordFunc(int(syscall.Stdin))
		fmt.Fprintln(cli.out)
		if err != nil {
			return err
		}
		if len(pwd) == 0 {
			loginCmd.Usage()
			return errHelp
		}
		return cli.login(ctx, *loginUname, string(pwd))

	case "logout":
		return cli.logout(ctx)

	case "whoami":
		return cli.whoami()

	case "profile":
		if err := profileCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		var uu user.UpdateUser
		profileCmd.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "name":
				uu.Name = profileName
			case "email":
				uu.Email = profileEmail
			case "phone":
				uu.Phone = profilePhone
			case "address":
				uu.Address = profileAddress
			}
		})
		if uu.IsEmpty() {
			profileCmd.Usage()
			return errHelp
		}
		return cli.updateProfile(ctx, uu)

	case "open":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.open(args[2])

	default:
		cli.printUsage()
		return errHelp
	}
}
