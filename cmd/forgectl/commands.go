package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/adamwoolhether/forge"
	"github.com/adamwoolhether/forge/events"
)

// command runs one subcommand. A non-nil result is printed as JSON.
type command func(ctx context.Context, svc *forge.Service, args []string, stdout io.Writer) (any, error)

var commands = map[string]command{
	"login":           login,
	"signup":          signup,
	"social-login":    socialLogin,
	"logout":          logout,
	"change-password": changePassword,
	"forgot-password": forgotPassword,
	"reset-password":  resetPassword,
	"refresh":         refresh,
	"whoami":          whoami,
	"subscribe":       subscribe(forge.EventsSubscribe),
	"changes":         subscribe(forge.EventsChanges),
}

func parse(name string, args []string, define func(fs *flag.FlagSet)) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	define(fs)
	return fs.Parse(args)
}

func login(ctx context.Context, svc *forge.Service, args []string, _ io.Writer) (any, error) {
	var req forge.LoginRequest
	err := parse("login", args, func(fs *flag.FlagSet) {
		fs.StringVar(&req.Email, "email", "", "account email")
		fs.StringVar(&req.Password, "password", "", "account password")
	})
	if err != nil {
		return nil, err
	}

	resp, err := svc.Login(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func signup(ctx context.Context, svc *forge.Service, args []string, _ io.Writer) (any, error) {
	var req forge.SignupRequest
	err := parse("signup", args, func(fs *flag.FlagSet) {
		fs.StringVar(&req.Email, "email", "", "account email")
		fs.StringVar(&req.Password, "password", "", "account password")
		fs.StringVar(&req.FirstName, "first-name", "", "first name")
		fs.StringVar(&req.LastName, "last-name", "", "last name")
		fs.StringVar(&req.Type, "type", "patient", "account type")
	})
	if err != nil {
		return nil, err
	}

	resp, err := svc.Signup(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func socialLogin(ctx context.Context, svc *forge.Service, args []string, _ io.Writer) (any, error) {
	var req forge.SocialLoginRequest
	err := parse("social-login", args, func(fs *flag.FlagSet) {
		fs.StringVar(&req.Type, "type", "patient", "account type")
		fs.StringVar(&req.SocialType, "provider", "apple", "identity provider: apple or gmail")
		fs.StringVar(&req.AuthType, "auth", "login", "login or signup")
		fs.StringVar(&req.IdentityToken, "token", "", "identity token issued by the provider")
	})
	if err != nil {
		return nil, err
	}

	resp, err := svc.SocialLogin(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func logout(ctx context.Context, svc *forge.Service, _ []string, _ io.Writer) (any, error) {
	return svc.SignOut(ctx)
}

func changePassword(ctx context.Context, svc *forge.Service, args []string, _ io.Writer) (any, error) {
	var req forge.ChangePasswordRequest
	err := parse("change-password", args, func(fs *flag.FlagSet) {
		fs.StringVar(&req.Email, "email", "", "account email")
		fs.StringVar(&req.Password, "password", "", "current password")
		fs.StringVar(&req.NewPassword, "new-password", "", "new password")
	})
	if err != nil {
		return nil, err
	}

	return svc.ChangePassword(ctx, req)
}

func forgotPassword(ctx context.Context, svc *forge.Service, args []string, _ io.Writer) (any, error) {
	var req forge.ForgotPasswordRequest
	err := parse("forgot-password", args, func(fs *flag.FlagSet) {
		fs.StringVar(&req.Email, "email", "", "account email")
	})
	if err != nil {
		return nil, err
	}

	return svc.ForgotPassword(ctx, req)
}

func resetPassword(ctx context.Context, svc *forge.Service, args []string, _ io.Writer) (any, error) {
	var req forge.ResetPasswordRequest
	err := parse("reset-password", args, func(fs *flag.FlagSet) {
		fs.StringVar(&req.Email, "email", "", "account email")
		fs.StringVar(&req.Code, "code", "", "code from forgot-password")
		fs.StringVar(&req.NewPassword, "new-password", "", "new password")
	})
	if err != nil {
		return nil, err
	}

	return svc.ResetPassword(ctx, req)
}

func refresh(ctx context.Context, svc *forge.Service, _ []string, _ io.Writer) (any, error) {
	rec, err := svc.RefreshToken(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"expiresAt": rec.ExpiresAt}, nil
}

func whoami(ctx context.Context, svc *forge.Service, _ []string, _ io.Writer) (any, error) {
	profile, err := svc.Profile(ctx)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, errors.New("not signed in")
	}
	return profile, nil
}

// subscribe prints events until interrupted or the stream ends for good.
func subscribe(ep forge.Endpoint) command {
	return func(ctx context.Context, svc *forge.Service, _ []string, stdout io.Writer) (any, error) {
		ended := make(chan error, 1)

		h := events.Handler{
			OnOpen: func() {
				fmt.Fprintln(stdout, "connected")
			},
			OnMessage: func(ev events.Event) {
				fmt.Fprintf(stdout, "%s\t%s\n", ev.Name, ev.Data)
			},
			OnComplete: func(c events.Completion) {
				if c.WillReconnect {
					return
				}
				select {
				case ended <- c.Err:
				default:
				}
			},
		}

		if err := svc.Subscribe(ctx, ep, h); err != nil {
			return nil, err
		}

		select {
		case err := <-ended:
			if errors.Is(err, events.ErrClosed) {
				return nil, nil
			}
			return nil, err
		case <-ctx.Done():
			return nil, nil
		}
	}
}
