package cli

import (
	"context"

	"github.com/dmitrijs2005/tradepost/internal/client/api"
	"github.com/dmitrijs2005/tradepost/internal/shared"
)

// Signup prompts for email, password and an optional location and creates
// an account, signing into it.
func (a *App) Signup(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Enter email", a.out)
	if err != nil {
		return err
	}
	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer shared.WipeByteArray(password)

	city, err := getSimpleText(a.reader, "City (optional)", a.out)
	if err != nil {
		return err
	}
	region, err := getSimpleText(a.reader, "Region (optional)", a.out)
	if err != nil {
		return err
	}

	req := api.SignupRequest{Email: email, Password: string(password)}
	if city != "" {
		req.City = &city
	}
	if region != "" {
		req.Region = &region
	}
	if _, err := a.session.Signup(ctx, req); err != nil {
		return err
	}

	a.rememberEmail(ctx, email)
	a.afterSignIn(ctx)
	return nil
}

// Login prompts for credentials and signs in. An empty email reuses the one
// from the previous successful login.
func (a *App) Login(ctx context.Context) error {
	last := a.lastEmail(ctx)
	prompt := "Enter email"
	if last != "" {
		prompt += " [" + last + "]"
	}

	email, err := getSimpleText(a.reader, prompt, a.out)
	if err != nil {
		return err
	}
	if email == "" {
		email = last
	}

	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer shared.WipeByteArray(password)

	if _, err := a.session.Login(ctx, api.LoginRequest{Email: email, Password: string(password)}); err != nil {
		return err
	}

	a.rememberEmail(ctx, email)
	a.afterSignIn(ctx)
	return nil
}

// Logout stops the inbox and ends the session locally and on the server.
func (a *App) Logout(ctx context.Context) error {
	a.inbox.Stop()
	a.session.Logout(ctx)
	a.println("Logged out.")
	return nil
}

func (a *App) Whoami(ctx context.Context) error {
	u := a.session.Identity()
	if u == nil {
		a.println("Not signed in.")
		return nil
	}
	a.printf("%s (id %s, role %s)\n", u.Email, u.ID, u.Role)
	if u.City != nil || u.Region != nil {
		a.printf("Location: %s %s\n", deref(u.City), deref(u.Region))
	}
	return nil
}

func (a *App) lastEmail(ctx context.Context) string {
	if a.meta == nil {
		return ""
	}
	v, err := a.meta.Get(ctx, metaLastEmail)
	if err != nil {
		a.logger.Debug(ctx, "last email not loaded", "error", err)
		return ""
	}
	return string(v)
}

func (a *App) rememberEmail(ctx context.Context, email string) {
	if a.meta == nil {
		return
	}
	if err := a.meta.Set(ctx, metaLastEmail, []byte(email)); err != nil {
		a.logger.Warn(ctx, "last email not saved", "error", err)
	}
}
