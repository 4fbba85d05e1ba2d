package auth

import (
	"context"
	"fmt"
	"html"
	"io"
	"time"

	"github.com/johnsto/go-passwordless"
)

// Login tokens sent over email are long since they are only ever clicked.
// The short log token is meant to be typed during development
const (
	emailTokenLength  = 32
	logTokenLength    = 8
	LoginTokenTimeout = time.Minute * 15
)

const (
	transportEmail = "Email"
	transportLog   = "Log"
)

func newPasswordless(option Options) *passwordless.Passwordless {
	pw := passwordless.New(passwordless.NewRedisStore(option.Redis))
	pw.SetTransport(transportLog, passwordless.LogTransport{
		MessageFunc: func(token, uid string) string {
			return option.EmailOption.LinkGenerator(uid, token)
		},
	}, passwordless.NewCrockfordGenerator(logTokenLength), LoginTokenTimeout)
	if option.Environment == EnvProduction {
		pw.SetTransport(transportEmail, passwordless.NewSMTPTransport(
			option.Hostname,
			option.From,
			option.SMTPAuth,
			composeFuncGetter(option.EmailOption),
		), passwordless.NewCrockfordGenerator(emailTokenLength), LoginTokenTimeout)
	}
	return pw
}

func (a *Auth) getTransport() string {
	if a.Environment == EnvProduction {
		return transportEmail
	}
	return transportLog
}

// Request will send a link to email with the login token. The same link signs up unknown emails
func (a *Auth) Request(ctx context.Context, uid, recipient string) error {
	return a.pw.RequestToken(ctx, a.getTransport(), uid, recipient)
}

// Verify checks if the login token is valid and corresonds to the user
func (a *Auth) Verify(ctx context.Context, uid, token string) (bool, error) {
	valid, err := a.pw.VerifyToken(ctx, uid, token)
	switch err {
	case passwordless.ErrNoResponseWriter, passwordless.ErrNoStore, passwordless.ErrNoTransport, passwordless.ErrNotValidForContext:
		return valid, err
	default:
		return valid, nil
	}
}

type loginMessage struct {
	Subject string
	Text    string
	HTML    string
}

func newLoginMessage(siteName, link string) loginMessage {
	minutes := int(LoginTokenTimeout / time.Minute)
	return loginMessage{
		Subject: "Sign in to " + siteName,
		Text: fmt.Sprintf("Use the following link to sign in to %s. "+
			"If you do not have an account yet, one will be created for you.\n\n"+
			"%s\n\n"+
			"The link expires in %d minutes. "+
			"If you did not request this email, you can safely ignore it.", siteName, link, minutes),
		HTML: fmt.Sprintf("<!doctype html><html><body>"+
			"<p>Use the following link to sign in to %s. "+
			"If you do not have an account yet, one will be created for you.</p>"+
			"<p><a href=\"%s\">Sign in</a></p>"+
			"<p>The link expires in %d minutes. "+
			"If you did not request this email, you can safely ignore it.</p>"+
			"</body></html>", html.EscapeString(siteName), html.EscapeString(link), minutes),
	}
}

func composeFuncGetter(options EmailOption) passwordless.ComposerFunc {
	return func(ctx context.Context, token, uid, recipient string, w io.Writer) error {
		msg := newLoginMessage(options.Name, options.LinkGenerator(uid, token))
		e := &passwordless.Email{
			Subject: msg.Subject,
			To:      recipient,
		}
		e.AddBody("text/plain", msg.Text)
		e.AddBody("text/html", msg.HTML)

		_, err := e.Write(w)
		return err
	}
}
