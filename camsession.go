package camsession

import "github.com/visiona/camsession/internal/session"

// Session is a camera session controller. Create one with New, bring it up
// with Open and tear it down with Close. All other methods are asynchronous
// commands: they enqueue and return, and their effects surface through the
// configured Listener.
type Session = session.Controller

// New returns an idle session. Nothing runs until Open.
func New() *Session {
	return session.NewController()
}
