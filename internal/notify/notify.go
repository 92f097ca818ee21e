// Package notify delivers transient user-facing notices, the terminal
// equivalent of the toast popups a browser client would show.
package notify

import "github.com/pterm/pterm"

// Notifier receives short one-off notices meant for the user, not the log.
type Notifier interface {
	Info(msg string)
	Success(msg string)
	Error(msg string)
}

// Term prints notices with pterm's prefixed printers.
type Term struct{}

func (Term) Info(msg string)    { pterm.Info.Println(msg) }
func (Term) Success(msg string) { pterm.Success.Println(msg) }
func (Term) Error(msg string)   { pterm.Error.Println(msg) }

// Discard drops all notices. Useful as a default and in tests.
type Discard struct{}

func (Discard) Info(string)    {}
func (Discard) Success(string) {}
func (Discard) Error(string)   {}
