package env

import (
	"github.com/robotalks/devlink/pkg/link"
)

// Link pairs the session and scanner of a channel.
type Link struct {
	Session *link.Session
	Scanner *link.Scanner
}

// Channel returns the channel of the link.
func (l *Link) Channel() link.Channel {
	return l.Session.Channel()
}

// Stack is the set of enabled links.
type Stack struct {
	Links []*Link
}

// Find returns the link of a channel.
func (s *Stack) Find(ch link.Channel) *Link {
	for _, l := range s.Links {
		if l.Channel() == ch {
			return l
		}
	}
	return nil
}

// Start starts all scanners.
func (s *Stack) Start() {
	for _, l := range s.Links {
		l.Scanner.Start()
	}
}

// Shutdown stops all scanners and sessions.
func (s *Stack) Shutdown() {
	for _, l := range s.Links {
		l.Scanner.Shutdown()
		l.Session.Shutdown()
	}
}
