// Package session owns the authenticated session lifecycle. It delegates
// credential handling entirely to the hosted identity provider, mirrors the
// issued session into local state so the next invocation starts signed in,
// and notifies subscribers of every transition.
package session
