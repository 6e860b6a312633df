// Package router decides how an artifact runs and owns the one run in
// flight.
//
// Markup and style always preview. Scripts preview when their path sits in
// a project folder such as web/ or public/, and run isolated otherwise.
// Starting a run terminates the previous one; the superseded caller gets
// ErrSuperseded and never sees a stale Result.
package router
