/*
Package sandbox runs user-authored script snippets in throwaway goja VMs.

# Overview

Every run gets a fresh VM on its own goroutine. The host never touches the VM
after handing it the bundle; the snippet reports back only through serialized
messages posted to a host binding that the bundle hides before user code
starts. Each run has:

  - A wall-clock deadline (default 3000ms) enforced with Interrupt
  - Console capture on the log, error, warn and info channels
  - Throwing stubs in place of network and module-loading globals
  - A guard that turns exceptions into error messages

# Lifecycle

A Handle moves Idle -> Starting -> Running and then into exactly one of
Completed, Failed, TimedOut or Terminated. The first terminal signal wins:
a "done" message racing the deadline timer produces a single Result.

Terminate discards the VM without producing a Result. Wait returns
ErrTerminated in that case.

# Usage

	exec := sandbox.NewExecutor(sandbox.WithTimeout(time.Second))

	res, err := exec.Run(ctx, "console.log('hi')", sandbox.DialectBasic)
	if err != nil {
		// only ctx expiry or termination end up here
	}
	fmt.Println(res.Output) // [[log] hi]

Snippet failures are never returned as errors; check Result.Success.
*/
package sandbox
