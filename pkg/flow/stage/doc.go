// Package stage runs a graph of stages connected by channels.
//
// Sources produce values, transforms and collectors turn them into new values,
// fan-outs copy every value to several consumers and sinks consume them. Every
// stage runs in its own goroutine as soon as it is added and keeps the order
// of the values it receives.
//
// The runner stops on the first error returned by any stage: its context is
// cancelled so that every other stage returns as well. Observers are notified
// when stages are added, when they produce values and when the run finishes.
package stage
