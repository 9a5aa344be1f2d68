// Package task runs long-lived operations in the background and
// exposes their lifecycle through pollable handles.
//
// A submitted operation moves through pending, processing, and one of
// the terminal states (complete, failed, cancelled). Operations report
// progress through their context, and pollers get a completion
// estimate derived from the progress rate. Terminal results stay
// pollable for a retention window, then purge.
package task
