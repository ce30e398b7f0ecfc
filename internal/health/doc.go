// Package health provides composable probes behind the admin listener's
// liveness and readiness endpoints.
//
// [All] combines probes; [CheckFunc] adapts a plain function. [ShutdownGate]
// fails readiness as soon as shutdown starts.
package health
