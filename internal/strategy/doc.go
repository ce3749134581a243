// Package strategy provides the scheduling policies of an exploration:
// the DPOR prefix-replaying scheduler, the uniform and weighted random
// schedulers, and the bound functions that prune the systematic search.
//
// Schedulers are stateful values implementing conc.Scheduler; the driver
// inspects the concrete types after each execution for the flags the
// executor itself does not know about (ignored, bound-killed, recorded
// backtrack points, weight state).
package strategy
