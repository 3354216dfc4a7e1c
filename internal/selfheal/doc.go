// Package selfheal runs out-of-band repair sweeps across every registered
// component. Sweeps are exclusive with themselves: a trigger that fires while
// one is running is dropped.
package selfheal
