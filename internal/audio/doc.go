// Package audio owns the single audio output of the process: a registry of
// transient clip handles, the oto-backed device player, a silent scripted
// output and the visualization tap fed from the device stream.
package audio
