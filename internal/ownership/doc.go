// Package ownership decides which engine processes keymapd is responsible
// for, and what to do about the ones it is not.
//
// Classification is first-match-wins:
//
//  1. the registry already knows the pid: its stored ownership is returned;
//  2. the command line matches a known signature: owned ("pattern_match");
//  3. a launch was attempted within the grace window: owned ("grace_period");
//  4. otherwise: unknown, which planning treats as not ours.
//
// Steps 2 and 3 register their answer so later scans agree with it. The
// registry is authoritative until the pid disappears from the process
// table, at which point Prune forgets it.
//
// The Resolver turns a classified inventory into a ConflictResolution that
// tells the supervisor whether the situation can be handled automatically.
package ownership
