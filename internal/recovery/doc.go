// Package recovery restores the engine after its virtual keyboard driver
// connection is lost.
//
// The Controller runs a fixed procedure: terminate every engine instance,
// restart the driver daemon through the privileged channel, confirm the
// daemon is back and relaunch the engine. Only one run is active at a time,
// and a run is not cancellable once it has begun.
//
// The LogWatcher tails the engine log and fires once when the driver
// failure signature appears N times in a row, then starts counting afresh.
package recovery
