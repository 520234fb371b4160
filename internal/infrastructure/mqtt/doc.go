// Package mqtt connects the daemon to an MQTT broker.
//
// The broker is an optional remote-control surface. The daemon publishes
// its lifecycle status (retained) and each new diagnostic, and accepts
// lifecycle commands:
//
//	<prefix>/status                 retained supervisor.Status JSON
//	<prefix>/diagnostics            one diagnostics.Diagnostic per message
//	<prefix>/command/<name>         start | stop | retry | reset
//	<prefix>/system/status          online/offline, with the offline
//	                                message registered as Last Will
//
// Connection loss never affects supervision: publishes fail fast with
// ErrNotConnected and paho reconnects in the background, restoring
// subscriptions on the way.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	bridge := mqtt.NewBridge(client, sup)
//	if err := bridge.Start(); err != nil {
//	    return err
//	}
//	sup.AddObserver(bridge)
package mqtt
