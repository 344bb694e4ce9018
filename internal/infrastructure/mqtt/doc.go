// Package mqtt publishes vdba connection events over MQTT.
//
// It wraps github.com/eclipse/paho.mqtt.golang with:
//   - Connection setup from the events section of vdba.yaml
//   - A retained online/offline status message and Last Will
//   - Automatic reconnection after the first successful connect
//   - EventPublisher, a vdba.Observer that never blocks the connection
//
// # Topics
//
//	<prefix>/status                                  retained online/offline
//	<prefix>/events/<driver>/<connection>/<kind>     one message per event
//
// Kinds are opened, open_failed, closed, committed and rolled_back.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.Events)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	events := mqtt.NewEventPublisher(client, client.Topics(), client.QoS(), logger)
//	defer events.Close()
//	registry.SetObserver(events)
package mqtt
