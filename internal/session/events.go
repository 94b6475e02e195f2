package session

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/blebatt/internal/central"
	"github.com/srg/blebatt/internal/device"
)

// HandleEvent applies one platform event. Run calls it for every event;
// callers driving the controller without Run may call it directly.
func (c *Controller) HandleEvent(ev central.Event) {
	switch e := ev.(type) {
	case central.EventStateChanged:
		c.onStateChanged(e)
	case central.EventPeripheralDiscovered:
		c.onDiscovered(e)
	case central.EventConnected:
		c.onConnected(e)
	case central.EventConnectFailed:
		c.onConnectFailed(e)
	case central.EventDisconnected:
		c.onDisconnected(e)
	case central.EventServicesDiscovered:
		c.onServicesDiscovered(e)
	case central.EventCharacteristicsDiscovered:
		c.onCharacteristicsDiscovered(e)
	case central.EventValueUpdated:
		c.onValueUpdated(e)
	default:
		c.logger.WithField("event", ev).Warn("Unhandled central event")
	}
}

func (c *Controller) onStateChanged(e central.EventStateChanged) {
	c.stateMu.Lock()
	c.state = e.State
	if e.State != central.StatePoweredOn {
		c.scanning = false
	}
	c.stateMu.Unlock()

	c.logger.WithField("state", e.State).Info("Bluetooth state changed")

	if e.State == central.StatePoweredOn {
		c.retrieveConnected()
	}
	c.notifyChange()
}

func (c *Controller) onDiscovered(e central.EventPeripheralDiscovered) {
	id := device.NormalizeID(e.ID)
	if id == "" {
		return
	}
	if !c.registry.Contains(id) {
		c.logger.WithFields(logrus.Fields{
			"id":   id,
			"name": e.Name,
			"rssi": e.RSSI,
		}).Info("Discovered device")
	}
	c.registry.Upsert(id, e.Name, true)
	c.withGATT(id, func(*gattState) {})
}

// known reports whether the event refers to a registered device.
func (c *Controller) known(id string, kind string) bool {
	if c.registry.Contains(id) {
		return true
	}
	c.logger.WithFields(logrus.Fields{
		"id":    id,
		"event": kind,
	}).Debug("Ignoring event for unknown device")
	return false
}

func (c *Controller) onConnected(e central.EventConnected) {
	id := device.NormalizeID(e.ID)
	if !c.known(id, "connected") {
		return
	}

	c.withGATT(id, func(g *gattState) {
		g.reset()
		g.phase = PhaseConnected
	})
	c.registry.SetState(id, device.Connected)
	c.logger.WithField("id", id).Info("Device connected")

	c.discoverBatteryService(id)
}

func (c *Controller) onConnectFailed(e central.EventConnectFailed) {
	id := device.NormalizeID(e.ID)
	if !c.known(id, "connect-failed") {
		return
	}

	c.withGATT(id, (*gattState).reset)
	c.registry.SetState(id, device.Disconnected)
	c.logger.WithFields(logrus.Fields{
		"id":    id,
		"error": e.Err,
	}).Debug("Connection attempt failed")
}

func (c *Controller) onDisconnected(e central.EventDisconnected) {
	id := device.NormalizeID(e.ID)
	if !c.known(id, "disconnected") {
		return
	}

	c.withGATT(id, (*gattState).reset)
	c.registry.SetState(id, device.Disconnected)
	c.logger.WithFields(logrus.Fields{
		"id":     id,
		"reason": e.Err,
	}).Info("Device disconnected")
}

func (c *Controller) onServicesDiscovered(e central.EventServicesDiscovered) {
	id := device.NormalizeID(e.ID)
	if !c.known(id, "services-discovered") {
		return
	}

	if e.Err != nil {
		c.withGATT(id, func(g *gattState) { g.servicePending = false })
		c.logger.WithFields(logrus.Fields{
			"id":    id,
			"error": e.Err,
		}).Debug("Service discovery failed")
		return
	}

	var found bool
	c.withGATT(id, func(g *gattState) {
		g.servicePending = false
		g.services = central.NormalizeUUIDs(e.Services)
		found = g.hasBatteryService()
		if found && g.phase < PhaseServiceDiscovered {
			g.phase = PhaseServiceDiscovered
		}
	})

	if !found {
		c.logger.WithField("id", id).Debug("Device has no battery service")
		return
	}
	c.discoverBatteryLevel(id)
}

func (c *Controller) onCharacteristicsDiscovered(e central.EventCharacteristicsDiscovered) {
	id := device.NormalizeID(e.ID)
	if !c.known(id, "characteristics-discovered") {
		return
	}

	logger := c.logger.WithFields(logrus.Fields{
		"id":      id,
		"service": e.Service,
	})
	if e.Err != nil {
		logger.WithField("error", e.Err).Debug("Characteristic discovery failed")
		return
	}
	if central.NormalizeUUID(e.Service) != central.BatteryServiceUUID ||
		!central.ContainsUUID(e.Characteristics, central.BatteryLevelUUID) {
		logger.Debug("Battery level characteristic not found")
		return
	}

	c.withGATT(id, func(g *gattState) {
		if g.phase < PhaseCharDiscovered {
			g.phase = PhaseCharDiscovered
		}
	})

	c.central.ReadCharacteristic(id, central.BatteryServiceUUID, central.BatteryLevelUUID)
	c.central.SetNotify(id, central.BatteryServiceUUID, central.BatteryLevelUUID, true)
}

func (c *Controller) onValueUpdated(e central.EventValueUpdated) {
	id := device.NormalizeID(e.ID)
	if !c.known(id, "value-updated") {
		return
	}

	logger := c.logger.WithFields(logrus.Fields{
		"id":             id,
		"characteristic": e.Characteristic,
	})
	if e.Err != nil {
		logger.WithField("error", e.Err).Debug("Characteristic read failed")
		return
	}
	if central.NormalizeUUID(e.Characteristic) != central.BatteryLevelUUID {
		return
	}
	level, ok := central.DecodeBatteryLevel(e.Value)
	if !ok {
		logger.Debug("Empty battery level value")
		return
	}

	c.withGATT(id, func(g *gattState) { g.phase = PhaseBatteryKnown })
	c.registry.SetBattery(id, level)
	logger.WithField("battery", level).Info("Battery level updated")
}
