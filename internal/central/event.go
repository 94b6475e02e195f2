package central

// Event is a platform notification delivered on Central.Events.
type Event interface {
	event()
}

// EventStateChanged reports a new central manager state.
type EventStateChanged struct {
	State ManagerState
}

// EventPeripheralDiscovered reports an advertisement seen during a scan.
type EventPeripheralDiscovered struct {
	ID   string
	Name string
	RSSI int
}

// EventConnected reports an established connection.
type EventConnected struct {
	ID string
}

// EventConnectFailed reports a failed connection attempt.
type EventConnectFailed struct {
	ID  string
	Err error
}

// EventDisconnected reports a dropped or cancelled connection.
type EventDisconnected struct {
	ID  string
	Err error
}

// EventServicesDiscovered reports the services cached on a peripheral.
type EventServicesDiscovered struct {
	ID       string
	Services []string
	Err      error
}

// EventCharacteristicsDiscovered reports the characteristics found for a service.
type EventCharacteristicsDiscovered struct {
	ID              string
	Service         string
	Characteristics []string
	Err             error
}

// EventValueUpdated reports a read response or a notification.
type EventValueUpdated struct {
	ID             string
	Characteristic string
	Value          []byte
	Err            error
}

func (EventStateChanged) event()              {}
func (EventPeripheralDiscovered) event()      {}
func (EventConnected) event()                 {}
func (EventConnectFailed) event()             {}
func (EventDisconnected) event()              {}
func (EventServicesDiscovered) event()        {}
func (EventCharacteristicsDiscovered) event() {}
func (EventValueUpdated) event()              {}
