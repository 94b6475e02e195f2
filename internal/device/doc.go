// Package device holds the in-memory registry of Bluetooth Low Energy
// peripherals seen by the session controller.
//
// The registry keeps one record per peripheral identifier:
//   - records are created on first sighting and never removed
//   - re-observing an identifier updates the record in place
//   - the discovered flag and battery level only move forward
//   - reads are safe from any goroutine; writes come from one goroutine
//
// Every mutation invokes the single registered change callback synchronously
// after the mutation has been applied.
package device
