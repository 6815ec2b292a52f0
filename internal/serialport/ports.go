package serialport

import "go.bug.st/serial"

// ListPorts enumerates discoverable serial devices, backing the hub's
// list_ports operation (§4.9).
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
