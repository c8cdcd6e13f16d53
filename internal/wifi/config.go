package wifi

import "net"

// AccessPointInfo describes an access point seen during a scan.
type AccessPointInfo struct {
	SSID      string
	BSSID     string
	Channel   int
	Frequency int // MHz
	Signal    int // dBm
	Flags     string
}

// ClientConfig is the station role configuration.
type ClientConfig struct {
	SSID     string
	Password string // Blank for an open network.
	Channel  int    // Zero when unknown.
}

// APConfig is the local access point role configuration.
type APConfig struct {
	SSID     string
	Password string // Blank for an open access point.
	Channel  int
}

// Config is applied to the radio in a single step.
type Config struct {
	Client ClientConfig
	AP     APConfig
}

// Link is the result of a successful Connect.
type Link struct {
	Status       Status
	HardwareAddr net.HardwareAddr // Nil if it could not be read.
}
