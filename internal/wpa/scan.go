package wpa

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// ScanResult is one BSS seen during the last scan.
type ScanResult struct {
	BSSID     string
	Frequency int // MHz
	Signal    int // dBm
	Flags     string
	SSID      string
}

// Channel returns the IEEE 802.11 channel number of the result.
func (r ScanResult) Channel() int {
	return Channel(r.Frequency)
}

// Channel converts a 2.4 or 5 GHz center frequency in MHz to its channel
// number. It returns 0 for any other frequency, including the 6 GHz band,
// whose channel numbers overlap the 2.4 GHz ones.
func Channel(freq int) int {
	switch {
	case freq == 2484:
		return 14
	case freq >= 2412 && freq < 2484:
		return (freq - 2407) / 5
	case freq >= 5160 && freq <= 5885:
		return (freq - 5000) / 5
	default:
		return 0
	}
}

// Frequency converts a 2.4 or 5 GHz channel number to its center
// frequency in MHz. It returns 0 for unknown channels.
func Frequency(channel int) int {
	switch {
	case channel == 14:
		return 2484
	case channel >= 1 && channel <= 13:
		return 2407 + channel*5
	case channel >= 32 && channel <= 177:
		return 5000 + channel*5
	default:
		return 0
	}
}

// parseScanResults parses the SCAN_RESULTS response. The first line is
// a header: "bssid / frequency / signal level / flags / ssid".
func parseScanResults(p []byte) ([]ScanResult, error) {
	var results []ScanResult

	scanner := bufio.NewScanner(bytes.NewReader(p))
	for i := 0; scanner.Scan(); i++ {
		line := scanner.Text()
		if i == 0 || line == "" {
			continue
		}

		fields := strings.SplitN(line, "\t", 5)
		if len(fields) < 4 {
			return nil, fmt.Errorf("invalid scan result line %q", line)
		}
		if !isMAC(fields[0]) {
			return nil, fmt.Errorf("invalid scan result BSSID %q", fields[0])
		}

		var (
			r   = ScanResult{BSSID: fields[0], Flags: fields[3]}
			err error
		)
		if r.Frequency, err = strconv.Atoi(fields[1]); err != nil {
			return nil, fmt.Errorf("invalid scan result frequency %q: %w", fields[1], err)
		}
		if r.Signal, err = strconv.Atoi(fields[2]); err != nil {
			return nil, fmt.Errorf("invalid scan result signal %q: %w", fields[2], err)
		}
		if len(fields) == 5 {
			if r.SSID, err = decodeSSID([]byte(fields[4])); err != nil {
				return nil, err
			}
		}
		results = append(results, r)
	}

	return results, scanner.Err()
}
