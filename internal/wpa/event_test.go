package wpa

import "testing"

func TestParseEvent(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		expected Event
	}{
		{
			name:     "scan results",
			input:    "<3>CTRL-EVENT-SCAN-RESULTS ",
			expected: EventScanResults("<3>CTRL-EVENT-SCAN-RESULTS "),
		},
		{
			name:     "scan failed",
			input:    "<3>CTRL-EVENT-SCAN-FAILED ret=-16",
			expected: EventScanFailed("<3>CTRL-EVENT-SCAN-FAILED ret=-16"),
		},
		{
			name:     "connected unrecognized",
			input:    "<3>CTRL-EVENT-CONNECTED - Connection to 02:00:01:02:03:04 completed [id=0 id_str=]",
			expected: EventUnrecognized("<3>CTRL-EVENT-CONNECTED - Connection to 02:00:01:02:03:04 completed [id=0 id_str=]"),
		},
		{
			name:     "disconnected no level unrecognized",
			input:    "CTRL-EVENT-DISCONNECTED bssid=02:00:01:02:03:04 reason=3",
			expected: EventUnrecognized("CTRL-EVENT-DISCONNECTED bssid=02:00:01:02:03:04 reason=3"),
		},
		{
			name:     "terminating",
			input:    "<3>CTRL-EVENT-TERMINATING",
			expected: EventTerminating("<3>CTRL-EVENT-TERMINATING"),
		},
		{
			name:     "unrecognized",
			input:    "<3>TEST",
			expected: EventUnrecognized("<3>TEST"),
		},
		{
			name:     "strange",
			input:    "?",
			expected: EventUnrecognized("?"),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseEvent(tc.input)
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.expected {
				t.Fatalf("got:%#v\nexpected:%#v", got, tc.expected)
			}
		})
	}
}

func TestParseEvent_Empty(t *testing.T) {
	if _, err := parseEvent(""); err == nil {
		t.Fatal("parseEvent(\"\") = nil error; want error")
	}
}
