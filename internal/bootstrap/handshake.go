package bootstrap

import (
	"fmt"
	"strings"
)

// parseHandshake scans the mosh-server reply for its CRLF-terminated
// MOSH CONNECT/MOSH IP lines, per spec.md §4.J step 5.
func parseHandshake(output string) (*Handshake, error) {
	h := &Handshake{}
	lines := strings.Split(output, "\r\n")
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch {
		case len(fields) >= 4 && fields[0] == "MOSH" && fields[1] == "CONNECT":
			h.MoshPort = truncate(fields[2], 5)
			h.MoshKey = truncate(fields[3], 22)
		case len(fields) >= 3 && fields[0] == "MOSH" && fields[1] == "IP":
			h.MoshAddr = truncate(fields[2], 63)
		}
	}
	if h.MoshPort == "" || h.MoshKey == "" {
		return nil, fmt.Errorf("bootstrap: mosh-server reply missing MOSH CONNECT line")
	}
	return h, nil
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

// normalizeToCRLF rewrites bare LF line endings to CRLF before the output
// is shown to the user, per spec.md §4.J.
func normalizeToCRLF(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}
