// Package telnet provides the default out-of-band filter for gsb
// connections: it strips Telnet IAC (Interpret As Command) sequences from
// inbound bytes so handlers only ever see printable text. It also carries
// ANSI styling helpers for servers that colorize their output.
package telnet

// Telnet IAC constants per RFC 854.
const (
	IAC  byte = 255 // Interpret As Command
	DONT byte = 254
	DO   byte = 253
	WONT byte = 252
	WILL byte = 251
	SB   byte = 250 // Sub-negotiation Begin
	GA   byte = 249 // Go Ahead
	NOP  byte = 241
	SE   byte = 240 // Sub-negotiation End

	// Telnet options
	OptEcho            byte = 1
	OptSuppressGoAhead byte = 3
	OptLinemode        byte = 34
)

// Negotiation is the option sequence a server should send on accept: we
// handle go-ahead suppression ourselves.
var Negotiation = []byte{IAC, WILL, OptSuppressGoAhead}

// StripIAC removes Telnet IAC sequences from a line of raw input bytes.
// WILL/WONT/DO/DONT consume one option byte, sub-negotiations are skipped
// through IAC SE, and an escaped IAC (IAC IAC) yields a literal 0xFF.
// It is a pure function and satisfies the gsb.LineFilter contract.
//
// Postcondition: Returns input with all IAC command sequences removed.
func StripIAC(input []byte) []byte {
	out := make([]byte, 0, len(input))
	i := 0
	for i < len(input) {
		if input[i] != IAC || i+1 >= len(input) {
			out = append(out, input[i])
			i++
			continue
		}
		switch cmd := input[i+1]; cmd {
		case WILL, WONT, DO, DONT:
			// IAC + cmd + option
			i += 3
		case SB:
			// Skip through IAC SE.
			j := i + 2
			for j < len(input)-1 {
				if input[j] == IAC && input[j+1] == SE {
					j += 2
					break
				}
				j++
			}
			i = j
		case IAC:
			// Escaped 0xFF
			out = append(out, IAC)
			i += 2
		default:
			// NOP, GA and friends carry no payload.
			i += 2
		}
	}
	return out
}
