package relay

import (
	"strconv"
	"strings"
)

// Control frames ride the same transport as keystrokes, as text frames
// with a reserved "__" sentinel prefix. The sentinel cannot occur at the
// start of ordinary keystroke input from the reference clients, and CLI
// tools do not emit it in practice; any frame carrying the prefix is
// consumed as a control frame, recognized or not, never forwarded as
// literal input.
const sentinel = "__"

// Op identifies a control operation.
type Op int

const (
	// OpUnknown marks a sentinel-prefixed frame that matched no known
	// operation. Callers drop it.
	OpUnknown Op = iota
	// OpResize carries new terminal dimensions.
	OpResize
	// OpInterrupt requests the interrupt control byte (ETX) be written.
	OpInterrupt
	// OpReset requests a terminal reset escape be written.
	OpReset
)

// Control is a parsed control frame.
type Control struct {
	Op   Op
	Cols int
	Rows int
}

// InterruptBytes is what OpInterrupt writes into the session: ETX, the
// byte a terminal produces for Ctrl-C.
var InterruptBytes = []byte{0x03}

// ResetBytes is what OpReset writes: the RIS full-reset escape sequence.
// It clears client-visible terminal state without restarting the process.
var ResetBytes = []byte("\x1bc")

// ParseControl reports whether frame is a control frame and, if so, which
// operation it carries. Frames without the sentinel prefix are not control
// frames and should be relayed as keystrokes. Malformed or unrecognized
// sentinel frames parse as OpUnknown.
func ParseControl(frame string) (Control, bool) {
	if !strings.HasPrefix(frame, sentinel) {
		return Control{}, false
	}

	fields := strings.Fields(frame)
	if len(fields) == 0 {
		return Control{Op: OpUnknown}, true
	}

	switch fields[0] {
	case "__RESIZE__":
		if len(fields) != 3 {
			return Control{Op: OpUnknown}, true
		}
		cols, err1 := strconv.Atoi(fields[1])
		rows, err2 := strconv.Atoi(fields[2])
		if err1 != nil || err2 != nil {
			return Control{Op: OpUnknown}, true
		}
		return Control{Op: OpResize, Cols: cols, Rows: rows}, true
	case "__INTERRUPT__":
		return Control{Op: OpInterrupt}, true
	case "__RESET__":
		return Control{Op: OpReset}, true
	default:
		return Control{Op: OpUnknown}, true
	}
}
