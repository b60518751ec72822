package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

var ErrSelectionCancelled = errors.New("device selection cancelled")

// picker is the device list state behind SelectDevice.
type picker struct {
	devices []DeviceInfo
	cursor  int
}

type pickResult int

const (
	pickContinue pickResult = iota
	pickChosen
	pickCancelled
)

// key applies one read from a raw terminal: arrows or j/k move, Enter
// chooses, Ctrl+C or q cancels.
func (p *picker) key(in []byte) pickResult {
	switch {
	case len(in) == 1 && (in[0] == '\r' || in[0] == '\n'):
		return pickChosen
	case len(in) == 1 && (in[0] == 3 || in[0] == 'q'):
		return pickCancelled
	case len(in) == 1 && in[0] == 'j', len(in) == 3 && string(in) == "\x1b[B":
		p.cursor = min(p.cursor+1, len(p.devices)-1)
	case len(in) == 1 && in[0] == 'k', len(in) == 3 && string(in) == "\x1b[A":
		p.cursor = max(p.cursor-1, 0)
	}
	return pickContinue
}

func (p *picker) render(w io.Writer) {
	var b strings.Builder
	b.WriteString("\r\x1b[J")
	b.WriteString("Select microphone (↑/↓ or j/k, Enter to confirm, q to cancel):\r\n\r\n")
	for i, d := range p.devices {
		tag := ""
		if IsBluetooth(d.Name) {
			tag = " \x1b[33m[bluetooth, lower quality]\x1b[0m"
		}
		if i == p.cursor {
			fmt.Fprintf(&b, "  \x1b[1;36m▶ %s%s\x1b[0m\r\n", d.Name, tag)
		} else {
			fmt.Fprintf(&b, "    %s%s\r\n", d.Name, tag)
		}
	}
	io.WriteString(w, b.String())
}

// rewind moves the cursor back over the rendered list.
func (p *picker) rewind(w io.Writer) {
	fmt.Fprintf(w, "\x1b[%dA", len(p.devices)+2)
}

// SelectDevice asks which capture device to use. A single device is
// returned without prompting.
func SelectDevice(ctx Context) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	switch len(devices) {
	case 0:
		return nil, errors.New("no capture devices found")
	case 1:
		return &devices[0], nil
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	return runPicker(&picker{devices: devices}, os.Stdin, os.Stdout)
}

func runPicker(p *picker, in io.Reader, out io.Writer) (*DeviceInfo, error) {
	p.render(out)
	buf := make([]byte, 3)
	for {
		n, err := in.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}
		switch p.key(buf[:n]) {
		case pickChosen:
			io.WriteString(out, "\r\n")
			return &p.devices[p.cursor], nil
		case pickCancelled:
			io.WriteString(out, "\r\n")
			return nil, ErrSelectionCancelled
		}
		p.rewind(out)
		p.render(out)
	}
}
