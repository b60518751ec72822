package audio

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

// keyReader hands out one keypress per Read, like a raw terminal.
type keyReader struct {
	keys []string
}

func (k *keyReader) Read(p []byte) (int, error) {
	if len(k.keys) == 0 {
		return 0, io.EOF
	}
	n := copy(p, k.keys[0])
	k.keys = k.keys[1:]
	return n, nil
}

func testDevices() []DeviceInfo {
	return []DeviceInfo{
		{ID: "1", Name: "Built-in Microphone"},
		{ID: "2", Name: "AirPods Pro"},
		{ID: "3", Name: "USB Audio"},
	}
}

func TestPickerMovesAndChooses(t *testing.T) {
	var out bytes.Buffer
	in := &keyReader{keys: []string{"\x1b[B", "j", "j", "\x1b[A", "\r"}}
	dev, err := runPicker(&picker{devices: testDevices()}, in, &out)
	if err != nil {
		t.Fatal(err)
	}
	if dev.Name != "AirPods Pro" {
		t.Errorf("chose %q", dev.Name)
	}
	if !strings.Contains(out.String(), "[bluetooth, lower quality]") {
		t.Error("bluetooth device not tagged")
	}
}

func TestPickerClampsAtEdges(t *testing.T) {
	p := &picker{devices: testDevices()}
	p.key([]byte("k"))
	if p.cursor != 0 {
		t.Errorf("cursor = %d after up at top", p.cursor)
	}
	for i := 0; i < 5; i++ {
		p.key([]byte("\x1b[B"))
	}
	if p.cursor != 2 {
		t.Errorf("cursor = %d after down past end", p.cursor)
	}
}

func TestPickerCancel(t *testing.T) {
	for _, key := range []string{"\x03", "q"} {
		_, err := runPicker(&picker{devices: testDevices()}, &keyReader{keys: []string{key}}, io.Discard)
		if !errors.Is(err, ErrSelectionCancelled) {
			t.Errorf("key %q: err = %v", key, err)
		}
	}
	if _, err := runPicker(&picker{devices: testDevices()}, &keyReader{}, io.Discard); err == nil {
		t.Error("closed input must fail")
	}
}

func TestSelectDeviceSingle(t *testing.T) {
	dev, err := SelectDevice(NewFakeContext(nil, false))
	if err != nil {
		t.Fatal(err)
	}
	if dev.ID != "fake" {
		t.Errorf("device = %+v", dev)
	}
}
