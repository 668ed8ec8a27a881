// Package input provides capture.EventSource implementations.
package input

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/alertme/internal/model"
)

// Linux input_event layout on 64-bit: struct timeval (16 bytes), type, code, value.
const eventSize = 24

const (
	evKey        = 1
	keyPress     = 1
	keyVolumeDn  = 114
	keyVolumeUp  = 115
	devicesIndex = "/proc/bus/input/devices"
)

// ErrNoDevice is returned when no input device exposes the volume keys.
var ErrNoDevice = errors.New("no volume key device found")

// Decode turns a raw input_event into a button press. Releases, repeats, other
// event types and other keys report false.
func Decode(b []byte) (model.ButtonEvent, bool) {
	if len(b) < eventSize {
		return model.ButtonEvent{}, false
	}
	typ := binary.LittleEndian.Uint16(b[16:18])
	code := binary.LittleEndian.Uint16(b[18:20])
	value := int32(binary.LittleEndian.Uint32(b[20:24]))
	if typ != evKey || value != keyPress {
		return model.ButtonEvent{}, false
	}

	var sym model.Symbol
	switch code {
	case keyVolumeUp:
		sym = model.SymbolUp
	case keyVolumeDn:
		sym = model.SymbolDown
	default:
		return model.ButtonEvent{}, false
	}
	sec := int64(binary.LittleEndian.Uint64(b[0:8]))
	usec := int64(binary.LittleEndian.Uint64(b[8:16]))
	return model.ButtonEvent{Symbol: sym, Timestamp: time.Unix(sec, usec*1000)}, true
}

// Evdev reads volume key presses from a /dev/input/event* node.
type Evdev struct {
	Path string // empty: discover via /proc/bus/input/devices
	log  *zap.Logger
}

// NewEvdev returns an evdev source for path.
func NewEvdev(path string, log *zap.Logger) *Evdev {
	if log == nil {
		log = zap.NewNop()
	}
	return &Evdev{Path: path, log: log}
}

// Subscribe opens the device and streams presses until ctx is done or the device
// goes away, then closes the channel.
func (e *Evdev) Subscribe(ctx context.Context) (<-chan model.ButtonEvent, error) {
	path := e.Path
	if path == "" {
		f, err := os.Open(devicesIndex)
		if err != nil {
			return nil, fmt.Errorf("discover device: %w", err)
		}
		path, err = FindVolumeDevice(f)
		f.Close()
		if err != nil {
			return nil, err
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	e.log.Info("evdev opened", zap.String("device", path))

	out := make(chan model.ButtonEvent)
	stop := context.AfterFunc(ctx, func() { f.Close() })
	go func() {
		defer close(out)
		defer stop()
		defer f.Close()
		if err := readEvents(ctx, f, out); err != nil && ctx.Err() == nil {
			e.log.Warn("evdev read failed", zap.String("device", path), zap.Error(err))
		}
	}()
	return out, nil
}

func readEvents(ctx context.Context, r io.Reader, out chan<- model.ButtonEvent) error {
	buf := make([]byte, eventSize)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return err
		}
		ev, ok := Decode(buf)
		if !ok {
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// FindVolumeDevice scans a /proc/bus/input/devices listing and returns the event
// node of the first device whose key bitmap has both volume keys.
func FindVolumeDevice(r io.Reader) (string, error) {
	sc := bufio.NewScanner(r)
	var handler, keys string
	flush := func() string {
		defer func() { handler, keys = "", "" }()
		if handler != "" && hasKey(keys, keyVolumeUp) && hasKey(keys, keyVolumeDn) {
			return handler
		}
		return ""
	}

	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "H: Handlers="):
			for _, part := range strings.Fields(strings.TrimPrefix(line, "H: Handlers=")) {
				if strings.HasPrefix(part, "event") {
					handler = "/dev/input/" + part
				}
			}
		case strings.HasPrefix(line, "B: KEY="):
			keys = strings.TrimPrefix(line, "B: KEY=")
		case line == "":
			if dev := flush(); dev != "" {
				return dev, nil
			}
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	if dev := flush(); dev != "" {
		return dev, nil
	}
	return "", ErrNoDevice
}

// hasKey tests bit code in a KEY= bitmap: hex 64-bit words, most significant first.
func hasKey(bitmap string, code int) bool {
	words := strings.Fields(bitmap)
	idx := len(words) - 1 - code/64
	if idx < 0 || idx >= len(words) {
		return false
	}
	w, err := strconv.ParseUint(words[idx], 16, 64)
	if err != nil {
		return false
	}
	return w&(1<<(uint(code)%64)) != 0
}
