package coapd

import "sync"

// ButtonState holds the three physical buttons' debounced state, reduced
// per spec.md §6 to a pure "notification trigger" input: something else
// (the hosting environment) calls Set, and the `buttons` handler only ever
// reads it.
type ButtonState struct {
	mu   sync.Mutex
	btns [3]bool
}

// Set updates one button (0, 1 or 2).
func (b *ButtonState) Set(index int, pressed bool) {
	if index < 0 || index >= len(b.btns) {
		return
	}
	b.mu.Lock()
	b.btns[index] = pressed
	b.mu.Unlock()
}

// SetFromByte decodes a one-byte trigger payload's low 3 bits into the
// three buttons (bit0=BTN1, bit1=BTN2, bit2=BTN3), the wire shape
// spec.md §6 describes for notify_byte.
func (b *ButtonState) SetFromByte(v byte) {
	b.mu.Lock()
	b.btns[0] = v&0x1 != 0
	b.btns[1] = v&0x2 != 0
	b.btns[2] = v&0x4 != 0
	b.mu.Unlock()
}

// Format renders "BTN1=b,BTN2=b,BTN3=b" as used by GET /buttons without
// Observe (§4.9).
func (b *ButtonState) Format() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return "BTN1=" + bit(b.btns[0]) + ",BTN2=" + bit(b.btns[1]) + ",BTN3=" + bit(b.btns[2])
}

func bit(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// ActuatorState holds the LED and buzzer outputs, reduced to pure state;
// the hosting environment is responsible for driving the real hardware
// from it (§6).
type ActuatorState struct {
	mu      sync.Mutex
	led     bool
	buzzer  bool
}

// Format renders "LED=ON|OFF,BUZZER=ON|OFF" (§4.9).
func (a *ActuatorState) Format() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return "LED=" + onOff(a.led) + ",BUZZER=" + onOff(a.buzzer)
}

// Apply scans payload for any of the four directives as substrings and
// applies each present one; it never toggles a state it wasn't asked to
// touch (§9 Open Question 4 — the source's double-assignment bug on
// BUZZER=ON is not reproduced here).
func (a *ActuatorState) Apply(payload string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if contains(payload, "LED=ON") {
		a.led = true
	}
	if contains(payload, "LED=OFF") {
		a.led = false
	}
	if contains(payload, "BUZZER=ON") {
		a.buzzer = true
	}
	if contains(payload, "BUZZER=OFF") {
		a.buzzer = false
	}
}

func contains(haystack, needle string) bool {
	return indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	n, m := len(haystack), len(needle)
	if m == 0 {
		return 0
	}
	for i := 0; i+m <= n; i++ {
		if haystack[i:i+m] == needle {
			return i
		}
	}
	return -1
}

func onOff(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}

// Resources bundles the shared state and collaborators the `buttons`,
// `actuators` and `file` handlers (§4.9) close over. It is constructed
// once by the Endpoint and handed to each Route's HandlerFunc closures.
type Resources struct {
	Buttons   *ButtonState
	Actuators *ActuatorState

	FS        Filesystem
	TextPath  string
	ImagePath string

	Registry *ObserveRegistry
	Log      Logger
}

// NewResources builds the default resource state: actuators off, buttons
// unpressed.
func NewResources(fs Filesystem, textPath, imagePath string, registry *ObserveRegistry, log Logger) *Resources {
	return &Resources{
		Buttons:   &ButtonState{},
		Actuators: &ActuatorState{},
		FS:        fs,
		TextPath:  textPath,
		ImagePath: imagePath,
		Registry:  registry,
		Log:       log,
	}
}
