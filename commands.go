package goremote

// ShutdownCommand is sent once when the session is interrupted.
const ShutdownCommand = "s"

// commands maps key names to the single character the device understands.
var commands = map[string]string{
	"up":     "w",
	"right":  "d",
	"down":   "s",
	"left":   "a",
	"space":  " ",
	"return": "f",
	"q":      ",",
	"w":      ".",
	"z":      "z",
	"p":      "p",
	"o":      "o",
	"i":      "i",
	"u":      "u",
	"e":      "z",
	"r":      "x",
}

// Key is a single key press from an input source. Name uses the vocabulary
// of the command table: "up", "down", "left", "right", "space", "return" or
// a lower case letter.
type Key struct {
	Name  string
	Ctrl  bool
	Shift bool
}

// IsInterrupt reports whether k is ctrl+c.
func (k Key) IsInterrupt() bool {
	return k.Ctrl && k.Name == "c"
}

func (k Key) String() string {
	if k.Ctrl {
		return "ctrl+" + k.Name
	}
	return k.Name
}

// CommandFor returns the command mapped to key name, if any.
func CommandFor(name string) (string, bool) {
	cmd, ok := commands[name]
	return cmd, ok
}

// CommandTable returns a copy of the key to command mapping.
func CommandTable() map[string]string {
	out := make(map[string]string, len(commands))
	for k, v := range commands {
		out[k] = v
	}
	return out
}
