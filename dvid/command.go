package dvid

import (
	"fmt"
	"strconv"
	"strings"
)

// Command is a command line of the labelset tool.  The first item is the command name and
// the remaining items are positional arguments or optional settings of the form
// "<key>=<value>".
type Command []string

// String returns a space-separated command line
func (cmd Command) String() string {
	return strings.Join(cmd, " ")
}

// Name returns the first argument of the command (in lower case) which is assumed to
// be the name of the command.
func (cmd Command) Name() string {
	if len(cmd) == 0 {
		return ""
	}
	return strings.ToLower(cmd[0])
}

// Arguments returns the positional arguments after the command name, skipping settings.
func (cmd Command) Arguments() []string {
	if len(cmd) < 2 {
		return nil
	}
	var args []string
	for _, arg := range cmd[1:] {
		if !strings.Contains(arg, "=") {
			args = append(args, arg)
		}
	}
	return args
}

// Argument returns the positional argument at the given position, where 0 is the first
// argument after the command name.
func (cmd Command) Argument(pos int) (string, error) {
	if len(cmd) == 0 {
		return "", fmt.Errorf("blank command")
	}
	args := cmd.Arguments()
	if pos < 0 || pos >= len(args) {
		return "", fmt.Errorf("command %q needs at least %d arguments", cmd.Name(), pos+1)
	}
	return args[pos], nil
}

// Setting scans a command for any "key=value" argument and returns the value of the
// passed 'key'.  Key is case sensitive for this function.
func (cmd Command) Setting(key string) (value string, found bool) {
	if len(cmd) == 0 {
		return
	}
	for _, arg := range cmd[1:] {
		elems := strings.SplitN(arg, "=", 2)
		if len(elems) == 2 && elems[0] == key {
			return elems[1], true
		}
	}
	return
}

// IntSetting returns the integer value of a "key=value" setting or the default value if
// the setting is absent.
func (cmd Command) IntSetting(key string, defaultValue int) (int, error) {
	value, found := cmd.Setting(key)
	if !found {
		return defaultValue, nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("setting %q must be an integer, got %q", key, value)
	}
	return i, nil
}
