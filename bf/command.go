package bf

type Command rune

const (
	Increment Command = '+'
	Decrement Command = '-'
	Left      Command = '<'
	Right     Command = '>'
	Output    Command = '.'
	Input     Command = ','
	LoopStart Command = '['
	LoopEnd   Command = ']'
	Ignore    Command = ' '
)

// Every symbol outside this table is a comment.
var commands = map[rune]Command{
	'+': Increment,
	'-': Decrement,
	'<': Left,
	'>': Right,
	'.': Output,
	',': Input,
	'[': LoopStart,
	']': LoopEnd,
}

// Decode maps a source character to the command it names, or Ignore.
func Decode(c rune) Command {
	if cmd, ok := commands[c]; ok {
		return cmd
	}
	return Ignore
}

func (c Command) String() string {
	if c == Ignore {
		return "nop"
	}
	return string(rune(c))
}
