package bf

// loopStart enters the loop at pc when the current cell is nonzero.
// Otherwise it leaves pc on the matching LoopEnd so that the next advance
// steps past the whole body.
func (i *Interpreter) loopStart() error {
	zero, err := i.tape.Zero()
	if err != nil {
		return err
	}
	if !zero {
		i.loops = append(i.loops, i.pc)
		return nil
	}

	depth := 0
	for i.pc++; i.pc < len(i.program); i.pc++ {
		switch Decode(i.program[i.pc]) {
		case LoopStart:
			depth++
		case LoopEnd:
			if depth == 0 {
				return nil
			}
			depth--
		}
	}
	return ErrUnterminatedLoop
}

// loopEnd leaves the innermost loop when the current cell is zero, and
// otherwise jumps back to its LoopStart.
func (i *Interpreter) loopEnd() error {
	zero, err := i.tape.Zero()
	if err != nil {
		return err
	}
	if len(i.loops) == 0 {
		return ErrUnmatchedLoopEnd
	}
	if zero {
		i.loops = i.loops[:len(i.loops)-1]
	} else {
		i.pc = i.loops[len(i.loops)-1]
	}
	return nil
}
