package launch

func (p *Process) AwaitExit() bool {
	if p.cmd == nil {
		return false
	}
	return awaitExit(p.cmd.Process)
}
