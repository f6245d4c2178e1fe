package intake

// Form holds the current wizard state and routes every change through Reduce.
type Form struct {
	state State
}

func NewForm() *Form {
	return &Form{state: NewState()}
}

// Restore positions the form on a previously saved state.
func Restore(s State) *Form {
	if s.Step < 1 || s.Step > Steps {
		s.Step = 1
	}
	return &Form{state: s}
}

func (f *Form) State() State { return f.state }

// Dispatch applies a. The state is left unchanged when a is rejected.
func (f *Form) Dispatch(a Action) error {
	next, err := Reduce(f.state, a)
	if err != nil {
		return err
	}
	f.state = next
	return nil
}
