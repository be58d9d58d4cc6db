package lang

type Comparator uint16

const (
	CompareEQ Comparator = iota
	CompareNE
	CompareGT
	CompareLT
	CompareGE
	CompareLE
)

var comparatorNames = []string{"EQ", "NE", "GT", "LT", "GE", "LE"}

func (c Comparator) String() string {
	if int(c) < len(comparatorNames) {
		return comparatorNames[c]
	}
	return "??"
}

type Logical uint16

const (
	LogicalEnd Logical = iota
	LogicalAnd
	LogicalOr
)

// Evaluate reads a condition and folds its comparisons strictly left to
// right: "a OR b AND c" is "(a OR b) AND c".
func (vm *VM) Evaluate() (bool, error) {
	result, err := vm.EvaluateSingle()
	if err != nil {
		return false, err
	}
	for {
		w, err := vm.FetchWord()
		if err != nil {
			return false, err
		}
		switch Logical(w) {
		case LogicalEnd:
			return result, nil
		case LogicalAnd:
			next, err := vm.EvaluateSingle()
			if err != nil {
				return false, err
			}
			result = result && next
		case LogicalOr:
			next, err := vm.EvaluateSingle()
			if err != nil {
				return false, err
			}
			result = result || next
		default:
			return false, newFault(FaultOperand, "bad logical operator %d", w)
		}
	}
}

// EvaluateSingle reads one "lhs comparator rhs" comparison. The type of the
// left operand picks how both sides are compared.
func (vm *VM) EvaluateSingle() (bool, error) {
	tag, err := vm.PeekTag()
	if err != nil {
		return false, err
	}
	switch tag {
	case TagInteger, TagFloat, TagIntegerRV, TagFloatRV:
		lhs, err := vm.FetchFloatRV()
		if err != nil {
			return false, err
		}
		return vm.compareFloat(lhs)
	case TagString, TagStringRV:
		lhs, err := vm.FetchStringRV()
		if err != nil {
			return false, err
		}
		return vm.compareString(lhs)
	case TagAgentRV:
		lhs, err := vm.FetchAgentRV()
		if err != nil {
			return false, err
		}
		return vm.compareAgent(lhs)
	case TagVariable:
		v, err := vm.FetchVariable()
		if err != nil {
			return false, err
		}
		switch v.Type() {
		case TypeInteger, TypeFloat:
			lhs, _ := v.AsFloat()
			return vm.compareFloat(lhs)
		case TypeString:
			return vm.compareString(v.s)
		default:
			return vm.compareAgent(v.agent)
		}
	}
	return false, newFault(FaultOperand, "cannot compare %s operand", tag)
}

func (vm *VM) fetchComparator() (Comparator, error) {
	w, err := vm.FetchWord()
	if err != nil {
		return 0, err
	}
	if int(w) >= len(comparatorNames) {
		return 0, newFault(FaultOperand, "bad comparator %d", w)
	}
	return Comparator(w), nil
}

func (vm *VM) compareFloat(lhs float32) (bool, error) {
	op, err := vm.fetchComparator()
	if err != nil {
		return false, err
	}
	rhs, err := vm.FetchFloatRV()
	if err != nil {
		return false, err
	}
	return compareOrdered(op, lhs, rhs), nil
}

func (vm *VM) compareString(lhs string) (bool, error) {
	op, err := vm.fetchComparator()
	if err != nil {
		return false, err
	}
	rhs, err := vm.FetchStringRV()
	if err != nil {
		return false, err
	}
	return compareOrdered(op, lhs, rhs), nil
}

func (vm *VM) compareAgent(lhs AgentHandle) (bool, error) {
	op, err := vm.fetchComparator()
	if err != nil {
		return false, err
	}
	if op != CompareEQ && op != CompareNE {
		return false, newFault(FaultType, "agents can only be compared with EQ or NE, not %s", op)
	}
	rhs, err := vm.FetchAgentRV()
	if err != nil {
		return false, err
	}
	if op == CompareEQ {
		return lhs == rhs, nil
	}
	return lhs != rhs, nil
}

func compareOrdered[T float32 | string](op Comparator, lhs, rhs T) bool {
	switch op {
	case CompareEQ:
		return lhs == rhs
	case CompareNE:
		return lhs != rhs
	case CompareGT:
		return lhs > rhs
	case CompareLT:
		return lhs < rhs
	case CompareGE:
		return lhs >= rhs
	default:
		return lhs <= rhs
	}
}
