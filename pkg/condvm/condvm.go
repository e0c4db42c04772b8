// Package condvm implements the condition evaluator described in §4.6 of
// the scan core spec: a small stack-oriented bytecode VM that consumes a
// rule's per-scan string match-list state and external variables to decide
// whether the rule's condition is satisfied, recording the outcome in the
// rule's MATCH flag and, for a failed GLOBAL rule, its namespace's
// UNSATISFIED_GLOBAL flag.
//
// Every rule's condition compiles (by the out-of-scope rule compiler) to a
// Program slice sharing one address space, addressed by
// types.Rule.ConditionAddr — mirroring how the original couples one
// bytecode stream to many rules' entry points.
package condvm

import (
	"fmt"

	"github.com/scanforge/yaracore/pkg/scanctx"
	"github.com/scanforge/yaracore/pkg/types"
	"github.com/scanforge/yaracore/pkg/yaraerr"
)

// Opcode identifies one VM instruction.
type Opcode int

const (
	OpPushInt Opcode = iota
	OpPushFloat
	OpPushBool
	OpPushString
	OpPushExternInt
	OpPushExternBool
	OpPushExternFloat
	OpPushExternString
	OpStringFound   // push bool: did string Operand match at least once
	OpStringCount   // push int: how many times string Operand matched
	OpStringOffset  // pop occurrence index, push int offset of string Operand's Nth match (or -1)
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpNeg
	OpAnd
	OpOr
	OpNot
	OpEq
	OpNeq
	OpLt
	OpLe
	OpGt
	OpGe
	OpJmp        // unconditional jump to Operand
	OpJmpIfFalse // pop bool; jump to Operand if false
	OpSetMatch   // set the current rule's MATCH flag to the popped bool and halt, returning it
	OpHalt
)

// Instruction is one bytecode word. Which operand field is meaningful
// depends on Op.
type Instruction struct {
	Op      Opcode
	Int     int64
	Float   float64
	Bool    bool
	Str     string
	StringID int // for OpStringFound/OpStringCount/OpStringOffset
	Addr    int  // for OpJmp/OpJmpIfFalse
}

// Program is a shared bytecode stream; many rules' conditions live at
// different offsets within one Program.
type Program []Instruction

// kind discriminates Value's active field.
type kind int

const (
	kindInt kind = iota
	kindFloat
	kindBool
	kindString
)

// value is the VM's tagged-union stack cell.
type value struct {
	kind kind
	i    int64
	f    float64
	b    bool
	s    string
}

func (v value) truthy() (bool, error) {
	switch v.kind {
	case kindBool:
		return v.b, nil
	case kindInt:
		return v.i != 0, nil
	default:
		return false, fmt.Errorf("condvm: value of kind %d is not usable as a boolean", v.kind)
	}
}

// VM evaluates Program entries against a scan context.
type VM struct {
	program Program
}

// New creates a VM bound to one bytecode stream.
func New(program Program) *VM {
	return &VM{program: program}
}

// maxSteps bounds execution defensively; a well-formed condition program
// from a real compiler never comes close to this, but a corrupt or
// adversarially malformed persisted ruleset should fail loudly rather than
// loop forever.
const maxSteps = 1 << 20

// Eval executes the rule's condition program starting at
// rule.ConditionAddr and returns whether it was satisfied. On OpSetMatch it
// writes ctx.RuleFlags[rule.Index] and, for a GLOBAL rule that evaluated
// false, ctx.UnsatisfiedGlobal.
func (vm *VM) Eval(ctx *scanctx.Context, rule *types.Rule) (bool, error) {
	pc := rule.ConditionAddr
	var stack []value

	push := func(v value) { stack = append(stack, v) }
	pop := func() (value, error) {
		if len(stack) == 0 {
			return value{}, fmt.Errorf("condvm: stack underflow")
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v, nil
	}
	popBool := func() (bool, error) {
		v, err := pop()
		if err != nil {
			return false, err
		}
		return v.truthy()
	}
	popNumPair := func() (value, value, error) {
		b, err := pop()
		if err != nil {
			return value{}, value{}, err
		}
		a, err := pop()
		if err != nil {
			return value{}, value{}, err
		}
		return a, b, nil
	}

	for steps := 0; ; steps++ {
		if steps > maxSteps {
			return false, fmt.Errorf("condvm: exceeded %d instructions: %w", maxSteps, yaraerr.ErrCorruptFile)
		}
		if pc < 0 || pc >= len(vm.program) {
			return false, fmt.Errorf("condvm: program counter %d out of range", pc)
		}
		ins := vm.program[pc]
		pc++

		switch ins.Op {
		case OpPushInt:
			push(value{kind: kindInt, i: ins.Int})
		case OpPushFloat:
			push(value{kind: kindFloat, f: ins.Float})
		case OpPushBool:
			push(value{kind: kindBool, b: ins.Bool})
		case OpPushString:
			push(value{kind: kindString, s: ins.Str})

		case OpPushExternInt, OpPushExternBool, OpPushExternFloat, OpPushExternString:
			ext, err := lookupExternal(ctx.Externals, ins.Str)
			if err != nil {
				return false, err
			}
			push(externalToValue(ext))

		case OpStringFound:
			push(value{kind: kindBool, b: ctx.Matches.HasMatch(ins.StringID)})

		case OpStringCount:
			push(value{kind: kindInt, i: int64(ctx.Matches.Count(ins.StringID))})

		case OpStringOffset:
			idxVal, err := pop()
			if err != nil {
				return false, err
			}
			matches := ctx.Matches.Matches(ins.StringID)
			if idxVal.i < 0 || int(idxVal.i) >= len(matches) {
				push(value{kind: kindInt, i: -1})
			} else {
				push(value{kind: kindInt, i: matches[idxVal.i].Offset})
			}

		case OpAdd, OpSub, OpMul, OpDiv:
			a, b, err := popNumPair()
			if err != nil {
				return false, err
			}
			r, err := arith(ins.Op, a, b)
			if err != nil {
				return false, err
			}
			push(r)

		case OpNeg:
			a, err := pop()
			if err != nil {
				return false, err
			}
			switch a.kind {
			case kindInt:
				push(value{kind: kindInt, i: -a.i})
			case kindFloat:
				push(value{kind: kindFloat, f: -a.f})
			default:
				return false, fmt.Errorf("condvm: cannot negate non-numeric value")
			}

		case OpAnd, OpOr:
			bb, err := popBool()
			if err != nil {
				return false, err
			}
			aa, err := popBool()
			if err != nil {
				return false, err
			}
			if ins.Op == OpAnd {
				push(value{kind: kindBool, b: aa && bb})
			} else {
				push(value{kind: kindBool, b: aa || bb})
			}

		case OpNot:
			bv, err := popBool()
			if err != nil {
				return false, err
			}
			push(value{kind: kindBool, b: !bv})

		case OpEq, OpNeq, OpLt, OpLe, OpGt, OpGe:
			a, b, err := popNumPair()
			if err != nil {
				return false, err
			}
			r, err := compare(ins.Op, a, b)
			if err != nil {
				return false, err
			}
			push(value{kind: kindBool, b: r})

		case OpJmp:
			pc = ins.Addr

		case OpJmpIfFalse:
			cond, err := popBool()
			if err != nil {
				return false, err
			}
			if !cond {
				pc = ins.Addr
			}

		case OpSetMatch:
			result, err := popBool()
			if err != nil {
				return false, err
			}
			ctx.RuleFlags[rule.Index] = result
			if rule.Flags.Global() && !result {
				ctx.UnsatisfiedGlobal[rule.Namespace.Index] = true
			}
			return result, nil

		case OpHalt:
			result, err := popBool()
			if err != nil {
				return false, err
			}
			return result, nil

		default:
			return false, fmt.Errorf("condvm: unknown opcode %d", ins.Op)
		}
	}
}

func lookupExternal(externals []types.ExternalVariable, identifier string) (*types.ExternalVariable, error) {
	for i := range externals {
		if externals[i].Identifier == identifier {
			return &externals[i], nil
		}
	}
	return nil, fmt.Errorf("condvm: undefined external variable %q: %w", identifier, yaraerr.ErrInvalidArgument)
}

func externalToValue(ext *types.ExternalVariable) value {
	switch ext.Type {
	case types.ExternalInteger:
		return value{kind: kindInt, i: ext.IntValue}
	case types.ExternalBoolean:
		return value{kind: kindBool, b: ext.BoolValue}
	case types.ExternalFloat:
		return value{kind: kindFloat, f: ext.FloatValue}
	default:
		return value{kind: kindString, s: ext.StringValue}
	}
}

func numeric(v value) (float64, bool) {
	switch v.kind {
	case kindInt:
		return float64(v.i), true
	case kindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

func arith(op Opcode, a, b value) (value, error) {
	if a.kind == kindInt && b.kind == kindInt {
		switch op {
		case OpAdd:
			return value{kind: kindInt, i: a.i + b.i}, nil
		case OpSub:
			return value{kind: kindInt, i: a.i - b.i}, nil
		case OpMul:
			return value{kind: kindInt, i: a.i * b.i}, nil
		case OpDiv:
			if b.i == 0 {
				return value{}, fmt.Errorf("condvm: division by zero")
			}
			return value{kind: kindInt, i: a.i / b.i}, nil
		}
	}
	af, aok := numeric(a)
	bf, bok := numeric(b)
	if !aok || !bok {
		return value{}, fmt.Errorf("condvm: arithmetic on non-numeric operand")
	}
	switch op {
	case OpAdd:
		return value{kind: kindFloat, f: af + bf}, nil
	case OpSub:
		return value{kind: kindFloat, f: af - bf}, nil
	case OpMul:
		return value{kind: kindFloat, f: af * bf}, nil
	case OpDiv:
		if bf == 0 {
			return value{}, fmt.Errorf("condvm: division by zero")
		}
		return value{kind: kindFloat, f: af / bf}, nil
	}
	return value{}, fmt.Errorf("condvm: unreachable arithmetic opcode %d", op)
}

func compare(op Opcode, a, b value) (bool, error) {
	if a.kind == kindString || b.kind == kindString {
		if a.kind != kindString || b.kind != kindString {
			return false, fmt.Errorf("condvm: cannot compare string with non-string")
		}
		switch op {
		case OpEq:
			return a.s == b.s, nil
		case OpNeq:
			return a.s != b.s, nil
		case OpLt:
			return a.s < b.s, nil
		case OpLe:
			return a.s <= b.s, nil
		case OpGt:
			return a.s > b.s, nil
		case OpGe:
			return a.s >= b.s, nil
		}
	}
	af, aok := numeric(a)
	bf, bok := numeric(b)
	if !aok || !bok {
		return false, fmt.Errorf("condvm: comparison on non-numeric operand")
	}
	switch op {
	case OpEq:
		return af == bf, nil
	case OpNeq:
		return af != bf, nil
	case OpLt:
		return af < bf, nil
	case OpLe:
		return af <= bf, nil
	case OpGt:
		return af > bf, nil
	case OpGe:
		return af >= bf, nil
	}
	return false, fmt.Errorf("condvm: unreachable comparison opcode %d", op)
}
