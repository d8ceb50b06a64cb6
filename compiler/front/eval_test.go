package front

import (
	"context"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/slowlang/brainheck/compiler/back"
	"github.com/slowlang/brainheck/compiler/ir"
)

type (
	// recModule keeps definitions in memory.
	recModule struct {
		back.Decls

		funcs map[ir.FuncID]*ir.Func
		data  map[ir.DataID]*ir.DataDesc
	}

	// machine evaluates IR directly.
	// Pointers are data id + 1 in the upper half and the offset in the lower.
	machine struct {
		f *ir.Func

		mem map[ir.DataID][]byte

		in  []byte
		out []byte

		vals []int64

		steps, limit int
	}
)

func newRecModule() *recModule {
	return &recModule{
		funcs: map[ir.FuncID]*ir.Func{},
		data:  map[ir.DataID]*ir.DataDesc{},
	}
}

func (m *recModule) Name() string          { return "rec" }
func (m *recModule) PointerType() ir.Type  { return ir.I64 }
func (m *recModule) CallConv() ir.CallConv { return ir.SystemV }

func (m *recModule) DefineFunc(ctx context.Context, id ir.FuncID, f *ir.Func) error {
	err := m.Decls.DefineFunc(id)
	if err != nil {
		return err
	}

	m.funcs[id] = f

	return nil
}

func (m *recModule) DefineData(id ir.DataID, d *ir.DataDesc) error {
	err := m.Decls.DefineData(id)
	if err != nil {
		return err
	}

	m.data[id] = d

	return nil
}

func (m *recModule) Finish(ctx context.Context) ([]byte, error) {
	return nil, m.Check()
}

// compileAndRun emits prog and evaluates main with the given input.
func compileAndRun(t *testing.T, src string, opts Options, input string) (*machine, *Front) {
	t.Helper()

	prog := parseString(t, src)

	m := newRecModule()
	fc := New(m, opts)

	err := fc.Emit(context.Background(), prog)
	require.NoError(t, err)

	_, err = m.Finish(context.Background())
	require.NoError(t, err)

	vm := newMachine(m, fc.Func(), input)

	code, err := vm.run()
	require.NoError(t, err)
	require.Equal(t, int64(0), code)

	return vm, fc
}

func newMachine(m *recModule, f *ir.Func, input string) *machine {
	vm := &machine{
		f:     f,
		mem:   map[ir.DataID][]byte{},
		in:    []byte(input),
		vals:  make([]int64, len(f.Exprs)),
		limit: 10_000_000,
	}

	for id, d := range m.data {
		vm.mem[id] = d.Bytes()
	}

	for id, d := range m.data {
		for _, r := range d.Relocs {
			binary.LittleEndian.PutUint64(vm.mem[id][r.Off:], uint64(addr(r.Data, r.Addend)))
		}
	}

	return vm
}

func addr(id ir.DataID, off int64) int64 {
	return int64(id+1)<<32 + off
}

func (vm *machine) cell(ptr int64) ([]byte, int, error) {
	id := ir.DataID(ptr>>32 - 1)
	off := int(ptr & 0xffffffff)

	mem, ok := vm.mem[id]
	if !ok || off < 0 || off >= len(mem) {
		return nil, 0, fmt.Errorf("bad address %#x", ptr)
	}

	return mem, off, nil
}

// data returns the memory of the named data symbol.
func (vm *machine) data(m *recModule, name string) []byte {
	for id, d := range m.Data {
		if d.Name == name {
			return vm.mem[ir.DataID(id)]
		}
	}

	return nil
}

func (vm *machine) run() (int64, error) {
	f := vm.f

	prev := ir.NoBlock
	blk := f.Layout[0]

	for {
		next, ret, done, err := vm.block(prev, blk)
		if err != nil {
			return 0, fmt.Errorf("block %d: %w", blk, err)
		}

		if done {
			return ret, nil
		}

		prev, blk = blk, next
	}
}

func (vm *machine) block(prev, blk ir.Block) (next ir.Block, ret int64, done bool, err error) {
	f := vm.f
	code := f.Blocks[blk].Code

	var phis []int64

	i := 0
	for ; i < len(code); i++ {
		phi, ok := f.Exprs[code[i]].(ir.Phi)
		if !ok {
			break
		}

		found := false

		for _, br := range phi {
			if br.B == prev {
				phis = append(phis, vm.val(br.Expr))
				found = true

				break
			}
		}

		if !found {
			return 0, 0, false, fmt.Errorf("phi %d: no branch from %d", code[i], prev)
		}
	}

	for j, v := range phis {
		vm.vals[code[j]] = v
	}

	for ; i < len(code); i++ {
		vm.steps++
		if vm.steps > vm.limit {
			return 0, 0, false, fmt.Errorf("step limit exceeded")
		}

		id := code[i]
		tp := f.EType[id]

		switch x := f.Exprs[id].(type) {
		case ir.Iconst:
			vm.set(id, x.Imm)
		case ir.Iadd:
			vm.set(id, vm.val(x.L)+vm.val(x.R))
		case ir.Isub:
			vm.set(id, vm.val(x.L)-vm.val(x.R))
		case ir.IaddImm:
			vm.set(id, vm.val(x.X)+x.Imm)
		case ir.IcmpImm:
			xt := f.EType[f.Resolve(x.X)]

			eq := xt.Wrap(vm.val(x.X)) == xt.Wrap(x.Imm)

			r := eq == (x.Cond == ir.Eq)
			if r {
				vm.set(id, 1)
			} else {
				vm.set(id, 0)
			}
		case ir.Uextend:
			xt := f.EType[f.Resolve(x.X)]
			vm.set(id, vm.val(x.X)&(1<<xt.Bits()-1))
		case ir.Ireduce:
			vm.set(id, vm.val(x.X))
		case ir.Load:
			mem, off, err := vm.cell(vm.val(x.Ptr) + int64(x.Off))
			if err != nil {
				return 0, 0, false, err
			}

			var v int64

			switch tp.Bytes() {
			case 1:
				v = int64(mem[off])
			case 8:
				v = int64(binary.LittleEndian.Uint64(mem[off:]))
			default:
				return 0, 0, false, fmt.Errorf("load %v", tp)
			}

			vm.set(id, v)
		case ir.Store:
			mem, off, err := vm.cell(vm.val(x.Ptr) + int64(x.Off))
			if err != nil {
				return 0, 0, false, err
			}

			v := vm.val(x.X)

			switch f.EType[f.Resolve(x.X)].Bytes() {
			case 1:
				mem[off] = byte(v)
			case 8:
				binary.LittleEndian.PutUint64(mem[off:], uint64(v))
			}
		case ir.GlobalValue:
			vm.set(id, addr(f.DataRefs[x.Data].ID, 0))
		case ir.Call:
			ext := f.FuncRefs[x.Func]

			switch ext.Name {
			case "putchar":
				vm.out = append(vm.out, byte(vm.val(x.Args[0])))
			case "getchar":
				c := int64(-1)

				if len(vm.in) != 0 {
					c = int64(vm.in[0])
					vm.in = vm.in[1:]
				}

				vm.set(id, c)
			default:
				return 0, 0, false, fmt.Errorf("call to %v", ext.Name)
			}
		case ir.Jump:
			return x.Block, 0, false, nil
		case ir.Brnz:
			if f.EType[f.Resolve(x.X)].Wrap(vm.val(x.X)) != 0 {
				return x.Then, 0, false, nil
			}

			return x.Else, 0, false, nil
		case ir.Return:
			if len(x.Values) == 0 {
				return 0, 0, true, nil
			}

			return 0, vm.val(x.Values[0]), true, nil
		default:
			return 0, 0, false, fmt.Errorf("unsupported %T", x)
		}
	}

	return 0, 0, false, fmt.Errorf("block is not terminated")
}

func (vm *machine) val(v ir.Value) int64 {
	return vm.vals[vm.f.Resolve(v)]
}

func (vm *machine) set(id ir.Value, x int64) {
	vm.vals[id] = vm.f.EType[id].Wrap(x)
}
