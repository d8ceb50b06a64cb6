package ast

import "strconv"

type (
	Kind byte

	// Node is one instruction of the program tree.
	// Body is set only for Loop and is owned by the node.
	Node struct {
		Kind Kind
		Body []Node `tlog:",omitempty"`

		Pos int
	}
)

const (
	IncData Kind = iota + 1
	DecData
	IncPtr
	DecPtr
	Output
	Input
	Loop
)

var kindNames = [...]string{
	IncData: "IncData",
	DecData: "DecData",
	IncPtr:  "IncPtr",
	DecPtr:  "DecPtr",
	Output:  "Output",
	Input:   "Input",
	Loop:    "Loop",
}

var kindChars = [...]byte{
	IncData: '+',
	DecData: '-',
	IncPtr:  '>',
	DecPtr:  '<',
	Output:  '.',
	Input:   ',',
	Loop:    '[',
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}

	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Char returns the source symbol of the kind. Loop is '['.
func (k Kind) Char() byte {
	if int(k) < len(kindChars) {
		return kindChars[k]
	}

	return 0
}

// Coalescible reports whether a run of k may be merged into one weighted op.
func (k Kind) Coalescible() bool {
	switch k {
	case IncData, DecData, IncPtr, DecPtr:
		return true
	}

	return false
}

// KindOf maps a source symbol to its leaf kind.
// Brackets and everything else return 0.
func KindOf(c byte) Kind {
	switch c {
	case '+':
		return IncData
	case '-':
		return DecData
	case '>':
		return IncPtr
	case '<':
		return DecPtr
	case '.':
		return Output
	case ',':
		return Input
	}

	return 0
}

func Leaf(k Kind) Node { return Node{Kind: k} }

func NewLoop(body ...Node) Node {
	return Node{Kind: Loop, Body: body}
}

// Equal compares trees ignoring positions.
func Equal(a, b []Node) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i].Kind != b[i].Kind {
			return false
		}

		if !Equal(a[i].Body, b[i].Body) {
			return false
		}
	}

	return true
}
