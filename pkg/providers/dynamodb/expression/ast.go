/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package expression

// Node is the condition/filter AST. The evaluator is total over the sum: an
// unresolvable operand makes the enclosing comparison false, never an error.
type Node interface {
	node()
}

type AndNode struct {
	Children []Node
}

type OrNode struct {
	Children []Node
}

type NotNode struct {
	Child Node
}

// CompareNode is left OP right with OP one of = <> < <= > >=.
type CompareNode struct {
	Op    string
	Left  Operand
	Right Operand
}

type BetweenNode struct {
	Subject Operand
	Low     Operand
	High    Operand
}

type InNode struct {
	Subject Operand
	Options []Operand
}

// FuncNode covers attribute_exists, attribute_not_exists, attribute_type,
// begins_with and contains. size() is an operand, not a condition.
type FuncNode struct {
	Name string
	Path Path
	Arg  Operand
}

func (AndNode) node()     {}
func (OrNode) node()      {}
func (NotNode) node()     {}
func (CompareNode) node() {}
func (BetweenNode) node() {}
func (InNode) node()      {}
func (FuncNode) node()    {}

// Operand is a comparison-side value: a document path, a :value reference or
// size(path).
type Operand interface {
	operand()
}

type PathOperand struct {
	Path Path
}

type ValueRefOperand struct {
	Ref string
}

type SizeOperand struct {
	Path Path
}

func (PathOperand) operand()     {}
func (ValueRefOperand) operand() {}
func (SizeOperand) operand()     {}
