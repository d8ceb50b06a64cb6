/*

Process of compilation

Program Text ->
	parse ->
Instruction Tree (ast) ->
	front (run coalescing, loop lowering, ssa) ->
Intermediate Representation (ir) ->
	back/amd64 (liveness, linear scan, instruction selection) ->
Machine Instructions (asm) ->
	asm/amd64 (encode) ->
Relocatable Object (obj) ->
	cc ->
Binary Executable

Or, with the llvm back end

Intermediate Representation (ir) ->
	back/llvm ->
LLVM Assembly (.ll) ->
	clang ->
Binary Executable

*/
package compiler
