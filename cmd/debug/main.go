// debug shows how one annotation comment or one decoder function was
// understood: the tree-sitter node covering it and the instructions the
// parser built from it.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/cpp"

	"github.com/robert-at-pretension-io/opspec/internal/catalog"
	"github.com/robert-at-pretension-io/opspec/internal/config"
	"github.com/robert-at-pretension-io/opspec/internal/diag"
	"github.com/robert-at-pretension-io/opspec/internal/lexer"
	"github.com/robert-at-pretension-io/opspec/internal/model"
	"github.com/robert-at-pretension-io/opspec/internal/parser"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("debug", flag.ContinueOnError)
	fs.SetOutput(stderr)
	line := fs.Int("line", 0, "line inside the comment block to inspect")
	fn := fs.String("func", "", "decoder function to inspect")
	mapName := fs.String("map", "", "default map (guessed from the file name when empty)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 || (*line == 0) == (*fn == "") {
		fmt.Fprintln(stderr, "Usage: debug [-map name] (-line N | -func name) <file>")
		return 2
	}
	file := fs.Arg(0)
	source, err := os.ReadFile(file)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if *line > 0 {
		printNode(stdout, source, *line)
	}

	cat, err := catalog.Default()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	ctx := model.NewContext(cat)
	if *mapName == "" {
		*mapName = config.DefaultMapFor(file)
	}
	defMap, ok := ctx.Map(*mapName)
	if !ok {
		fmt.Fprintf(stderr, "Error: unknown map %q\n", *mapName)
		return 1
	}
	log := diag.NewLogger(2)
	log.SetOutput(stderr)
	diags := &diag.List{Log: log}
	p := parser.New(ctx, lexer.NewSource(file, source), defMap, diags)
	p.Log = log
	if err := p.Parse(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	diag.Print(stderr, diags.All())

	found := 0
	for _, in := range ctx.Instructions {
		if matches(in, *line, *fn) {
			ctx.DumpInstruction(stdout, in)
			found++
		}
	}
	if found == 0 {
		fmt.Fprintln(stderr, "No instruction found")
		return 1
	}
	return 0
}

// matches reports whether in was started by the comment containing line
// or belongs to function fn.
func matches(in *model.Instruction, line int, fn string) bool {
	if fn != "" {
		return in.Function == fn
	}
	end := in.LineCompleted
	if end < in.LineCreated {
		end = in.LineCreated
	}
	return line >= in.LineCreated && line <= end
}

// printNode prints the smallest named tree-sitter node spanning line and
// its children.
func printNode(w io.Writer, source []byte, line int) {
	p := sitter.NewParser()
	defer p.Close()
	p.SetLanguage(cpp.GetLanguage())
	tree, err := p.ParseCtx(context.Background(), nil, source)
	if err != nil {
		fmt.Fprintf(w, "tree-sitter: %v\n", err)
		return
	}
	defer tree.Close()

	row := uint32(line - 1)
	node := tree.RootNode()
	for {
		var next *sitter.Node
		for i := 0; i < int(node.NamedChildCount()); i++ {
			c := node.NamedChild(i)
			if c.StartPoint().Row <= row && row <= c.EndPoint().Row {
				next = c
				break
			}
		}
		if next == nil {
			break
		}
		node = next
	}

	fmt.Fprintf(w, "%s [%d:%d-%d:%d] has %d children:\n", node.Type(),
		node.StartPoint().Row+1, node.StartPoint().Column, node.EndPoint().Row+1, node.EndPoint().Column, node.ChildCount())
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		fmt.Fprintf(w, "  [%d] type=%s field=%q content=%q\n", i, child.Type(), node.FieldNameForChild(i), child.Content(source))
	}
	if node.ChildCount() == 0 {
		fmt.Fprintf(w, "  content=%q\n", node.Content(source))
	}
}
