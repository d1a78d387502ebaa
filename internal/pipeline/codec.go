package pipeline

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"derived-dsl/internal/ast"
)

// Program is the decoded form of an optimized artifact. References are
// taken from the rules before folding, which can drop branches.
type Program struct {
	Attribute  string
	SourceHash string
	Rules      []ast.RuleBody
	References []string
}

// bsonProgram is the stored document layout
type bsonProgram struct {
	Format     int        `bson:"format"`
	Attribute  string     `bson:"attribute"`
	SourceHash string     `bson:"source_hash"`
	Rules      []bsonRule `bson:"rules"`
	References []string   `bson:"references"`
}

type bsonRule struct {
	Condition *bsonNode `bson:"condition,omitempty"`
	Then      *bsonNode `bson:"then"`
	Otherwise *bsonNode `bson:"otherwise,omitempty"`
}

// bsonNode encodes one expression. Node is lit, id, bin, call or cast.
type bsonNode struct {
	Node  string      `bson:"node"`
	Kind  string      `bson:"kind,omitempty"`
	Int   int64       `bson:"int,omitempty"`
	Float float64     `bson:"float,omitempty"`
	Str   string      `bson:"str,omitempty"`
	Bool  bool        `bson:"bool,omitempty"`
	Name  string      `bson:"name,omitempty"`
	Args  []*bsonNode `bson:"args,omitempty"`
}

// format 1 programs carry no references and are parsed again instead
const programFormat = 2

// EncodeOptimized serializes p as a BSON document
func EncodeOptimized(p *Program) ([]byte, error) {
	doc := bsonProgram{
		Format:     programFormat,
		Attribute:  p.Attribute,
		SourceHash: p.SourceHash,
		Rules:      make([]bsonRule, 0, len(p.Rules)),
		References: p.References,
	}
	for i, r := range p.Rules {
		then, err := encodeNode(r.Then)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
		br := bsonRule{Then: then}
		if r.Condition != nil {
			if br.Condition, err = encodeNode(r.Condition); err != nil {
				return nil, fmt.Errorf("rule %d condition: %w", i+1, err)
			}
		}
		if r.Otherwise != nil {
			if br.Otherwise, err = encodeNode(r.Otherwise); err != nil {
				return nil, fmt.Errorf("rule %d otherwise: %w", i+1, err)
			}
		}
		doc.Rules = append(doc.Rules, br)
	}
	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal optimized program: %w", err)
	}
	return data, nil
}

// DecodeOptimized restores a Program from an optimized artifact payload
func DecodeOptimized(payload []byte) (*Program, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("optimized artifact has no payload")
	}
	var doc bsonProgram
	if err := bson.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal optimized program: %w", err)
	}
	if doc.Format != programFormat {
		return nil, fmt.Errorf("unsupported optimized program format %d", doc.Format)
	}

	p := &Program{
		Attribute:  doc.Attribute,
		SourceHash: doc.SourceHash,
		Rules:      make([]ast.RuleBody, 0, len(doc.Rules)),
		References: doc.References,
	}
	for i, br := range doc.Rules {
		var (
			body ast.RuleBody
			err  error
		)
		if br.Then == nil {
			return nil, fmt.Errorf("rule %d has no then expression", i+1)
		}
		if body.Then, err = decodeNode(br.Then); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
		if br.Condition != nil {
			if body.Condition, err = decodeNode(br.Condition); err != nil {
				return nil, fmt.Errorf("rule %d condition: %w", i+1, err)
			}
		}
		if br.Otherwise != nil {
			if body.Otherwise, err = decodeNode(br.Otherwise); err != nil {
				return nil, fmt.Errorf("rule %d otherwise: %w", i+1, err)
			}
		}
		p.Rules = append(p.Rules, body)
	}
	return p, nil
}

func encodeNode(expr ast.Expression) (*bsonNode, error) {
	switch e := expr.(type) {
	case *ast.Literal:
		n := &bsonNode{Node: "lit", Kind: e.Value.Kind.String()}
		switch e.Value.Kind {
		case ast.KindInteger:
			n.Int = e.Value.Int
		case ast.KindFloat:
			n.Float = e.Value.Float
		case ast.KindString:
			n.Str = e.Value.Str
		case ast.KindBoolean:
			n.Bool = e.Value.Bool
		}
		return n, nil
	case *ast.Identifier:
		return &bsonNode{Node: "id", Name: e.Name}, nil
	case *ast.BinaryOp:
		l, err := encodeNode(e.Left)
		if err != nil {
			return nil, err
		}
		r, err := encodeNode(e.Right)
		if err != nil {
			return nil, err
		}
		return &bsonNode{Node: "bin", Name: e.Op.String(), Args: []*bsonNode{l, r}}, nil
	case *ast.FunctionCall:
		n := &bsonNode{Node: "call", Name: e.Name}
		for _, a := range e.Args {
			an, err := encodeNode(a)
			if err != nil {
				return nil, err
			}
			n.Args = append(n.Args, an)
		}
		return n, nil
	case *ast.Cast:
		inner, err := encodeNode(e.Expr)
		if err != nil {
			return nil, err
		}
		return &bsonNode{Node: "cast", Kind: e.Target.String(), Args: []*bsonNode{inner}}, nil
	}
	return nil, fmt.Errorf("cannot encode expression of type %T", expr)
}

func decodeNode(n *bsonNode) (ast.Expression, error) {
	switch n.Node {
	case "lit":
		kind, err := ast.ParseValueKind(n.Kind)
		if err != nil {
			return nil, err
		}
		switch kind {
		case ast.KindInteger:
			return &ast.Literal{Value: ast.Int(n.Int)}, nil
		case ast.KindFloat:
			return &ast.Literal{Value: ast.Float(n.Float)}, nil
		case ast.KindString:
			return &ast.Literal{Value: ast.Str(n.Str)}, nil
		case ast.KindBoolean:
			return &ast.Literal{Value: ast.Bool(n.Bool)}, nil
		}
		return &ast.Literal{Value: ast.Null}, nil
	case "id":
		if n.Name == "" {
			return nil, fmt.Errorf("identifier node without a name")
		}
		return &ast.Identifier{Name: n.Name}, nil
	case "bin":
		op, err := ast.ParseOperator(n.Name)
		if err != nil {
			return nil, err
		}
		if len(n.Args) != 2 {
			return nil, fmt.Errorf("binary node %s has %d operands", n.Name, len(n.Args))
		}
		l, err := decodeNode(n.Args[0])
		if err != nil {
			return nil, err
		}
		r, err := decodeNode(n.Args[1])
		if err != nil {
			return nil, err
		}
		return &ast.BinaryOp{Op: op, Left: l, Right: r}, nil
	case "call":
		call := &ast.FunctionCall{Name: n.Name}
		for _, a := range n.Args {
			arg, err := decodeNode(a)
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, arg)
		}
		return call, nil
	case "cast":
		target, err := ast.ParseValueKind(n.Kind)
		if err != nil {
			return nil, err
		}
		if len(n.Args) != 1 {
			return nil, fmt.Errorf("cast node has %d operands", len(n.Args))
		}
		inner, err := decodeNode(n.Args[0])
		if err != nil {
			return nil, err
		}
		return &ast.Cast{Expr: inner, Target: target}, nil
	}
	return nil, fmt.Errorf("unknown node type %q", n.Node)
}
