package sandbox

import "fmt"

// Parse lexes and parses src into a Program. Grammar (EBNF-ish):
//
//	program    := stmt*
//	stmt       := funcdef | if | for | return | assign | exprstmt
//	funcdef    := "function" ident "(" params? ")" block
//	if         := "if" expr block ("else" block)?
//	for        := "for" ident ("," ident)? "in" expr block
//	return     := "return" expr?
//	assign     := (ident | index) "=" expr
//	block      := "{" stmt* "}"
//	expr       := orExpr
//	orExpr     := andExpr ("or" andExpr)*
//	andExpr    := notExpr ("and" notExpr)*
//	notExpr    := "not" notExpr | cmpExpr
//	cmpExpr    := addExpr (("==" | "!=" | "<" | "<=" | ">" | ">=") addExpr)*
//	addExpr    := mulExpr (("+" | "-") mulExpr)*
//	mulExpr    := unary (("*" | "/" | "//" | "%") unary)*
//	unary      := "-" unary | postfix
//	postfix    := primary ( call | index | slice )*
//	primary    := literal | ident | "(" expr ")" | list | dict
type parser struct {
	toks []token
	pos  int
}

func Parse(src string) (*Program, error) {
	toks, err := newLexer(src).tokenize()
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	p.skipNewlines()
	stmts, err := p.parseStmts(tokEOF)
	if err != nil {
		return nil, err
	}
	return &Program{Stmts: stmts}, nil
}

func (p *parser) cur() token { return p.toks[p.pos] }

func (p *parser) at(kind tokenKind) bool { return p.cur().kind == kind }

func (p *parser) atKeyword(kw string) bool {
	return p.cur().kind == tokKeyword && p.cur().text == kw
}

func (p *parser) atOp(op string) bool {
	return p.cur().kind == tokOp && p.cur().text == op
}

func (p *parser) advance() token {
	t := p.cur()
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	if !p.at(kind) {
		return token{}, fmt.Errorf("line %d: expected %s, got %q", p.cur().line, what, p.cur().text)
	}
	return p.advance(), nil
}

func (p *parser) skipNewlines() {
	for p.at(tokNewline) {
		p.advance()
	}
}

// parseStmts parses statements until it hits `until` (tokRBrace or
// tokEOF), skipping blank lines between statements.
func (p *parser) parseStmts(until tokenKind) ([]Stmt, error) {
	var stmts []Stmt
	for {
		p.skipNewlines()
		if p.at(until) {
			return stmts, nil
		}
		stmt, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
		p.skipNewlines()
	}
}

func (p *parser) parseBlock() ([]Stmt, error) {
	if _, err := p.expect(tokLBrace, "'{'"); err != nil {
		return nil, err
	}
	stmts, err := p.parseStmts(tokRBrace)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRBrace, "'}'"); err != nil {
		return nil, err
	}
	return stmts, nil
}

func (p *parser) parseStmt() (Stmt, error) {
	switch {
	case p.atKeyword("function"):
		return p.parseFuncDef()
	case p.atKeyword("if"):
		return p.parseIf()
	case p.atKeyword("for"):
		return p.parseFor()
	case p.atKeyword("return"):
		return p.parseReturn()
	default:
		return p.parseAssignOrExprStmt()
	}
}

func (p *parser) parseFuncDef() (Stmt, error) {
	p.advance() // 'function'
	name, err := p.expect(tokIdent, "function name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}
	var params []string
	for !p.at(tokRParen) {
		id, err := p.expect(tokIdent, "parameter name")
		if err != nil {
			return nil, err
		}
		params = append(params, id.text)
		if p.at(tokComma) {
			p.advance()
		}
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return FuncDefStmt{Name: name.text, Params: params, Body: body}, nil
}

func (p *parser) parseIf() (Stmt, error) {
	p.advance() // 'if'
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	thenBlock, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	var elseBlock []Stmt
	p.skipNewlines()
	if p.atKeyword("else") {
		p.advance()
		if p.atKeyword("if") {
			elseIf, err := p.parseIf()
			if err != nil {
				return nil, err
			}
			elseBlock = []Stmt{elseIf}
		} else {
			elseBlock, err = p.parseBlock()
			if err != nil {
				return nil, err
			}
		}
	}
	return IfStmt{Cond: cond, Then: thenBlock, Else: elseBlock}, nil
}

func (p *parser) parseFor() (Stmt, error) {
	p.advance() // 'for'
	first, err := p.expect(tokIdent, "loop variable")
	if err != nil {
		return nil, err
	}
	var vars []string
	if p.at(tokComma) {
		p.advance()
		second, err := p.expect(tokIdent, "loop variable")
		if err != nil {
			return nil, err
		}
		vars = []string{first.text, second.text}
	}
	if !p.atKeyword("in") {
		return nil, fmt.Errorf("line %d: expected 'in' in for loop", p.cur().line)
	}
	p.advance()
	iter, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	if len(vars) > 0 {
		return ForStmt{Vars: vars, Iter: iter, Body: body}, nil
	}
	return ForStmt{Var: first.text, Iter: iter, Body: body}, nil
}

func (p *parser) parseReturn() (Stmt, error) {
	p.advance() // 'return'
	if p.at(tokNewline) || p.at(tokRBrace) || p.at(tokEOF) {
		return ReturnStmt{}, nil
	}
	val, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return ReturnStmt{Value: val}, nil
}

func (p *parser) parseAssignOrExprStmt() (Stmt, error) {
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.atOp("=") {
		switch expr.(type) {
		case Ident, IndexExpr:
		default:
			return nil, fmt.Errorf("line %d: invalid assignment target", p.cur().line)
		}
		p.advance()
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return AssignStmt{Target: expr, Value: val}, nil
	}
	return ExprStmt{Value: expr}, nil
}

func (p *parser) parseExpr() (Expr, error) { return p.parseOr() }

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("or") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: "or", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("and") {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: "and", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.atKeyword("not") {
		p.advance()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return UnaryExpr{Op: "not", Operand: operand}, nil
	}
	return p.parseCmp()
}

var cmpOps = map[string]bool{"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true}

func (p *parser) parseCmp() (Expr, error) {
	left, err := p.parseAdd()
	if err != nil {
		return nil, err
	}
	for p.at(tokOp) && cmpOps[p.cur().text] {
		op := p.advance().text
		right, err := p.parseAdd()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAdd() (Expr, error) {
	left, err := p.parseMul()
	if err != nil {
		return nil, err
	}
	for p.at(tokOp) && (p.cur().text == "+" || p.cur().text == "-") {
		op := p.advance().text
		right, err := p.parseMul()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

var mulOps = map[string]bool{"*": true, "/": true, "//": true, "%": true}

func (p *parser) parseMul() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.at(tokOp) && mulOps[p.cur().text] {
		op := p.advance().text
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.atOp("-") {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return UnaryExpr{Op: "-", Operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (Expr, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.at(tokLParen):
			p.advance()
			var args []Expr
			for !p.at(tokRParen) {
				arg, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
				if p.at(tokComma) {
					p.advance()
				}
			}
			if _, err := p.expect(tokRParen, "')'"); err != nil {
				return nil, err
			}
			expr = CallExpr{Callee: expr, Args: args}

		case p.at(tokLBracket):
			p.advance()
			var low, high Expr
			isSlice := false
			if !p.at(tokColon) {
				low, err = p.parseExpr()
				if err != nil {
					return nil, err
				}
			}
			if p.at(tokColon) {
				isSlice = true
				p.advance()
				if !p.at(tokRBracket) {
					high, err = p.parseExpr()
					if err != nil {
						return nil, err
					}
				}
			}
			if _, err := p.expect(tokRBracket, "']'"); err != nil {
				return nil, err
			}
			if isSlice {
				expr = SliceExpr{Collection: expr, Low: low, High: high}
			} else {
				expr = IndexExpr{Collection: expr, Index: low}
			}

		default:
			return expr, nil
		}
	}
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.cur()
	switch t.kind {
	case tokInt:
		p.advance()
		return IntLit{Value: t.ival}, nil
	case tokFloat:
		p.advance()
		return FloatLit{Value: t.fval}, nil
	case tokString:
		p.advance()
		return StringLit{Value: t.text}, nil
	case tokIdent:
		p.advance()
		return Ident{Name: t.text}, nil
	case tokKeyword:
		switch t.text {
		case "true":
			p.advance()
			return BoolLit{Value: true}, nil
		case "false":
			p.advance()
			return BoolLit{Value: false}, nil
		case "null":
			p.advance()
			return NullLit{}, nil
		}
		return nil, fmt.Errorf("line %d: unexpected keyword %q in expression", t.line, t.text)
	case tokLParen:
		p.advance()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil
	case tokLBracket:
		return p.parseListLit()
	case tokLBrace:
		return p.parseDictLit()
	default:
		return nil, fmt.Errorf("line %d: unexpected token %q", t.line, t.text)
	}
}

func (p *parser) parseListLit() (Expr, error) {
	p.advance() // '['
	var items []Expr
	for !p.at(tokRBracket) {
		item, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if p.at(tokComma) {
			p.advance()
		}
	}
	if _, err := p.expect(tokRBracket, "']'"); err != nil {
		return nil, err
	}
	return ListLit{Items: items}, nil
}

func (p *parser) parseDictLit() (Expr, error) {
	p.advance() // '{'
	var entries []DictEntry
	for !p.at(tokRBrace) {
		key, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokColon, "':'"); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		entries = append(entries, DictEntry{Key: key, Value: val})
		if p.at(tokComma) {
			p.advance()
		}
	}
	if _, err := p.expect(tokRBrace, "'}'"); err != nil {
		return nil, err
	}
	return DictLit{Entries: entries}, nil
}
