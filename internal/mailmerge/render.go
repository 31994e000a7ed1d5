package mailmerge

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"unicode"
)

// 渲染相关错误
var (
	ErrRender               = errors.New("render error")
	ErrUnknownName          = fmt.Errorf("%w: unknown name", ErrRender)
	ErrUnbalancedDirective  = fmt.Errorf("%w: unbalanced directive", ErrRender)
	ErrUnsupportedDirective = fmt.Errorf("%w: unsupported directive", ErrRender)
	ErrExpressionSyntax     = fmt.Errorf("%w: invalid expression", ErrRender)
)

// node 模板语法树节点
type node interface {
	render(sb *strings.Builder, b Bindings) error
}

type textNode string

func (n textNode) render(sb *strings.Builder, _ Bindings) error {
	sb.WriteString(string(n))
	return nil
}

// varNode 数据占位符，未绑定的名称渲染为空串。
// 邮件正文是 HTML，联系人数据按文本转义后写入，& 与 < 在客户端中照常显示。
type varNode string

func (n varNode) render(sb *strings.Builder, b Bindings) error {
	v, ok := b.Lookup(string(n))
	if !ok {
		return nil
	}
	sb.WriteString(html.EscapeString(stringify(v)))
	return nil
}

type ifNode struct {
	cond     expr
	then     []node
	elseBody []node
	hasElse  bool
}

func (n *ifNode) render(sb *strings.Builder, b Bindings) error {
	v, err := n.cond.eval(b)
	if err != nil {
		return err
	}
	body := n.then
	if !truthy(v) {
		body = n.elseBody
	}
	return renderNodes(sb, body, b)
}

func renderNodes(sb *strings.Builder, nodes []node, b Bindings) error {
	for _, n := range nodes {
		if err := n.render(sb, b); err != nil {
			return err
		}
	}
	return nil
}

// Compiled 解析后的模板，可对多个收件人重复渲染
type Compiled struct {
	nodes []node
}

// Parse 解析模板文本。
// 支持 {name}、{#if expr}、{#else}、{/if}，其他 # 或 / 开头的指令视为不支持。
func Parse(text string) (*Compiled, error) {
	type frame struct {
		n *ifNode
	}
	var (
		root  []node
		stack []frame
		last  int
	)
	appendNode := func(n node) {
		if len(stack) == 0 {
			root = append(root, n)
			return
		}
		top := stack[len(stack)-1].n
		if top.hasElse {
			top.elseBody = append(top.elseBody, n)
		} else {
			top.then = append(top.then, n)
		}
	}

	var parseErr error
	scanTokens(text, func(start, end int, raw string) {
		if parseErr != nil {
			return
		}
		if start > last {
			appendNode(textNode(text[last:start]))
		}
		last = end

		token := strings.TrimSpace(raw)
		switch {
		case token == "":
			appendNode(textNode(text[start:end]))
		case token == "#else" || token == "else":
			if len(stack) == 0 || stack[len(stack)-1].n.hasElse {
				parseErr = fmt.Errorf("%w: unexpected {%s}", ErrUnbalancedDirective, token)
				return
			}
			stack[len(stack)-1].n.hasElse = true
		case strings.HasPrefix(token, "#if ") || strings.HasPrefix(token, "#if\t"):
			cond, err := parseExpr(strings.TrimSpace(token[3:]))
			if err != nil {
				parseErr = err
				return
			}
			n := &ifNode{cond: cond}
			appendNode(n)
			stack = append(stack, frame{n: n})
		case token == "/if":
			if len(stack) == 0 {
				parseErr = fmt.Errorf("%w: unexpected {/if}", ErrUnbalancedDirective)
				return
			}
			stack = stack[:len(stack)-1]
		case strings.HasPrefix(token, "#") || strings.HasPrefix(token, "/"):
			parseErr = fmt.Errorf("%w: {%s}", ErrUnsupportedDirective, token)
		default:
			appendNode(varNode(token))
		}
	})
	if parseErr != nil {
		return nil, parseErr
	}
	if len(stack) > 0 {
		return nil, fmt.Errorf("%w: missing {/if}", ErrUnbalancedDirective)
	}
	if last < len(text) {
		appendNode(textNode(text[last:]))
	}
	return &Compiled{nodes: root}, nil
}

// Execute 使用给定绑定渲染
func (c *Compiled) Execute(b Bindings) (string, error) {
	var sb strings.Builder
	if err := renderNodes(&sb, c.nodes, b); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Render 解析并渲染模板文本
func Render(text string, b Bindings) (string, error) {
	c, err := Parse(text)
	if err != nil {
		return "", err
	}
	return c.Execute(b)
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	default:
		return v != nil
	}
}

// ---- 条件表达式 ----

type expr interface {
	eval(b Bindings) (interface{}, error)
}

type literalExpr struct{ v interface{} }

func (e literalExpr) eval(Bindings) (interface{}, error) { return e.v, nil }

type nameExpr string

func (e nameExpr) eval(b Bindings) (interface{}, error) {
	v, ok := b.Lookup(string(e))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownName, string(e))
	}
	return v, nil
}

type notExpr struct{ x expr }

func (e notExpr) eval(b Bindings) (interface{}, error) {
	v, err := e.x.eval(b)
	if err != nil {
		return nil, err
	}
	return !truthy(v), nil
}

type binaryExpr struct {
	op   string
	l, r expr
}

func (e binaryExpr) eval(b Bindings) (interface{}, error) {
	l, err := e.l.eval(b)
	if err != nil {
		return nil, err
	}
	switch e.op {
	case "&&":
		if !truthy(l) {
			return false, nil
		}
	case "||":
		if truthy(l) {
			return true, nil
		}
	}
	r, err := e.r.eval(b)
	if err != nil {
		return nil, err
	}
	switch e.op {
	case "==":
		return stringify(l) == stringify(r), nil
	case "!=":
		return stringify(l) != stringify(r), nil
	default:
		return truthy(r), nil
	}
}

type exprToken struct {
	kind  byte // i 名称, s 字符串, o 运算符
	value string
}

func lexExpr(src string) ([]exprToken, error) {
	var toks []exprToken
	for i := 0; i < len(src); {
		ch := src[i]
		switch {
		case ch == ' ' || ch == '\t':
			i++
		case ch == '"' || ch == '\'':
			end := strings.IndexByte(src[i+1:], ch)
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated string", ErrExpressionSyntax)
			}
			toks = append(toks, exprToken{kind: 's', value: src[i+1 : i+1+end]})
			i += end + 2
		case strings.HasPrefix(src[i:], "&&"), strings.HasPrefix(src[i:], "||"),
			strings.HasPrefix(src[i:], "=="), strings.HasPrefix(src[i:], "!="):
			toks = append(toks, exprToken{kind: 'o', value: src[i : i+2]})
			i += 2
		case ch == '!' || ch == '(' || ch == ')':
			toks = append(toks, exprToken{kind: 'o', value: string(ch)})
			i++
		case isNameChar(rune(ch)):
			j := i
			for j < len(src) && isNameChar(rune(src[j])) {
				j++
			}
			toks = append(toks, exprToken{kind: 'i', value: src[i:j]})
			i = j
		default:
			return nil, fmt.Errorf("%w: unexpected %q", ErrExpressionSyntax, ch)
		}
	}
	return toks, nil
}

func isNameChar(r rune) bool {
	return r == '_' || r == '.' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// exprParser 递归下降：or > and > not > 比较 > 基本项
type exprParser struct {
	toks []exprToken
	pos  int
}

func parseExpr(src string) (expr, error) {
	toks, err := lexExpr(src)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, fmt.Errorf("%w: empty condition", ErrExpressionSyntax)
	}
	p := &exprParser{toks: toks}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("%w: trailing %q", ErrExpressionSyntax, p.toks[p.pos].value)
	}
	return e, nil
}

func (p *exprParser) peekOp(op string) bool {
	return p.pos < len(p.toks) && p.toks[p.pos].kind == 'o' && p.toks[p.pos].value == op
}

func (p *exprParser) parseOr() (expr, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peekOp("||") {
		p.pos++
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l = binaryExpr{op: "||", l: l, r: r}
	}
	return l, nil
}

func (p *exprParser) parseAnd() (expr, error) {
	l, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peekOp("&&") {
		p.pos++
		r, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		l = binaryExpr{op: "&&", l: l, r: r}
	}
	return l, nil
}

func (p *exprParser) parseNot() (expr, error) {
	if p.peekOp("!") {
		p.pos++
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return notExpr{x: x}, nil
	}
	return p.parseCompare()
}

func (p *exprParser) parseCompare() (expr, error) {
	l, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for _, op := range []string{"==", "!="} {
		if p.peekOp(op) {
			p.pos++
			r, err := p.parsePrimary()
			if err != nil {
				return nil, err
			}
			return binaryExpr{op: op, l: l, r: r}, nil
		}
	}
	return l, nil
}

func (p *exprParser) parsePrimary() (expr, error) {
	if p.pos >= len(p.toks) {
		return nil, fmt.Errorf("%w: unexpected end", ErrExpressionSyntax)
	}
	tok := p.toks[p.pos]
	p.pos++
	switch tok.kind {
	case 's':
		return literalExpr{v: tok.value}, nil
	case 'i':
		switch tok.value {
		case "true":
			return literalExpr{v: true}, nil
		case "false":
			return literalExpr{v: false}, nil
		}
		return nameExpr(tok.value), nil
	}
	if tok.value == "(" {
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if !p.peekOp(")") {
			return nil, fmt.Errorf("%w: missing )", ErrExpressionSyntax)
		}
		p.pos++
		return e, nil
	}
	return nil, fmt.Errorf("%w: unexpected %q", ErrExpressionSyntax, tok.value)
}
