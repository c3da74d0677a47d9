package policy

import (
	"regexp/syntax"
	"sort"
	"strconv"
)

// This file implements the automata-based containment check named in §4.1:
// "convert both patterns to anchored regular expressions and test
// containment by the standard automata-based algorithm (product-automaton
// emptiness of L(q) \ L(p))". There is no teacher analogue for this
// algorithm (the corpus has no automata library); it is built directly
// against Go's regexp/syntax package, which exposes the parsed AST we need
// to construct an explicit NFA ourselves.

const maxRune = 0x10FFFF

type epsEdge struct{ to int }

type rangeEdge struct {
	lo, hi rune
	to     int
}

// nfa is a Thompson-constructed nondeterministic automaton with a single
// start and single accept state per sub-expression, glued together by
// epsilon edges for concatenation/alternation/repetition.
type nfa struct {
	start, accept int
	eps           map[int][]epsEdge
	ranges        map[int][]rangeEdge
	numStates     int
}

func newNFA() *nfa {
	return &nfa{eps: make(map[int][]epsEdge), ranges: make(map[int][]rangeEdge)}
}

func (n *nfa) newState() int {
	s := n.numStates
	n.numStates++
	return s
}

func (n *nfa) addEps(from, to int) {
	n.eps[from] = append(n.eps[from], epsEdge{to: to})
}

func (n *nfa) addRange(from int, lo, hi rune, to int) {
	n.ranges[from] = append(n.ranges[from], rangeEdge{lo: lo, hi: hi, to: to})
}

// buildNFA compiles a parsed, anchored regexp/syntax.Regexp tree into an
// NFA via a standard recursive Thompson construction.
func buildNFA(re *syntax.Regexp) *nfa {
	n := newNFA()
	start, accept := n.compile(re)
	n.start, n.accept = start, accept
	return n
}

func (n *nfa) compile(re *syntax.Regexp) (start, accept int) {
	switch re.Op {
	case syntax.OpNoMatch:
		start, accept = n.newState(), n.newState()
		return
	case syntax.OpEmptyMatch, syntax.OpBeginText, syntax.OpEndText,
		syntax.OpBeginLine, syntax.OpEndLine, syntax.OpWordBoundary,
		syntax.OpNoWordBoundary:
		start = n.newState()
		accept = n.newState()
		n.addEps(start, accept)
		return
	case syntax.OpLiteral:
		start = n.newState()
		cur := start
		for _, r := range re.Rune {
			next := n.newState()
			n.addRange(cur, r, r, next)
			cur = next
		}
		accept = cur
		return
	case syntax.OpCharClass:
		start, accept = n.newState(), n.newState()
		for i := 0; i+1 < len(re.Rune); i += 2 {
			n.addRange(start, re.Rune[i], re.Rune[i+1], accept)
		}
		return
	case syntax.OpAnyChar:
		start, accept = n.newState(), n.newState()
		n.addRange(start, 0, maxRune, accept)
		return
	case syntax.OpAnyCharNotNL:
		start, accept = n.newState(), n.newState()
		n.addRange(start, 0, '\n'-1, accept)
		n.addRange(start, '\n'+1, maxRune, accept)
		return
	case syntax.OpCapture:
		return n.compile(re.Sub[0])
	case syntax.OpConcat:
		if len(re.Sub) == 0 {
			start = n.newState()
			accept = start
			return
		}
		start, accept = n.compile(re.Sub[0])
		for _, sub := range re.Sub[1:] {
			s2, a2 := n.compile(sub)
			n.addEps(accept, s2)
			accept = a2
		}
		return
	case syntax.OpAlternate:
		start, accept = n.newState(), n.newState()
		for _, sub := range re.Sub {
			s, a := n.compile(sub)
			n.addEps(start, s)
			n.addEps(a, accept)
		}
		return
	case syntax.OpStar:
		start, accept = n.newState(), n.newState()
		s, a := n.compile(re.Sub[0])
		n.addEps(start, s)
		n.addEps(start, accept)
		n.addEps(a, s)
		n.addEps(a, accept)
		return
	case syntax.OpPlus:
		s, a := n.compile(re.Sub[0])
		accept = n.newState()
		n.addEps(a, s)
		n.addEps(a, accept)
		start = s
		return
	case syntax.OpQuest:
		start, accept = n.newState(), n.newState()
		s, a := n.compile(re.Sub[0])
		n.addEps(start, s)
		n.addEps(start, accept)
		n.addEps(a, accept)
		return
	case syntax.OpRepeat:
		return n.compileRepeat(re)
	default:
		// Conservative fallback: match nothing rather than silently
		// over-accept an unsupported construct.
		start, accept = n.newState(), n.newState()
		return
	}
}

// compileRepeat handles bounded {min,max} and unbounded {min,} repetition by
// chaining mandatory copies followed by either a star tail (max == -1) or a
// sequence of optional copies, each of which may skip straight to the final
// accept state.
func (n *nfa) compileRepeat(re *syntax.Regexp) (start, accept int) {
	min, max := re.Min, re.Max
	start = n.newState()
	cur := start
	for i := 0; i < min; i++ {
		s, a := n.compile(re.Sub[0])
		n.addEps(cur, s)
		cur = a
	}

	final := n.newState()
	n.addEps(cur, final)

	if max == -1 {
		s, a := n.compile(re.Sub[0])
		n.addEps(cur, s)
		n.addEps(a, s)
		n.addEps(a, final)
	} else {
		for i := min; i < max; i++ {
			s, a := n.compile(re.Sub[0])
			n.addEps(cur, s)
			cur = a
			n.addEps(cur, final)
		}
	}

	accept = final
	return
}

// epsilonClosure returns the set of states reachable from any state in ss
// via epsilon edges only, as a sorted de-duplicated slice.
func (n *nfa) epsilonClosure(ss []int) []int {
	seen := make(map[int]bool, len(ss))
	stack := append([]int(nil), ss...)
	for _, s := range ss {
		seen[s] = true
	}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range n.eps[s] {
			if !seen[e.to] {
				seen[e.to] = true
				stack = append(stack, e.to)
			}
		}
	}
	out := make([]int, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Ints(out)
	return out
}

func (n *nfa) step(ss []int, r rune) []int {
	var next []int
	for _, s := range ss {
		for _, e := range n.ranges[s] {
			if r >= e.lo && r <= e.hi {
				next = append(next, e.to)
			}
		}
	}
	return n.epsilonClosure(next)
}

func (n *nfa) hasAccept(ss []int) bool {
	for _, s := range ss {
		if s == n.accept {
			return true
		}
	}
	return false
}

// accepts runs the NFA directly over a concrete string (full match,
// consistent with the pattern always being anchored).
func (n *nfa) accepts(s string) bool {
	cur := n.epsilonClosure([]int{n.start})
	for _, r := range s {
		cur = n.step(cur, r)
		if len(cur) == 0 {
			return false
		}
	}
	return n.hasAccept(cur)
}

// symbolicAlphabet returns one representative rune per equivalence class of
// the combined boundary partition induced by both NFAs' range edges. Any
// two runes inside the same class take identical transitions in both
// automata, so testing containment only at these representatives is
// sound and complete — this is the standard "symbolic alphabet" technique
// for automata over large/infinite alphabets.
func symbolicAlphabet(a, b *nfa) []rune {
	boundSet := map[rune]bool{}
	collect := func(m map[int][]rangeEdge) {
		for _, edges := range m {
			for _, e := range edges {
				boundSet[e.lo] = true
				if e.hi+1 <= maxRune {
					boundSet[e.hi+1] = true
				}
			}
		}
	}
	collect(a.ranges)
	collect(b.ranges)

	bounds := make([]rune, 0, len(boundSet)+1)
	for r := range boundSet {
		bounds = append(bounds, r)
	}
	sort.Slice(bounds, func(i, j int) bool { return bounds[i] < bounds[j] })

	reps := make([]rune, 0, len(bounds)+1)
	if len(bounds) == 0 || bounds[0] != 0 {
		reps = append(reps, 0)
	}
	reps = append(reps, bounds...)
	return reps
}

// dfaState is a canonicalized (sorted, deduplicated) NFA subset used as a
// DFA state during subset construction.
type dfaState string

func key(ss []int) dfaState {
	var b []byte
	for i, s := range ss {
		if i > 0 {
			b = append(b, ',')
		}
		b = strconv.AppendInt(b, int64(s), 10)
	}
	return dfaState(b)
}

// dfa is a deterministic, completed (total-transition-function) automaton
// built by subset construction of an nfa over a finite symbolic alphabet,
// with an explicit dead/trap state so every (state, symbol) pair has a
// defined successor — required before complementing.
type dfa struct {
	alphabet []rune
	states   []dfaState
	setOf    map[dfaState][]int
	trans    map[dfaState]map[rune]dfaState
	start    dfaState
	accept   map[dfaState]bool
	dead     dfaState
}

func subsetConstruct(n *nfa, alphabet []rune) *dfa {
	d := &dfa{
		alphabet: alphabet,
		setOf:    make(map[dfaState][]int),
		trans:    make(map[dfaState]map[rune]dfaState),
		accept:   make(map[dfaState]bool),
		dead:     dfaState("<dead>"),
	}

	startSet := n.epsilonClosure([]int{n.start})
	d.start = key(startSet)
	d.setOf[d.start] = startSet
	d.accept[d.start] = n.hasAccept(startSet)

	d.setOf[d.dead] = nil
	d.accept[d.dead] = false
	d.trans[d.dead] = map[rune]dfaState{}
	for _, sym := range alphabet {
		d.trans[d.dead][sym] = d.dead
	}

	queue := []dfaState{d.start}
	visited := map[dfaState]bool{d.start: true, d.dead: true}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		curSet := d.setOf[cur]
		d.trans[cur] = map[rune]dfaState{}
		for _, sym := range alphabet {
			nextSet := n.step(curSet, sym)
			var nk dfaState
			if len(nextSet) == 0 {
				nk = d.dead
			} else {
				nk = key(nextSet)
				if !visited[nk] {
					visited[nk] = true
					d.setOf[nk] = nextSet
					d.accept[nk] = n.hasAccept(nextSet)
					queue = append(queue, nk)
				}
			}
			d.trans[cur][sym] = nk
		}
	}

	for s := range visited {
		d.states = append(d.states, s)
	}
	return d
}

// complement flips accept/non-accept on an already-completed DFA.
func (d *dfa) complement() *dfa {
	c := &dfa{
		alphabet: d.alphabet,
		states:   d.states,
		setOf:    d.setOf,
		trans:    d.trans,
		start:    d.start,
		dead:     d.dead,
		accept:   make(map[dfaState]bool, len(d.accept)),
	}
	for s, acc := range d.accept {
		c.accept[s] = !acc
	}
	return c
}

type productState struct{ a, b dfaState }

// productDifferenceEmpty reports whether the product automaton of (qDFA,
// notPDFA) has no reachable state where both components accept — i.e.
// whether L(q) \ L(p) is empty. It returns true when the language
// difference is empty (meaning p contains q).
func productDifferenceEmpty(qDFA, notPDFA *dfa, alphabet []rune) bool {
	start := productState{qDFA.start, notPDFA.start}
	visited := map[productState]bool{start: true}
	queue := []productState{start}

	isAccepting := func(ps productState) bool {
		return qDFA.accept[ps.a] && notPDFA.accept[ps.b]
	}
	if isAccepting(start) {
		return false
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, sym := range alphabet {
			na := qDFA.trans[cur.a][sym]
			nb := notPDFA.trans[cur.b][sym]
			next := productState{na, nb}
			if visited[next] {
				continue
			}
			visited[next] = true
			if isAccepting(next) {
				return false
			}
			queue = append(queue, next)
		}
	}
	return true
}

// regexContains reports whether the language of anchored regex pRegex
// contains the language of anchored regex qRegex.
func regexContains(pRegex, qRegex string) (bool, error) {
	pParsed, err := syntax.Parse(pRegex, syntax.Perl)
	if err != nil {
		return false, err
	}
	qParsed, err := syntax.Parse(qRegex, syntax.Perl)
	if err != nil {
		return false, err
	}

	pNFA := buildNFA(pParsed.Simplify())
	qNFA := buildNFA(qParsed.Simplify())

	alphabet := symbolicAlphabet(pNFA, qNFA)

	pDFA := subsetConstruct(pNFA, alphabet)
	qDFA := subsetConstruct(qNFA, alphabet)
	notPDFA := pDFA.complement()

	return productDifferenceEmpty(qDFA, notPDFA, alphabet), nil
}
