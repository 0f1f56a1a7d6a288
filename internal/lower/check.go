package lower

import (
	"fmt"
	"maps"

	"github.com/specialistvlad/loopgrid/internal/expr"
	"github.com/specialistvlad/loopgrid/internal/loopir"
	"github.com/specialistvlad/loopgrid/internal/schedule"
)

// scope is what the checker knows at a statement: the stages whose values
// are complete, the allocations in force with the parallel depth they were
// made at, and the stages being produced.
type scope struct {
	avail  map[string]bool
	alloc  map[string]int
	inside map[string]bool
	par    int
}

func (s scope) withAlloc(name string) scope {
	s.alloc = maps.Clone(s.alloc)
	s.alloc[name] = s.par
	return s
}

func (s scope) withInside(names ...string) scope {
	s.inside = maps.Clone(s.inside)
	for _, n := range names {
		s.inside[n] = true
	}
	return s
}

// check verifies that the emitted program only reads stages after they
// are produced, and produces every intermediate stage inside its storage.
func (l *lowerer) check(body loopir.Stmt) error {
	return l.checkStmt(body, scope{
		avail:  make(map[string]bool),
		alloc:  make(map[string]int),
		inside: make(map[string]bool),
	})
}

func (l *lowerer) checkStmt(s loopir.Stmt, sc scope) error {
	for _, e := range loopir.Exprs(s) {
		for _, c := range expr.Calls(e) {
			if c.Kind != expr.CallStage || sc.avail[c.Name] || sc.inside[c.Name] {
				continue
			}
			return fmt.Errorf("stage %q is read where it has not been computed; its compute level %s does not enclose this use: %w",
				c.Name, l.s.Stage(c.Name).Compute, schedule.ErrInvalidPlacement)
		}
	}
	switch n := s.(type) {
	case *loopir.For:
		if n.Type == loopir.Parallel {
			sc.par++
		}
		return l.checkStmt(n.Body, sc)
	case *loopir.Let:
		return l.checkStmt(n.Body, sc)
	case *loopir.If:
		if err := l.checkStmt(n.Then, sc); err != nil {
			return err
		}
		if n.Else != nil {
			return l.checkStmt(n.Else, sc)
		}
	case *loopir.Allocate:
		return l.checkStmt(n.Body, sc.withAlloc(n.Name))
	case *loopir.ProducerConsumer:
		members := append([]string{n.Name}, l.guests[n.Name]...)
		for _, m := range members {
			if l.outputs[m] {
				continue
			}
			depth, ok := sc.alloc[m]
			if !ok {
				return fmt.Errorf("stage %q is computed at %s outside its storage at %s: %w",
					m, l.s.Stage(m).Compute, l.s.Stage(m).StoreLevel(), schedule.ErrInvalidPlacement)
			}
			if sc.par > depth {
				return fmt.Errorf("stage %q is computed inside a parallel loop its storage at %s is shared across: %w",
					m, l.s.Stage(m).StoreLevel(), schedule.ErrInvalidPlacement)
			}
		}
		return l.checkStmt(n.Body, sc.withInside(members...))
	case *loopir.Block:
		sc.avail = maps.Clone(sc.avail)
		for _, c := range n.Stmts {
			if err := l.checkStmt(c, sc); err != nil {
				return err
			}
			for _, name := range l.produced(c) {
				sc.avail[name] = true
			}
		}
	}
	return nil
}

// produced lists the stages s computes completely, that is outside any
// loop of s.
func (l *lowerer) produced(s loopir.Stmt) []string {
	var out []string
	loopir.Visit(s, func(n loopir.Stmt) bool {
		switch n := n.(type) {
		case *loopir.For:
			return false
		case *loopir.ProducerConsumer:
			out = append(out, n.Name)
			out = append(out, l.guests[n.Name]...)
			return false
		}
		return true
	})
	return out
}
