package analyzer

import (
	"go/token"

	"github.com/akerouanton/muproof/pkg/verifier"
)

// report emits the diagnostics of one verified invariant.
func (ctx *passContext) report(t target, rep *verifier.Report) {
	switch rep.Verdict {
	case verifier.Deadlock:
		ctx.reportDeadlock(t, rep)
	case verifier.Unprotected:
		ctx.reportUnprotected(t, rep)
	case verifier.Inconclusive:
		if ctx.verbose && t.pos.IsValid() {
			ctx.pass.Reportf(t.pos, "could not verify %s: %s", t.name, rep.Reason)
		}
	}
	ctx.reportCycles(t, rep)
}

// reportDeadlock emits a diagnostic at each write site acquiring the two
// locks in opposite orders.
func (ctx *passContext) reportDeadlock(t target, rep *verifier.Report) {
	seen := make(map[token.Pos]bool)
	for _, site := range rep.Sites {
		if seen[site.Position] || ctx.isSuppressed(site.Position) {
			continue
		}
		seen[site.Position] = true
		ctx.pass.Reportf(site.Position, "potential deadlock writing %s: %s and %s are acquired in opposite orders",
			t.name, rep.Locks[0], rep.Locks[1])
	}
}

// reportUnprotected emits a diagnostic for each write that does not hold the
// lock protecting the other writes.
func (ctx *passContext) reportUnprotected(t target, rep *verifier.Report) {
	for _, site := range rep.Sites {
		if ctx.isSuppressed(site.Position) {
			continue
		}
		if ctx.verbose {
			ctx.pass.Reportf(site.Position, "%s is written without holding %s (%s in %s)",
				t.name, rep.Locks[0], site.Kind, site.Func)
			continue
		}
		ctx.pass.Reportf(site.Position, "%s is written without holding %s", t.name, rep.Locks[0])
	}
}

// reportCycles emits lock-order cycles through three or more locks at the
// declaration of the first field they were found for.
func (ctx *passContext) reportCycles(t target, rep *verifier.Report) {
	if !t.pos.IsValid() {
		return
	}
	for _, c := range rep.Cycles {
		if ctx.cycles[c] {
			continue
		}
		ctx.cycles[c] = true
		ctx.pass.Reportf(t.pos, "potential deadlock: lock order cycle %s", c)
	}
}
