// Domain renderers for the CLI: plans, decision trails, retrospect jobs,
// and capability listings, all built on the shared Table.
package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/josephgoksu/PlanWing/internal/contract"
	"github.com/josephgoksu/PlanWing/internal/ledger"
	"github.com/josephgoksu/PlanWing/internal/registry"
	"github.com/josephgoksu/PlanWing/internal/retrospect"
	"github.com/josephgoksu/PlanWing/internal/util"
)

// RenderPlan prints one plan version as a step table with a header line.
func RenderPlan(p *contract.Plan) string {
	var sb strings.Builder
	sb.WriteString(StyleSectionTitle.Render(fmt.Sprintf("Plan %s v%d", p.ID, p.Version)))
	sb.WriteString("  ")
	sb.WriteString(StatusStyle(string(p.Status)).Render(string(p.Status)))
	if p.PatchNote != "" {
		sb.WriteString("\n" + StyleSubtle.Render("patch: "+p.PatchNote))
	}
	sb.WriteString("\n\n")

	t := Table{
		Headers:  []string{"STEP", "CAPABILITY", "DEPENDS ON", "PRODUCES"},
		MaxWidth: 40,
	}
	for _, s := range p.Steps {
		t.Rows = append(t.Rows, []string{
			s.ID,
			s.Contract.CapabilityRef,
			strings.Join(s.DependsOn, ", "),
			strings.Join(sortedKeys(s.Produces), ", "),
		})
	}
	sb.WriteString(t.Render())
	return sb.String()
}

// RenderTrail prints a plan's decision trail in append order.
func RenderTrail(events []ledger.DecisionEvent) string {
	t := Table{
		Headers:    []string{"#", "VER", "STEP", "ATTEMPT", "ACTION", "REASON"},
		MaxWidth:   60,
		AlignRight: map[int]bool{0: true, 3: true},
	}
	for i, e := range events {
		t.Rows = append(t.Rows, []string{
			fmt.Sprintf("%d", i+1),
			fmt.Sprintf("v%d", e.PlanVersion),
			e.StepID,
			fmt.Sprintf("%d", e.Attempt),
			StatusStyle(e.Action).Render(e.Action),
			e.Reason,
		})
	}
	return t.Render()
}

// RenderJobs prints retrospect jobs with their verdicts. Job IDs are opaque
// and never resolved by prefix, so the short form is enough on screen.
func RenderJobs(jobs []retrospect.Job) string {
	t := Table{
		Headers:  []string{"JOB", "CHECK", "OUTPUT", "STEP", "STATUS", "DETAIL"},
		MaxWidth: 48,
	}
	for _, j := range jobs {
		t.Rows = append(t.Rows, []string{
			util.ShortID(j.ID, 0),
			j.CheckRef,
			j.OutputName,
			j.StepID,
			StatusStyle(string(j.Status)).Render(string(j.Status)),
			j.Detail,
		})
	}
	return t.Render()
}

// RenderCapabilities prints the registry contents sorted by ref.
func RenderCapabilities(caps []registry.Capability) string {
	sort.Slice(caps, func(i, j int) bool { return caps[i].Ref() < caps[j].Ref() })
	t := Table{
		Headers:    []string{"REF", "REQUIRES", "PRODUCES", "EST $", "DESCRIPTION"},
		MaxWidth:   44,
		AlignRight: map[int]bool{3: true},
	}
	for _, c := range caps {
		t.Rows = append(t.Rows, []string{
			c.Ref(),
			strings.Join(sortedKeys(c.Requires()), ", "),
			strings.Join(sortedKeys(c.Produces()), ", "),
			fmt.Sprintf("%.4f", c.CostEstimateUSD()),
			c.Description(),
		})
	}
	return t.Render()
}

// RenderImpact prints the downstream closure of an invalidation candidate.
func RenderImpact(address string, downstream []string) string {
	var sb strings.Builder
	sb.WriteString(StyleSectionTitle.Render("Impact of "+ShortAddress(address)) + "\n")
	if len(downstream) == 0 {
		sb.WriteString(StyleSubtle.Render("no downstream artifacts") + "\n")
		return sb.String()
	}
	for _, addr := range downstream {
		sb.WriteString("  " + StyleAddress.Render(addr) + "\n")
	}
	sb.WriteString(StyleWarning.Render(fmt.Sprintf("%d artifact(s) would be invalidated", len(downstream))) + "\n")
	return sb.String()
}

// ShortAddress abbreviates a content address for display.
func ShortAddress(address string) string {
	if len(address) > 12 {
		return address[:12] + "…"
	}
	return address
}

func sortedKeys(m map[string]contract.Schema) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
