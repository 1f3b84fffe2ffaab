// SPDX-License-Identifier: MPL-2.0

package bundle

// Mount plan section names, in emission order.
const (
	SectionSession   = "session"
	SectionProviders = "providers"
	SectionTools     = "tools"
	SectionHooks     = "hooks"
	SectionSpawn     = "spawn"
	SectionAgents    = "agents"
)

// Sections lists the mount plan sections in the order renderers should print them.
var Sections = []string{SectionSession, SectionProviders, SectionTools, SectionHooks, SectionSpawn, SectionAgents}

// ToMountPlan flattens the bundle into the map consumed by a session runtime.
// Empty sections are omitted.
func (b *Bundle) ToMountPlan() map[string]any {
	plan := make(map[string]any, len(Sections))
	if len(b.Session) > 0 {
		plan[SectionSession] = copyMap(b.Session)
	}
	if list := specList(b.Providers); list != nil {
		plan[SectionProviders] = list
	}
	if list := specList(b.Tools); list != nil {
		plan[SectionTools] = list
	}
	if list := specList(b.Hooks); list != nil {
		plan[SectionHooks] = list
	}
	if len(b.Spawn) > 0 {
		plan[SectionSpawn] = copyMap(b.Spawn)
	}
	if len(b.Agents) > 0 {
		plan[SectionAgents] = copyMap(b.Agents)
	}
	return plan
}

func specList(specs []ModuleSpec) []any {
	if len(specs) == 0 {
		return nil
	}
	out := make([]any, len(specs))
	for i, m := range specs {
		out[i] = m.ToMap()
	}
	return out
}
