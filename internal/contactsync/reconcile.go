package contactsync

// Action is one planned decision for a mapping key. Op is empty for sweeps
// and for in-sync or tombstoned skips; a skip produced by deletion handling
// or the direction gate keeps the operation it would have performed.
type Action struct {
	Key      string
	Op       Operation
	Skip     bool
	Sweep    bool
	Reason   string
	Mapping  *Mapping
	Local    *NormalizedContact
	Remote   *NormalizedContact
	Changed  []string
	Decision *Decision
	// Conflict is set when both sides changed since the last sync.
	Conflict bool
}

func (a Action) localID() string {
	if a.Local != nil {
		return a.Local.ID
	}
	if a.Mapping != nil {
		return a.Mapping.LocalID
	}
	return ""
}

func (a Action) remoteID() string {
	if a.Remote != nil {
		return a.Remote.ID
	}
	if a.Mapping != nil {
		return a.Mapping.RemoteID
	}
	return ""
}

// PlanInput is everything a run knows before mutating anything.
type PlanInput struct {
	Direction        Direction
	ConflictPolicy   ConflictPolicy
	DeletionHandling DeletionHandling
	Remote           []NormalizedContact
	Local            []NormalizedContact
	// Mappings include soft-deleted rows, which act as tombstones.
	Mappings []Mapping
}

type planner struct {
	in         PlanInput
	remoteByID map[string]NormalizedContact
	localByID  map[string]NormalizedContact
	byRemote   map[string]Mapping
	byLocal    map[string]Mapping
	tombRemote map[string]bool
	tombLocal  map[string]bool
	decided    map[string]int
	actions    []Action
}

// Plan classifies every remote contact, local contact and mapping and
// returns one action per mapping key. The remote pass runs first; a key
// it decided is never revisited by the local pass. Identity comes only from
// mappings, never from matching contents.
func Plan(in PlanInput) []Action {
	p := &planner{
		in:         in,
		remoteByID: make(map[string]NormalizedContact, len(in.Remote)),
		localByID:  make(map[string]NormalizedContact, len(in.Local)),
		byRemote:   make(map[string]Mapping, len(in.Mappings)),
		byLocal:    make(map[string]Mapping, len(in.Mappings)),
		tombRemote: map[string]bool{},
		tombLocal:  map[string]bool{},
		decided:    map[string]int{},
	}
	for _, c := range in.Remote {
		p.remoteByID[c.ID] = c
	}
	for _, c := range in.Local {
		p.localByID[c.ID] = c
	}
	for _, m := range in.Mappings {
		if m.IsDeleted {
			p.tombRemote[m.RemoteID] = true
			p.tombLocal[m.LocalID] = true
			continue
		}
		p.byRemote[m.RemoteID] = m
		p.byLocal[m.LocalID] = m
	}

	for _, r := range in.Remote {
		p.visitRemote(r)
	}
	for _, l := range in.Local {
		p.visitLocal(l)
	}
	p.sweep()
	return p.actions
}

func (p *planner) visitRemote(r NormalizedContact) {
	remote := r
	m, ok := p.byRemote[r.ID]
	if !ok {
		key := "remote:" + r.ID
		if p.tombRemote[r.ID] {
			p.record(Action{Key: key, Skip: true, Reason: "mapping deleted", Remote: &remote})
			return
		}
		p.record(p.gate(Action{Key: key, Op: OpCreateLocal, Remote: &remote}))
		return
	}
	key := mappingKey(m)
	if p.isDecided(key) {
		return
	}
	mapping := m
	l, ok := p.localByID[m.LocalID]
	if !ok {
		p.record(p.deletion(Action{Key: key, Op: OpDeleteRemote, Mapping: &mapping, Remote: &remote}))
		return
	}
	p.pair(key, mapping, l, remote)
}

func (p *planner) visitLocal(l NormalizedContact) {
	local := l
	m, ok := p.byLocal[l.ID]
	if !ok {
		key := "local:" + l.ID
		if p.tombLocal[l.ID] {
			p.record(Action{Key: key, Skip: true, Reason: "mapping deleted", Local: &local})
			return
		}
		p.record(p.gate(Action{Key: key, Op: OpCreateRemote, Local: &local}))
		return
	}
	key := mappingKey(m)
	if p.isDecided(key) {
		return
	}
	mapping := m
	r, ok := p.remoteByID[m.RemoteID]
	if !ok {
		p.record(p.deletion(Action{Key: key, Op: OpDeleteLocal, Mapping: &mapping, Local: &local}))
		return
	}
	p.pair(key, mapping, local, r)
}

func (p *planner) pair(key string, m Mapping, local, remote NormalizedContact) {
	changed := ChangedFields(local.Fields, remote.Fields)
	if len(changed) == 0 {
		p.record(Action{Key: key, Skip: true, Reason: "in sync", Mapping: &m, Local: &local, Remote: &remote})
		return
	}
	decision := Resolve(remote.UpdatedAt, local.UpdatedAt, p.in.ConflictPolicy)
	op := OpUpdateLocal
	if decision.Winner == SourceLocal {
		op = OpUpdateRemote
	}
	p.record(p.gate(Action{
		Key:      key,
		Op:       op,
		Mapping:  &m,
		Local:    &local,
		Remote:   &remote,
		Changed:  changed,
		Decision: &decision,
		Conflict: local.UpdatedAt.After(m.LocalUpdatedAt) && remote.UpdatedAt.After(m.RemoteUpdatedAt),
	}))
}

// sweep retires active mappings whose both sides are gone.
func (p *planner) sweep() {
	for _, m := range p.in.Mappings {
		if m.IsDeleted {
			continue
		}
		key := mappingKey(m)
		if p.isDecided(key) {
			continue
		}
		mapping := m
		p.record(Action{Key: key, Sweep: true, Reason: "both sides deleted", Mapping: &mapping})
	}
}

func (p *planner) deletion(a Action) Action {
	if p.in.DeletionHandling == DeletionSkip {
		a.Skip = true
		a.Reason = "deletion handling is skip"
		return a
	}
	return p.gate(a)
}

// gate turns actions writing to a side the direction excludes into skips.
func (p *planner) gate(a Action) Action {
	dir := p.in.Direction
	if dir == "" {
		dir = DirectionTwoWay
	}
	if a.Op.Direction() == ToLocal && !dir.allowsLocalWrites() ||
		a.Op.Direction() == ToRemote && !dir.allowsRemoteWrites() {
		a.Skip = true
		a.Reason = "direction is " + string(dir)
	}
	return a
}

func (p *planner) isDecided(key string) bool {
	_, ok := p.decided[key]
	return ok
}

func (p *planner) record(a Action) {
	if p.isDecided(a.Key) {
		return
	}
	p.decided[a.Key] = len(p.actions)
	p.actions = append(p.actions, a)
}

func mappingKey(m Mapping) string {
	return "mapping:" + m.ID
}
