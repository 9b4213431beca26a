package types

// Counters are the aggregate statistics kept for a run and across runs
type Counters struct {
	Discovered int             `json:"discovered"`
	Applied    int             `json:"applied"`
	Skipped    map[Outcome]int `json:"skipped"`
	Failed     map[Outcome]int `json:"failed"`
}

// NewCounters returns zeroed counters with every skip and failure reason present.
func NewCounters() Counters {
	c := Counters{
		Skipped: make(map[Outcome]int),
		Failed:  make(map[Outcome]int),
	}
	for _, o := range Outcomes {
		switch {
		case o.IsSkip():
			c.Skipped[o] = 0
		case o.IsFailure():
			c.Failed[o] = 0
		}
	}
	return c
}

// Record increments the counter matching the outcome.
func (c *Counters) Record(o Outcome) {
	switch {
	case o == OutcomeApplied:
		c.Applied++
	case o.IsSkip():
		if c.Skipped == nil {
			c.Skipped = make(map[Outcome]int)
		}
		c.Skipped[o]++
	case o.IsFailure():
		if c.Failed == nil {
			c.Failed = make(map[Outcome]int)
		}
		c.Failed[o]++
	}
}

// Add merges other into c.
func (c *Counters) Add(other Counters) {
	c.Discovered += other.Discovered
	c.Applied += other.Applied
	for o, n := range other.Skipped {
		if c.Skipped == nil {
			c.Skipped = make(map[Outcome]int)
		}
		c.Skipped[o] += n
	}
	for o, n := range other.Failed {
		if c.Failed == nil {
			c.Failed = make(map[Outcome]int)
		}
		c.Failed[o] += n
	}
}

// Processed returns the number of jobs that reached an outcome.
func (c Counters) Processed() int {
	n := c.Applied
	for _, v := range c.Skipped {
		n += v
	}
	for _, v := range c.Failed {
		n += v
	}
	return n
}

// SessionRecord is the durable cross-run state: every job ever applied to plus aggregate counters.
type SessionRecord struct {
	AppliedIDs map[string]struct{} `json:"-"`
	Counters   Counters            `json:"counters"`
}

// NewSessionRecord returns an empty record.
func NewSessionRecord() *SessionRecord {
	return &SessionRecord{
		AppliedIDs: make(map[string]struct{}),
		Counters:   NewCounters(),
	}
}

// HasApplied reports whether id is in the applied set.
func (r *SessionRecord) HasApplied(id string) bool {
	_, ok := r.AppliedIDs[id]
	return ok
}
