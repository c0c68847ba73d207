package scheduler

// Snapshot returns the current operational stats.
func (s *Service) Snapshot() Stats {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	s.statsMu.Lock()
	st := s.stats
	s.statsMu.Unlock()

	st.Enabled = cfg.Enabled
	st.TickInterval = cfg.TickInterval
	st.SweepInterval = cfg.SweepInterval
	st.RetentionDays = cfg.RetentionDays
	st.Workers = cfg.Workers
	return st
}
